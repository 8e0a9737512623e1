package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shakram02/go-sql-agent/internal/driverfile"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRows, cfg.MaxRows)
	assert.True(t, cfg.ReadOnly)
	assert.Equal(t, DefaultTimeout, cfg.DB.Timeout)
	assert.Equal(t, DefaultQueryTimeout, cfg.QueryTimeout)
	assert.Equal(t, driverfile.DefaultRepository, cfg.Driver.Repository)
	assert.NotEmpty(t, cfg.Driver.Dir)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, "agent.yaml", `
db:
  engine: PostgreSQL
  host: db.internal
  port: 6432
  name: shop
  user: reader
  timeout: 5s
  properties:
    sslmode: require
max_rows: 50
read_only: false
`)
	t.Setenv("MCP_DB_HOST", "replica.internal")
	t.Setenv("MCP_DB_PASSWORD", "secret")
	t.Setenv("MCP_MAX_ROWS", "75")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgresql", cfg.DB.Engine)
	assert.Equal(t, "replica.internal", cfg.DB.Host)
	assert.Equal(t, 75, cfg.MaxRows)
	assert.False(t, cfg.ReadOnly)

	cc := cfg.ConnectionConfig()
	assert.Equal(t, "replica.internal", cc.Host)
	assert.Equal(t, 6432, cc.Port)
	assert.Equal(t, "shop", cc.Database)
	assert.Equal(t, "reader", cc.Username)
	assert.Equal(t, "secret", cc.Password)
	assert.Equal(t, 5, cc.TimeoutSeconds)
	assert.Equal(t, map[string]string{"sslmode": "require"}, cc.Properties)

	cc.Properties["sslmode"] = "disable"
	assert.Equal(t, "require", cfg.DB.Properties["sslmode"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"empty", Config{}, "missing required environment variables: MCP_DB_ENGINE"},
		{"server engine", Config{DB: DBConfig{Engine: "mysql"}}, "MCP_DB_HOST, MCP_DB_USER"},
		{"sqlite without file", Config{DB: DBConfig{Engine: "sqlite"}}, "MCP_DB_NAME"},
		{"negative rows", Config{DB: DBConfig{Engine: "sqlite", Name: "a.db"}, MaxRows: -1}, "max_rows"},
		{"sub-second timeout", Config{DB: DBConfig{Engine: "sqlite", Name: "a.db", Timeout: 500 * time.Millisecond}}, "db.timeout must be at least 1s"},
		{"sqlite", Config{DB: DBConfig{Engine: "sqlite", Name: "a.db"}}, ""},
		{"mysql", Config{DB: DBConfig{Engine: "mysql", Host: "h", User: "u"}}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestCatalog(t *testing.T) {
	cfg := &Config{}
	c, err := cfg.Catalog()
	require.NoError(t, err)
	_, ok := c.Lookup("mysql")
	assert.True(t, ok)

	cfg.Driver.Catalog = writeFile(t, "catalog.yaml", `
drivers:
  oracle:
    group_id: com.oracle.database.jdbc
    artifact_id: ojdbc11
    version: 23.4.0.24.05
`)
	c, err = cfg.Catalog()
	require.NoError(t, err)
	coords, ok := c.Lookup("ORACLE")
	require.True(t, ok)
	assert.Equal(t, "ojdbc11", coords.ArtifactID)

	cfg.Driver.Catalog = writeFile(t, "bad.yaml", "drivers:\n  x:\n    group_id: g\n")
	_, err = cfg.Catalog()
	assert.Error(t, err)
}

func TestTimeoutFromEnv(t *testing.T) {
	t.Setenv("MCP_DB_TIMEOUT", "1m")
	t.Setenv("MCP_READ_ONLY", "false")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.DB.Timeout)
	assert.False(t, cfg.ReadOnly)
}

func TestBareTimeoutIsSeconds(t *testing.T) {
	t.Setenv("MCP_DB_TIMEOUT", "10")
	t.Setenv("MCP_QUERY_TIMEOUT", " 45 ")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.DB.Timeout)
	assert.Equal(t, 45*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 10, cfg.ConnectionConfig().TimeoutSeconds)

	path := writeFile(t, "agent.yaml", "db:\n  engine: sqlite\n  name: a.db\n  timeout: 3\n")
	t.Setenv("MCP_DB_TIMEOUT", "")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.DB.Timeout)
	require.NoError(t, cfg.Validate())
}
