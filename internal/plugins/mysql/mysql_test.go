package mysql

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shakram02/go-sql-agent/internal/plugin"
)

func TestRegisters(t *testing.T) {
	_, err := plugin.NewRegistry(New())
	require.NoError(t, err)
}

func TestDialectQueryKeywords(t *testing.T) {
	d := plugin.Dialect(New())
	for _, kw := range []string{"CALL", "EXECUTE", "CHECK", "ANALYZE", "OPTIMIZE", "REPAIR", "CHECKSUM", "HELP"} {
		assert.Contains(t, d.QueryKeywords, kw)
	}
	assert.NotNil(t, d.Warnings)
	assert.NotNil(t, d.Switcher)
}

func TestDSN(t *testing.T) {
	dsn := DSN(plugin.ConnectionConfig{
		Host:           "db.internal",
		Database:       "shop",
		Username:       "reader",
		Password:       "p@ss:word",
		TimeoutSeconds: 5,
		Properties:     map[string]string{"tls": "skip-verify"},
	})

	cfg, err := gomysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, "db.internal:3306", cfg.Addr)
	assert.Equal(t, "shop", cfg.DBName)
	assert.Equal(t, "reader", cfg.User)
	assert.Equal(t, "p@ss:word", cfg.Passwd)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "skip-verify", cfg.TLSConfig)
}

func TestDSNReadOnly(t *testing.T) {
	ro := New().ReadOnlyConfig(plugin.ConnectionConfig{Host: "db", Port: 3307})
	cfg, err := gomysql.ParseDSN(DSN(ro))
	require.NoError(t, err)
	assert.Equal(t, "db:3307", cfg.Addr)
	assert.Equal(t, "1", cfg.Params["transaction_read_only"])
}

func TestSplit(t *testing.T) {
	p := New()
	script := "DELIMITER $$\n" +
		"CREATE PROCEDURE p() BEGIN SELECT 1; SELECT 2; END$$\n" +
		"DELIMITER ;\n" +
		"SELECT 'a;b' # trailing; comment\n;" +
		"SELECT \"x;y\", `odd;name` FROM t;"

	assert.Equal(t, []string{
		"CREATE PROCEDURE p() BEGIN SELECT 1; SELECT 2; END",
		"SELECT 'a;b' # trailing; comment",
		"SELECT \"x;y\", `odd;name` FROM t",
	}, p.Split(script))

	assert.Equal(t, []string{`SELECT 'it\'s; fine'`, "SELECT 2"}, p.Split(`SELECT 'it\'s; fine'; SELECT 2`))
}

func TestConvert(t *testing.T) {
	p := New()
	assert.Equal(t, uint64(1), p.Convert("BIT", []byte{1}))
	assert.Equal(t, uint64(0x0102), p.Convert("bit", []byte{1, 2}))
	assert.Equal(t, "hello", p.Convert("VARCHAR", []byte("hello")))
	assert.Equal(t, "0x0102", p.Convert("BLOB", []byte{1, 2}))
	assert.Equal(t, "2024-01-02", p.Convert("DATE", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, p.Convert("INT", nil))
}

func TestDecodeError(t *testing.T) {
	p := New()
	me := &gomysql.MySQLError{Number: 1146, SQLState: [5]byte{'4', '2', 'S', '0', '2'}, Message: "Table 'x.y' doesn't exist"}

	code, state, ok := p.DecodeError(fmt.Errorf("run: %w", me))
	require.True(t, ok)
	assert.Equal(t, 1146, code)
	assert.Equal(t, "42S02", state)

	code, state, ok = p.DecodeError(&gomysql.MySQLError{Number: 1045})
	require.True(t, ok)
	assert.Equal(t, 1045, code)
	assert.Equal(t, "", state)

	_, _, ok = p.DecodeError(errors.New("plain"))
	assert.False(t, ok)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "`users`", quoteIdent("users"))
	assert.Equal(t, "`we``ird`", quoteIdent("we`ird"))
	assert.Equal(t, "`shop`.`orders`", qualified("shop", "orders"))
	assert.Equal(t, "`orders`", qualified("", "orders"))
}

func TestValidateReadOnly_Allowed(t *testing.T) {
	p := New()
	allowed := []string{
		"SELECT * FROM users",
		"SELECT id, name FROM users WHERE id = 1",
		"select * from users",
		"SHOW TABLES",
		"SHOW DATABASES",
		"DESCRIBE users",
		"DESC users",
		"EXPLAIN SELECT * FROM users",
		"SELECT * FROM settings",
		"SELECT * FROM user_settings WHERE setting_name = 'theme'",
		"SELECT created_at FROM orders",
		"SELECT updated_at FROM products",
		"SELECT deleted FROM items",
		"SELECT * FROM users WHERE name = 'DROP TABLE users'",
		`SELECT * FROM users WHERE name = 'it\'s; DROP TABLE users'`,
	}
	for _, query := range allowed {
		t.Run(query, func(t *testing.T) {
			assert.NoError(t, p.ValidateReadOnly(query))
		})
	}
}

func TestValidateReadOnly_Blocked(t *testing.T) {
	p := New()
	blocked := []struct {
		query       string
		shouldBlock string
	}{
		{"INSERT INTO users VALUES (1, 'test')", "INSERT"},
		{"UPDATE users SET name = 'test'", "UPDATE"},
		{"DELETE FROM users", "DELETE"},
		{"DROP TABLE users", "DROP"},
		{"CREATE TABLE test (id INT)", "CREATE"},
		{"ALTER TABLE users ADD COLUMN age INT", "ALTER"},
		{"TRUNCATE TABLE users", "TRUNCATE"},
		{"GRANT ALL ON *.* TO 'user'", "GRANT"},
		{"REVOKE ALL ON *.* FROM 'user'", "REVOKE"},
		{"CALL some_procedure()", "CALL"},
		{"EXECUTE some_statement", "EXECUTE"},
		{"SET @var = 1", "SET"},
		{"SELECT * INTO OUTFILE '/tmp/data.txt' FROM users", "INTO OUTFILE"},
		{"SELECT * INTO DUMPFILE '/tmp/data.bin' FROM users", "INTO DUMPFILE"},
		{"SELECT 1 INTO @x", "INTO @variable"},
		{"SELECT LOAD_FILE('/etc/passwd')", "LOAD_FILE"},
		{"SELECT SLEEP(10)", "SLEEP"},
		{"SELECT BENCHMARK(1000000, SHA1('test'))", "BENCHMARK"},
		{"SELECT GET_LOCK('lock', 10)", "GET_LOCK"},
		{"SELECT 1; DROP TABLE users", "multiple statements"},
		{"SELECT 1; -- comment\nDROP TABLE users", "multiple statements"},
		{"LOAD DATA INFILE '/tmp/data.txt' INTO TABLE users", "LOAD"},
		{"REPLACE INTO users VALUES (1, 'test')", "REPLACE"},
		{"HANDLER users OPEN", "HANDLER"},
		{"RENAME TABLE users TO users_old", "RENAME"},
		{"SELECT REPLACE(name, 'a', 'b') FROM users", "REPLACE"},
	}
	for _, tc := range blocked {
		t.Run(tc.query, func(t *testing.T) {
			err := p.ValidateReadOnly(tc.query)
			assert.Error(t, err, "expected %s to be blocked", tc.shouldBlock)
		})
	}
}

func TestValidateReadOnly_CommentInjection(t *testing.T) {
	p := New()
	for _, query := range []string{
		"SELECT 1 -- ; DROP TABLE users",
		"SELECT 1 /* ; DROP TABLE users */",
		"SELECT 1 # ; DROP TABLE users",
	} {
		t.Run(query, func(t *testing.T) {
			err := p.ValidateReadOnly(query)
			if err != nil {
				assert.False(t, strings.Contains(err.Error(), "multiple statements"), err.Error())
			}
		})
	}
}

func TestStrip(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM users WHERE name = 'DROP TABLE'", "SELECT * FROM users WHERE name = ''"},
		{"SELECT * FROM users -- comment", "SELECT * FROM users  "},
		{"SELECT * FROM users /* comment */", "SELECT * FROM users  "},
		{"SELECT * FROM `table_name`", "SELECT * FROM `table_name`"},
		{"SELECT * FROM users # comment", "SELECT * FROM users  "},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, splitter.Strip(tc.input))
		})
	}
}
