// Package config loads the agent configuration from an optional YAML file and MCP_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/shakram02/go-sql-agent/internal/driverfile"
	"github.com/shakram02/go-sql-agent/internal/plugin"
)

const (
	DefaultMaxRows      = 10000
	DefaultTimeout      = 10 * time.Second
	DefaultQueryTimeout = 30 * time.Second
)

type DBConfig struct {
	Engine     string            `mapstructure:"engine"`
	Host       string            `mapstructure:"host"`
	Port       int               `mapstructure:"port"`
	Name       string            `mapstructure:"name"`
	Schema     string            `mapstructure:"schema"`
	User       string            `mapstructure:"user"`
	Password   string            `mapstructure:"password"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Properties map[string]string `mapstructure:"properties"`
}

// DriverConfig controls the driver artifact cache. Resolve enables fetching the
// engine's driver artifact at startup.
type DriverConfig struct {
	Dir        string `mapstructure:"dir"`
	Repository string `mapstructure:"repository"`
	Catalog    string `mapstructure:"catalog"`
	Resolve    bool   `mapstructure:"resolve"`
}

type Config struct {
	DB           DBConfig      `mapstructure:"db"`
	Driver       DriverConfig  `mapstructure:"driver"`
	MaxRows      int           `mapstructure:"max_rows"`
	ReadOnly     bool          `mapstructure:"read_only"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	LogLevel     string        `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.engine", "")
	v.SetDefault("db.host", "")
	v.SetDefault("db.port", 0)
	v.SetDefault("db.name", "")
	v.SetDefault("db.schema", "")
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.timeout", DefaultTimeout)
	v.SetDefault("driver.dir", defaultDriverDir())
	v.SetDefault("driver.repository", driverfile.DefaultRepository)
	v.SetDefault("driver.catalog", "")
	v.SetDefault("driver.resolve", false)
	v.SetDefault("max_rows", DefaultMaxRows)
	v.SetDefault("read_only", true)
	v.SetDefault("query_timeout", DefaultQueryTimeout)
	v.SetDefault("log_level", "info")
}

func defaultDriverDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "sqlagent", "drivers")
	}
	return filepath.Join(home, ".sqlagent", "drivers")
}

// Load reads path when it is not empty, then applies MCP_* environment overrides such
// as MCP_DB_HOST or MCP_MAX_ROWS.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(
		secondsHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DB.Engine = strings.ToLower(strings.TrimSpace(cfg.DB.Engine))
	return &cfg, nil
}

// secondsHook reads a bare number given for a duration, such as MCP_DB_TIMEOUT=10, as
// seconds. Values with a unit ("10s", "1m") are left to the duration parser.
func secondsHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		n, err := strconv.Atoi(strings.TrimSpace(data.(string)))
		if err != nil {
			return data, nil
		}
		return time.Duration(n) * time.Second, nil
	case reflect.Int, reflect.Int32, reflect.Int64:
		if from == to {
			return data, nil
		}
		return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
	}
	return data, nil
}

// Validate reports every missing required setting at once. SQLite only needs a file;
// server engines need a host and a user.
func (c *Config) Validate() error {
	var missing []string
	if c.DB.Engine == "" {
		missing = append(missing, "MCP_DB_ENGINE")
	}
	if c.DB.Engine == "sqlite" {
		if c.DB.Name == "" {
			missing = append(missing, "MCP_DB_NAME")
		}
	} else if c.DB.Engine != "" {
		if c.DB.Host == "" {
			missing = append(missing, "MCP_DB_HOST")
		}
		if c.DB.User == "" {
			missing = append(missing, "MCP_DB_USER")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("max_rows must not be negative, got %d", c.MaxRows)
	}
	if c.DB.Timeout > 0 && c.DB.Timeout < time.Second {
		return fmt.Errorf("db.timeout must be at least 1s, got %s", c.DB.Timeout)
	}
	return nil
}

// ConnectionConfig maps the database settings onto the generic plugin configuration.
func (c *Config) ConnectionConfig() plugin.ConnectionConfig {
	props := make(map[string]string, len(c.DB.Properties))
	for k, v := range c.DB.Properties {
		props[k] = v
	}
	return plugin.ConnectionConfig{
		Host:           c.DB.Host,
		Port:           c.DB.Port,
		Database:       c.DB.Name,
		Schema:         c.DB.Schema,
		Username:       c.DB.User,
		Password:       c.DB.Password,
		Properties:     props,
		TimeoutSeconds: int(c.DB.Timeout / time.Second),
	}
}

// Catalog returns the driver catalog, read from Driver.Catalog when set.
func (c *Config) Catalog() (driverfile.Catalog, error) {
	if c.Driver.Catalog == "" {
		return driverfile.DefaultCatalog(), nil
	}
	f, err := os.Open(c.Driver.Catalog)
	if err != nil {
		return driverfile.Catalog{}, fmt.Errorf("open driver catalog: %w", err)
	}
	defer f.Close()
	return driverfile.LoadCatalog(f)
}
