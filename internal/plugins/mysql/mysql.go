// Package mysql is the MySQL plugin, built on github.com/go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/shakram02/go-sql-agent/internal/connbuilder"
	"github.com/shakram02/go-sql-agent/internal/guard"
	"github.com/shakram02/go-sql-agent/internal/plugin"
)

const (
	ID          = "mysql"
	DriverName  = "mysql"
	DefaultPort = 3306
)

var connSpec = connbuilder.Spec{
	Template:    "{host}:{port}",
	DefaultHost: "localhost",
	DefaultPort: DefaultPort,
	UserKey:     "user",
	PasswordKey: "password",
	TimeoutKey:  "timeout",
	DatabaseKey: "dbname",
}

// Plugin implements every capability for MySQL 5.0 and later.
type Plugin struct {
	guard *guard.Guard
}

func New() *Plugin {
	return &Plugin{guard: guard.New(splitter, readOnlyRules)}
}

func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		ID:          ID,
		Name:        "MySQL",
		Version:     "1.0.0",
		Vendor:      "go-sql-agent",
		Website:     "https://dev.mysql.com",
		EngineType:  "mysql",
		MinVersion:  "5.0",
		DriverName:  DriverName,
		DefaultPort: DefaultPort,
		URLTemplate: connSpec.Template,
		Capabilities: []plugin.Capability{
			plugin.CapConnection,
			plugin.CapDatabase,
			plugin.CapTable,
			plugin.CapView,
			plugin.CapSQLSplitter,
			plugin.CapValueProcessor,
			plugin.CapErrorDecoder,
			plugin.CapWarnings,
			plugin.CapContextSwitch,
			plugin.CapReadOnlyGuard,
		},
	}
}

// DSN renders cfg as a go-sql-driver DSN. Properties the driver does not know are sent
// as session variables on every new connection.
func DSN(cfg plugin.ConnectionConfig) string {
	addr, props := connbuilder.Build(cfg, connSpec)

	c := gomysql.NewConfig()
	c.Net = "tcp"
	c.Addr = addr
	c.User = props.Take("user")
	c.Passwd = props.Take("password")
	c.DBName = props.Take("dbname")
	c.ParseTime = true
	if t := props.Take("timeout"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			c.Timeout = d
		}
	}
	if len(props) > 0 {
		c.Params = make(map[string]string, len(props))
		for _, k := range props.Keys() {
			c.Params[k] = props[k]
		}
	}
	return c.FormatDSN()
}

func (p *Plugin) Open(ctx context.Context, cfg plugin.ConnectionConfig) (*sql.DB, error) {
	return plugin.OpenDB(ctx, ID, DriverName, DSN(cfg), cfg.TimeoutSeconds)
}

func (p *Plugin) Test(ctx context.Context, cfg plugin.ConnectionConfig) error {
	return plugin.TestConnection(ctx, p, cfg)
}

func (p *Plugin) Close(db *sql.DB) error {
	return db.Close()
}

// ProductInfo reads VERSION(). MariaDB reports itself in the version suffix.
func (p *Plugin) ProductInfo(ctx context.Context, db *sql.DB) (plugin.ProductInfo, error) {
	v, err := plugin.QueryText(ctx, db, 0, "SELECT VERSION()")
	if err != nil {
		return plugin.ProductInfo{}, &plugin.ConnectionError{PluginID: ID, Err: err}
	}
	name := "MySQL"
	if strings.Contains(strings.ToLower(v), "mariadb") {
		name = "MariaDB"
	}
	return plugin.ProductInfo{Name: name, Version: v, DriverName: "go-sql-driver/mysql"}, nil
}

// ReadOnlyConfig makes every session start in read-only transaction mode.
func (p *Plugin) ReadOnlyConfig(cfg plugin.ConnectionConfig) plugin.ConnectionConfig {
	return plugin.WithProperties(cfg, map[string]string{"transaction_read_only": "1"})
}

func (p *Plugin) ValidateReadOnly(sql string) error {
	return p.guard.Validate(sql)
}
