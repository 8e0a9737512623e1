// Package postgres provides two PostgreSQL plugins: one on jackc/pgx for current
// servers and one on lib/pq for the 8.x and 9.x series.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/shakram02/go-sql-agent/internal/connbuilder"
	"github.com/shakram02/go-sql-agent/internal/guard"
	"github.com/shakram02/go-sql-agent/internal/plugin"
)

const (
	IDPGX       = "postgresql"
	IDPQ        = "postgresql-pq"
	EngineType  = "postgresql"
	DefaultPort = 5432
)

var connSpec = connbuilder.Spec{
	Template:    "postgres://{host}:{port}/{database}",
	DefaultHost: "localhost",
	DefaultPort: DefaultPort,
	PathEscape:  true,
	UserKey:     "user",
	PasswordKey: "password",
	TimeoutKey:  "connect_timeout",
	TimeoutUnit: time.Second,
}

var capabilities = []plugin.Capability{
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
}

// Plugin is a PostgreSQL plugin bound to one database/sql driver. Server notices are
// buffered per connection and reported as warnings.
type Plugin struct {
	info       plugin.Info
	driver     string
	quoteIdent func(string) string
	decode     func(error) (int, string, bool)
	guard      *guard.Guard
	connector  func(dsn string, log *noticeLog) (driver.Connector, error)
	noticeKey  func(driverConn any) any
	notices    *noticeLog
}

// NewPGX returns the plugin for PostgreSQL 10 and later.
func NewPGX() *Plugin {
	return &Plugin{
		info: plugin.Info{
			ID:           IDPGX,
			Name:         "PostgreSQL",
			Version:      "2.0.0",
			Vendor:       "go-sql-agent",
			Website:      "https://www.postgresql.org",
			EngineType:   EngineType,
			MinVersion:   "10",
			DriverName:   "pgx",
			DefaultPort:  DefaultPort,
			URLTemplate:  connSpec.Template,
			Capabilities: capabilities,
		},
		driver: "jackc/pgx",
		quoteIdent: func(name string) string {
			return pgx.Identifier{name}.Sanitize()
		},
		decode: func(err error) (int, string, bool) {
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				return 0, "", false
			}
			return 0, pgErr.Code, true
		},
		guard:     guard.New(splitter, readOnlyRules),
		connector: pgxConnector,
		noticeKey: pgxNoticeKey,
		notices:   newNoticeLog(),
	}
}

// NewPQ returns the plugin for PostgreSQL 8.0 through 9.x.
func NewPQ() *Plugin {
	return &Plugin{
		info: plugin.Info{
			ID:           IDPQ,
			Name:         "PostgreSQL (legacy)",
			Version:      "1.0.0",
			Vendor:       "go-sql-agent",
			Website:      "https://www.postgresql.org",
			EngineType:   EngineType,
			MinVersion:   "8.0",
			MaxVersion:   "9.99",
			DriverName:   "postgres",
			DefaultPort:  DefaultPort,
			URLTemplate:  connSpec.Template,
			Capabilities: capabilities,
		},
		driver:     "lib/pq",
		quoteIdent: pq.QuoteIdentifier,
		decode: func(err error) (int, string, bool) {
			var pqErr *pq.Error
			if !errors.As(err, &pqErr) {
				return 0, "", false
			}
			return 0, string(pqErr.Code), true
		},
		guard:     guard.New(splitter, readOnlyRules),
		connector: pqConnector,
		noticeKey: pqNoticeKey,
		notices:   newNoticeLog(),
	}
}

func (p *Plugin) Info() plugin.Info { return p.info }

// DSN renders cfg as a postgres:// URL with every property in the query string.
func DSN(cfg plugin.ConnectionConfig) string {
	u, props := connbuilder.Build(cfg, connSpec)
	return connbuilder.WithQuery(u, props)
}

func (p *Plugin) Open(ctx context.Context, cfg plugin.ConnectionConfig) (*sql.DB, error) {
	connector, err := p.connector(DSN(cfg), p.notices)
	if err != nil {
		return nil, &plugin.ConnectionError{PluginID: p.info.ID, Err: err}
	}
	return plugin.PingDB(ctx, p.info.ID, sql.OpenDB(connector), cfg.TimeoutSeconds)
}

func (p *Plugin) Test(ctx context.Context, cfg plugin.ConnectionConfig) error {
	return plugin.TestConnection(ctx, p, cfg)
}

func (p *Plugin) Close(db *sql.DB) error {
	return db.Close()
}

func (p *Plugin) ProductInfo(ctx context.Context, db *sql.DB) (plugin.ProductInfo, error) {
	v, err := plugin.QueryText(ctx, db, 0, "SHOW server_version")
	if err != nil {
		return plugin.ProductInfo{}, &plugin.ConnectionError{PluginID: p.info.ID, Err: err}
	}
	return plugin.ProductInfo{Name: "PostgreSQL", Version: v, DriverName: p.driver}, nil
}

// ReadOnlyConfig starts every session with read-only transactions.
func (p *Plugin) ReadOnlyConfig(cfg plugin.ConnectionConfig) plugin.ConnectionConfig {
	return plugin.WithProperties(cfg, map[string]string{"default_transaction_read_only": "on"})
}

func (p *Plugin) ValidateReadOnly(sql string) error {
	return p.guard.Validate(sql)
}
