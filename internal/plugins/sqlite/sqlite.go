// Package sqlite is the SQLite plugin, built on the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	msqlite "modernc.org/sqlite"

	"github.com/shakram02/go-sql-agent/internal/connbuilder"
	"github.com/shakram02/go-sql-agent/internal/execute"
	"github.com/shakram02/go-sql-agent/internal/guard"
	"github.com/shakram02/go-sql-agent/internal/metadata"
	"github.com/shakram02/go-sql-agent/internal/plugin"
	"github.com/shakram02/go-sql-agent/internal/sqlsplit"
)

const (
	ID         = "sqlite"
	DriverName = "sqlite"
)

var connSpec = connbuilder.Spec{Template: "file:{database}"}

var splitter = sqlsplit.Dialect{
	DoubleQuotes:  sqlsplit.QuoteIdent,
	Backticks:     true,
	Brackets:      true,
	TriggerBodies: true,
}

var readOnlyRules = guard.Rules{
	Allowed: []string{"PRAGMA"},
	Functions: []guard.Rule{
		guard.Function("load_extension"),
		guard.Function("writefile"),
		guard.Function("edit"),
		guard.Function("fts3_tokenizer"),
	},
	Keywords: []guard.Rule{
		guard.Keyword("REPLACE"),
		guard.Keyword("ATTACH"),
		guard.Keyword("DETACH"),
		guard.Keyword("REINDEX"),
		guard.Keyword("VACUUM"),
	},
	Statements: []guard.Rule{
		guard.Pattern(`(?i)\bPRAGMA\s+[\w.]+\s*=`, "PRAGMA writes"),
	},
}

// Plugin serves SQLite 3 database files. A file holds one database, so database
// management is limited to what the attached-database list offers.
type Plugin struct {
	plugin.UnsupportedDatabaseOps
	guard *guard.Guard
}

func New() *Plugin {
	return &Plugin{guard: guard.New(splitter, readOnlyRules)}
}

func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		ID:          ID,
		Name:        "SQLite",
		Version:     "1.0.0",
		Vendor:      "go-sql-agent",
		Website:     "https://sqlite.org",
		EngineType:  "sqlite",
		MinVersion:  "3.0",
		DriverName:  DriverName,
		URLTemplate: connSpec.Template,
		Capabilities: []plugin.Capability{
			plugin.CapConnection,
			plugin.CapDatabase,
			plugin.CapTable,
			plugin.CapView,
			plugin.CapSQLSplitter,
			plugin.CapErrorDecoder,
			plugin.CapReadOnlyGuard,
		},
	}
}

// uriPath escapes the characters that end or corrupt the path part of a file: URI.
// SQLite decodes %HH escapes in the path.
var uriPath = strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")

// DSN renders cfg as a file: URI. An empty database name opens a private in-memory
// database.
func DSN(cfg plugin.ConnectionConfig) string {
	if cfg.Database == "" {
		cfg.Database = ":memory:"
	}
	cfg.Database = uriPath.Replace(cfg.Database)
	u, props := connbuilder.Build(cfg, connSpec)
	return connbuilder.WithQuery(u, props)
}

func inMemory(cfg plugin.ConnectionConfig) bool {
	return cfg.Database == "" || cfg.Database == ":memory:" || cfg.Properties["mode"] == "memory"
}

// Open pins in-memory databases to a single connection, since each new connection
// to one would start empty.
func (p *Plugin) Open(ctx context.Context, cfg plugin.ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open(DriverName, DSN(cfg))
	if err != nil {
		return nil, &plugin.ConnectionError{PluginID: ID, Err: err}
	}
	if inMemory(cfg) {
		db.SetMaxOpenConns(1)
	}
	return plugin.PingDB(ctx, ID, db, cfg.TimeoutSeconds)
}

func (p *Plugin) Test(ctx context.Context, cfg plugin.ConnectionConfig) error {
	return plugin.TestConnection(ctx, p, cfg)
}

func (p *Plugin) Close(db *sql.DB) error {
	return db.Close()
}

func (p *Plugin) ProductInfo(ctx context.Context, db *sql.DB) (plugin.ProductInfo, error) {
	v, err := plugin.QueryText(ctx, db, 0, "SELECT sqlite_version()")
	if err != nil {
		return plugin.ProductInfo{}, &plugin.ConnectionError{PluginID: ID, Err: err}
	}
	return plugin.ProductInfo{Name: "SQLite", Version: v, DriverName: "modernc.org/sqlite"}, nil
}

// ReadOnlyConfig opens the file read-only and sets query_only on every connection.
func (p *Plugin) ReadOnlyConfig(cfg plugin.ConnectionConfig) plugin.ConnectionConfig {
	return plugin.WithProperties(cfg, map[string]string{
		"mode":    "ro",
		"_pragma": "query_only(1)",
	})
}

func (p *Plugin) ValidateReadOnly(sql string) error {
	return p.guard.Validate(sql)
}

// Split keeps CREATE TRIGGER bodies together.
func (p *Plugin) Split(sql string) []string {
	return splitter.Split(sql)
}

// DecodeError reports the primary result code and its symbolic name.
func (p *Plugin) DecodeError(err error) (int, string, bool) {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return 0, "", false
	}
	code := se.Code()
	return code, msqlite.ErrorCodeString[code], true
}

func lister(db *sql.DB) *metadata.Lister {
	return metadata.New(db, DriverName)
}

// ListDatabases lists the attached databases (main, temp and any ATTACHed file).
func (p *Plugin) ListDatabases(ctx context.Context, db *sql.DB) ([]string, error) {
	return lister(db).Names(ctx, `SELECT name FROM pragma_database_list ORDER BY seq`)
}

// DropDatabase is not supported: a database is a file owned by the caller.
func (p *Plugin) DropDatabase(ctx context.Context, db *sql.DB, name string) error {
	return fmt.Errorf("drop database %s: %w", name, plugin.ErrNotSupported)
}

func (p *Plugin) DatabaseExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	names, err := p.ListDatabases(ctx, db)
	if err != nil {
		return false, err
	}
	return slices.Contains(names, name), nil
}

// ExportDatabaseDDL returns the stored DDL of every schema object in database.
func (p *Plugin) ExportDatabaseDDL(ctx context.Context, db *sql.DB, database, schema string) (string, error) {
	stmts, err := lister(db).Names(ctx, `
		SELECT sql FROM `+master(database, schema)+`
		WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%'
		ORDER BY CASE type WHEN 'table' THEN 0 WHEN 'index' THEN 1 WHEN 'view' THEN 2 ELSE 3 END, name`)
	if err != nil {
		return "", err
	}
	return plugin.JoinDDL(stmts), nil
}

func (p *Plugin) ExportTableDDL(ctx context.Context, db *sql.DB, database, schema, table string) (string, error) {
	return p.TableDDL(ctx, db, database, schema, table)
}

func (p *Plugin) ImportScript(ctx context.Context, db *sql.DB, database, script string) (*execute.Result, error) {
	return plugin.RunScript(ctx, db, p, "", script)
}

func (p *Plugin) CharacterSets(ctx context.Context, db *sql.DB) ([]string, error) {
	return []string{"UTF-8", "UTF-16le", "UTF-16be"}, nil
}

func (p *Plugin) Collations(ctx context.Context, db *sql.DB, charset string) ([]string, error) {
	return lister(db).Names(ctx, `SELECT name FROM pragma_collation_list ORDER BY name`)
}

func (p *Plugin) ListTables(ctx context.Context, db *sql.DB, catalog, schema string) ([]string, error) {
	return p.objects(ctx, db, "table", catalog, schema)
}

func (p *Plugin) ListViews(ctx context.Context, db *sql.DB, catalog, schema string) ([]string, error) {
	return p.objects(ctx, db, "view", catalog, schema)
}

func (p *Plugin) TableDDL(ctx context.Context, db *sql.DB, catalog, schema, table string) (string, error) {
	return p.ddl(ctx, db, "table", catalog, schema, table)
}

func (p *Plugin) ViewDDL(ctx context.Context, db *sql.DB, catalog, schema, view string) (string, error) {
	return p.ddl(ctx, db, "view", catalog, schema, view)
}

func (p *Plugin) objects(ctx context.Context, db *sql.DB, kind, catalog, schema string) ([]string, error) {
	return lister(db).Names(ctx, `
		SELECT name FROM `+master(catalog, schema)+`
		WHERE type = ? AND name NOT LIKE 'sqlite_%'
		ORDER BY name`, kind)
}

func (p *Plugin) ddl(ctx context.Context, db *sql.DB, kind, catalog, schema, name string) (string, error) {
	ddl, err := plugin.QueryText(ctx, db, 0,
		`SELECT sql FROM `+master(catalog, schema)+` WHERE type = ? AND name = ?`, kind, name)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", kind, name, err)
	}
	return ddl, nil
}

// master returns the sqlite_master table of the attached database named by catalog or
// schema, defaulting to main.
func master(catalog, schema string) string {
	name := catalog
	if name == "" {
		name = schema
	}
	if name == "" {
		name = "main"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `".sqlite_master`
}
