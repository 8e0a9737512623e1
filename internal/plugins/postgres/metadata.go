package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/shakram02/go-sql-agent/internal/execute"
	"github.com/shakram02/go-sql-agent/internal/metadata"
	"github.com/shakram02/go-sql-agent/internal/plugin"
)

func (p *Plugin) lister(db *sql.DB) *metadata.Lister {
	return metadata.New(db, p.info.DriverName)
}

func (p *Plugin) ListDatabases(ctx context.Context, db *sql.DB) ([]string, error) {
	return p.lister(db).Names(ctx, `SELECT datname FROM pg_database WHERE NOT datistemplate ORDER BY datname`)
}

func (p *Plugin) DropDatabase(ctx context.Context, db *sql.DB, name string) error {
	return plugin.DropDatabase(ctx, db, p, "DROP DATABASE "+p.quoteIdent(name))
}

func (p *Plugin) CreateDatabase(ctx context.Context, db *sql.DB, name string, opts plugin.DatabaseOptions) error {
	return plugin.ExecStatement(ctx, db, p, createDatabase(p.quoteIdent(name), opts))
}

func createDatabase(quoted string, opts plugin.DatabaseOptions) string {
	stmt := "CREATE DATABASE " + quoted
	if opts.CharacterSet != "" {
		stmt += " ENCODING " + pq.QuoteLiteral(opts.CharacterSet)
	}
	if opts.Collation != "" {
		stmt += " LC_COLLATE " + pq.QuoteLiteral(opts.Collation)
	}
	if opts.CharacterSet != "" || opts.Collation != "" {
		stmt += " TEMPLATE template0"
	}
	return stmt
}

func (p *Plugin) DatabaseExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	names, err := p.lister(db).Names(ctx, `SELECT datname FROM pg_database WHERE datname = ?`, name)
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// ExportDatabaseDDL returns the DDL of every table and view in schema.
func (p *Plugin) ExportDatabaseDDL(ctx context.Context, db *sql.DB, database, schema string) (string, error) {
	schema, err := p.schema(ctx, db, schema)
	if err != nil {
		return "", err
	}
	ddl := []string{"CREATE SCHEMA IF NOT EXISTS " + p.quoteIdent(schema)}

	tables, err := p.ListTables(ctx, db, database, schema)
	if err != nil {
		return "", err
	}
	for _, t := range tables {
		s, err := p.TableDDL(ctx, db, database, schema, t)
		if err != nil {
			return "", err
		}
		ddl = append(ddl, s)
	}
	views, err := p.ListViews(ctx, db, database, schema)
	if err != nil {
		return "", err
	}
	for _, v := range views {
		s, err := p.ViewDDL(ctx, db, database, schema, v)
		if err != nil {
			return "", err
		}
		ddl = append(ddl, s)
	}
	return plugin.JoinDDL(ddl), nil
}

func (p *Plugin) ExportTableDDL(ctx context.Context, db *sql.DB, database, schema, table string) (string, error) {
	return p.TableDDL(ctx, db, database, schema, table)
}

func (p *Plugin) ImportScript(ctx context.Context, db *sql.DB, database, script string) (*execute.Result, error) {
	return plugin.RunScript(ctx, db, p, database, script)
}

func (p *Plugin) CharacterSets(ctx context.Context, db *sql.DB) ([]string, error) {
	return p.lister(db).Names(ctx, `
		SELECT DISTINCT pg_encoding_to_char(collencoding)
		FROM pg_collation
		WHERE collencoding >= 0
		ORDER BY 1`)
}

func (p *Plugin) Collations(ctx context.Context, db *sql.DB, charset string) ([]string, error) {
	return p.lister(db).Names(ctx, `
		SELECT collname FROM pg_collation
		WHERE (? = '' OR collencoding = -1 OR pg_encoding_to_char(collencoding) = ?)
		ORDER BY collname`, charset, charset)
}

// ListTables lists base tables in schema, defaulting to current_schema().
func (p *Plugin) ListTables(ctx context.Context, db *sql.DB, catalog, schema string) ([]string, error) {
	schema, err := p.schema(ctx, db, schema)
	if err != nil {
		return nil, err
	}
	return p.lister(db).Tables(ctx, catalog, schema)
}

func (p *Plugin) ListViews(ctx context.Context, db *sql.DB, catalog, schema string) ([]string, error) {
	schema, err := p.schema(ctx, db, schema)
	if err != nil {
		return nil, err
	}
	return p.lister(db).Views(ctx, catalog, schema)
}

type column struct {
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull bool           `db:"not_null"`
	Default sql.NullString `db:"default_expr"`
}

type constraint struct {
	Name       string `db:"name"`
	Definition string `db:"definition"`
}

// TableDDL rebuilds CREATE TABLE from the catalog since PostgreSQL has no SHOW CREATE.
func (p *Plugin) TableDDL(ctx context.Context, db *sql.DB, catalog, schema, table string) (string, error) {
	schema, err := p.schema(ctx, db, schema)
	if err != nil {
		return "", err
	}
	rel := p.qualified(schema, table)
	l := p.lister(db)

	var cols []column
	err = l.Select(ctx, &cols, `
		SELECT a.attname AS name,
		       pg_catalog.format_type(a.atttypid, a.atttypmod) AS type,
		       a.attnotnull AS not_null,
		       pg_catalog.pg_get_expr(d.adbin, d.adrelid) AS default_expr
		FROM pg_catalog.pg_attribute a
		LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
		WHERE a.attrelid = CAST(? AS regclass) AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum`, rel)
	if err != nil {
		return "", fmt.Errorf("table %s: %w", table, err)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("table %s: %w", table, plugin.ErrObjectNotFound)
	}

	var cons []constraint
	err = l.Select(ctx, &cons, `
		SELECT conname AS name, pg_catalog.pg_get_constraintdef(oid, true) AS definition
		FROM pg_catalog.pg_constraint
		WHERE conrelid = CAST(? AS regclass)
		ORDER BY contype DESC, conname`, rel)
	if err != nil {
		return "", fmt.Errorf("table %s constraints: %w", table, err)
	}
	return p.createTable(rel, cols, cons), nil
}

func (p *Plugin) createTable(rel string, cols []column, cons []constraint) string {
	lines := make([]string, 0, len(cols)+len(cons))
	for _, c := range cols {
		line := "  " + p.quoteIdent(c.Name) + " " + c.Type
		if c.NotNull {
			line += " NOT NULL"
		}
		if c.Default.Valid {
			line += " DEFAULT " + c.Default.String
		}
		lines = append(lines, line)
	}
	for _, c := range cons {
		lines = append(lines, "  CONSTRAINT "+p.quoteIdent(c.Name)+" "+c.Definition)
	}
	return "CREATE TABLE " + rel + " (\n" + strings.Join(lines, ",\n") + "\n)"
}

func (p *Plugin) ViewDDL(ctx context.Context, db *sql.DB, catalog, schema, view string) (string, error) {
	schema, err := p.schema(ctx, db, schema)
	if err != nil {
		return "", err
	}
	rel := p.qualified(schema, view)
	def, err := plugin.QueryText(ctx, db, 0, p.lister(db).Rebind(`SELECT pg_catalog.pg_get_viewdef(CAST(? AS regclass), true)`), rel)
	if err != nil {
		return "", fmt.Errorf("view %s: %w", view, err)
	}
	return "CREATE VIEW " + rel + " AS\n" + strings.TrimRight(strings.TrimSpace(def), ";"), nil
}

func (p *Plugin) schema(ctx context.Context, db *sql.DB, schema string) (string, error) {
	if schema != "" {
		return schema, nil
	}
	return plugin.QueryText(ctx, db, 0, "SELECT current_schema()")
}
