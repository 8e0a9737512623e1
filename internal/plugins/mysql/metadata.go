package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/shakram02/go-sql-agent/internal/execute"
	"github.com/shakram02/go-sql-agent/internal/metadata"
	"github.com/shakram02/go-sql-agent/internal/plugin"
)

func lister(db *sql.DB) *metadata.Lister {
	return metadata.New(db, DriverName)
}

// ListDatabases lists schemas; MySQL databases and schemas are the same thing.
func (p *Plugin) ListDatabases(ctx context.Context, db *sql.DB) ([]string, error) {
	return lister(db).Schemas(ctx, "")
}

func (p *Plugin) DropDatabase(ctx context.Context, db *sql.DB, name string) error {
	return plugin.DropDatabase(ctx, db, p, "DROP DATABASE "+quoteIdent(name))
}

func (p *Plugin) CreateDatabase(ctx context.Context, db *sql.DB, name string, opts plugin.DatabaseOptions) error {
	stmt := "CREATE DATABASE " + quoteIdent(name)
	if opts.CharacterSet != "" {
		stmt += " CHARACTER SET " + quoteIdent(opts.CharacterSet)
	}
	if opts.Collation != "" {
		stmt += " COLLATE " + quoteIdent(opts.Collation)
	}
	return plugin.ExecStatement(ctx, db, p, stmt)
}

func (p *Plugin) DatabaseExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	names, err := p.ListDatabases(ctx, db)
	if err != nil {
		return false, err
	}
	return slices.Contains(names, name), nil
}

// ExportDatabaseDDL returns CREATE DATABASE followed by every table and view.
func (p *Plugin) ExportDatabaseDDL(ctx context.Context, db *sql.DB, database, schema string) (string, error) {
	database, err := p.current(ctx, db, database, schema)
	if err != nil {
		return "", err
	}
	create, err := plugin.QueryText(ctx, db, 1, "SHOW CREATE DATABASE "+quoteIdent(database))
	if err != nil {
		return "", fmt.Errorf("export database %s: %w", database, err)
	}
	ddl := []string{create}

	tables, err := p.ListTables(ctx, db, database, "")
	if err != nil {
		return "", err
	}
	for _, t := range tables {
		s, err := p.TableDDL(ctx, db, database, "", t)
		if err != nil {
			return "", err
		}
		ddl = append(ddl, s)
	}
	views, err := p.ListViews(ctx, db, database, "")
	if err != nil {
		return "", err
	}
	for _, v := range views {
		s, err := p.ViewDDL(ctx, db, database, "", v)
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
	return lister(db).Names(ctx, `SELECT character_set_name FROM information_schema.character_sets ORDER BY character_set_name`)
}

func (p *Plugin) Collations(ctx context.Context, db *sql.DB, charset string) ([]string, error) {
	return lister(db).Names(ctx, `
		SELECT collation_name FROM information_schema.collations
		WHERE (? = '' OR character_set_name = ?)
		ORDER BY collation_name`, charset, charset)
}

// ListTables lists base tables of catalog (or schema), defaulting to the connection's
// current database.
func (p *Plugin) ListTables(ctx context.Context, db *sql.DB, catalog, schema string) ([]string, error) {
	database, err := p.current(ctx, db, catalog, schema)
	if err != nil {
		return nil, err
	}
	return lister(db).Tables(ctx, "", database)
}

func (p *Plugin) TableDDL(ctx context.Context, db *sql.DB, catalog, schema, table string) (string, error) {
	ddl, err := plugin.QueryText(ctx, db, 1, "SHOW CREATE TABLE "+qualified(firstOf(catalog, schema), table))
	if err != nil {
		return "", fmt.Errorf("table %s: %w", table, err)
	}
	return ddl, nil
}

func (p *Plugin) ListViews(ctx context.Context, db *sql.DB, catalog, schema string) ([]string, error) {
	database, err := p.current(ctx, db, catalog, schema)
	if err != nil {
		return nil, err
	}
	return lister(db).Views(ctx, "", database)
}

func (p *Plugin) ViewDDL(ctx context.Context, db *sql.DB, catalog, schema, view string) (string, error) {
	ddl, err := plugin.QueryText(ctx, db, 1, "SHOW CREATE VIEW "+qualified(firstOf(catalog, schema), view))
	if err != nil {
		return "", fmt.Errorf("view %s: %w", view, err)
	}
	return ddl, nil
}

// current resolves the database to inspect: the explicit one, else DATABASE().
func (p *Plugin) current(ctx context.Context, db *sql.DB, catalog, schema string) (string, error) {
	if name := firstOf(catalog, schema); name != "" {
		return name, nil
	}
	name, err := plugin.QueryText(ctx, db, 0, "SELECT DATABASE()")
	if errors.Is(err, plugin.ErrObjectNotFound) {
		return "", nil
	}
	return name, err
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
