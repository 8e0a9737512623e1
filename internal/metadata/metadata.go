// Package metadata lists catalog objects through information_schema. Plugins use it as
// the default behind their listing capabilities.
package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shakram02/go-sql-agent/internal/pkg/logctx"
)

const (
	TypeTable = "BASE TABLE"
	TypeView  = "VIEW"
)

const schemataQuery = `
	SELECT schema_name
	FROM information_schema.schemata
	WHERE (? = '' OR catalog_name = ?)
	ORDER BY schema_name`

const tablesQuery = `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_type = ?
	  AND (? = '' OR table_catalog = ?)
	  AND (? = '' OR table_schema = ?)
	ORDER BY table_name`

// Lister runs listing queries written with "?" placeholders against any driver.
type Lister struct {
	db *sqlx.DB
}

// New wraps db. driverName selects the placeholder style.
func New(db *sql.DB, driverName string) *Lister {
	return &Lister{db: sqlx.NewDb(db, driverName)}
}

// Names runs query and returns the first column of every row. NULL and blank names
// are skipped.
func (l *Lister) Names(ctx context.Context, query string, args ...any) (names []string, err error) {
	ctx = logctx.WithField(ctx, "operation", "list")
	start := time.Now()
	defer func() {
		logFinish(ctx, start, err)
	}()

	var raw []sql.NullString
	if err = l.db.SelectContext(ctx, &raw, l.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	names = make([]string, 0, len(raw))
	for _, n := range raw {
		if n.Valid && strings.TrimSpace(n.String) != "" {
			names = append(names, n.String)
		}
	}
	return names, nil
}

// Select scans the rows of query into dest, a pointer to a slice of structs with db
// tags.
func (l *Lister) Select(ctx context.Context, dest any, query string, args ...any) (err error) {
	ctx = logctx.WithField(ctx, "operation", "select")
	start := time.Now()
	defer func() {
		logFinish(ctx, start, err)
	}()
	return l.db.SelectContext(ctx, dest, l.db.Rebind(query), args...)
}

// Rebind rewrites "?" placeholders for the wrapped driver.
func (l *Lister) Rebind(query string) string {
	return l.db.Rebind(query)
}

// Schemas lists schemas, optionally restricted to catalog.
func (l *Lister) Schemas(ctx context.Context, catalog string) ([]string, error) {
	names, err := l.Names(ctx, schemataQuery, catalog, catalog)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	return names, nil
}

// Tables lists base tables. Empty catalog or schema matches any.
func (l *Lister) Tables(ctx context.Context, catalog, schema string) ([]string, error) {
	return l.objects(ctx, TypeTable, catalog, schema)
}

// Views lists views. Empty catalog or schema matches any.
func (l *Lister) Views(ctx context.Context, catalog, schema string) ([]string, error) {
	return l.objects(ctx, TypeView, catalog, schema)
}

func (l *Lister) objects(ctx context.Context, tableType, catalog, schema string) ([]string, error) {
	names, err := l.Names(ctx, tablesQuery, tableType, catalog, catalog, schema, schema)
	if err != nil {
		return nil, fmt.Errorf("list %s objects: %w", strings.ToLower(tableType), err)
	}
	return names, nil
}

func logFinish(ctx context.Context, start time.Time, err error) {
	ctx = logctx.WithAttrs(ctx, slog.Duration("duration", time.Since(start)))
	if err != nil {
		slog.ErrorContext(ctx, "metadata query failed", slog.Any("err", err))
		return
	}
	slog.DebugContext(ctx, "metadata query finished")
}
