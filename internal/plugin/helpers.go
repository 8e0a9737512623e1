package plugin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shakram02/go-sql-agent/internal/execute"
)

// DefaultTimeout bounds connection checks when the config has no timeout.
const DefaultTimeout = 10 * time.Second

// OpenDB opens a handle with driverName and verifies it with a ping. Any failure is
// returned as a *ConnectionError.
func OpenDB(ctx context.Context, pluginID, driverName, dsn string, timeoutSeconds int) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, &ConnectionError{PluginID: pluginID, Err: err}
	}
	return PingDB(ctx, pluginID, db, timeoutSeconds)
}

// PingDB verifies a freshly opened db within the connect timeout. db is closed when the
// ping fails.
func PingDB(ctx context.Context, pluginID string, db *sql.DB, timeoutSeconds int) (*sql.DB, error) {
	timeout := DefaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &ConnectionError{PluginID: pluginID, Err: err}
	}
	return db, nil
}

// TestConnection opens and immediately closes a connection.
func TestConnection(ctx context.Context, cp ConnectionProvider, cfg ConnectionConfig) error {
	db, err := cp.Open(ctx, cfg)
	if err != nil {
		return err
	}
	return cp.Close(db)
}

// Exec runs req through the execution engine on a connection borrowed from db. The
// returned error only reports a failure to obtain the connection; SQL errors are in the
// result.
func Exec(ctx context.Context, db *sql.DB, p Plugin, req execute.Request, opts ...execute.Option) (*execute.Result, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, &ConnectionError{PluginID: p.Info().ID, Err: err}
	}
	defer conn.Close()
	return execute.New(Dialect(p), opts...).Run(ctx, conn, req), nil
}

// ExecStatement runs a single statement and turns an unsuccessful result into an error.
func ExecStatement(ctx context.Context, db *sql.DB, p Plugin, stmt string) error {
	res, err := Exec(ctx, db, p, execute.Request{OriginalSQL: stmt, SQL: stmt})
	if err != nil {
		return err
	}
	return res.Err()
}

// DropDatabase executes stmt (a dialect-built DROP DATABASE) and fails unless the
// engine reports success.
func DropDatabase(ctx context.Context, db *sql.DB, p Plugin, stmt string) error {
	if err := ExecStatement(ctx, db, p, stmt); err != nil {
		return fmt.Errorf("drop database: %w", err)
	}
	return nil
}

// RunScript executes a multi-statement script against database without a transaction.
func RunScript(ctx context.Context, db *sql.DB, p Plugin, database, script string) (*execute.Result, error) {
	return Exec(ctx, db, p, execute.Request{OriginalSQL: script, SQL: script, Database: database})
}

// QueryText returns column col of the first row of query as a string. A query without
// rows yields ErrObjectNotFound.
func QueryText(ctx context.Context, db *sql.DB, col int, query string, args ...any) (string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return "", err
	}
	if col >= len(names) {
		return "", fmt.Errorf("query returned %d columns, want column %d", len(names), col)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", ErrObjectNotFound
	}
	values := make([]sql.NullString, len(names))
	ptrs := make([]any, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return "", err
	}
	return values[col].String, rows.Err()
}

// JoinDDL joins DDL statements into one script, terminating each with ";".
func JoinDDL(statements []string) string {
	var b strings.Builder
	for _, s := range statements {
		s = strings.TrimRight(strings.TrimSpace(s), ";")
		if s == "" {
			continue
		}
		b.WriteString(s)
		b.WriteString(";\n\n")
	}
	return b.String()
}

// UnsupportedDatabaseOps answers ErrNotSupported for the optional DatabaseProvider
// operations. Plugins embed it and override what their engine supports.
type UnsupportedDatabaseOps struct{}

func (UnsupportedDatabaseOps) CreateDatabase(context.Context, *sql.DB, string, DatabaseOptions) error {
	return ErrNotSupported
}

func (UnsupportedDatabaseOps) DatabaseExists(context.Context, *sql.DB, string) (bool, error) {
	return false, ErrNotSupported
}

func (UnsupportedDatabaseOps) ExportDatabaseDDL(context.Context, *sql.DB, string, string) (string, error) {
	return "", ErrNotSupported
}

func (UnsupportedDatabaseOps) ExportTableDDL(context.Context, *sql.DB, string, string, string) (string, error) {
	return "", ErrNotSupported
}

func (UnsupportedDatabaseOps) ImportScript(context.Context, *sql.DB, string, string) (*execute.Result, error) {
	return nil, ErrNotSupported
}

func (UnsupportedDatabaseOps) CharacterSets(context.Context, *sql.DB) ([]string, error) {
	return nil, ErrNotSupported
}

func (UnsupportedDatabaseOps) Collations(context.Context, *sql.DB, string) ([]string, error) {
	return nil, ErrNotSupported
}

// IsNotSupported reports whether err means "optional capability missing" rather than a
// real failure.
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}
