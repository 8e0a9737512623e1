package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/shakram02/go-sql-agent/internal/execute"
	"github.com/shakram02/go-sql-agent/internal/guard"
	"github.com/shakram02/go-sql-agent/internal/sqlsplit"
	"github.com/shakram02/go-sql-agent/internal/valueconv"
)

var splitter = sqlsplit.Dialect{
	DollarQuotes: true,
	DoubleQuotes: sqlsplit.QuoteIdent,
}

var readOnlyRules = guard.Rules{
	Patterns: []guard.Rule{
		guard.Pattern(`(?i)\bCOPY\s+.*\bTO\b`, "COPY ... TO"),
		guard.Pattern(`(?i)\bCOPY\s+.*\bFROM\b`, "COPY ... FROM"),
	},
	Functions: []guard.Rule{
		guard.Function("pg_read_file"),
		guard.Function("pg_read_binary_file"),
		guard.Function("pg_ls_dir"),
		guard.Function("lo_import"),
		guard.Function("lo_export"),
		guard.Function("pg_sleep"),
		guard.Function("pg_sleep_for"),
		guard.Function("pg_sleep_until"),
		guard.Function("pg_advisory_lock"),
		guard.Function("pg_advisory_xact_lock"),
		guard.Function("pg_try_advisory_lock"),
	},
	Keywords: []guard.Rule{
		guard.Keyword("CALL"),
		guard.Keyword("EXECUTE"),
		guard.Keyword("COPY"),
		guard.Keyword("LISTEN"),
		guard.Keyword("NOTIFY"),
		guard.Keyword("PREPARE"),
		guard.Keyword("DEALLOCATE"),
		guard.Keyword("VACUUM"),
		guard.Keyword("REINDEX"),
		guard.Keyword("CLUSTER"),
	},
}

// Split understands dollar-quoted bodies, so functions and DO blocks stay whole.
func (p *Plugin) Split(sql string) []string {
	return splitter.Split(sql)
}

// Convert renders UUID columns in canonical form and defers to the default processor
// for everything else.
func (p *Plugin) Convert(typeName string, raw any) any {
	if b, ok := raw.([]byte); ok && strings.EqualFold(typeName, "UUID") && len(b) == 16 {
		if id, err := uuid.FromBytes(b); err == nil {
			return id.String()
		}
	}
	if a, ok := raw.([16]byte); ok {
		return uuid.UUID(a).String()
	}
	return valueconv.Default{}.Convert(typeName, raw)
}

// DecodeError reports the SQLSTATE. PostgreSQL has no numeric vendor code.
func (p *Plugin) DecodeError(err error) (int, string, bool) {
	return p.decode(err)
}

// QueryKeywords lists PostgreSQL statements that answer with result sets.
func (p *Plugin) QueryKeywords() []string {
	return []string{"FETCH", "EXECUTE"}
}

// SwitchContext sets search_path to schema. A connection cannot change database, so a
// database other than the current one is an error. The returned restore puts the
// previous search_path back.
func (p *Plugin) SwitchContext(ctx context.Context, ex execute.Execer, database, schema string) (execute.RestoreFunc, error) {
	if database != "" {
		current, err := queryString(ctx, ex, "SELECT current_database()")
		if err != nil {
			return nil, err
		}
		if current != database {
			return nil, fmt.Errorf("connected to database %q, cannot switch to %q", current, database)
		}
	}
	if schema == "" {
		return nil, nil
	}
	previous, err := queryString(ctx, ex, "SHOW search_path")
	if err != nil {
		return nil, err
	}
	if _, err := ex.ExecContext(ctx, "SET search_path TO "+p.quoteIdent(schema)); err != nil {
		return nil, err
	}
	return func(ctx context.Context, ex execute.Execer) error {
		_, err := ex.ExecContext(ctx, "SELECT set_config('search_path', $1, false)", previous)
		return err
	}, nil
}

func queryString(ctx context.Context, ex execute.Execer, query string) (string, error) {
	rows, err := ex.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%s returned no rows", query)
	}
	var name string
	if err := rows.Scan(&name); err != nil {
		return "", err
	}
	return name, rows.Close()
}

func (p *Plugin) qualified(schema, name string) string {
	if schema == "" {
		return p.quoteIdent(name)
	}
	return p.quoteIdent(schema) + "." + p.quoteIdent(name)
}
