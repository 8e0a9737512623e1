package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/shakram02/go-sql-agent/internal/execute"
	"github.com/shakram02/go-sql-agent/internal/guard"
	"github.com/shakram02/go-sql-agent/internal/sqlsplit"
	"github.com/shakram02/go-sql-agent/internal/valueconv"
)

var splitter = sqlsplit.Dialect{
	HashComments:     true,
	BackslashEscapes: true,
	DoubleQuotes:     sqlsplit.QuoteString,
	Backticks:        true,
	DelimiterCommand: true,
}

var readOnlyRules = guard.Rules{
	Patterns: []guard.Rule{
		guard.Pattern(`(?i)\bINTO\s+OUTFILE\b`, "INTO OUTFILE"),
		guard.Pattern(`(?i)\bINTO\s+DUMPFILE\b`, "INTO DUMPFILE"),
		guard.Pattern(`(?i)\bINTO\s+@`, "INTO @variable"),
	},
	Functions: []guard.Rule{
		guard.Function("LOAD_FILE"),
		guard.Function("SLEEP"),
		guard.Function("BENCHMARK"),
		guard.Function("GET_LOCK"),
		guard.Function("RELEASE_LOCK"),
		guard.Function("IS_FREE_LOCK"),
		guard.Function("IS_USED_LOCK"),
		guard.Function("WAIT_FOR_EXECUTED_GTID_SET"),
		guard.Function("WAIT_UNTIL_SQL_THREAD_AFTER_GTIDS"),
		guard.Function("MASTER_POS_WAIT"),
		guard.Function("SOURCE_POS_WAIT"),
	},
	Keywords: []guard.Rule{
		guard.Keyword("CALL"),
		guard.Keyword("EXEC"),
		guard.Keyword("EXECUTE"),
		guard.Keyword("REPLACE"),
		guard.Keyword("LOAD"),
		guard.Keyword("HANDLER"),
		guard.Keyword("RENAME"),
	},
}

// Split understands # comments, backslash escapes, backtick identifiers and the
// mysql client's DELIMITER command.
func (p *Plugin) Split(sql string) []string {
	return splitter.Split(sql)
}

// Convert decodes BIT columns to integers and defers to the default processor for
// everything else.
func (p *Plugin) Convert(typeName string, raw any) any {
	if b, ok := raw.([]byte); ok && strings.EqualFold(typeName, "BIT") {
		var n uint64
		for _, c := range b {
			n = n<<8 | uint64(c)
		}
		return n
	}
	return valueconv.Default{}.Convert(typeName, raw)
}

func (p *Plugin) DecodeError(err error) (int, string, bool) {
	var me *gomysql.MySQLError
	if !errors.As(err, &me) {
		return 0, "", false
	}
	return int(me.Number), strings.TrimRight(string(me.SQLState[:]), "\x00"), true
}

// QueryKeywords lists MySQL statements that answer with result sets.
func (p *Plugin) QueryKeywords() []string {
	return []string{"CALL", "EXECUTE", "CHECK", "ANALYZE", "OPTIMIZE", "REPAIR", "CHECKSUM", "HELP"}
}

// Warnings runs SHOW WARNINGS on the connection that ran the last statement.
func (p *Plugin) Warnings(ctx context.Context, _ *sql.Conn, ex execute.Execer) ([]execute.Message, error) {
	rows, err := ex.QueryContext(ctx, "SHOW WARNINGS")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []execute.Message
	for rows.Next() {
		var level, code, msg string
		if err := rows.Scan(&level, &code, &msg); err != nil {
			return nil, err
		}
		n, _ := strconv.Atoi(code)
		out = append(out, execute.Message{
			Level:   execute.LevelWarn,
			Code:    n,
			Message: msg,
			Detail:  level,
		})
	}
	return out, rows.Err()
}

var errNoDefaultDatabase = errors.New("connection had no default database to return to")

// SwitchContext issues USE for database. MySQL has no separate schema level. The
// returned restore issues USE for the previous default database; a connection that had
// none cannot be put back and the restore fails.
func (p *Plugin) SwitchContext(ctx context.Context, ex execute.Execer, database, schema string) (execute.RestoreFunc, error) {
	name := database
	if name == "" {
		name = schema
	}
	if name == "" {
		return nil, nil
	}
	previous, err := defaultDatabase(ctx, ex)
	if err != nil {
		return nil, err
	}
	if previous.Valid && previous.String == name {
		return nil, nil
	}
	if _, err := ex.ExecContext(ctx, "USE "+quoteIdent(name)); err != nil {
		return nil, err
	}
	return func(ctx context.Context, ex execute.Execer) error {
		if !previous.Valid {
			return errNoDefaultDatabase
		}
		_, err := ex.ExecContext(ctx, "USE "+quoteIdent(previous.String))
		return err
	}, nil
}

func defaultDatabase(ctx context.Context, ex execute.Execer) (sql.NullString, error) {
	var name sql.NullString
	rows, err := ex.QueryContext(ctx, "SELECT DATABASE()")
	if err != nil {
		return name, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&name); err != nil {
			return name, err
		}
	}
	return name, rows.Err()
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func qualified(database, name string) string {
	if database == "" {
		return quoteIdent(name)
	}
	return quoteIdent(database) + "." + quoteIdent(name)
}
