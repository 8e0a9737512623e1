// Package execute runs one logical SQL request against an open connection and reports a
// structured Result. Dialect specifics (statement splitting, value conversion, error
// codes, warnings, switching database) are supplied by the caller through Dialect.
package execute

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shakram02/go-sql-agent/internal/pkg/logctx"
	"github.com/shakram02/go-sql-agent/internal/sqlsplit"
	"github.com/shakram02/go-sql-agent/internal/valueconv"
)

// Splitter splits raw SQL into executable statements.
type Splitter interface {
	Split(sql string) []string
}

// ValueProcessor normalizes a raw scanned value for a column of the given type.
type ValueProcessor interface {
	Convert(typeName string, raw any) any
}

// ErrorDecoder extracts the engine's error code and state token from a driver error.
type ErrorDecoder interface {
	DecodeError(err error) (code int, state string, ok bool)
}

// Execer is satisfied by *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// WarningCollector reads the warnings raised by the last statement run on ex. conn is
// the connection ex runs on; ex is conn itself or a transaction open on it.
type WarningCollector interface {
	Warnings(ctx context.Context, conn *sql.Conn, ex Execer) ([]Message, error)
}

// RestoreFunc puts a connection back into the database and schema it had before a
// switch.
type RestoreFunc func(ctx context.Context, ex Execer) error

// ContextSwitcher points ex at the target database and/or schema. A non-nil RestoreFunc
// undoes the switch.
type ContextSwitcher interface {
	SwitchContext(ctx context.Context, ex Execer, database, schema string) (RestoreFunc, error)
}

// Dialect bundles the engine-specific collaborators. Nil members fall back to the
// defaults (sqlsplit.Default, valueconv.Default) or are skipped. QueryKeywords adds
// leading keywords of statements that return rows, such as CALL.
type Dialect struct {
	Name          string
	Splitter      Splitter
	Values        ValueProcessor
	Errors        ErrorDecoder
	Warnings      WarningCollector
	Switcher      ContextSwitcher
	QueryKeywords []string
}

// Request is one logical execution request. The connection it runs on stays owned by
// the caller.
type Request struct {
	OriginalSQL      string
	SQL              string
	Database         string
	Schema           string
	NeedsTransaction bool
}

// Engine executes requests for one dialect. It holds no per-request state and is safe
// for concurrent use on distinct connections.
type Engine struct {
	dialect Dialect
	maxRows int
	queries map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRows caps the rows kept per result set; extra rows set Truncated. Zero keeps all.
func WithMaxRows(n int) Option {
	return func(e *Engine) {
		e.maxRows = n
	}
}

// New returns an engine for d.
func New(d Dialect, opts ...Option) *Engine {
	e := &Engine{dialect: d}
	for _, opt := range opts {
		opt(e)
	}
	if len(d.QueryKeywords) > 0 {
		e.queries = make(map[string]bool, len(d.QueryKeywords))
		for _, kw := range d.QueryKeywords {
			e.queries[strings.ToUpper(kw)] = true
		}
	}
	return e
}

var queryKeywords = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"EXPLAIN":  true,
	"PRAGMA":   true,
	"VALUES":   true,
	"TABLE":    true,
}

var returningPattern = regexp.MustCompile(`(?i)\bRETURNING\b`)

const restoreTimeout = 5 * time.Second

// Run executes req on conn. It never returns an error: failures are reported through
// Result.Success and an ERROR message. When req.NeedsTransaction is set, either every
// statement is committed or none is.
func (e *Engine) Run(ctx context.Context, conn *sql.Conn, req Request) *Result {
	res := &Result{
		ID:          uuid.NewString(),
		OriginalSQL: req.OriginalSQL,
		SQL:         req.SQL,
		Database:    req.Database,
		Schema:      req.Schema,
		SubResults:  []SubResult{},
		StartedAt:   time.Now(),
	}
	ctx = logctx.WithAttrs(ctx,
		slog.String("execution_id", res.ID),
		slog.String("dialect", e.dialect.Name),
	)
	defer func() {
		res.EndedAt = time.Now()
		res.mirrorFirst()
		slog.InfoContext(ctx, "sql request finished",
			slog.Bool("success", res.Success),
			slog.Int("results", len(res.SubResults)),
			slog.Duration("duration", res.EndedAt.Sub(res.StartedAt)),
		)
	}()

	text := req.SQL
	if strings.TrimSpace(text) == "" {
		text = req.OriginalSQL
		res.SQL = text
	}
	statements := e.splitter().Split(text)
	if len(statements) == 0 {
		res.Messages = append(res.Messages, Message{Level: LevelError, Message: "no executable statement"})
		return res
	}

	var ex Execer = conn
	var tx *sql.Tx
	if req.NeedsTransaction {
		var err error
		tx, err = conn.BeginTx(ctx, nil)
		if err != nil {
			e.fail(ctx, res, nil, err)
			return res
		}
		ex = tx
		defer e.finishTx(ctx, tx)
	}

	if (req.Database != "" || req.Schema != "") && e.dialect.Switcher != nil {
		restore, err := e.dialect.Switcher.SwitchContext(ctx, ex, req.Database, req.Schema)
		if err != nil {
			e.fail(ctx, res, tx, fmt.Errorf("switch to %s: %w", target(req), err))
			return res
		}
		if restore != nil {
			// Runs before finishTx; every return path has already ended tx by then.
			defer e.restoreContext(ctx, conn, restore)
		}
	}

	for i, stmt := range statements {
		subs, err := e.runStatement(logctx.WithAttrs(ctx, slog.Int("statement_index", i)), conn, ex, i, stmt)
		for _, sub := range subs {
			res.ExecutionTime += sub.ExecutionTime
			res.FetchTime += sub.FetchTime
			res.Messages = append(res.Messages, sub.Messages...)
		}
		res.SubResults = append(res.SubResults, subs...)
		if err != nil {
			e.fail(ctx, res, tx, err)
			return res
		}
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			e.fail(ctx, res, nil, fmt.Errorf("commit: %w", err))
			return res
		}
	}
	res.Success = true
	return res
}

func (e *Engine) runStatement(ctx context.Context, conn *sql.Conn, ex Execer, index int, stmt string) ([]SubResult, error) {
	if e.isQuery(stmt) {
		return e.runQuery(ctx, conn, ex, index, stmt)
	}

	sub := SubResult{Index: index, SQL: stmt, AffectedRows: -1, StartedAt: time.Now()}
	r, err := ex.ExecContext(ctx, stmt)
	sub.EndedAt = time.Now()
	sub.ExecutionTime = sub.EndedAt.Sub(sub.StartedAt)
	if err != nil {
		return []SubResult{sub}, err
	}
	if n, err := r.RowsAffected(); err == nil {
		sub.AffectedRows = n
	}
	sub.Success = true
	sub.Messages = e.collectWarnings(ctx, conn, ex)
	return []SubResult{sub}, nil
}

// runQuery reads every result set the statement produced; each one becomes a sub-result.
func (e *Engine) runQuery(ctx context.Context, conn *sql.Conn, ex Execer, index int, stmt string) ([]SubResult, error) {
	start := time.Now()
	rows, err := ex.QueryContext(ctx, stmt)
	executed := time.Now()
	if err != nil {
		return []SubResult{{
			Index: index, SQL: stmt, Query: true, AffectedRows: -1,
			StartedAt: start, EndedAt: executed, ExecutionTime: executed.Sub(start),
		}}, err
	}
	defer rows.Close()

	var subs []SubResult
	for {
		sub := SubResult{Index: index, SQL: stmt, Query: true, AffectedRows: -1, StartedAt: start}
		if len(subs) == 0 {
			sub.ExecutionTime = executed.Sub(start)
		}
		fetchStart := time.Now()
		err := e.fetch(rows, &sub)
		sub.EndedAt = time.Now()
		sub.FetchTime = sub.EndedAt.Sub(fetchStart)
		subs = append(subs, sub)
		if err != nil {
			return subs, err
		}
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return subs, err
	}
	if err := rows.Close(); err != nil {
		return subs, err
	}

	for i := range subs {
		subs[i].Success = true
	}
	last := &subs[len(subs)-1]
	last.Messages = e.collectWarnings(ctx, conn, ex)
	return subs, nil
}

func (e *Engine) fetch(rows *sql.Rows, sub *SubResult) error {
	types, err := rows.ColumnTypes()
	if err != nil {
		return err
	}
	sub.Columns = describeColumns(types)
	sub.Rows = make([][]any, 0)

	values := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range values {
		ptrs[i] = &values[i]
	}

	conv := e.values()
	for rows.Next() {
		if e.maxRows > 0 && len(sub.Rows) >= e.maxRows {
			sub.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = conv.Convert(sub.Columns[i].TypeName, v)
		}
		sub.Rows = append(sub.Rows, row)
	}
	return rows.Err()
}

func describeColumns(types []*sql.ColumnType) []Column {
	cols := make([]Column, len(types))
	for i, ct := range types {
		col := Column{Name: ct.Name(), Label: ct.Name(), TypeName: ct.DatabaseTypeName()}
		if st := ct.ScanType(); st != nil {
			col.ScanType = st.String()
		}
		if l, ok := ct.Length(); ok {
			col.Length = l
		}
		if p, s, ok := ct.DecimalSize(); ok {
			col.Precision, col.Scale = p, s
		}
		if n, ok := ct.Nullable(); ok {
			col.Nullable = &n
		}
		cols[i] = col
	}
	return cols
}

// fail records err as the request's single ERROR message. When tx is open it is rolled
// back first; a rollback failure is attached to the message rather than replacing it.
func (e *Engine) fail(ctx context.Context, res *Result, tx *sql.Tx, err error) {
	msg := e.describe(err)
	if tx != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			msg.Detail += "\nrollback failed: " + rbErr.Error()
		}
	}
	if n := len(res.SubResults); n > 0 && !res.SubResults[n-1].Success {
		res.SubResults[n-1].Messages = append(res.SubResults[n-1].Messages, msg)
	}
	res.Success = false
	res.Messages = append(res.Messages, msg)
	slog.WarnContext(ctx, "sql request failed", slog.Any("err", err))
}

// finishTx makes sure no transaction outlives Run, leaving the connection back in
// auto-commit mode. A finished transaction or closed connection is not an error here.
func (e *Engine) finishTx(ctx context.Context, tx *sql.Tx) {
	err := tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) || errors.Is(err, sql.ErrConnDone) {
		return
	}
	slog.WarnContext(ctx, "restore auto-commit failed", slog.Any("err", err))
}

// restoreContext undoes a database or schema switch before conn goes back to its pool.
// A connection that cannot be restored is discarded instead.
func (e *Engine) restoreContext(ctx context.Context, conn *sql.Conn, restore RestoreFunc) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
	defer cancel()
	err := restore(ctx, conn)
	if err == nil {
		return
	}
	slog.WarnContext(ctx, "restore connection context failed, discarding connection", slog.Any("err", err))
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
}

func (e *Engine) describe(err error) Message {
	msg := Message{
		Level:   LevelError,
		Message: fmt.Sprintf("%T: %s", err, err.Error()),
		Detail:  detail(err),
	}
	if e.dialect.Errors != nil {
		if code, state, ok := e.dialect.Errors.DecodeError(err); ok {
			msg.Code, msg.State = code, state
		}
	}
	return msg
}

func detail(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			b.WriteString("\ncaused by: ")
		}
		fmt.Fprintf(&b, "%T: %v", err, err)
		err = errors.Unwrap(err)
	}
	return b.String()
}

func (e *Engine) collectWarnings(ctx context.Context, conn *sql.Conn, ex Execer) []Message {
	if e.dialect.Warnings == nil {
		return nil
	}
	msgs, err := e.dialect.Warnings.Warnings(ctx, conn, ex)
	if err != nil {
		slog.DebugContext(ctx, "collect warnings failed", slog.Any("err", err))
		return nil
	}
	return msgs
}

func (e *Engine) splitter() Splitter {
	if e.dialect.Splitter != nil {
		return e.dialect.Splitter
	}
	return sqlsplit.Default
}

func (e *Engine) values() ValueProcessor {
	if e.dialect.Values != nil {
		return e.dialect.Values
	}
	return valueconv.Default{}
}

func (e *Engine) isQuery(stmt string) bool {
	kw := sqlsplit.FirstKeyword(stmt)
	if queryKeywords[kw] || e.queries[kw] {
		return true
	}
	return returningPattern.MatchString(sqlsplit.Default.Strip(stmt))
}

func target(req Request) string {
	if req.Schema == "" {
		return req.Database
	}
	if req.Database == "" {
		return req.Schema
	}
	return req.Database + "." + req.Schema
}
