package execute

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newConn(t *testing.T) *sql.Conn {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.ExecContext(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)
	return conn
}

func countUsers(t *testing.T, conn *sql.Conn) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM users`).Scan(&n))
	return n
}

func TestRun_TransactionRollsBackEverything(t *testing.T) {
	conn := newConn(t)
	engine := New(Dialect{Name: "sqlite"})

	res := engine.Run(context.Background(), conn, Request{
		SQL:              "INSERT INTO users (id, name) VALUES (1, 'a'); INSERT INTO users (id, name) VALUES (1, 'dup')",
		NeedsTransaction: true,
	})

	require.False(t, res.Success)
	require.Len(t, res.Errors(), 1)
	assert.Contains(t, res.Errors()[0].Message, "UNIQUE")
	require.Len(t, res.SubResults, 2)
	assert.True(t, res.SubResults[0].Success)
	assert.False(t, res.SubResults[1].Success)
	assert.Len(t, res.SubResults[1].Messages, 1)
	assert.Equal(t, 0, countUsers(t, conn))
	assert.Error(t, res.Err())

	// The connection is back in auto-commit mode and usable for the next request.
	res = engine.Run(context.Background(), conn, Request{SQL: "INSERT INTO users (id, name) VALUES (2, 'b')"})
	require.True(t, res.Success)
	assert.Equal(t, 1, countUsers(t, conn))
}

func TestRun_TransactionCommits(t *testing.T) {
	conn := newConn(t)

	res := New(Dialect{}).Run(context.Background(), conn, Request{
		SQL:              "INSERT INTO users (id, name) VALUES (1, 'a'); INSERT INTO users (id, name) VALUES (2, 'b');",
		NeedsTransaction: true,
	})

	require.True(t, res.Success, res.Messages)
	assert.NoError(t, res.Err())
	assert.Equal(t, 2, countUsers(t, conn))
}

func TestRun_EmptySelect(t *testing.T) {
	conn := newConn(t)

	res := New(Dialect{}).Run(context.Background(), conn, Request{SQL: "SELECT id, name FROM users WHERE id < 0"})

	require.True(t, res.Success)
	assert.True(t, res.Query)
	require.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
	require.Len(t, res.Columns, 2)
	assert.Equal(t, "id", res.Columns[0].Name)
	assert.Equal(t, "name", res.Columns[1].Name)
	assert.Empty(t, res.Errors())
}

func TestRun_MultipleStatementsMirrorFirst(t *testing.T) {
	conn := newConn(t)

	res := New(Dialect{}).Run(context.Background(), conn, Request{
		SQL: "INSERT INTO users (id, name) VALUES (1, 'a'), (2, 'b'); SELECT name FROM users ORDER BY id",
	})

	require.True(t, res.Success)
	require.Len(t, res.SubResults, 2)
	assert.False(t, res.Query)
	assert.Equal(t, int64(2), res.AffectedRows)
	assert.Equal(t, 0, res.SubResults[0].Index)
	assert.Equal(t, 1, res.SubResults[1].Index)
	assert.Equal(t, [][]any{{"a"}, {"b"}}, res.SubResults[1].Rows)
	assert.NotEmpty(t, res.ID)
	assert.False(t, res.EndedAt.Before(res.StartedAt))
}

func TestRun_NonTransactionalFailureStops(t *testing.T) {
	conn := newConn(t)

	res := New(Dialect{}).Run(context.Background(), conn, Request{
		SQL: "INSERT INTO users (id, name) VALUES (1, 'a'); INSERT INTO missing VALUES (1); INSERT INTO users (id, name) VALUES (2, 'b')",
	})

	require.False(t, res.Success)
	assert.Len(t, res.SubResults, 2)
	assert.Len(t, res.Errors(), 1)
	assert.Equal(t, 1, countUsers(t, conn))
}

func TestRun_Truncation(t *testing.T) {
	conn := newConn(t)
	_, err := conn.ExecContext(context.Background(), "INSERT INTO users (id, name) VALUES (1, 'a'), (2, 'b'), (3, 'c')")
	require.NoError(t, err)

	res := New(Dialect{}, WithMaxRows(2)).Run(context.Background(), conn, Request{SQL: "SELECT id FROM users ORDER BY id"})

	require.True(t, res.Success)
	assert.Len(t, res.Rows, 2)
	assert.True(t, res.Truncated)
}

func TestRun_ValueNormalization(t *testing.T) {
	conn := newConn(t)

	res := New(Dialect{}).Run(context.Background(), conn, Request{SQL: "SELECT NULL AS n, '' AS e, x'00ff' AS b, 1.5 AS f"})

	require.True(t, res.Success)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []any{nil, "", "0x00ff", 1.5}, res.Rows[0])
}

func TestRun_Returning(t *testing.T) {
	conn := newConn(t)

	res := New(Dialect{}).Run(context.Background(), conn, Request{SQL: "INSERT INTO users (id, name) VALUES (5, 'z') RETURNING id"})

	require.True(t, res.Success, res.Messages)
	assert.True(t, res.Query)
	assert.Equal(t, [][]any{{int64(5)}}, res.Rows)
}

func TestRun_EmptyRequest(t *testing.T) {
	conn := newConn(t)

	res := New(Dialect{}).Run(context.Background(), conn, Request{SQL: "  -- nothing here\n"})

	assert.False(t, res.Success)
	assert.Len(t, res.Errors(), 1)
	assert.Empty(t, res.SubResults)
}

func TestRun_OriginalSQLFallback(t *testing.T) {
	conn := newConn(t)

	res := New(Dialect{}).Run(context.Background(), conn, Request{OriginalSQL: "SELECT 1"})

	require.True(t, res.Success)
	assert.Equal(t, "SELECT 1", res.SQL)
}

type fixedDecoder struct{}

func (fixedDecoder) DecodeError(err error) (int, string, bool) { return 1146, "42S02", true }

func TestRun_ErrorDecoder(t *testing.T) {
	conn := newConn(t)

	res := New(Dialect{Errors: fixedDecoder{}}).Run(context.Background(), conn, Request{SQL: "SELECT * FROM missing"})

	require.False(t, res.Success)
	msg := res.Errors()[0]
	assert.Equal(t, 1146, msg.Code)
	assert.Equal(t, "42S02", msg.State)
	assert.Contains(t, msg.Message, "no such table")
	assert.NotEmpty(t, msg.Detail)
}

type recordingSwitcher struct {
	database, schema string
	err              error
	restoreErr       error
	restored         []Execer
}

func (s *recordingSwitcher) SwitchContext(ctx context.Context, ex Execer, database, schema string) (RestoreFunc, error) {
	s.database, s.schema = database, schema
	if s.err != nil {
		return nil, s.err
	}
	return func(ctx context.Context, ex Execer) error {
		s.restored = append(s.restored, ex)
		return s.restoreErr
	}, nil
}

func TestRun_SwitchContext(t *testing.T) {
	conn := newConn(t)
	sw := &recordingSwitcher{}

	res := New(Dialect{Switcher: sw}).Run(context.Background(), conn, Request{SQL: "SELECT 1", Database: "main", Schema: "s"})
	require.True(t, res.Success)
	assert.Equal(t, "main", sw.database)
	assert.Equal(t, "s", sw.schema)

	sw.err = errors.New("unknown database")
	res = New(Dialect{Switcher: sw}).Run(context.Background(), conn, Request{SQL: "SELECT 1", Database: "nope", NeedsTransaction: true})
	require.False(t, res.Success)
	assert.Contains(t, res.Errors()[0].Message, "switch to nope")
	assert.Len(t, sw.restored, 1, "a failed switch has nothing to restore")
}

func TestRun_RestoresContextOnConnection(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"plain", Request{SQL: "SELECT 1", Database: "other"}},
		{"transaction", Request{SQL: "INSERT INTO users (id, name) VALUES (1, 'a')", Schema: "s", NeedsTransaction: true}},
		{"failed statement", Request{SQL: "SELECT * FROM missing", Database: "other", NeedsTransaction: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conn := newConn(t)
			sw := &recordingSwitcher{}

			New(Dialect{Switcher: sw}).Run(context.Background(), conn, tc.req)

			require.Len(t, sw.restored, 1)
			assert.Same(t, conn, sw.restored[0])
		})
	}

	// No switch requested, nothing to restore.
	conn := newConn(t)
	sw := &recordingSwitcher{}
	New(Dialect{Switcher: sw}).Run(context.Background(), conn, Request{SQL: "SELECT 1"})
	assert.Empty(t, sw.restored)
}

func TestRun_UnrestorableConnectionIsDiscarded(t *testing.T) {
	conn := newConn(t)
	sw := &recordingSwitcher{restoreErr: errors.New("no default database")}

	res := New(Dialect{Switcher: sw}).Run(context.Background(), conn, Request{SQL: "SELECT 1", Database: "other"})

	require.True(t, res.Success)
	require.Len(t, sw.restored, 1)
	assert.ErrorIs(t, conn.PingContext(context.Background()), sql.ErrConnDone)
}

type staticWarnings struct{}

func (staticWarnings) Warnings(ctx context.Context, conn *sql.Conn, ex Execer) ([]Message, error) {
	return []Message{{Level: LevelWarn, Code: 1265, Message: "Data truncated"}}, nil
}

func TestRun_Warnings(t *testing.T) {
	conn := newConn(t)

	res := New(Dialect{Warnings: staticWarnings{}}).Run(context.Background(), conn, Request{SQL: "SELECT 1; SELECT 2"})

	require.True(t, res.Success)
	assert.Len(t, res.Messages, 2)
	assert.Len(t, res.SubResults[0].Messages, 1)
	assert.Equal(t, LevelWarn, res.Messages[0].Level)
	assert.Empty(t, res.Errors())
}

type upperValues struct{}

func (upperValues) Convert(typeName string, raw any) any {
	if s, ok := raw.(string); ok {
		return strings.ToUpper(s)
	}
	return raw
}

func TestRun_DialectValueProcessor(t *testing.T) {
	conn := newConn(t)

	res := New(Dialect{Values: upperValues{}}).Run(context.Background(), conn, Request{SQL: "SELECT 'abc'"})

	require.True(t, res.Success)
	assert.Equal(t, [][]any{{"ABC"}}, res.Rows)
}

func TestIsQuery(t *testing.T) {
	e := New(Dialect{})
	assert.True(t, e.isQuery("select 1"))
	assert.True(t, e.isQuery("WITH t AS (SELECT 1) SELECT * FROM t"))
	assert.True(t, e.isQuery("PRAGMA table_info('users')"))
	assert.True(t, e.isQuery("DELETE FROM users RETURNING id"))
	assert.False(t, e.isQuery("DELETE FROM users WHERE note = 'returning'"))
	assert.False(t, e.isQuery("CREATE TABLE t (id INT)"))
	assert.False(t, e.isQuery("CALL report()"))

	e = New(Dialect{QueryKeywords: []string{"call", "FETCH"}})
	assert.True(t, e.isQuery("CALL report()"))
	assert.True(t, e.isQuery("-- next page\nfetch all from cur"))
	assert.False(t, e.isQuery("CREATE TABLE t (id INT)"))
}

func TestRun_DialectQueryKeywords(t *testing.T) {
	conn := newConn(t)
	stmt := "INSERT INTO users (id, name) VALUES (1, 'a')"

	res := New(Dialect{}).Run(context.Background(), conn, Request{SQL: stmt})
	require.True(t, res.Success)
	assert.False(t, res.Query)
	assert.Equal(t, int64(1), res.AffectedRows)

	// A dialect keyword routes the statement through the result-set path.
	res = New(Dialect{QueryKeywords: []string{"INSERT"}}).Run(context.Background(), conn, Request{SQL: "INSERT INTO users (id, name) VALUES (2, 'b')"})
	require.True(t, res.Success, res.Messages)
	assert.True(t, res.Query)
	assert.Equal(t, int64(-1), res.AffectedRows)
	assert.NotNil(t, res.Rows)
	assert.Equal(t, 2, countUsers(t, conn))
}
