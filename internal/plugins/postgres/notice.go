package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/shakram02/go-sql-agent/internal/execute"
)

const (
	// maxNoticeConns bounds how many connections may hold undrained notices. Reaching
	// it drops the stale ones, left behind by statements the engine never drained.
	maxNoticeConns = 64
	maxNotices     = 100
)

// noticeLog buffers NOTICE and WARNING messages per connection until Warnings drains
// them after a statement. Keys are the driver-level connection.
type noticeLog struct {
	mu      sync.Mutex
	pending map[any][]execute.Message
}

func newNoticeLog() *noticeLog {
	return &noticeLog{pending: make(map[any][]execute.Message)}
}

func (l *noticeLog) add(key any, msg execute.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs, ok := l.pending[key]
	if !ok && len(l.pending) >= maxNoticeConns {
		clear(l.pending)
	}
	if len(msgs) >= maxNotices {
		return
	}
	l.pending[key] = append(msgs, msg)
}

func (l *noticeLog) drain(key any) []execute.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := l.pending[key]
	delete(l.pending, key)
	return msgs
}

// Warnings returns the notices the server sent on conn since the previous call.
func (p *Plugin) Warnings(ctx context.Context, conn *sql.Conn, _ execute.Execer) ([]execute.Message, error) {
	var msgs []execute.Message
	err := conn.Raw(func(dc any) error {
		if key := p.noticeKey(dc); key != nil {
			msgs = p.notices.drain(key)
		}
		return nil
	})
	return msgs, err
}

func noticeMessage(severity, code, message, detail, hint string) execute.Message {
	parts := []string{severity}
	if detail != "" {
		parts = append(parts, "DETAIL: "+detail)
	}
	if hint != "" {
		parts = append(parts, "HINT: "+hint)
	}
	return execute.Message{
		Level:   execute.LevelWarn,
		State:   code,
		Message: message,
		Detail:  strings.Join(parts, "\n"),
	}
}

func pgxNotice(n *pgconn.Notice) execute.Message {
	return noticeMessage(n.Severity, n.Code, n.Message, n.Detail, n.Hint)
}

func pqNotice(e *pq.Error) execute.Message {
	return noticeMessage(e.Severity, string(e.Code), e.Message, e.Detail, e.Hint)
}

// pgxConfig parses dsn and routes every connection's notices into log, keyed by
// its *pgconn.PgConn.
func pgxConfig(dsn string, log *noticeLog) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.OnNotice = func(pc *pgconn.PgConn, n *pgconn.Notice) {
		log.add(pc, pgxNotice(n))
	}
	return cfg, nil
}

func pgxConnector(dsn string, log *noticeLog) (driver.Connector, error) {
	cfg, err := pgxConfig(dsn, log)
	if err != nil {
		return nil, err
	}
	return stdlib.GetConnector(*cfg), nil
}

func pgxNoticeKey(dc any) any {
	if c, ok := dc.(*stdlib.Conn); ok {
		return c.Conn().PgConn()
	}
	return nil
}

// pqNoticeConnector works like pq.ConnectorWithNoticeHandler, except that each
// connection gets its own handler so notices stay attributed to the connection that
// received them.
type pqNoticeConnector struct {
	driver.Connector
	log *noticeLog
}

func (c *pqNoticeConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	pq.SetNoticeHandler(conn, func(e *pq.Error) {
		c.log.add(conn, pqNotice(e))
	})
	return conn, nil
}

func pqConnector(dsn string, log *noticeLog) (driver.Connector, error) {
	c, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	return &pqNoticeConnector{Connector: c, log: log}, nil
}

func pqNoticeKey(dc any) any {
	return dc
}
