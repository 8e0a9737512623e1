// Package mcp exposes a connected database plugin to an agent as a Model Context
// Protocol server speaking line-delimited JSON-RPC 2.0.
package mcp

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shakram02/go-sql-agent/internal/driverfile"
	"github.com/shakram02/go-sql-agent/internal/pkg/logctx"
	"github.com/shakram02/go-sql-agent/internal/plugin"
)

// DefaultQueryTimeout bounds every tool call when Options.QueryTimeout is zero.
const DefaultQueryTimeout = 30 * time.Second

// Options configure a Server. Drivers is optional; without it the resolve_driver tool
// is not offered.
type Options struct {
	ReadOnly     bool
	MaxRows      int
	QueryTimeout time.Duration
	Schema       string
	Drivers      *driverfile.Resolver
	Catalog      driverfile.Catalog
}

// Server serves one plugin and one database handle.
type Server struct {
	plugin      plugin.Plugin
	db          *sql.DB
	opts        Options
	initialized bool
}

func NewServer(p plugin.Plugin, db *sql.DB, opts Options) *Server {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	return &Server{plugin: p, db: db, opts: opts}
}

// Serve reads one request per line from r and writes one response per line to w until
// r is exhausted or ctx is done.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read input: %w", err)
		}
		eof := err != nil

		if line = strings.TrimSpace(line); line != "" {
			if resp := s.handleMessage(ctx, []byte(line)); resp != nil {
				if err := s.write(ctx, w, resp); err != nil {
					return err
				}
			}
		}
		if eof {
			return nil
		}
	}
}

func (s *Server) write(ctx context.Context, w io.Writer, resp *Response) error {
	out, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(ctx, "marshal response failed", slog.Any("err", err))
		return nil
	}
	if _, err := fmt.Fprintln(w, string(out)); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func (s *Server) handleMessage(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &Response{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()},
		}
	}

	if req.JSONRPC != "2.0" {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: InvalidRequest, Message: "Invalid JSON-RPC version"},
		}
	}

	ctx = logctx.WithAttrs(ctx, slog.String("method", req.Method), slog.Any("request_id", req.ID))
	return s.handleRequest(ctx, &req)
}

func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	var result any
	var rerr *RPCError

	switch req.Method {
	case "initialize":
		result, rerr = s.handleInitialize(req.Params)
	case "notifications/initialized", "initialized":
		return nil
	case "tools/list":
		result = s.handleListTools()
	case "tools/call":
		result, rerr = s.handleCallTool(ctx, req.Params)
	case "resources/list":
		result, rerr = s.handleListResources(ctx)
	case "resources/read":
		result, rerr = s.handleReadResource(ctx, req.Params)
	case "ping":
		result = map[string]any{}
	default:
		rerr = &RPCError{Code: MethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)}
	}

	if rerr != nil {
		result = nil
		slog.WarnContext(ctx, "request failed", slog.Int("code", rerr.Code), slog.String("err", rerr.Message))
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rerr}
}

// Close releases the database handle through the plugin that opened it.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	if cp, ok := s.plugin.(plugin.ConnectionProvider); ok {
		return cp.Close(s.db)
	}
	return s.db.Close()
}
