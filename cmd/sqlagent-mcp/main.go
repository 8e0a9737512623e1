package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shakram02/go-sql-agent/internal/config"
	"github.com/shakram02/go-sql-agent/internal/driverfile"
	"github.com/shakram02/go-sql-agent/internal/mcp"
	"github.com/shakram02/go-sql-agent/internal/pkg/logctx"
	"github.com/shakram02/go-sql-agent/internal/plugin"
	"github.com/shakram02/go-sql-agent/internal/plugins"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to a YAML config file (optional, MCP_* variables override it)")
	logLevelFlag := flag.String("log-level", "", "Log level: debug|info|warn|error (overrides MCP_LOG_LEVEL)")
	readWrite := flag.Bool("read-write", false, "Allow statements that modify data")
	listPlugins := flag.Bool("list-plugins", false, "Print the bundled plugins and exit")
	flag.Parse()

	registry, err := plugins.NewRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "register plugins: %v\n", err)
		return 1
	}
	if *listPlugins {
		for _, p := range registry.Plugins() {
			info := p.Info()
			fmt.Printf("%-14s %-8s %-11s versions %s-%s\n", info.ID, info.Version, info.EngineType, info.MinVersion, info.MaxVersion)
		}
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	if *logLevelFlag != "" {
		cfg.LogLevel = *logLevelFlag
	}
	if *readWrite {
		cfg.ReadOnly = false
	}

	// stdout carries the protocol, so logs go to stderr.
	level := logctx.ParseLevel(cfg.LogLevel, slog.LevelInfo)
	slog.SetDefault(logctx.WrapLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logctx.WithField(ctx, "engine", cfg.DB.Engine)

	catalog, err := cfg.Catalog()
	if err != nil {
		slog.ErrorContext(ctx, "load driver catalog", slog.Any("err", err))
		return 1
	}
	resolver := driverfile.NewResolver(driverfile.NewManager(cfg.Driver.Dir, cfg.Driver.Repository))

	connCfg := cfg.ConnectionConfig()
	if cfg.Driver.Resolve {
		connCfg.DriverPath = resolveDriver(ctx, resolver, catalog, cfg.DB.Engine)
	}

	var connectOpts []plugin.ConnectOption
	if cfg.ReadOnly {
		connectOpts = append(connectOpts, plugin.ReadOnly())
	}
	p, db, err := registry.Connect(ctx, cfg.DB.Engine, connCfg, connectOpts...)
	if err != nil {
		slog.ErrorContext(ctx, "connect failed", slog.Any("err", err))
		return 1
	}

	server := mcp.NewServer(p, db, mcp.Options{
		ReadOnly:     cfg.ReadOnly,
		MaxRows:      cfg.MaxRows,
		QueryTimeout: cfg.QueryTimeout,
		Schema:       cfg.DB.Schema,
		Drivers:      resolver,
		Catalog:      catalog,
	})
	defer server.Close()

	slog.InfoContext(ctx, "sql agent MCP server started",
		slog.String("plugin", p.Info().ID),
		slog.Bool("read_only", cfg.ReadOnly),
		slog.Int("max_rows", cfg.MaxRows),
	)

	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.InfoContext(ctx, "server shutdown gracefully")
			return 0
		}
		slog.ErrorContext(ctx, "server error", slog.Any("err", err))
		return 1
	}
	return 0
}

// resolveDriver fetches the engine's driver artifact into the local cache. Failures are
// logged and leave DriverPath empty; the bundled Go drivers do not need it to connect.
func resolveDriver(ctx context.Context, r *driverfile.Resolver, c driverfile.Catalog, engine string) string {
	coords, ok := c.Lookup(engine)
	if !ok {
		slog.WarnContext(ctx, "no driver artifact in catalog", slog.String("engine", engine))
		return ""
	}
	path, err := r.Resolve(ctx, engine, coords)
	if err != nil {
		slog.WarnContext(ctx, "driver artifact download failed", slog.String("driver", coords.String()), slog.Any("err", err))
		return ""
	}
	return path
}
