package plugin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/shakram02/go-sql-agent/internal/version"
)

// Registry holds every registered plugin for the lifetime of the process.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	byID    map[string]Plugin
}

// NewRegistry registers plugins in order and fails on the first invalid one.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{byID: make(map[string]Plugin)}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates p's descriptor and adds it. Every declared capability must be
// implemented by p.
func (r *Registry) Register(p Plugin) error {
	info := p.Info()

	var missing []string
	if info.ID == "" {
		missing = append(missing, "id")
	}
	if info.EngineType == "" {
		missing = append(missing, "engine type")
	}
	if info.Version == "" {
		missing = append(missing, "version")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w %q: missing required fields: %v", ErrInvalidPlugin, info.ID, missing)
	}
	for _, c := range info.Capabilities {
		if !implements(p, c) {
			return fmt.Errorf("%w %q: declares capability %q but does not implement it", ErrInvalidPlugin, info.ID, c)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[info.ID]; exists {
		return fmt.Errorf("%w %q: already registered", ErrInvalidPlugin, info.ID)
	}
	r.byID[info.ID] = p
	r.plugins = append(r.plugins, p)
	return nil
}

// Get returns the plugin with the given id, or nil.
func (r *Registry) Get(id string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// Plugins returns every registered plugin in registration order.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.plugins)
}

// Ranked returns the plugins for engine, newest declared version first.
func (r *Registry) Ranked(engine string) []Plugin {
	r.mu.RLock()
	var out []Plugin
	for _, p := range r.plugins {
		if strings.EqualFold(p.Info().EngineType, engine) {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Plugin) int {
		if c := version.Compare(b.Info().Version, a.Info().Version); c != 0 {
			return c
		}
		return strings.Compare(a.Info().ID, b.Info().ID)
	})
	return out
}

// Select picks the plugin for engine. Without an observed server version the newest
// plugin wins. Otherwise the newest plugin whose range contains the version wins, and
// when none does the newest plugin is returned anyway with a logged warning.
func (r *Registry) Select(ctx context.Context, engine, observed string) (Plugin, error) {
	ranked := r.Ranked(engine)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w for engine %q", ErrNotFound, engine)
	}
	if strings.TrimSpace(observed) == "" {
		return ranked[0], nil
	}

	v := version.Normalize(observed)
	if v == "" {
		v = observed
	}
	for _, p := range ranked {
		info := p.Info()
		if version.InRange(v, info.MinVersion, info.MaxVersion) {
			return p, nil
		}
	}

	slog.WarnContext(ctx, "no plugin version range matches server, using newest plugin",
		slog.String("engine", engine),
		slog.String("server_version", observed),
		slog.String("plugin", ranked[0].Info().ID),
	)
	return ranked[0], nil
}

// WithCapability returns the plugins declaring c, ranked like Ranked. An empty engine
// matches every engine.
func (r *Registry) WithCapability(engine string, c Capability) []Plugin {
	var candidates []Plugin
	if engine == "" {
		candidates = r.Plugins()
		slices.SortStableFunc(candidates, func(a, b Plugin) int {
			if byEngine := strings.Compare(a.Info().EngineType, b.Info().EngineType); byEngine != 0 {
				return byEngine
			}
			return version.Compare(b.Info().Version, a.Info().Version)
		})
	} else {
		candidates = r.Ranked(engine)
	}

	var out []Plugin
	for _, p := range candidates {
		if Has(p, c) {
			out = append(out, p)
		}
	}
	return out
}

// ConnectionProvider resolves engineOrID, first as a plugin id and then as an engine
// type, to a plugin declaring CapConnection. It never returns a nil provider without an
// ErrNotFound error.
func (r *Registry) ConnectionProvider(ctx context.Context, engineOrID string) (ConnectionProvider, Plugin, error) {
	if p := r.Get(engineOrID); p != nil {
		if Has(p, CapConnection) {
			return p.(ConnectionProvider), p, nil
		}
		return nil, nil, fmt.Errorf("%w: plugin %q does not implement %s", ErrNotFound, engineOrID, CapConnection)
	}

	providers := r.WithCapability(engineOrID, CapConnection)
	if len(providers) == 0 {
		return nil, nil, fmt.Errorf("%w: no %s plugin for %q", ErrNotFound, CapConnection, engineOrID)
	}
	p, err := r.Select(ctx, engineOrID, "")
	if err != nil || !Has(p, CapConnection) {
		p = providers[0]
	}
	return p.(ConnectionProvider), p, nil
}

// ConnectOption adjusts Registry.Connect.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	readOnly bool
}

// ReadOnly restricts Connect to plugins with a ReadOnlyGuard and opens every
// connection with that plugin's ReadOnlyConfig.
func ReadOnly() ConnectOption {
	return func(o *connectOptions) { o.readOnly = true }
}

// Connect opens a connection for engine with the first plugin able to do so, then
// reads the server version and switches to the plugin selected for that version.
func (r *Registry) Connect(ctx context.Context, engine string, cfg ConnectionConfig, opts ...ConnectOption) (Plugin, *sql.DB, error) {
	var o connectOptions
	for _, opt := range opts {
		opt(&o)
	}
	usable := func(p Plugin) bool {
		return Has(p, CapConnection) && (!o.readOnly || Has(p, CapReadOnlyGuard))
	}
	open := func(p Plugin) (*sql.DB, error) {
		c := cfg
		if o.readOnly {
			c = p.(ReadOnlyGuard).ReadOnlyConfig(cfg)
		}
		return p.(ConnectionProvider).Open(ctx, c)
	}

	var candidates []Plugin
	for _, p := range r.WithCapability(engine, CapConnection) {
		if usable(p) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("%w: no %s plugin for %q", ErrNotFound, CapConnection, engine)
	}

	type opened struct {
		plugin Plugin
		db     *sql.DB
	}
	first, err := FirstSuccess(candidates, func(p Plugin) (opened, error) {
		db, err := open(p)
		return opened{plugin: p, db: db}, err
	})
	if err != nil {
		return nil, nil, err
	}

	info, err := first.plugin.(ConnectionProvider).ProductInfo(ctx, first.db)
	if err != nil {
		slog.WarnContext(ctx, "read server version failed", slog.String("plugin", first.plugin.Info().ID), slog.Any("err", err))
		return first.plugin, first.db, nil
	}
	best, err := r.Select(ctx, engine, info.Version)
	if err != nil || best.Info().ID == first.plugin.Info().ID || !usable(best) {
		return first.plugin, first.db, nil
	}

	db, err := open(best)
	if err != nil {
		slog.WarnContext(ctx, "version-matched plugin could not connect, keeping first plugin",
			slog.String("plugin", best.Info().ID), slog.Any("err", err))
		return first.plugin, first.db, nil
	}
	if err := first.plugin.(ConnectionProvider).Close(first.db); err != nil {
		slog.WarnContext(ctx, "close discovery connection failed", slog.Any("err", err))
	}
	slog.InfoContext(ctx, "plugin selected",
		slog.String("plugin", best.Info().ID),
		slog.String("server", info.DBMSInfo()),
	)
	return best, db, nil
}

// FirstSuccess calls try on each candidate in order and returns the first result that
// does not fail. When every candidate fails the errors are joined.
func FirstSuccess[T, R any](candidates []T, try func(T) (R, error)) (R, error) {
	var zero R
	if len(candidates) == 0 {
		return zero, ErrNotFound
	}
	var errs []error
	for _, c := range candidates {
		r, err := try(c)
		if err == nil {
			return r, nil
		}
		errs = append(errs, err)
	}
	return zero, errors.Join(errs...)
}
