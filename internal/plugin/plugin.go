// Package plugin defines database plugins: a descriptor, the optional capabilities a
// plugin may implement, and the registry that selects a plugin for an engine and server
// version.
package plugin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shakram02/go-sql-agent/internal/execute"
)

var (
	// ErrNotFound means no plugin matched the lookup.
	ErrNotFound = errors.New("no plugin available")
	// ErrNotSupported means the plugin does not implement an optional operation.
	ErrNotSupported = errors.New("operation not supported")
	// ErrInvalidPlugin is returned when a plugin's descriptor is unusable.
	ErrInvalidPlugin = errors.New("invalid plugin")
	// ErrObjectNotFound means a named database object does not exist.
	ErrObjectNotFound = errors.New("object not found")
)

// Capability tags an optional behavior contract.
type Capability string

const (
	CapConnection     Capability = "connection"
	CapDatabase       Capability = "database"
	CapTable          Capability = "table"
	CapView           Capability = "view"
	CapSQLSplitter    Capability = "sql_splitter"
	CapValueProcessor Capability = "value_processor"
	CapErrorDecoder   Capability = "error_decoder"
	CapWarnings       Capability = "warnings"
	CapContextSwitch  Capability = "context_switch"
	CapReadOnlyGuard  Capability = "read_only_guard"
)

// Info is the static descriptor every plugin declares.
type Info struct {
	ID      string
	Name    string
	Version string
	Vendor  string
	Website string

	// EngineType is the database engine the plugin targets, e.g. "mysql".
	EngineType string
	// MinVersion and MaxVersion bound the supported server versions. Empty is unbounded.
	MinVersion string
	MaxVersion string

	// DriverName is the database/sql driver the plugin opens connections with.
	DriverName  string
	DefaultPort int
	URLTemplate string

	// Capabilities lists every capability the plugin implements.
	Capabilities []Capability
}

// Plugin is implemented by every database plugin. Everything else is optional and
// discovered through the declared capabilities.
type Plugin interface {
	Info() Info
}

// ConnectionConfig is the generic connection configuration handed to plugins.
type ConnectionConfig struct {
	Host           string
	Port           int
	Database       string
	Schema         string
	Username       string
	Password       string
	Properties     map[string]string
	DriverPath     string
	TimeoutSeconds int
}

// ProductInfo describes the server and driver behind an open connection.
type ProductInfo struct {
	Name          string
	Version       string
	DriverName    string
	DriverVersion string
}

// DBMSInfo formats the product as "Name Version".
func (p ProductInfo) DBMSInfo() string {
	return fmt.Sprintf("%s %s", p.Name, p.Version)
}

// DriverInfo formats the driver as "Name Version".
func (p ProductInfo) DriverInfo() string {
	if p.DriverVersion == "" {
		return p.DriverName
	}
	return fmt.Sprintf("%s %s", p.DriverName, p.DriverVersion)
}

// ConnectionProvider opens and inspects connections.
type ConnectionProvider interface {
	Open(ctx context.Context, cfg ConnectionConfig) (*sql.DB, error)
	Test(ctx context.Context, cfg ConnectionConfig) error
	Close(db *sql.DB) error
	ProductInfo(ctx context.Context, db *sql.DB) (ProductInfo, error)
}

// DatabaseOptions are the optional attributes of CREATE DATABASE.
type DatabaseOptions struct {
	CharacterSet string
	Collation    string
}

// DatabaseProvider manages databases (catalogs). Optional operations return
// ErrNotSupported; embed UnsupportedDatabaseOps to get that behavior by default.
type DatabaseProvider interface {
	ListDatabases(ctx context.Context, db *sql.DB) ([]string, error)
	DropDatabase(ctx context.Context, db *sql.DB, name string) error
	CreateDatabase(ctx context.Context, db *sql.DB, name string, opts DatabaseOptions) error
	DatabaseExists(ctx context.Context, db *sql.DB, name string) (bool, error)
	ExportDatabaseDDL(ctx context.Context, db *sql.DB, database, schema string) (string, error)
	ExportTableDDL(ctx context.Context, db *sql.DB, database, schema, table string) (string, error)
	ImportScript(ctx context.Context, db *sql.DB, database, script string) (*execute.Result, error)
	CharacterSets(ctx context.Context, db *sql.DB) ([]string, error)
	Collations(ctx context.Context, db *sql.DB, charset string) ([]string, error)
}

// TableProvider lists tables and returns their DDL.
type TableProvider interface {
	ListTables(ctx context.Context, db *sql.DB, catalog, schema string) ([]string, error)
	TableDDL(ctx context.Context, db *sql.DB, catalog, schema, table string) (string, error)
}

// ViewProvider lists views and returns their DDL.
type ViewProvider interface {
	ListViews(ctx context.Context, db *sql.DB, catalog, schema string) ([]string, error)
	ViewDDL(ctx context.Context, db *sql.DB, catalog, schema, view string) (string, error)
}

// SQLSplitter splits a multi-statement script the way the engine's clients do.
type SQLSplitter interface {
	Split(sql string) []string
}

// ValueProcessor converts raw column values for the engine.
type ValueProcessor interface {
	Convert(typeName string, raw any) any
}

// ErrorDecoder extracts error code and state from driver errors.
type ErrorDecoder interface {
	DecodeError(err error) (code int, state string, ok bool)
}

// WarningCollector reads server warnings after a statement run on ex, which is conn or
// a transaction open on it.
type WarningCollector interface {
	Warnings(ctx context.Context, conn *sql.Conn, ex execute.Execer) ([]execute.Message, error)
}

// ContextSwitcher changes the current database or schema of a connection and returns
// how to change it back before the connection is reused.
type ContextSwitcher interface {
	SwitchContext(ctx context.Context, ex execute.Execer, database, schema string) (execute.RestoreFunc, error)
}

// QueryClassifier lists leading keywords of engine statements that return result sets
// on top of the engine defaults (SELECT, WITH, SHOW and so on). It is optional and
// needs no capability tag.
type QueryClassifier interface {
	QueryKeywords() []string
}

// ReadOnlyGuard rejects SQL that could modify data. ReadOnlyConfig returns cfg with the
// driver properties that make every session read-only added to a copy of its property
// bag.
type ReadOnlyGuard interface {
	ValidateReadOnly(sql string) error
	ReadOnlyConfig(cfg ConnectionConfig) ConnectionConfig
}

// implements reports whether p satisfies the interface behind c.
func implements(p Plugin, c Capability) bool {
	var ok bool
	switch c {
	case CapConnection:
		_, ok = p.(ConnectionProvider)
	case CapDatabase:
		_, ok = p.(DatabaseProvider)
	case CapTable:
		_, ok = p.(TableProvider)
	case CapView:
		_, ok = p.(ViewProvider)
	case CapSQLSplitter:
		_, ok = p.(SQLSplitter)
	case CapValueProcessor:
		_, ok = p.(ValueProcessor)
	case CapErrorDecoder:
		_, ok = p.(ErrorDecoder)
	case CapWarnings:
		_, ok = p.(WarningCollector)
	case CapContextSwitch:
		_, ok = p.(ContextSwitcher)
	case CapReadOnlyGuard:
		_, ok = p.(ReadOnlyGuard)
	}
	return ok
}

// Has reports whether p declares capability c.
func Has(p Plugin, c Capability) bool {
	for _, declared := range p.Info().Capabilities {
		if declared == c {
			return true
		}
	}
	return false
}

// Dialect assembles the execution-engine collaborators p declares.
func Dialect(p Plugin) execute.Dialect {
	d := execute.Dialect{Name: p.Info().ID}
	if Has(p, CapSQLSplitter) {
		d.Splitter = p.(SQLSplitter)
	}
	if Has(p, CapValueProcessor) {
		d.Values = p.(ValueProcessor)
	}
	if Has(p, CapErrorDecoder) {
		d.Errors = p.(ErrorDecoder)
	}
	if Has(p, CapWarnings) {
		d.Warnings = p.(WarningCollector)
	}
	if Has(p, CapContextSwitch) {
		d.Switcher = p.(ContextSwitcher)
	}
	if qc, ok := p.(QueryClassifier); ok {
		d.QueryKeywords = qc.QueryKeywords()
	}
	return d
}

// ConnectionError wraps a connectivity failure and keeps the driver's message.
type ConnectionError struct {
	PluginID string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.PluginID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WithProperties returns a copy of cfg whose property bag also holds props, which
// replace caller values with the same key.
func WithProperties(cfg ConnectionConfig, props map[string]string) ConnectionConfig {
	merged := make(map[string]string, len(cfg.Properties)+len(props))
	for k, v := range cfg.Properties {
		merged[k] = v
	}
	for k, v := range props {
		merged[k] = v
	}
	cfg.Properties = merged
	return cfg
}
