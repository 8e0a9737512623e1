package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/shakram02/go-sql-agent/internal/execute"
	"github.com/shakram02/go-sql-agent/internal/plugin"
)

func (s *Server) handleInitialize(params json.RawMessage) (*InitializeResult, *RPCError) {
	var initParams InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: "Invalid initialize parameters", Data: err.Error()}
		}
	}

	s.initialized = true
	slog.Info("client initialized",
		slog.String("client", initParams.ClientInfo.Name),
		slog.String("client_version", initParams.ClientInfo.Version),
		slog.String("protocol", initParams.ProtocolVersion),
	)

	info := s.plugin.Info()
	mode := "read-write"
	if s.opts.ReadOnly {
		mode = "read-only"
	}
	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools:     &ListChanged{},
			Resources: &ListChanged{},
		},
		ServerInfo:   Implementation{Name: ServerName, Version: ServerVersion},
		Instructions: fmt.Sprintf("Connected to %s through plugin %s %s (%s).", info.Name, info.ID, info.Version, mode),
	}, nil
}

var scopeProperties = map[string]Property{
	"catalog": {Type: "string", Description: "Database (catalog) to inspect; defaults to the current one"},
	"schema":  {Type: "string", Description: "Schema to inspect; defaults to the current one"},
}

// handleListTools offers only the tools the connected plugin can serve.
func (s *Server) handleListTools() *ListToolsResult {
	execDesc := "Execute one or more SQL statements and return every result set and update count"
	if s.opts.ReadOnly {
		execDesc = "Execute a single read-only SQL query (SELECT, SHOW, DESCRIBE, EXPLAIN and similar); anything that could modify data is rejected"
	}
	tools := []Tool{
		{
			Name:        "execute_sql",
			Description: execDesc,
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"sql":         {Type: "string", Description: "The SQL to execute"},
					"database":    {Type: "string", Description: "Database to switch to before executing"},
					"schema":      {Type: "string", Description: "Schema to switch to before executing"},
					"transaction": {Type: "boolean", Description: "Run all statements in one transaction"},
				},
				Required: []string{"sql"},
			},
		},
		{
			Name:        "server_info",
			Description: "Describe the connected server, driver and plugin",
			InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}, Required: []string{}},
		},
	}

	if plugin.Has(s.plugin, plugin.CapDatabase) {
		tools = append(tools, Tool{
			Name:        "list_databases",
			Description: "List the databases visible to the connection",
			InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}, Required: []string{}},
		})
	}
	if plugin.Has(s.plugin, plugin.CapTable) {
		tools = append(tools, Tool{
			Name:        "list_tables",
			Description: "List tables",
			InputSchema: InputSchema{Type: "object", Properties: scopeProperties, Required: []string{}},
		})
	}
	if plugin.Has(s.plugin, plugin.CapView) {
		tools = append(tools, Tool{
			Name:        "list_views",
			Description: "List views",
			InputSchema: InputSchema{Type: "object", Properties: scopeProperties, Required: []string{}},
		})
	}
	if plugin.Has(s.plugin, plugin.CapTable) || plugin.Has(s.plugin, plugin.CapView) {
		props := map[string]Property{
			"name": {Type: "string", Description: "Table or view name"},
			"kind": {Type: "string", Description: "Object kind", Enum: []string{"table", "view"}},
		}
		for k, v := range scopeProperties {
			props[k] = v
		}
		tools = append(tools, Tool{
			Name:        "get_ddl",
			Description: "Return the CREATE statement of a table or view",
			InputSchema: InputSchema{Type: "object", Properties: props, Required: []string{"name"}},
		})
	}
	if s.opts.Drivers != nil {
		tools = append(tools, Tool{
			Name:        "resolve_driver",
			Description: "Download (once) and locate the driver artifact for an engine",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"engine": {Type: "string", Description: "Engine type; defaults to the connected engine"},
				},
				Required: []string{},
			},
		})
	}
	return &ListToolsResult{Tools: tools}
}

func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (*CallToolResult, *RPCError) {
	var call CallToolParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid parameters", Data: err.Error()}
	}
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	switch call.Name {
	case "execute_sql":
		return s.executeSQL(ctx, call.Arguments)
	case "server_info":
		return s.serverInfo(ctx)
	case "list_databases":
		return s.listDatabases(ctx)
	case "list_tables":
		return s.listObjects(ctx, plugin.CapTable, call.Arguments)
	case "list_views":
		return s.listObjects(ctx, plugin.CapView, call.Arguments)
	case "get_ddl":
		return s.getDDL(ctx, call.Arguments)
	case "resolve_driver":
		return s.resolveDriver(ctx, call.Arguments)
	default:
		return nil, &RPCError{Code: MethodNotFound, Message: fmt.Sprintf("Unknown tool: %s", call.Name)}
	}
}

func (s *Server) executeSQL(ctx context.Context, args map[string]any) (*CallToolResult, *RPCError) {
	sqlText, ok := args["sql"].(string)
	if !ok || strings.TrimSpace(sqlText) == "" {
		return nil, invalidParams("Missing or invalid 'sql' parameter")
	}
	database, _ := args["database"].(string)
	schema, _ := args["schema"].(string)
	tx, _ := args["transaction"].(bool)

	if s.opts.ReadOnly {
		if !plugin.Has(s.plugin, plugin.CapReadOnlyGuard) {
			return toolError("Query rejected: plugin %s cannot validate read-only SQL", s.plugin.Info().ID), nil
		}
		if err := s.plugin.(plugin.ReadOnlyGuard).ValidateReadOnly(sqlText); err != nil {
			slog.InfoContext(ctx, "query rejected", slog.Any("err", err))
			return toolError("Query rejected: %v", err), nil
		}
	}

	res, err := plugin.Exec(ctx, s.db, s.plugin, execute.Request{
		OriginalSQL:      sqlText,
		SQL:              sqlText,
		Database:         database,
		Schema:           schema,
		NeedsTransaction: tx,
	}, execute.WithMaxRows(s.opts.MaxRows))
	if err != nil {
		return toolError("Query error: %v", err), nil
	}

	out, jerr := jsonResult(res)
	if jerr != nil {
		return nil, jerr
	}
	out.IsError = !res.Success
	return out, nil
}

func (s *Server) serverInfo(ctx context.Context) (*CallToolResult, *RPCError) {
	info := s.plugin.Info()
	report := map[string]any{
		"plugin":         info.ID,
		"plugin_version": info.Version,
		"engine":         info.EngineType,
		"capabilities":   info.Capabilities,
		"read_only":      s.opts.ReadOnly,
		"max_rows":       s.opts.MaxRows,
	}
	if cp, ok := s.plugin.(plugin.ConnectionProvider); ok {
		product, err := cp.ProductInfo(ctx, s.db)
		if err != nil {
			return toolError("Failed to read server info: %v", err), nil
		}
		report["dbms"] = product.DBMSInfo()
		report["driver"] = product.DriverInfo()
	}
	return jsonResult(report)
}

func (s *Server) listDatabases(ctx context.Context) (*CallToolResult, *RPCError) {
	if !plugin.Has(s.plugin, plugin.CapDatabase) {
		return toolError("%s does not support listing databases", s.plugin.Info().ID), nil
	}
	names, err := s.plugin.(plugin.DatabaseProvider).ListDatabases(ctx, s.db)
	if err != nil {
		return toolError("Failed to list databases: %v", err), nil
	}
	return jsonResult(names)
}

func (s *Server) listObjects(ctx context.Context, c plugin.Capability, args map[string]any) (*CallToolResult, *RPCError) {
	if !plugin.Has(s.plugin, c) {
		return toolError("%s does not support %s", s.plugin.Info().ID, c), nil
	}
	catalog, _ := args["catalog"].(string)
	schema := s.schemaArg(args)

	var (
		names []string
		err   error
	)
	if c == plugin.CapView {
		names, err = s.plugin.(plugin.ViewProvider).ListViews(ctx, s.db, catalog, schema)
	} else {
		names, err = s.plugin.(plugin.TableProvider).ListTables(ctx, s.db, catalog, schema)
	}
	if err != nil {
		return toolError("Failed to list %ss: %v", c, err), nil
	}
	if names == nil {
		names = []string{}
	}
	return jsonResult(names)
}

func (s *Server) getDDL(ctx context.Context, args map[string]any) (*CallToolResult, *RPCError) {
	name, _ := args["name"].(string)
	if name == "" {
		return nil, invalidParams("Missing or invalid 'name' parameter")
	}
	kind, _ := args["kind"].(string)
	if kind == "" {
		kind = "table"
	}
	catalog, _ := args["catalog"].(string)
	schema := s.schemaArg(args)

	var (
		ddl string
		err error
	)
	switch kind {
	case "table":
		if !plugin.Has(s.plugin, plugin.CapTable) {
			return toolError("%s does not support tables", s.plugin.Info().ID), nil
		}
		ddl, err = s.plugin.(plugin.TableProvider).TableDDL(ctx, s.db, catalog, schema, name)
	case "view":
		if !plugin.Has(s.plugin, plugin.CapView) {
			return toolError("%s does not support views", s.plugin.Info().ID), nil
		}
		ddl, err = s.plugin.(plugin.ViewProvider).ViewDDL(ctx, s.db, catalog, schema, name)
	default:
		return nil, invalidParams("Invalid 'kind' parameter: must be table or view")
	}
	if err != nil {
		return toolError("Failed to get DDL: %v", err), nil
	}
	return &CallToolResult{Content: []Content{{Type: "text", Text: ddl}}}, nil
}

func (s *Server) resolveDriver(ctx context.Context, args map[string]any) (*CallToolResult, *RPCError) {
	if s.opts.Drivers == nil {
		return toolError("driver resolution is not configured"), nil
	}
	engine, _ := args["engine"].(string)
	if engine == "" {
		engine = s.plugin.Info().EngineType
	}
	coords, ok := s.opts.Catalog.Lookup(engine)
	if !ok {
		return toolError("No driver artifact known for engine %q", engine), nil
	}
	path, err := s.opts.Drivers.Resolve(ctx, engine, coords)
	if err != nil {
		return toolError("Failed to resolve driver: %v", err), nil
	}
	return jsonResult(map[string]string{
		"engine":      engine,
		"coordinates": coords.String(),
		"path":        path,
	})
}

func (s *Server) schemaArg(args map[string]any) string {
	if schema, _ := args["schema"].(string); schema != "" {
		return schema
	}
	return s.opts.Schema
}

func (s *Server) handleListResources(ctx context.Context) (*ListResourcesResult, *RPCError) {
	if !plugin.Has(s.plugin, plugin.CapTable) {
		return &ListResourcesResult{Resources: []Resource{}}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	tables, err := s.plugin.(plugin.TableProvider).ListTables(ctx, s.db, "", s.opts.Schema)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: fmt.Sprintf("Failed to list tables: %v", err)}
	}

	resources := make([]Resource, 0, len(tables))
	for _, table := range tables {
		resources = append(resources, Resource{
			URI:      s.resourceURI(s.opts.Schema, table),
			Name:     fmt.Sprintf("DDL for table '%s'", table),
			MimeType: "application/sql",
		})
	}
	return &ListResourcesResult{Resources: resources}, nil
}

// resourceURI formats <engine>://<schema>/<table>/ddl. An empty schema means the
// connection's current one.
func (s *Server) resourceURI(schema, table string) string {
	return fmt.Sprintf("%s://%s/%s/ddl", s.plugin.Info().EngineType, url.PathEscape(schema), url.PathEscape(table))
}

func (s *Server) handleReadResource(ctx context.Context, params json.RawMessage) (*ReadResourceResult, *RPCError) {
	var read ReadResourceParams
	if err := json.Unmarshal(params, &read); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid parameters", Data: err.Error()}
	}

	prefix := s.plugin.Info().EngineType + "://"
	if !strings.HasPrefix(read.URI, prefix) {
		return nil, invalidParams("Invalid resource URI: must start with " + prefix)
	}
	parts := strings.Split(strings.TrimPrefix(read.URI, prefix), "/")
	if len(parts) != 3 || parts[2] != "ddl" || parts[1] == "" {
		return nil, invalidParams("Invalid resource URI format: expected " + prefix + "schema/table/ddl")
	}
	schema, err1 := url.PathUnescape(parts[0])
	table, err2 := url.PathUnescape(parts[1])
	if err1 != nil || err2 != nil {
		return nil, invalidParams("Invalid resource URI escaping")
	}

	if !plugin.Has(s.plugin, plugin.CapTable) {
		return nil, invalidParams("Tables are not supported")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	ddl, err := s.plugin.(plugin.TableProvider).TableDDL(ctx, s.db, "", schema, table)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: fmt.Sprintf("Failed to get DDL: %v", err)}
	}
	return &ReadResourceResult{
		Contents: []ResourceContent{{URI: read.URI, MimeType: "application/sql", Text: ddl}},
	}, nil
}

func toolError(format string, args ...any) *CallToolResult {
	return &CallToolResult{
		Content: []Content{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func jsonResult(v any) (*CallToolResult, *RPCError) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: fmt.Sprintf("Failed to marshal result: %v", err)}
	}
	return &CallToolResult{Content: []Content{{Type: "text", Text: string(out)}}}, nil
}
