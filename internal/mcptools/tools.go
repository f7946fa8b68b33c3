// Package mcptools exposes the dispatcher's methods as MCP tools over stdio.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nldbquery/nldbquery/internal/dispatch"
)

// Caller runs one dispatcher method.
type Caller interface {
	Call(ctx context.Context, name string, params map[string]any) (any, *dispatch.Error)
}

// NewServer registers every tool against caller.
func NewServer(caller Caller, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := server.NewMCPServer(dispatch.ServerName, dispatch.ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	Register(s, caller, logger)
	return s
}

func Register(s *server.MCPServer, caller Caller, logger *slog.Logger) {
	database := mcp.WithString("database", mcp.Description("Data source name; defaults to the primary source"))
	sql := mcp.WithString("sql_query", mcp.Required(), mcp.Description("A single read-only SELECT or WITH statement"))

	s.AddTool(mcp.NewTool("ask_database",
		mcp.WithDescription("Answer a natural language question by generating, validating and running SQL"),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question to answer")),
		database,
		mcp.WithBoolean("execute", mcp.Description("Run the generated SQL (default true)")),
		mcp.WithBoolean("format_results", mcp.Description("Include a narrative summary (default true)")),
	), delegate(caller, logger, dispatch.MethodQuery, "question", "database", "execute", "format_results"))

	s.AddTool(mcp.NewTool("list_tables",
		mcp.WithDescription("List tables with their column counts and primary keys"),
		database,
	), delegate(caller, logger, dispatch.MethodSchemaTables, "database"))

	s.AddTool(mcp.NewTool("list_relationships",
		mcp.WithDescription("List foreign-key relationships between tables"),
		database,
	), delegate(caller, logger, dispatch.MethodSchemaRelationships, "database"))

	s.AddTool(mcp.NewTool("validate_sql",
		mcp.WithDescription("Check SQL against the read-only safety rules without running it"),
		sql,
	), delegate(caller, logger, dispatch.MethodValidateQuery, "sql_query"))

	s.AddTool(mcp.NewTool("explain_sql",
		mcp.WithDescription("Show the data source's execution plan for read-only SQL"),
		sql,
		database,
	), delegate(caller, logger, dispatch.MethodExplainQuery, "sql_query", "database"))

	s.AddTool(mcp.NewTool("execute_sql",
		mcp.WithDescription("Run read-only SQL and return the rows"),
		sql,
		database,
		mcp.WithBoolean("format", mcp.Description("Include a narrative summary (default false)")),
	), delegate(caller, logger, dispatch.MethodExecuteQuery, "sql_query", "database", "format"))

	s.AddTool(mcp.NewTool("system_metrics",
		mcp.WithDescription("Report query counts, success rate and average timings"),
	), delegate(caller, logger, dispatch.MethodSystemMetrics))
}

// delegate forwards the named arguments to method and returns its payload as
// JSON text. Dispatcher errors become tool errors, not protocol errors.
func delegate(caller Caller, logger *slog.Logger, method string, keys ...string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		params := make(map[string]any, len(keys))
		for _, key := range keys {
			if value, ok := args[key]; ok {
				params[key] = value
			}
		}

		result, rpcErr := caller.Call(ctx, method, params)
		if rpcErr != nil {
			logger.WarnContext(ctx, "tool call failed",
				slog.String("tool", req.Params.Name),
				slog.Int("code", rpcErr.Code),
				slog.String("error", rpcErr.Message),
			)
			return mcp.NewToolResultError(rpcErr.Message), nil
		}
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal %s result: %w", method, err)
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}
