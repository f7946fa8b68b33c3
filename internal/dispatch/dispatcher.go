package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nldbquery/nldbquery/internal/auth"
	"github.com/nldbquery/nldbquery/internal/datasource"
	"github.com/nldbquery/nldbquery/internal/observability"
	"github.com/nldbquery/nldbquery/internal/pipeline"
	"github.com/nldbquery/nldbquery/internal/safety"
	"github.com/nldbquery/nldbquery/internal/schema"
)

const (
	ServerName      = "nldb-query-mcp"
	ServerVersion   = "0.1.0"
	ProtocolVersion = "2024-11-05"
)

// Backend is the pipeline surface the method table delegates to.
type Backend interface {
	Query(ctx context.Context, req pipeline.Request) pipeline.Outcome
	Source(name string) (datasource.Source, error)
	Schema(ctx context.Context, name string, refresh bool) (schema.Snapshot, error)
	ExplainSQL(ctx context.Context, name, sql string) (datasource.Plan, error)
	ExecuteSQL(ctx context.Context, name, sql string, format bool) (pipeline.Execution, error)
	DatabaseInfo(ctx context.Context, name string) (pipeline.DatabaseInfo, error)
	Metrics() pipeline.MetricsSnapshot
}

type handlerFunc func(ctx context.Context, params map[string]any) (any, error)

type method struct {
	role   string
	handle handlerFunc
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithAuthorization makes every method except initialize check the caller's
// role from the request context.
func WithAuthorization(enabled bool) Option {
	return func(d *Dispatcher) { d.authorize = enabled }
}

type Dispatcher struct {
	backend   Backend
	logger    *slog.Logger
	authorize bool
	methods   map[string]method
}

func New(backend Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{backend: backend, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(d)
	}
	d.methods = map[string]method{
		MethodInitialize:          {handle: d.initialize},
		MethodQuery:               {role: auth.RoleQueryReader, handle: d.query},
		MethodSchemaDiscovery:     {role: auth.RoleQueryReader, handle: d.schemaDiscovery},
		MethodExplainQuery:        {role: auth.RoleQueryReader, handle: d.explainQuery},
		MethodValidateQuery:       {role: auth.RoleQueryReader, handle: d.validateQuery},
		MethodExecuteQuery:        {role: auth.RoleSQLRunner, handle: d.executeQuery},
		MethodSchemaTables:        {role: auth.RoleQueryReader, handle: d.schemaTables},
		MethodSchemaRelationships: {role: auth.RoleQueryReader, handle: d.schemaRelationships},
		MethodSystemMetrics:       {role: auth.RoleQueryReader, handle: d.systemMetrics},
		MethodDatabaseInfo:        {role: auth.RoleQueryReader, handle: d.databaseInfo},
	}
	return d
}

// Dispatch runs one request and always produces a response envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	result, rpcErr := d.Call(ctx, req.Method, req.Params)
	resp := Response{JSONRPC: Version, ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	resp.Result = result
	return resp
}

// Call invokes a method directly. Handler errors and panics come back as
// CodeHandlerError.
func (d *Dispatcher) Call(ctx context.Context, name string, params map[string]any) (result any, rpcErr *Error) {
	start := time.Now()
	label := name
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.ErrorContext(ctx, "rpc handler panicked", slog.String("method", name), slog.Any("panic", rec))
			result, rpcErr = nil, &Error{Code: CodeHandlerError, Message: fmt.Sprintf("Handler error: %v", rec)}
		}
		code := 0
		if rpcErr != nil {
			code = rpcErr.Code
		}
		observability.ObserveRPC(label, code)
		d.logger.DebugContext(ctx, "rpc call",
			slog.String("method", name),
			slog.Int("code", code),
			slog.Duration("elapsed", time.Since(start)),
		)
	}()

	m, ok := d.methods[name]
	if !ok {
		label = "unknown"
		return nil, &Error{Code: CodeMethodNotFound, Message: "Method not found: " + name}
	}
	if d.authorize && m.role != "" {
		if err := auth.Require(ctx, m.role); err != nil {
			return nil, &Error{Code: CodeUnauthorized, Message: "Unauthorized: " + err.Error()}
		}
	}
	if params == nil {
		params = map[string]any{}
	}
	out, err := m.handle(ctx, params)
	if err != nil {
		d.logger.WarnContext(ctx, "rpc handler failed", slog.String("method", name), slog.Any("error", err))
		return nil, &Error{Code: CodeHandlerError, Message: "Handler error: " + err.Error()}
	}
	return out, nil
}

func (d *Dispatcher) Methods() []string {
	return []string{
		MethodInitialize, MethodQuery, MethodSchemaDiscovery, MethodExplainQuery, MethodValidateQuery,
		MethodExecuteQuery, MethodSchemaTables, MethodSchemaRelationships, MethodSystemMetrics, MethodDatabaseInfo,
	}
}

func (d *Dispatcher) initialize(context.Context, map[string]any) (any, error) {
	return map[string]any{
		"protocolVersion": ProtocolVersion,
		"serverInfo":      map[string]any{"name": ServerName, "version": ServerVersion},
		"capabilities": map[string]any{
			"query":            true,
			"schema_discovery": true,
			"explain_queries":  true,
			"validate_queries": true,
			"execute_queries":  true,
		},
	}, nil
}

func (d *Dispatcher) query(ctx context.Context, params map[string]any) (any, error) {
	question, err := requiredString(params, "question")
	if err != nil {
		return nil, err
	}
	database, err := stringParam(params, "database")
	if err != nil {
		return nil, err
	}
	execute, err := boolParam(params, "execute", true)
	if err != nil {
		return nil, err
	}
	format, err := boolParam(params, "format_results", true)
	if err != nil {
		return nil, err
	}
	if format, err = boolParam(params, "format", format); err != nil {
		return nil, err
	}
	extra, err := mapParam(params, "context")
	if err != nil {
		return nil, err
	}
	return d.backend.Query(ctx, pipeline.Request{
		Question: question,
		Database: database,
		Context:  extra,
		Execute:  execute,
		Format:   format,
	}), nil
}

func (d *Dispatcher) schemaDiscovery(ctx context.Context, params map[string]any) (any, error) {
	database, err := stringParam(params, "database")
	if err != nil {
		return nil, err
	}
	refresh, err := boolParam(params, "refresh", false)
	if err != nil {
		return nil, err
	}
	snapshot, err := d.backend.Schema(ctx, database, refresh)
	if err != nil {
		return nil, sourceError(database, err)
	}
	return snapshot, nil
}

type explainResult struct {
	SQL      string          `json:"sql_query"`
	Database string          `json:"database"`
	Plan     datasource.Plan `json:"plan"`
}

func (d *Dispatcher) explainQuery(ctx context.Context, params map[string]any) (any, error) {
	sql, database, err := sqlParams(params)
	if err != nil {
		return nil, err
	}
	name, err := d.resolve(database)
	if err != nil {
		return nil, err
	}
	plan, err := d.backend.ExplainSQL(ctx, name, sql)
	if err != nil {
		return nil, err
	}
	return explainResult{SQL: sql, Database: name, Plan: plan}, nil
}

type validateResult struct {
	SQL string `json:"sql_query"`
	safety.ValidationResult
	Syntax safety.SyntaxReport `json:"syntax"`
}

func (d *Dispatcher) validateQuery(_ context.Context, params map[string]any) (any, error) {
	sql, err := requiredString(params, "sql_query")
	if err != nil {
		return nil, err
	}
	return validateResult{
		SQL:              sql,
		ValidationResult: safety.ValidateSQL(sql),
		Syntax:           safety.CheckSyntax(sql),
	}, nil
}

func (d *Dispatcher) executeQuery(ctx context.Context, params map[string]any) (any, error) {
	sql, database, err := sqlParams(params)
	if err != nil {
		return nil, err
	}
	format, err := boolParam(params, "format", false)
	if err != nil {
		return nil, err
	}
	execution, err := d.backend.ExecuteSQL(ctx, database, sql, format)
	if err != nil {
		return nil, sourceError(database, err)
	}
	return execution, nil
}

type tableSummary struct {
	Name       string   `json:"name"`
	Schema     string   `json:"schema,omitempty"`
	Columns    int      `json:"columns"`
	PrimaryKey []string `json:"primary_key"`
}

func (d *Dispatcher) schemaTables(ctx context.Context, params map[string]any) (any, error) {
	snapshot, err := d.snapshot(ctx, params)
	if err != nil {
		return nil, err
	}
	tables := make([]tableSummary, 0, len(snapshot.Tables))
	for _, t := range snapshot.Tables {
		tables = append(tables, tableSummary{Name: t.Name, Schema: t.Schema, Columns: len(t.Columns), PrimaryKey: t.PrimaryKey})
	}
	return map[string]any{"database": snapshot.Source, "tables": tables}, nil
}

func (d *Dispatcher) schemaRelationships(ctx context.Context, params map[string]any) (any, error) {
	snapshot, err := d.snapshot(ctx, params)
	if err != nil {
		return nil, err
	}
	relationships := snapshot.Relationships
	if relationships == nil {
		relationships = []schema.Relationship{}
	}
	return map[string]any{"database": snapshot.Source, "relationships": relationships}, nil
}

func (d *Dispatcher) systemMetrics(context.Context, map[string]any) (any, error) {
	return d.backend.Metrics(), nil
}

func (d *Dispatcher) databaseInfo(ctx context.Context, params map[string]any) (any, error) {
	database, err := stringParam(params, "database")
	if err != nil {
		return nil, err
	}
	info, err := d.backend.DatabaseInfo(ctx, database)
	if err != nil {
		return nil, sourceError(database, err)
	}
	return info, nil
}

func (d *Dispatcher) snapshot(ctx context.Context, params map[string]any) (schema.Snapshot, error) {
	database, err := stringParam(params, "database")
	if err != nil {
		return schema.Snapshot{}, err
	}
	snapshot, err := d.backend.Schema(ctx, database, false)
	if err != nil {
		return schema.Snapshot{}, sourceError(database, err)
	}
	return snapshot, nil
}

func (d *Dispatcher) resolve(database string) (string, error) {
	source, err := d.backend.Source(database)
	if err != nil {
		return "", sourceError(database, err)
	}
	return source.Info().Name, nil
}

func sqlParams(params map[string]any) (string, string, error) {
	sql, err := requiredString(params, "sql_query")
	if err != nil {
		return "", "", err
	}
	database, err := stringParam(params, "database")
	if err != nil {
		return "", "", err
	}
	return sql, database, nil
}

func sourceError(database string, err error) error {
	var input *safety.InputError
	switch {
	case errors.Is(err, datasource.ErrUnknownSource):
		return fmt.Errorf("Database '%s' not found", database)
	case errors.Is(err, datasource.ErrNoHandlers):
		return errors.New("No database handlers configured")
	case errors.As(err, &input):
		return errors.New(input.Message)
	}
	return err
}
