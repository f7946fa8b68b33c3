package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nldbquery/nldbquery/internal/datasource"
	"github.com/nldbquery/nldbquery/internal/nl2sql"
)

const spendSQL = "```sql\nSELECT c.name, SUM(o.total) AS total_spent\nFROM customers c JOIN orders o ON o.customer_id = c.id\nGROUP BY c.name ORDER BY total_spent DESC\n```"

// scriptedCompleter answers by prompt kind.
type scriptedCompleter struct {
	mu          sync.Mutex
	intent      string
	sql         string
	explanation string
	err         error
	panicWith   any
	calls       int
}

func (c *scriptedCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.panicWith != nil {
		panic(c.panicWith)
	}
	if c.err != nil {
		return "", c.err
	}
	switch {
	case strings.HasPrefix(prompt, "Classify the intent"):
		return c.intent, nil
	case strings.HasPrefix(prompt, "Explain this SQL query"):
		return c.explanation, nil
	default:
		return c.sql, nil
	}
}

func openShop(t *testing.T) *datasource.SQLSource {
	t.Helper()
	ctx := context.Background()
	source, err := datasource.Open(ctx, datasource.Config{Name: datasource.PrimaryName, URL: "sqlite://:memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = source.Close() })

	for _, stmt := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, city TEXT)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL REFERENCES customers(id), total REAL, created_at TEXT)`,
		`INSERT INTO customers (id, name, city) VALUES (1, 'Ada', 'London'), (2, 'Grace', 'Arlington')`,
		`INSERT INTO orders (id, customer_id, total, created_at) VALUES (1, 1, 10.5, '2024-01-02'), (2, 1, 4.5, '2024-02-03'), (3, 2, 20, '2024-03-04')`,
	} {
		_, err := source.DB().ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	return source
}

func newTestService(t *testing.T, completer nl2sql.Completer, sources ...datasource.Source) *Service {
	t.Helper()
	registry := datasource.NewRegistry()
	if len(sources) == 0 {
		sources = []datasource.Source{openShop(t)}
	}
	for _, source := range sources {
		require.NoError(t, registry.Register(source))
	}
	service, err := NewService(Options{
		Registry:     registry,
		Completer:    completer,
		QueryTimeout: 5 * time.Second,
		MaxRows:      100,
	})
	require.NoError(t, err)
	return service
}

func TestQueryAnswersAndFormats(t *testing.T) {
	completer := &scriptedCompleter{intent: "aggregation", sql: spendSQL, explanation: "Total spend per customer."}
	service := newTestService(t, completer)

	outcome := service.Query(context.Background(), Request{
		Question: "Show total order amounts for each customer",
		Execute:  true,
		Format:   true,
	})

	require.True(t, outcome.Success())
	_, failed := outcome.Failure()
	assert.False(t, failed)
	assert.NotEmpty(t, outcome.QueryID)

	result, ok := outcome.Result()
	require.True(t, ok)
	assert.Equal(t, "SELECT c.name, SUM(o.total) AS total_spent FROM customers c JOIN orders o ON o.customer_id = c.id GROUP BY c.name ORDER BY total_spent DESC;", result.SQL)
	assert.Equal(t, "aggregation", string(result.Intent))
	assert.Equal(t, "Total spend per customer.", result.Explanation)
	assert.Equal(t, []string{"orders", "customers"}, result.RelevantTables)
	assert.Equal(t, "primary", result.Database)

	require.NotNil(t, result.RowCount)
	assert.Equal(t, 2, *result.RowCount)
	assert.Equal(t, []string{"name", "total_spent"}, result.Columns)
	assert.Equal(t, "Grace", result.Results[0]["name"])
	require.NotNil(t, result.ExecutionTime)

	assert.Equal(t, []string{
		StepQuestionAnalysis,
		StepIntentClassification,
		StepSchemaMatching,
		StepSQLTranslation,
		StepExplanationGeneration,
		StepQueryExecution,
		StepResultFormatting,
	}, result.Metadata.ProcessingSteps)
	assert.Len(t, result.Metadata.SchemaElementsUsed.Relationships, 1)
	assert.InDelta(t, 2.0/3.0, result.Metadata.SchemaConfidence, 1e-9)
	assert.True(t, result.Metadata.Validation.IsSafe)

	assert.Contains(t, result.FormattedResponse, "**Answer:** Total spend per customer.")
	assert.Contains(t, result.FormattedResponse, "**Summary:** Found 2 results")

	snapshot := service.Metrics()
	assert.Equal(t, 1, snapshot.TotalQueries)
	assert.Equal(t, 1, snapshot.SuccessfulQueries)
	assert.Equal(t, 1, snapshot.MostCommonIntents["aggregation"])
}

func TestQueryWithoutExecutionSkipsExecutionSteps(t *testing.T) {
	completer := &scriptedCompleter{intent: "aggregation", sql: spendSQL, explanation: "x"}
	service := newTestService(t, completer)

	outcome := service.Query(context.Background(), Request{Question: "Show total order amounts for each customer"})

	result, ok := outcome.Result()
	require.True(t, ok)
	assert.Nil(t, result.RowCount)
	assert.Empty(t, result.FormattedResponse)
	assert.Len(t, result.Metadata.ProcessingSteps, 5)
}

func TestQueryAttachesRequestContextToAnalysis(t *testing.T) {
	completer := &scriptedCompleter{intent: "aggregation", sql: spendSQL, explanation: "x"}
	service := newTestService(t, completer)

	outcome := service.Query(context.Background(), Request{
		Question: "Show total order amounts for each customer",
		Context:  map[string]any{"region": "emea"},
	})

	result, ok := outcome.Result()
	require.True(t, ok)
	assert.Equal(t, map[string]any{"region": "emea"}, result.Metadata.Analysis.Context)
}

func TestQueryRejectsEmptyQuestion(t *testing.T) {
	completer := &scriptedCompleter{}
	service := newTestService(t, completer)

	outcome := service.Query(context.Background(), Request{Question: ""})

	qerr, ok := outcome.Failure()
	require.True(t, ok)
	assert.False(t, outcome.Success())
	assert.Equal(t, ValidationError, qerr.Kind)
	assert.Contains(t, qerr.Message, "minimum 3 characters")
	assert.NotEmpty(t, qerr.Suggestions)
	assert.Zero(t, completer.calls)
	assert.Equal(t, 1, service.Metrics().ErrorTypes["validation_error"])
}

func TestQueryRejectsUnknownDatabase(t *testing.T) {
	service := newTestService(t, &scriptedCompleter{})

	outcome := service.Query(context.Background(), Request{Question: "How many orders were placed yesterday?", Database: "warehouse"})

	qerr, ok := outcome.Failure()
	require.True(t, ok)
	assert.Equal(t, ValidationError, qerr.Kind)
	assert.Equal(t, "Database 'warehouse' not found", qerr.Message)
	assert.Equal(t, []string{"Available databases: primary"}, qerr.Suggestions)
}

func TestQueryWithoutRelevantTables(t *testing.T) {
	completer := &scriptedCompleter{intent: "data_retrieval", sql: "SELECT 1"}
	service := newTestService(t, completer)

	outcome := service.Query(context.Background(), Request{Question: "What is the weather in Paris?"})

	qerr, ok := outcome.Failure()
	require.True(t, ok)
	assert.Equal(t, ProcessingError, qerr.Kind)
	assert.Equal(t, Suggestions(CategoryNoRelevantTable), qerr.Suggestions)
}

func TestQueryStopsUnsafeSQLBeforeExecution(t *testing.T) {
	completer := &scriptedCompleter{intent: "data_retrieval", sql: "SELECT * FROM orders; DROP TABLE orders;"}
	source := openShop(t)
	service := newTestService(t, completer, source)

	outcome := service.Query(context.Background(), Request{Question: "Show all orders for each customer", Execute: true})

	qerr, ok := outcome.Failure()
	require.True(t, ok)
	assert.Equal(t, ValidationError, qerr.Kind)
	assert.Contains(t, qerr.Message, "DROP")
	assert.Equal(t, "SELECT * FROM orders; DROP TABLE orders;", qerr.SQL)

	var count int
	require.NoError(t, source.DB().QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestQuerySynthesisFailures(t *testing.T) {
	cases := []struct {
		name      string
		completer nl2sql.Completer
		kind      ErrorKind
		message   string
	}{
		{name: "completer error", completer: &scriptedCompleter{err: errors.New("upstream unavailable")}, kind: ProcessingError, message: "Failed to process query: synthesize sql: upstream unavailable"},
		{name: "empty sql", completer: &scriptedCompleter{intent: "aggregation", sql: "```sql\n```"}, kind: ExecutionError, message: "SQL synthesis failed"},
		{name: "no completer", completer: nil, kind: ProcessingError, message: "Failed to process query: no completion provider configured"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := newTestService(t, tc.completer)
			outcome := service.Query(context.Background(), Request{Question: "Show total order amounts for each customer", Execute: true})

			qerr, ok := outcome.Failure()
			require.True(t, ok)
			assert.Equal(t, tc.kind, qerr.Kind)
			assert.Equal(t, tc.message, qerr.Message)
			assert.NotEmpty(t, qerr.Suggestions)
			assert.LessOrEqual(t, len(qerr.Suggestions), 3)
		})
	}
}

func TestQueryExecutionFailureKeepsSQL(t *testing.T) {
	completer := &scriptedCompleter{intent: "data_retrieval", sql: "SELECT missing_column FROM orders"}
	service := newTestService(t, completer)

	outcome := service.Query(context.Background(), Request{Question: "Show all orders for each customer", Execute: true})

	qerr, ok := outcome.Failure()
	require.True(t, ok)
	assert.Equal(t, ExecutionError, qerr.Kind)
	assert.True(t, strings.HasPrefix(qerr.Message, "Query execution failed: "))
	assert.Equal(t, "SELECT missing_column FROM orders;", qerr.SQL)
	assert.Equal(t, Suggestions(CategoryExecution), qerr.Suggestions)
}

type slowSource struct {
	*datasource.SQLSource
}

func (s slowSource) Execute(ctx context.Context, _ string, _ int) (datasource.Rows, error) {
	<-ctx.Done()
	return datasource.Rows{}, ctx.Err()
}

func TestQueryExecutionTimeout(t *testing.T) {
	registry := datasource.NewRegistry()
	require.NoError(t, registry.Register(slowSource{openShop(t)}))
	service, err := NewService(Options{
		Registry:     registry,
		Completer:    &scriptedCompleter{intent: "aggregation", sql: spendSQL},
		QueryTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	outcome := service.Query(context.Background(), Request{Question: "Show total order amounts for each customer", Execute: true})

	qerr, ok := outcome.Failure()
	require.True(t, ok)
	assert.Equal(t, ExecutionError, qerr.Kind)
	assert.Equal(t, "Query execution timed out after 20ms", qerr.Message)
	assert.Equal(t, Suggestions(CategoryTimeout), qerr.Suggestions)
}

func TestQueryRecoversPanics(t *testing.T) {
	service := newTestService(t, &scriptedCompleter{panicWith: "boom"})

	outcome := service.Query(context.Background(), Request{Question: "Show total order amounts for each customer"})

	qerr, ok := outcome.Failure()
	require.True(t, ok)
	assert.Equal(t, SystemError, qerr.Kind)
	assert.Equal(t, "System error: boom", qerr.Message)
	assert.Equal(t, 1, service.Metrics().FailedQueries)
}

func TestOutcomeJSON(t *testing.T) {
	service := newTestService(t, &scriptedCompleter{})
	outcome := service.Query(context.Background(), Request{Question: "hi"})

	raw, err := json.Marshal(outcome)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.Equal(t, outcome.QueryID, decoded["query_id"])
	assert.NotContains(t, decoded, "result")
	errBody, ok := decoded["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "validation_error", errBody["error_type"])
}

func TestExecuteSQL(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()

	_, err := service.ExecuteSQL(ctx, "", "DELETE FROM orders", false)
	require.ErrorIs(t, err, ErrUnsafeSQL)

	execution, err := service.ExecuteSQL(ctx, "", "SELECT SUM(total) AS total_sales FROM orders", true)
	require.NoError(t, err)
	assert.Equal(t, 1, execution.RowCount)
	assert.Equal(t, "primary", execution.Database)
	assert.Contains(t, execution.FormattedResponse, "• Total total_sales: 35")

	_, err = service.ExecuteSQL(ctx, "bad-name", "SELECT 1", false)
	require.Error(t, err)
}

func TestExplainSQL(t *testing.T) {
	service := newTestService(t, nil)

	plan, err := service.ExplainSQL(context.Background(), "primary", "SELECT * FROM orders WHERE customer_id = 1")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", plan.Dialect)
	assert.NotEmpty(t, plan.Rows)

	_, err = service.ExplainSQL(context.Background(), "primary", "DROP TABLE orders")
	require.ErrorIs(t, err, ErrUnsafeSQL)
}

func TestSchemaCacheAndRefresh(t *testing.T) {
	source := openShop(t)
	service := newTestService(t, nil, source)
	ctx := context.Background()

	info, err := service.DatabaseInfo(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "primary", info.Name)
	assert.Equal(t, "sqlite", info.Driver)
	assert.Equal(t, 2, info.Tables)
	assert.Equal(t, 1, info.Relationships)
	assert.Equal(t, []string{"customers", "orders"}, info.TableNames)

	_, err = source.DB().ExecContext(ctx, `CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	cached, err := service.Schema(ctx, "primary", false)
	require.NoError(t, err)
	assert.Len(t, cached.Tables, 2)

	require.NoError(t, service.RefreshSchema("primary"))
	fresh, err := service.Schema(ctx, "primary", false)
	require.NoError(t, err)
	assert.Len(t, fresh.Tables, 3)
}
