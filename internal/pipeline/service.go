// Package pipeline runs a natural language question through analysis, intent
// classification, schema matching, SQL synthesis, the safety gate, execution and
// result formatting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nldbquery/nldbquery/internal/analyzer"
	"github.com/nldbquery/nldbquery/internal/datasource"
	"github.com/nldbquery/nldbquery/internal/insight"
	"github.com/nldbquery/nldbquery/internal/intent"
	"github.com/nldbquery/nldbquery/internal/nl2sql"
	"github.com/nldbquery/nldbquery/internal/observability"
	"github.com/nldbquery/nldbquery/internal/safety"
	"github.com/nldbquery/nldbquery/internal/schema"
)

const (
	defaultQueryTimeout = 30 * time.Second
	defaultMaxRows      = 1000
)

var ErrUnsafeSQL = errors.New("sql failed safety validation")

type Options struct {
	Registry     *datasource.Registry
	Completer    nl2sql.Completer
	Logger       *slog.Logger
	Metrics      *Metrics
	QueryTimeout time.Duration
	MaxRows      int
	Clock        func() time.Time
}

type Request struct {
	Question string         `json:"question"`
	Database string         `json:"database,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
	Execute  bool           `json:"execute"`
	Format   bool           `json:"format_results"`
}

type Service struct {
	registry     *datasource.Registry
	analyzer     *analyzer.Analyzer
	classifier   *intent.Classifier
	synthesizer  *nl2sql.Synthesizer
	formatter    *insight.Formatter
	metrics      *Metrics
	schemas      *schemaCache
	logger       *slog.Logger
	queryTimeout time.Duration
	maxRows      int
	now          func() time.Time
	newID        func() string
}

func NewService(opts Options) (*Service, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("data source registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	timeout := opts.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}

	// A nil nl2sql.Completer must stay a nil intent.Completer.
	var classifierCompleter intent.Completer
	if opts.Completer != nil {
		classifierCompleter = opts.Completer
	}

	return &Service{
		registry:     opts.Registry,
		analyzer:     analyzer.New(analyzer.WithClock(now)),
		classifier:   intent.NewClassifier(classifierCompleter, logger),
		synthesizer:  nl2sql.NewSynthesizer(opts.Completer, logger),
		formatter:    insight.NewFormatter(logger),
		metrics:      metrics,
		schemas:      newSchemaCache(),
		logger:       logger,
		queryTimeout: timeout,
		maxRows:      maxRows,
		now:          now,
		newID:        uuid.NewString,
	}, nil
}

// Query runs one question through the pipeline. It never returns an error; every
// failure, including a panic, becomes the error side of the Outcome.
func (s *Service) Query(ctx context.Context, req Request) (out Outcome) {
	id := s.newID()
	start := time.Now()
	logger := s.logger.With(slog.String("query_id", id))

	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorContext(ctx, "query panicked", slog.Any("panic", rec))
			qerr := newQueryError(SystemError, req.Question, fmt.Sprintf("System error: %v", rec), Suggestions(CategoryGeneral))
			out = s.finishFailure(id, start, qerr)
		}
	}()

	result, qerr := s.run(ctx, logger, req)
	if qerr != nil {
		logger.WarnContext(ctx, "query failed",
			slog.String("kind", string(qerr.Kind)),
			slog.String("error", qerr.Message),
		)
		return s.finishFailure(id, start, qerr)
	}

	elapsed := time.Since(start)
	s.metrics.RecordSuccess(string(result.Intent), result.Confidence, elapsed)
	observability.ObserveQuerySuccess(string(result.Intent), result.Confidence, elapsed)
	logger.InfoContext(ctx, "query answered",
		slog.String("intent", string(result.Intent)),
		slog.Float64("confidence", result.Confidence),
		slog.Duration("elapsed", elapsed),
	)
	return succeeded(id, result, elapsed)
}

func (s *Service) finishFailure(id string, start time.Time, qerr *QueryError) Outcome {
	qerr.Timestamp = s.now()
	elapsed := time.Since(start)
	s.metrics.RecordFailure(qerr.Kind, elapsed)
	observability.ObserveQueryFailure(string(qerr.Kind), elapsed)
	return failed(id, qerr, elapsed)
}

func (s *Service) run(ctx context.Context, logger *slog.Logger, req Request) (*QueryResult, *QueryError) {
	question := req.Question
	if qerr := s.validateInput(req); qerr != nil {
		return nil, qerr
	}

	source, qerr := s.resolve(req.Question, req.Database)
	if qerr != nil {
		return nil, qerr
	}
	snapshot, err := s.snapshot(ctx, source, false)
	if err != nil {
		return nil, newQueryError(ProcessingError, question,
			"Failed to process query: "+err.Error(), Suggestions(ClassifyError(err.Error())))
	}

	steps := []string{StepQuestionAnalysis}
	analysis := s.analyzer.AnalyzeWithContext(question, req.Context)
	logger.DebugContext(ctx, "question analyzed",
		slog.String("question_type", string(analysis.QuestionType)),
		slog.String("complexity", string(analysis.Complexity)),
	)

	steps = append(steps, StepIntentClassification)
	classified := s.classifier.ClassifyWithConfidence(ctx, question)
	logger.DebugContext(ctx, "intent classified",
		slog.String("intent", string(classified.Intent)),
		slog.Float64("confidence", classified.Confidence),
	)

	steps = append(steps, StepSchemaMatching)
	ranked := schema.Match(analysis.Terms(), snapshot)
	if len(ranked.Tables) == 0 {
		return nil, newQueryError(ProcessingError, question,
			"No relevant tables found for this question", Suggestions(CategoryNoRelevantTable))
	}
	logger.DebugContext(ctx, "schema matched", slog.Any("tables", ranked.TableNames()))

	steps = append(steps, StepSQLTranslation)
	translation, err := s.synthesizer.Synthesize(ctx, nl2sql.Request{
		Question: question,
		Dialect:  source.Info().Dialect,
		Analysis: analysis,
		Intent:   classified.Intent,
		Schema:   ranked,
	})
	if err != nil {
		if errors.Is(err, nl2sql.ErrEmptySQL) {
			return nil, newQueryError(ExecutionError, question, err.Error(), Suggestions(CategoryExecution))
		}
		return nil, newQueryError(ProcessingError, question,
			"Failed to process query: "+err.Error(), Suggestions(ClassifyError(err.Error())))
	}

	validation := safety.ValidateSQL(translation.SQL)
	if !validation.Passed() {
		qerr := newQueryError(ValidationError, question,
			"Generated SQL failed safety validation: "+strings.Join(validation.Errors, "; "),
			Suggestions(CategoryAmbiguous))
		qerr.SQL = translation.SQL
		return nil, qerr
	}

	steps = append(steps, StepExplanationGeneration)
	explanation := s.synthesizer.Explain(ctx, question, translation.SQL, ranked.TableNames())

	result := &QueryResult{
		SQL:            translation.SQL,
		Explanation:    explanation,
		Confidence:     translation.Confidence,
		Intent:         classified.Intent,
		RelevantTables: ranked.TableNames(),
		Database:       source.Info().Name,
		Timestamp:      s.now(),
		Metadata: Metadata{
			Analysis:           analysis,
			SchemaElementsUsed: ranked,
			UsedElements:       translation.Used,
			SchemaConfidence:   ranked.SchemaConfidence,
			IntentConfidence:   classified.Confidence,
			AlternativeIntents: classified.AlternativeIntents,
			Validation:         validation,
			Syntax:             translation.Syntax,
		},
	}

	if req.Execute {
		steps = append(steps, StepQueryExecution)
		rows, err := s.execute(ctx, source, translation.SQL)
		if err != nil {
			qerr := executionFailure(question, err, s.queryTimeout)
			qerr.SQL = translation.SQL
			return nil, qerr
		}
		rowCount := len(rows.Rows)
		seconds := rows.Duration.Seconds()
		result.Columns = rows.Columns
		result.Results = records(rows.Columns, rows.Rows)
		result.RowCount = &rowCount
		result.ExecutionTime = &seconds
		result.Truncated = rows.Truncated

		if req.Format {
			steps = append(steps, StepResultFormatting)
			result.FormattedResponse = s.formatter.Format(insight.Result{
				Question:      question,
				SQL:           result.SQL,
				Explanation:   result.Explanation,
				Confidence:    result.Confidence,
				Columns:       rows.Columns,
				Rows:          rows.Rows,
				RowCount:      rowCount,
				ExecutionTime: rows.Duration,
			})
		}
	}
	result.Metadata.ProcessingSteps = steps
	return result, nil
}

func (s *Service) validateInput(req Request) *QueryError {
	check := func(err error) *QueryError {
		var input *safety.InputError
		if errors.As(err, &input) {
			return newQueryError(ValidationError, req.Question, input.Message, input.Suggestions)
		}
		return newQueryError(ValidationError, req.Question, err.Error(), []string{"Please check your input and try again"})
	}
	if err := safety.ValidateQuestion(req.Question); err != nil {
		return check(err)
	}
	if req.Database != "" {
		if err := safety.ValidateSourceName(req.Database); err != nil {
			return check(err)
		}
	}
	if err := safety.ValidateContext(req.Context); err != nil {
		return check(err)
	}
	return nil
}

func (s *Service) resolve(question, name string) (datasource.Source, *QueryError) {
	source, err := s.registry.Resolve(name)
	switch {
	case err == nil:
		return source, nil
	case errors.Is(err, datasource.ErrUnknownSource):
		return nil, newQueryError(ValidationError, question,
			fmt.Sprintf("Database '%s' not found", name),
			[]string{"Available databases: " + strings.Join(s.registry.Names(), ", ")})
	default:
		return nil, newQueryError(ProcessingError, question, err.Error(), Suggestions(CategoryConnection))
	}
}

func (s *Service) execute(ctx context.Context, source datasource.Source, sql string) (datasource.Rows, error) {
	execCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := source.Execute(execCtx, sql, s.maxRows)
	if err != nil && execCtx.Err() != nil {
		return datasource.Rows{}, fmt.Errorf("%w: %w", execCtx.Err(), err)
	}
	return rows, err
}

func executionFailure(question string, err error, timeout time.Duration) *QueryError {
	if errors.Is(err, context.DeadlineExceeded) {
		return newQueryError(ExecutionError, question,
			fmt.Sprintf("Query execution timed out after %s", timeout), Suggestions(CategoryTimeout))
	}
	message := "Query execution failed: " + err.Error()
	category := ClassifyError(message)
	if category == CategoryGeneral {
		category = CategoryExecution
	}
	return newQueryError(ExecutionError, question, message, Suggestions(category))
}

func records(columns []string, rows [][]any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		record := make(map[string]any, len(columns))
		for i, column := range columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		out = append(out, record)
	}
	return out
}
