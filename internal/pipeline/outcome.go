package pipeline

import (
	"encoding/json"
	"time"

	"github.com/nldbquery/nldbquery/internal/analyzer"
	"github.com/nldbquery/nldbquery/internal/intent"
	"github.com/nldbquery/nldbquery/internal/nl2sql"
	"github.com/nldbquery/nldbquery/internal/safety"
	"github.com/nldbquery/nldbquery/internal/schema"
)

// Processing step names, in pipeline order.
const (
	StepQuestionAnalysis      = "question_analysis"
	StepIntentClassification  = "intent_classification"
	StepSchemaMatching        = "schema_matching"
	StepSQLTranslation        = "sql_translation"
	StepExplanationGeneration = "explanation_generation"
	StepQueryExecution        = "query_execution"
	StepResultFormatting      = "result_formatting"
)

type Metadata struct {
	Analysis           analyzer.Analysis       `json:"analysis"`
	SchemaElementsUsed schema.Ranked           `json:"schema_elements_used"`
	UsedElements       nl2sql.UsedElements     `json:"used_elements"`
	SchemaConfidence   float64                 `json:"schema_confidence"`
	IntentConfidence   float64                 `json:"intent_confidence"`
	AlternativeIntents []intent.Intent         `json:"alternative_intents"`
	Validation         safety.ValidationResult `json:"validation"`
	Syntax             safety.SyntaxReport     `json:"syntax"`
	ProcessingSteps    []string                `json:"processing_steps"`
}

// QueryResult is the successful outcome of a pipeline run. Execution fields
// stay empty when the run did not execute the SQL.
type QueryResult struct {
	SQL               string           `json:"sql_query"`
	Explanation       string           `json:"explanation"`
	Confidence        float64          `json:"confidence"`
	Intent            intent.Intent    `json:"intent"`
	RelevantTables    []string         `json:"relevant_tables"`
	Database          string           `json:"database"`
	Metadata          Metadata         `json:"metadata"`
	Timestamp         time.Time        `json:"timestamp"`
	Columns           []string         `json:"columns,omitempty"`
	Results           []map[string]any `json:"results,omitempty"`
	RowCount          *int             `json:"row_count,omitempty"`
	Truncated         bool             `json:"truncated,omitempty"`
	ExecutionTime     *float64         `json:"execution_time,omitempty"`
	FormattedResponse string           `json:"formatted_response,omitempty"`
}

// Outcome holds exactly one of a result or an error. Build it with the
// package constructors only.
type Outcome struct {
	QueryID        string
	ProcessingTime time.Duration
	result         *QueryResult
	err            *QueryError
}

func succeeded(id string, result *QueryResult, elapsed time.Duration) Outcome {
	return Outcome{QueryID: id, ProcessingTime: elapsed, result: result}
}

func failed(id string, err *QueryError, elapsed time.Duration) Outcome {
	return Outcome{QueryID: id, ProcessingTime: elapsed, err: err}
}

func (o Outcome) Success() bool {
	return o.result != nil
}

func (o Outcome) Result() (*QueryResult, bool) {
	return o.result, o.result != nil
}

func (o Outcome) Failure() (*QueryError, bool) {
	return o.err, o.err != nil
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Success        bool         `json:"success"`
		Result         *QueryResult `json:"result,omitempty"`
		Error          *QueryError  `json:"error,omitempty"`
		QueryID        string       `json:"query_id"`
		ProcessingTime float64      `json:"processing_time"`
	}{
		Success:        o.Success(),
		Result:         o.result,
		Error:          o.err,
		QueryID:        o.QueryID,
		ProcessingTime: o.ProcessingTime.Seconds(),
	})
}
