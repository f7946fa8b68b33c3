// Package intent classifies the purpose of a question into a fixed set of intents.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type Intent string

const (
	DataRetrieval Intent = "data_retrieval"
	Aggregation   Intent = "aggregation"
	Comparison    Intent = "comparison"
	TrendAnalysis Intent = "trend_analysis"
	Filtering     Intent = "filtering"
	Joining       Intent = "joining"
	Reporting     Intent = "reporting"
	Analytics     Intent = "analytics"
	Metadata      Intent = "metadata"
)

// All lists the supported intents in enumeration order, which is also the tie-break order.
var All = []Intent{
	DataRetrieval, Aggregation, Comparison, TrendAnalysis, Filtering,
	Joining, Reporting, Analytics, Metadata,
}

var descriptions = map[Intent]string{
	DataRetrieval: "Simple data retrieval queries (SELECT with basic WHERE conditions)",
	Aggregation:   "Queries requiring aggregation functions (SUM, COUNT, AVG, etc.)",
	Comparison:    "Queries comparing values or finding top/bottom records",
	TrendAnalysis: "Queries analyzing trends over time",
	Filtering:     "Complex filtering with multiple conditions",
	Joining:       "Queries requiring data from multiple related tables",
	Reporting:     "Complex reporting queries with grouping and formatting",
	Analytics:     "Advanced analytical queries with statistical functions",
	Metadata:      "Queries about database structure or metadata",
}

// Description returns the human readable description of an intent.
func Description(i Intent) string {
	if d, ok := descriptions[i]; ok {
		return d
	}
	return "Unknown intent"
}

// Parse folds case and reports whether value names a supported intent.
func Parse(value string) (Intent, bool) {
	candidate := Intent(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := descriptions[candidate]; ok {
		return candidate, true
	}
	return "", false
}

// Completer is the text-completion collaborator used for the primary classification path.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Result struct {
	Intent             Intent   `json:"intent"`
	Confidence         float64  `json:"confidence"`
	FallbackIntent     Intent   `json:"fallback_intent"`
	AlternativeIntents []Intent `json:"alternative_intents"`
}

type Classifier struct {
	completer Completer
	logger    *slog.Logger
}

// NewClassifier accepts a nil completer, in which case only the rule-based path runs.
func NewClassifier(completer Completer, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Classifier{completer: completer, logger: logger}
}

// Classify never returns an error; collaborator failures fall through to Fallback.
func (c *Classifier) Classify(ctx context.Context, question string) Intent {
	if c.completer == nil {
		intent, _ := Fallback(question)
		return intent
	}
	answer, err := c.completer.Complete(ctx, buildPrompt(question))
	if err != nil {
		c.logger.WarnContext(ctx, "intent completion failed, using rule-based fallback", slog.Any("error", err))
		intent, _ := Fallback(question)
		return intent
	}
	if intent, ok := Parse(answer); ok {
		return intent
	}
	c.logger.DebugContext(ctx, "intent completion returned unsupported value", slog.String("answer", answer))
	intent, _ := Fallback(question)
	return intent
}

func (c *Classifier) ClassifyWithConfidence(ctx context.Context, question string) Result {
	primary := c.Classify(ctx, question)
	fallback, _ := Fallback(question)

	confidence := 0.7
	if primary == fallback {
		confidence = 1.0
	}
	lower := strings.ToLower(question)
	if patterns, ok := clearPatterns[primary]; ok {
		if matches := countSubstrings(lower, patterns); matches > 0 {
			confidence = min(1.0, confidence+0.1*float64(matches))
		}
	}

	return Result{
		Intent:             primary,
		Confidence:         confidence,
		FallbackIntent:     fallback,
		AlternativeIntents: Alternatives(question),
	}
}

func buildPrompt(question string) string {
	var intents strings.Builder
	for _, i := range All {
		fmt.Fprintf(&intents, "- %s: %s\n", i, descriptions[i])
	}
	return fmt.Sprintf(`Classify the intent of the following natural language database question.

Question: "%s"

Available intents:
%s
Guidelines:
- Choose the single intent that best describes what the user wants from the data.
- Prefer aggregation when the question asks for totals, counts or averages.
- Prefer metadata when the question is about tables, columns or the schema itself.

Return only the intent name, nothing else.`, question, intents.String())
}
