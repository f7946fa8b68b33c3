package safety

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

const (
	MinQuestionLength = 3
	MaxQuestionLength = 1000
	maxContextBytes   = 10000
)

var ErrInvalidInput = errors.New("invalid input")

// InputError is a rejected question, data-source name or context, with user-facing suggestions.
type InputError struct {
	Message     string
	Suggestions []string
}

func (e *InputError) Error() string { return e.Message }

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

var destructivePhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdrop\s+table\b`),
	regexp.MustCompile(`(?i)\bdrop\s+database\b`),
	regexp.MustCompile(`(?i)\btruncate\b`),
	regexp.MustCompile(`(?i)\bdelete\s+from\b`),
	regexp.MustCompile(`(?i)\binsert\s+into\b`),
	regexp.MustCompile(`(?i)\bupdate\s+.+set\b`),
	regexp.MustCompile(`(?i)\balter\s+table\b`),
	regexp.MustCompile(`(?i)\bcreate\s+table\b`),
	regexp.MustCompile(`(?i)\bcreate\s+database\b`),
}

var queryIndicators = []string{
	"what", "how many", "how much", "which", "when", "where",
	"who", "show", "list", "find", "get", "retrieve", "display",
	"count", "total", "sum", "average", "max", "min", "top", "bottom",
}

var businessTerms = []string{
	"sales", "revenue", "customer", "order", "product", "employee",
	"user", "account", "transaction", "invoice", "payment", "data",
	"record", "table", "database", "report", "analysis",
}

var sourceNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// ValidateQuestion returns an *InputError when the question must not enter the pipeline.
func ValidateQuestion(question string) error {
	trimmed := strings.TrimSpace(question)
	switch {
	case trimmed == "":
		return &InputError{
			Message:     fmt.Sprintf("Question cannot be empty (minimum %d characters)", MinQuestionLength),
			Suggestions: []string{"Please provide a natural language question"},
		}
	case len(trimmed) < MinQuestionLength:
		return &InputError{
			Message:     fmt.Sprintf("Question is too short (minimum %d characters)", MinQuestionLength),
			Suggestions: []string{"Please provide a more detailed question"},
		}
	case len(trimmed) > MaxQuestionLength:
		return &InputError{
			Message:     fmt.Sprintf("Question is too long (maximum %d characters)", MaxQuestionLength),
			Suggestions: []string{"Please shorten your question"},
		}
	}

	for _, pattern := range destructivePhrases {
		if pattern.MatchString(trimmed) {
			return &InputError{
				Message: "Question contains potentially dangerous SQL operations",
				Suggestions: []string{
					"This system is for data retrieval only",
					"Please rephrase your question to focus on querying data",
				},
			}
		}
	}

	if injected, fingerprint := libinjection.IsSQLi(trimmed); injected {
		return &InputError{
			Message: fmt.Sprintf("Question looks like an SQL injection attempt (fingerprint %s)", fingerprint),
			Suggestions: []string{
				"Ask your question in plain language instead of SQL fragments",
				"Please rephrase your question to focus on querying data",
			},
		}
	}

	if !isMeaningful(trimmed) {
		return &InputError{
			Message: "Question doesn't appear to be a data query",
			Suggestions: []string{
				"Please ask a question about your data",
				"Examples: 'What are our top customers?' or 'Show me sales this month'",
			},
		}
	}
	return nil
}

func isMeaningful(question string) bool {
	lower := strings.ToLower(question)
	for _, indicator := range queryIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	for _, term := range businessTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return strings.HasSuffix(question, "?") || len(strings.Fields(question)) >= 4
}

// ValidateSourceName checks an explicitly requested data-source name.
func ValidateSourceName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &InputError{Message: "Database name cannot be empty", Suggestions: []string{"Provide a valid database name"}}
	}
	if !sourceNamePattern.MatchString(name) {
		return &InputError{
			Message: "Invalid database name format",
			Suggestions: []string{
				"Database name should start with a letter",
				"Use only letters, numbers, and underscores",
			},
		}
	}
	return nil
}

// ValidateContext bounds the size of caller-supplied request context.
func ValidateContext(context map[string]any) error {
	if len(context) == 0 {
		return nil
	}
	encoded, err := json.Marshal(context)
	if err != nil {
		return &InputError{Message: "Context must be JSON serializable", Suggestions: []string{"Provide context as key-value pairs"}}
	}
	if len(encoded) > maxContextBytes {
		return &InputError{Message: "Context is too large", Suggestions: []string{"Reduce the amount of context information"}}
	}
	return nil
}
