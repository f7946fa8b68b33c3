package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// ErrorKind tags a failed pipeline run.
type ErrorKind string

const (
	ValidationError ErrorKind = "validation_error"
	ExecutionError  ErrorKind = "execution_error"
	ProcessingError ErrorKind = "processing_error"
	SystemError     ErrorKind = "system_error"
)

// Category selects the remediation suggestions shown with an error.
type Category string

const (
	CategoryAmbiguous       Category = "ambiguous_question"
	CategoryNoRelevantTable Category = "no_relevant_tables"
	CategoryComplex         Category = "complex_query"
	CategoryExecution       Category = "execution_error"
	CategoryTimeout         Category = "timeout_error"
	CategorySyntax          Category = "sql_syntax_error"
	CategoryPermission      Category = "permission_error"
	CategoryConnection      Category = "connection_error"
	CategoryGeneral         Category = "general_error"
)

const maxSuggestions = 3

var suggestionTemplates = map[Category][]string{
	CategoryAmbiguous: {
		"Be more specific about what data you want to see",
		"Mention specific time periods, categories, or filters",
		"Use concrete business terms like 'customers', 'sales', 'products'",
	},
	CategoryNoRelevantTable: {
		"Check if you're using the correct business terms",
		"Try different synonyms for your data entities",
		"Ask about available data first: 'What tables are available?'",
	},
	CategoryComplex: {
		"Break down your question into smaller, simpler queries",
		"Focus on one main question at a time",
		"Start with basic queries and build up complexity",
	},
	CategoryExecution: {
		"The generated query had technical issues",
		"Try rephrasing your question with simpler terms",
		"Check if the data you're asking about exists",
	},
	CategoryTimeout: {
		"Your query is taking too long to execute",
		"Try adding more specific filters to reduce data volume",
		"Ask for smaller date ranges or specific categories",
	},
	CategoryGeneral: {
		"Try rephrasing your question more clearly",
		"Use specific business terms and avoid technical jargon",
		"Be more specific about what you want to see",
	},
}

// Suggestions returns at most three remediation hints for c. Categories without
// their own template share the general one.
func Suggestions(c Category) []string {
	templates, ok := suggestionTemplates[c]
	if !ok {
		templates = suggestionTemplates[CategoryGeneral]
	}
	if len(templates) > maxSuggestions {
		templates = templates[:maxSuggestions]
	}
	return append([]string(nil), templates...)
}

// ClassifyError maps an error message to a category by keyword.
func ClassifyError(message string) Category {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(lower, "table") && containsAny(lower, "not found", "exist"):
		return CategoryNoRelevantTable
	case containsAny(lower, "syntax", "parse"):
		return CategorySyntax
	case containsAny(lower, "ambiguous", "unclear"):
		return CategoryAmbiguous
	case containsAny(lower, "complex", "complicated"):
		return CategoryComplex
	case containsAny(lower, "permission", "access"):
		return CategoryPermission
	case containsAny(lower, "connection", "network"):
		return CategoryConnection
	default:
		return CategoryGeneral
	}
}

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

// QueryError is the failed outcome of a pipeline run.
type QueryError struct {
	Message     string    `json:"error_message"`
	Kind        ErrorKind `json:"error_type"`
	Question    string    `json:"original_question"`
	SQL         string    `json:"sql_query,omitempty"`
	Suggestions []string  `json:"suggestions"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newQueryError(kind ErrorKind, question, message string, suggestions []string) *QueryError {
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	return &QueryError{
		Message:     message,
		Kind:        kind,
		Question:    question,
		Suggestions: suggestions,
	}
}
