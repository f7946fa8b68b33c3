// Package safety gates generated SQL and incoming questions before anything reaches a data source.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

var forbiddenOperations = []string{
	"drop", "truncate", "delete", "insert", "update",
	"alter", "create", "grant", "revoke", "exec",
}

var forbiddenPatterns = compileWordPatterns(forbiddenOperations)

var (
	selectWord = regexp.MustCompile(`(?i)\bselect\b`)
	fromWord   = regexp.MustCompile(`(?i)\bfrom\b`)
)

type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	IsSafe   bool     `json:"is_safe"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
}

// Passed reports whether the statement may be sent to a data source.
func (r ValidationResult) Passed() bool {
	return r.IsValid && r.IsSafe
}

// ValidateSQL applies every rule and reports all findings; no rule short-circuits another.
// Safety covers the SELECT prefix and the destructive vocabulary. Validity covers the SELECT
// prefix and parenthesis and quote balance.
func ValidateSQL(sql string) ValidationResult {
	result := ValidationResult{IsValid: true, IsSafe: true, Warnings: []string{}, Errors: []string{}}
	trimmed := strings.TrimSpace(sql)
	lower := strings.ToLower(trimmed)

	if !strings.HasPrefix(lower, "select") {
		result.IsSafe = false
		result.IsValid = false
		result.Errors = append(result.Errors, "Query must be a SELECT statement")
	}

	for i, pattern := range forbiddenPatterns {
		if pattern.MatchString(lower) {
			result.IsSafe = false
			result.Errors = append(result.Errors, fmt.Sprintf("Dangerous operation detected: %s", strings.ToUpper(forbiddenOperations[i])))
		}
	}

	if strings.Count(trimmed, "(") != strings.Count(trimmed, ")") {
		result.IsValid = false
		result.Errors = append(result.Errors, "Unbalanced parentheses in query")
	}
	if countUnescaped(trimmed, '\'')%2 != 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, "Unbalanced single quotes in query")
	}
	if countUnescaped(trimmed, '"')%2 != 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, "Unbalanced double quotes in query")
	}

	if selectWord.MatchString(trimmed) && !fromWord.MatchString(trimmed) {
		result.Warnings = append(result.Warnings, "Query may be missing FROM clause")
	}
	return result
}

// DangerousOperations lists the destructive keywords found as whole words in sql.
func DangerousOperations(sql string) []string {
	lower := strings.ToLower(sql)
	found := []string{}
	for i, pattern := range forbiddenPatterns {
		if pattern.MatchString(lower) {
			found = append(found, strings.ToUpper(forbiddenOperations[i]))
		}
	}
	return found
}

func countUnescaped(s string, quote byte) int {
	count := 0
	for i := 0; i < len(s); i++ {
		if s[i] != quote {
			continue
		}
		if i > 0 && s[i-1] == '\\' {
			continue
		}
		count++
	}
	return count
}

func compileWordPatterns(words []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(words))
	for i, word := range words {
		patterns[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	}
	return patterns
}
