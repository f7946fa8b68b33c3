// Package nl2sql turns an analyzed question and its ranked schema into a SQL statement
// through an external text-completion service.
package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nldbquery/nldbquery/internal/analyzer"
	"github.com/nldbquery/nldbquery/internal/intent"
	"github.com/nldbquery/nldbquery/internal/safety"
	"github.com/nldbquery/nldbquery/internal/schema"
)

var (
	ErrNoCompleter = errors.New("no completion provider configured")
	ErrEmptySQL    = errors.New("SQL synthesis failed")
)

type Request struct {
	Question string
	Dialect  string
	Analysis analyzer.Analysis
	Intent   intent.Intent
	Schema   schema.Ranked
}

type UsedElements struct {
	Tables        []string              `json:"tables"`
	Columns       []string              `json:"columns"`
	Relationships []schema.Relationship `json:"relationships"`
}

type Translation struct {
	SQL        string              `json:"sql_query"`
	Confidence float64             `json:"confidence"`
	Syntax     safety.SyntaxReport `json:"validation"`
	Used       UsedElements        `json:"schema_elements_used"`
}

type Synthesizer struct {
	completer Completer
	logger    *slog.Logger
}

func NewSynthesizer(completer Completer, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Synthesizer{completer: completer, logger: logger}
}

// Synthesize asks the completer for SQL. Completer failures are returned wrapped;
// a blank answer yields ErrEmptySQL.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (Translation, error) {
	if s.completer == nil {
		return Translation{}, ErrNoCompleter
	}
	raw, err := s.completer.Complete(ctx, BuildPrompt(req))
	if err != nil {
		return Translation{}, fmt.Errorf("synthesize sql: %w", err)
	}
	sql := CleanSQL(raw)
	if sql == "" {
		return Translation{}, ErrEmptySQL
	}
	report := safety.CheckSyntax(sql)
	s.logger.Debug("sql synthesized", "confidence", report.Confidence, "issues", len(report.Issues))
	return Translation{
		SQL:        sql,
		Confidence: report.Confidence,
		Syntax:     report,
		Used:       ExtractUsedElements(sql, req.Schema),
	}, nil
}

// Explain describes sql in business terms. It falls back to a fixed sentence when no
// completer is configured or the completer fails.
func (s *Synthesizer) Explain(ctx context.Context, question, sql string, tables []string) string {
	fallback := "This query retrieves data related to: " + question
	if s.completer == nil {
		return fallback
	}
	text, err := s.completer.Complete(ctx, buildExplainPrompt(question, sql, tables))
	if err != nil {
		s.logger.Warn("explanation generation failed", "error", err)
		return fallback
	}
	if text = strings.TrimSpace(text); text == "" {
		return fallback
	}
	return text
}

func BuildPrompt(req Request) string {
	dialect := req.Dialect
	if dialect == "" {
		dialect = "ANSI"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You convert natural language questions into a single read-only %s SQL query.\n\n", dialect)
	fmt.Fprintf(&b, "QUESTION: %s\n\n", strings.TrimSpace(req.Question))
	fmt.Fprintf(&b, "INTENT: %s (%s)\n\n", req.Intent, intent.Description(req.Intent))
	b.WriteString("ANALYSIS:\n")
	b.WriteString(describeAnalysis(req.Analysis))
	b.WriteString("\nDATABASE SCHEMA:\n")
	for _, t := range req.Schema.Tables {
		b.WriteString(t.Describe())
		b.WriteString("\n")
	}
	if len(req.Schema.Relationships) > 0 {
		b.WriteString("Table Relationships:\n")
		for _, rel := range req.Schema.Relationships {
			b.WriteString("  " + rel.String() + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Rules:\n" +
		"- Use only the listed tables and columns.\n" +
		"- Only SELECT statements; never modify data.\n" +
		"- Join through the listed relationships.\n" +
		"- Add ORDER BY and LIMIT when the question implies ranking or a sample.\n" +
		"- Return ONLY SQL. No markdown, no explanation.\n")
	return b.String()
}

func describeAnalysis(a analyzer.Analysis) string {
	var b strings.Builder
	if len(a.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(a.Keywords, ", "))
	}
	if len(a.Entities) > 0 {
		fmt.Fprintf(&b, "Entities: %s\n", strings.Join(a.Entities, ", "))
	}
	if len(a.BusinessTerms) > 0 {
		concepts := make([]string, 0, len(a.BusinessTerms))
		for concept := range a.BusinessTerms {
			concepts = append(concepts, concept)
		}
		sort.Strings(concepts)
		fmt.Fprintf(&b, "Business Concepts: %s\n", strings.Join(concepts, ", "))
	}
	if len(a.Aggregations) > 0 {
		fmt.Fprintf(&b, "Aggregations Needed: %s\n", joinOperators(a.Aggregations))
	}
	if a.Time.HasTimeReference {
		fmt.Fprintf(&b, "Time Filter: %s\n", strings.Join(append(append([]string{}, a.Time.Expressions...), a.Time.ExplicitDates...), ", "))
	}
	if len(a.Comparisons) > 0 {
		fmt.Fprintf(&b, "Comparison Operators: %s\n", joinOperators(a.Comparisons))
	}
	if len(a.Numbers) > 0 {
		numbers := make([]string, 0, len(a.Numbers))
		for _, n := range a.Numbers {
			numbers = append(numbers, n.Text)
		}
		fmt.Fprintf(&b, "Numbers Mentioned: %s\n", strings.Join(numbers, ", "))
	}
	if len(a.Joins) > 0 {
		joins := make([]string, 0, len(a.Joins))
		for _, j := range a.Joins {
			joins = append(joins, j.Join)
		}
		fmt.Fprintf(&b, "Potential Joins: %s\n", strings.Join(joins, ", "))
	}
	fmt.Fprintf(&b, "Question Type: %s\n", a.QuestionType)
	fmt.Fprintf(&b, "Complexity: %s\n", a.Complexity)
	return b.String()
}

func joinOperators(matches []analyzer.PhraseMatch) string {
	ops := make([]string, 0, len(matches))
	for _, m := range matches {
		ops = append(ops, m.Operator)
	}
	return strings.Join(ops, ", ")
}

func buildExplainPrompt(question, sql string, tables []string) string {
	return fmt.Sprintf("Explain this SQL query in simple, business-friendly language.\n\n"+
		"Original Question: %s\nSQL Query: %s\nTables used: %s\n\n"+
		"Describe what data is retrieved, from which tables, any filtering or aggregation, "+
		"and how the result answers the question. Keep it short and avoid jargon.",
		strings.TrimSpace(question), sql, strings.Join(tables, ", "))
}

// CleanSQL strips markdown fences and comments, joins the statement onto one
// line and terminates it with a semicolon. A blank answer stays blank.
func CleanSQL(raw string) string {
	trimmed := stripSQLComments(stripMarkdownSQL(raw))
	lines := strings.Split(trimmed, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	sql := strings.Join(kept, " ")
	if sql == "" {
		return ""
	}
	if !strings.HasSuffix(sql, ";") {
		sql += ";"
	}
	return sql
}

// stripSQLComments removes -- line comments and /* */ blocks outside quoted
// literals and identifiers. Line breaks are kept.
func stripSQLComments(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteByte(c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			if i < len(sql) {
				b.WriteByte('\n')
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
				break
			}
			i += end + 3
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```SQL")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}

// ExtractUsedElements reports which ranked tables and columns appear in sql, and which
// relationships it likely joins through.
func ExtractUsedElements(sql string, ranked schema.Ranked) UsedElements {
	lower := strings.ToLower(sql)
	used := UsedElements{Tables: []string{}, Columns: []string{}, Relationships: []schema.Relationship{}}
	for _, t := range ranked.Tables {
		if !strings.Contains(lower, strings.ToLower(t.Name)) {
			continue
		}
		used.Tables = append(used.Tables, t.Name)
		for _, c := range t.Columns {
			if strings.Contains(lower, strings.ToLower(c.Name)) {
				used.Columns = append(used.Columns, t.Name+"."+c.Name)
			}
		}
	}
	if strings.Contains(lower, "join") {
		for _, rel := range ranked.Relationships {
			if strings.Contains(lower, strings.ToLower(rel.SourceTable)) &&
				strings.Contains(lower, strings.ToLower(rel.TargetTable)) {
				used.Relationships = append(used.Relationships, rel)
			}
		}
	}
	return used
}
