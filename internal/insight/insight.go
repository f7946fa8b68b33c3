package insight

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jinzhu/inflection"
)

const (
	maxDisplayRows  = 100
	maxCellWidth    = 50
	fallbackRecords = 5
	caveatThreshold = 0.7
)

const caveat = "*Note: This query has moderate confidence. Please verify the results.*"

// Result is the subset of a query outcome the formatter renders.
type Result struct {
	Question      string
	SQL           string
	Explanation   string
	Confidence    float64
	Columns       []string
	Rows          [][]any
	RowCount      int
	ExecutionTime time.Duration
}

func (r Result) total() int {
	if r.RowCount > len(r.Rows) {
		return r.RowCount
	}
	return len(r.Rows)
}

type Formatter struct {
	logger *slog.Logger
}

func NewFormatter(logger *slog.Logger) *Formatter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Formatter{logger: logger}
}

// Format renders a narrative for r. It never fails; a formatting fault
// degrades to a raw record dump.
func (f *Formatter) Format(r Result) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			f.logger.Error("result formatting failed", "error", fmt.Sprint(rec))
			out = fallback(r)
		}
	}()

	if len(r.Rows) == 0 {
		return noResults(r)
	}

	parts := make([]string, 0, 12)
	if r.Explanation != "" {
		parts = append(parts, "**Answer:** "+r.Explanation, "")
	}
	parts = append(parts, summary(r), "")
	parts = append(parts, "**Results:**", table(r))

	if insights := Insights(r); len(insights) > 0 {
		parts = append(parts, "", "**Key Insights:**")
		parts = append(parts, insights...)
	}
	if r.Confidence < caveatThreshold {
		parts = append(parts, "", caveat)
	}
	return strings.Join(parts, "\n")
}

// FormatError renders an error message with its suggestions.
func (f *Formatter) FormatError(message string, suggestions []string) string {
	var b strings.Builder
	b.WriteString("**Error:** " + message + "\n")
	if len(suggestions) > 0 {
		b.WriteString("\n**Suggestions:**\n")
		for _, s := range suggestions {
			b.WriteString("• " + s + "\n")
		}
	}
	return b.String()
}

type Explanation struct {
	SQL        string
	Text       string
	Confidence float64
	Tables     []string
}

func (f *Formatter) FormatExplanation(e Explanation) string {
	parts := make([]string, 0, 4)
	if e.Text != "" {
		parts = append(parts, "**How this query works:**\n"+e.Text)
	}
	if e.SQL != "" {
		parts = append(parts, "\n**SQL Query:**\n```sql\n"+e.SQL+"\n```")
	}
	if e.Confidence > 0 {
		parts = append(parts, fmt.Sprintf("\n**Confidence:** %s (%.1f%%)", confidenceLabel(e.Confidence), e.Confidence*100))
	}
	if len(e.Tables) > 0 {
		parts = append(parts, "\n**Tables used:** "+strings.Join(e.Tables, ", "))
	}
	return strings.Join(parts, "\n")
}

func confidenceLabel(c float64) string {
	switch {
	case c >= 0.8:
		return "High"
	case c >= 0.6:
		return "Moderate"
	default:
		return "Low"
	}
}

func noResults(r Result) string {
	var b strings.Builder
	b.WriteString("**No results found for:** " + r.Question + "\n\n")
	if r.Explanation != "" {
		b.WriteString("**Explanation:** " + r.Explanation + "\n\n")
	}
	b.WriteString("**Possible reasons:**\n")
	b.WriteString("- The filters might be too restrictive\n")
	b.WriteString("- The data might not exist in the database\n")
	b.WriteString("- The query might need adjustment\n\n")
	if r.SQL != "" {
		b.WriteString("**SQL Query Used:**\n```sql\n" + r.SQL + "\n```")
	}
	return b.String()
}

func summary(r Result) string {
	parts := []string{"Found " + countNoun(r.total(), "result")}
	if r.ExecutionTime < time.Second {
		parts = append(parts, fmt.Sprintf("(executed in %dms)", r.ExecutionTime.Round(time.Millisecond).Milliseconds()))
	} else {
		parts = append(parts, fmt.Sprintf("(executed in %.2fs)", r.ExecutionTime.Seconds()))
	}
	return "**Summary:** " + strings.Join(parts, " ")
}

func countNoun(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + inflection.Plural(noun)
}

func fallback(r Result) string {
	var b strings.Builder
	b.WriteString("**Question:** " + r.Question + "\n\n")
	if r.Explanation != "" {
		b.WriteString("**Answer:** " + r.Explanation + "\n\n")
	}
	if len(r.Rows) > 0 {
		b.WriteString(fmt.Sprintf("**Results:** Found %d records\n", len(r.Rows)))
		b.WriteString("```json\n")
		head := r.Rows
		if len(head) > fallbackRecords {
			head = head[:fallbackRecords]
		}
		records := make([]map[string]any, 0, len(head))
		for _, row := range head {
			records = append(records, record(r.Columns, row))
		}
		raw, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			raw = []byte(fmt.Sprint(records))
		}
		b.Write(raw)
		if len(r.Rows) > fallbackRecords {
			b.WriteString(fmt.Sprintf("\n... and %d more records", len(r.Rows)-fallbackRecords))
		}
		b.WriteString("\n```\n")
	}
	if r.SQL != "" {
		b.WriteString("\n**SQL Query:**\n```sql\n" + r.SQL + "\n```")
	}
	return b.String()
}

func record(columns []string, row []any) map[string]any {
	out := make(map[string]any, len(row))
	for i, value := range row {
		name := fmt.Sprintf("column_%d", i+1)
		if i < len(columns) {
			name = columns[i]
		}
		if raw, ok := value.([]byte); ok {
			value = string(raw)
		}
		out[name] = value
	}
	return out
}
