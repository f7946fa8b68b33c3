package insight

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	totalWords   = []string{"total", "sum", "count"}
	averageWords = []string{"average", "avg", "mean"}
	dateWords    = []string{"date", "time"}
)

// Insights derives the bullet list shown under "Key Insights". A single-row
// result yields at most one aggregate line; larger results yield the record
// count and, when a date-like column exists, its observed range.
func Insights(r Result) []string {
	switch n := len(r.Rows); {
	case n == 1:
		if line, ok := aggregateInsight(r.Columns, r.Rows[0]); ok {
			return []string{line}
		}
		return nil
	case n > 1:
		out := []string{"• Dataset contains " + countNoun(r.total(), "record")}
		if line, ok := dateRangeInsight(r); ok {
			out = append(out, line)
		}
		return out
	}
	return nil
}

func aggregateInsight(columns []string, row []any) (string, bool) {
	for i, name := range columns {
		if i >= len(row) {
			break
		}
		lower := strings.ToLower(name)
		switch {
		case containsAny(lower, totalWords):
			if text, ok := formatNumber(row[i]); ok {
				return fmt.Sprintf("• Total %s: %s", lower, text), true
			}
		case containsAny(lower, averageWords):
			if f, ok := numericValue(row[i]); ok {
				return fmt.Sprintf("• Average %s: %s", lower, formatDecimal(f)), true
			}
		}
	}
	return "", false
}

func dateRangeInsight(r Result) (string, bool) {
	col := -1
	for i, name := range r.Columns {
		if containsAny(strings.ToLower(name), dateWords) {
			col = i
			break
		}
	}
	if col < 0 {
		return "", false
	}
	var lo, hi any
	for _, row := range r.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		v := row[col]
		if lo == nil || less(v, lo) {
			lo = v
		}
		if hi == nil || less(hi, v) {
			hi = v
		}
	}
	if lo == nil {
		return "", false
	}
	return fmt.Sprintf("• Date range: %s to %s", formatCell(lo), formatCell(hi)), true
}

func less(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Before(tb)
		}
	}
	fa, okA := numericValue(a)
	fb, okB := numericValue(b)
	if okA && okB {
		return fa < fb
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func formatNumber(value any) (string, bool) {
	if n, ok := asInt(value); ok {
		return humanize.Comma(n), true
	}
	if f, ok := numericValue(value); ok {
		return formatDecimal(f), true
	}
	return "", false
}

// numericValue accepts driver decimals delivered as text.
func numericValue(value any) (float64, bool) {
	if f, ok := asFloat(value); ok {
		return f, true
	}
	if n, ok := asInt(value); ok {
		return float64(n), true
	}
	var text string
	switch v := value.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	return f, err == nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
