package insight

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsightsSingleRowTotal(t *testing.T) {
	r := Result{Columns: []string{"total_sales"}, Rows: [][]any{{48231.5}}}

	got := Insights(r)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "total")
	assert.Contains(t, got[0], "48,231.50")
}

func TestInsightsSingleRowPicksFirstAggregateColumn(t *testing.T) {
	r := Result{
		Columns: []string{"region", "avg_price", "order_count"},
		Rows:    [][]any{{"north", 12.5, int64(1200)}},
	}

	got := Insights(r)
	require.Len(t, got, 1)
	assert.Equal(t, "• Average avg_price: 12.50", got[0])
}

func TestInsightsSingleRowDecimalText(t *testing.T) {
	r := Result{Columns: []string{"Total_Revenue"}, Rows: [][]any{{[]byte("1234567.891")}}}

	assert.Equal(t, []string{"• Total total_revenue: 1,234,567.89"}, Insights(r))
}

func TestInsightsSingleRowWithoutAggregate(t *testing.T) {
	r := Result{Columns: []string{"name", "price"}, Rows: [][]any{{"widget", 9.99}}}
	assert.Empty(t, Insights(r))
}

func TestInsightsMultiRowDateRange(t *testing.T) {
	r := Result{
		Columns: []string{"id", "order_date"},
		Rows: [][]any{
			{int64(1), time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)},
			{int64(2), nil},
			{int64(3), time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)},
		},
	}

	assert.Equal(t, []string{
		"• Dataset contains 3 records",
		"• Date range: 2024-01-15 08:30 to 2024-03-02 10:00",
	}, Insights(r))
}

func TestFormatSections(t *testing.T) {
	f := NewFormatter(nil)
	out := f.Format(Result{
		Question:      "What are total sales?",
		SQL:           "SELECT SUM(amount) AS total_sales FROM orders;",
		Explanation:   "Sums every order amount.",
		Confidence:    0.9,
		Columns:       []string{"total_sales"},
		Rows:          [][]any{{48231.5}},
		ExecutionTime: 42 * time.Millisecond,
	})

	assert.Contains(t, out, "**Answer:** Sums every order amount.")
	assert.Contains(t, out, "**Summary:** Found 1 result (executed in 42ms)")
	assert.Contains(t, out, "**Results:**")
	assert.Contains(t, out, "**Key Insights:**\n• Total total_sales: 48,231.50")
	assert.NotContains(t, out, "moderate confidence")
	assert.Less(t, strings.Index(out, "**Answer:**"), strings.Index(out, "**Summary:**"))
	assert.Less(t, strings.Index(out, "**Results:**"), strings.Index(out, "**Key Insights:**"))
}

func TestFormatSummaryPluralAndSeconds(t *testing.T) {
	f := NewFormatter(nil)
	rows := make([][]any, 1500)
	for i := range rows {
		rows[i] = []any{i}
	}
	out := f.Format(Result{
		Columns:       []string{"n"},
		Rows:          rows,
		Confidence:    0.5,
		ExecutionTime: 2346 * time.Millisecond,
	})

	assert.Contains(t, out, "**Summary:** Found 1,500 results (executed in 2.35s)")
	assert.Contains(t, out, "*Showing first 100 of 1500 results*")
	assert.True(t, strings.HasSuffix(out, caveat))
}

func TestFormatCells(t *testing.T) {
	long := strings.Repeat("x", 60)
	cases := []struct {
		in   any
		want string
	}{
		{nil, "N/A"},
		{long, strings.Repeat("x", 47) + "..."},
		{"short", "short"},
		{1234567, "1,234,567"},
		{int64(-9876), "-9,876"},
		{3.14159, "3.14"},
		{true, "true"},
		{time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC), "2024-05-06 07:08"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatCell(tc.in))
	}
}

func TestFormatTableLayout(t *testing.T) {
	out := table(Result{
		Columns: []string{"name", "qty"},
		Rows:    [][]any{{"apple", 1200}, {"kiwi", nil}},
	})

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "name")
	assert.Contains(t, lines[0], "|")
	assert.Contains(t, lines[2], "1,200")
	assert.Contains(t, lines[3], "N/A")
}

func TestFormatNoResults(t *testing.T) {
	f := NewFormatter(nil)
	question := "Which customers ordered in 1999?"
	out := f.Format(Result{
		Question:    question,
		SQL:         "SELECT * FROM orders WHERE year = 1999;",
		Explanation: "Filters orders by year.",
	})

	assert.Contains(t, out, "**No results found for:** "+question)
	assert.Contains(t, out, "**Explanation:** Filters orders by year.")
	assert.Contains(t, out, "```sql\nSELECT * FROM orders WHERE year = 1999;\n```")

	withoutSQL := f.Format(Result{Question: question})
	assert.Contains(t, withoutSQL, question)
	assert.NotContains(t, withoutSQL, "```sql")
}

func TestFallbackDump(t *testing.T) {
	rows := make([][]any, 7)
	for i := range rows {
		rows[i] = []any{i, []byte("v")}
	}
	out := fallback(Result{
		Question:    "list things",
		Explanation: "Lists things.",
		SQL:         "SELECT * FROM things;",
		Columns:     []string{"id", "label"},
		Rows:        rows,
	})

	assert.Contains(t, out, "**Question:** list things")
	assert.Contains(t, out, "**Results:** Found 7 records")
	assert.Contains(t, out, `"label": "v"`)
	assert.Contains(t, out, "... and 2 more records")
	assert.Contains(t, out, "**SQL Query:**\n```sql\nSELECT * FROM things;\n```")
	assert.Equal(t, 5, strings.Count(out, `"id"`))
}

func TestFormatError(t *testing.T) {
	f := NewFormatter(nil)
	assert.Equal(t, "**Error:** boom\n", f.FormatError("boom", nil))
	assert.Equal(t,
		"**Error:** boom\n\n**Suggestions:**\n• retry\n• rephrase\n",
		f.FormatError("boom", []string{"retry", "rephrase"}),
	)
}

func TestFormatExplanation(t *testing.T) {
	f := NewFormatter(nil)
	out := f.FormatExplanation(Explanation{
		SQL:        "SELECT 1;",
		Text:       "Returns one.",
		Confidence: 0.65,
		Tables:     []string{"orders", "customers"},
	})

	assert.Equal(t,
		"**How this query works:**\nReturns one.\n"+
			"\n**SQL Query:**\n```sql\nSELECT 1;\n```\n"+
			"\n**Confidence:** Moderate (65.0%)\n"+
			"\n**Tables used:** orders, customers",
		out,
	)
	assert.Contains(t, f.FormatExplanation(Explanation{Confidence: 0.85}), "High (85.0%)")
	assert.Contains(t, f.FormatExplanation(Explanation{Confidence: 0.2}), "Low (20.0%)")
}
