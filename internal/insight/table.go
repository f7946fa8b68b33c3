package insight

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

const displayTimeLayout = "2006-01-02 15:04"

func table(r Result) string {
	rows := r.Rows
	if len(rows) > maxDisplayRows {
		rows = rows[:maxDisplayRows]
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 1, ' ', tabwriter.Debug)
	header := make([]string, len(r.Columns))
	rule := make([]string, len(r.Columns))
	for i, name := range r.Columns {
		header[i] = elide(name)
		rule[i] = strings.Repeat("-", len(header[i]))
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	fmt.Fprintln(w, strings.Join(rule, "\t"))
	for _, row := range rows {
		cells := make([]string, len(r.Columns))
		for i := range cells {
			if i < len(row) {
				cells[i] = formatCell(row[i])
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	_ = w.Flush()

	out := strings.TrimRight(b.String(), "\n")
	if len(r.Rows) > maxDisplayRows {
		out += fmt.Sprintf("\n\n*Showing first %d of %d results*", maxDisplayRows, len(r.Rows))
	}
	return out
}

func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return "N/A"
	case string:
		return elide(v)
	case []byte:
		return elide(string(v))
	case time.Time:
		return v.Format(displayTimeLayout)
	case bool:
		return strconv.FormatBool(v)
	}
	if f, ok := asFloat(value); ok {
		return formatDecimal(f)
	}
	if n, ok := asInt(value); ok {
		return humanize.Comma(n)
	}
	return elide(fmt.Sprint(value))
}

func elide(s string) string {
	if len([]rune(s)) > maxCellWidth {
		return string([]rune(s)[:maxCellWidth-3]) + "..."
	}
	return s
}

func formatDecimal(f float64) string {
	return humanize.FormatFloat("#,###.##", f)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	return 0, false
}

func asInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	}
	return 0, false
}
