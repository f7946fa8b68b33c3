package safety

import "strings"

var sqlVocabulary = []string{"select", "from", "where", "join", "group by", "having", "order by", "limit"}

// SyntaxReport is the soft signal attached to synthesized SQL. It never blocks execution.
type SyntaxReport struct {
	Valid      bool     `json:"is_valid"`
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues"`
}

// CheckSyntax starts at 1.0, subtracts 0.2 for a missing FROM on anything other than a bare
// SELECT, subtracts 0.1 when fewer than two vocabulary keywords appear, adds 0.1 when more
// than five do, and drops by 0.3 (floored at 0.3) once any issue is recorded.
func CheckSyntax(sql string) SyntaxReport {
	report := SyntaxReport{Valid: true, Confidence: 1.0, Issues: []string{}}
	lower := strings.ToLower(strings.TrimSpace(sql))

	if !strings.HasPrefix(lower, "select") {
		report.Valid = false
		report.Issues = append(report.Issues, "Query must start with SELECT")
	}
	if strings.Count(lower, "(") != strings.Count(lower, ")") {
		report.Valid = false
		report.Issues = append(report.Issues, "Unbalanced parentheses")
	}
	if !strings.Contains(lower, "from") && !strings.HasPrefix(lower, "select ") {
		report.Issues = append(report.Issues, "Missing FROM clause")
		report.Confidence -= 0.2
	}

	found := 0
	for _, keyword := range sqlVocabulary {
		if strings.Contains(lower, keyword) {
			found++
		}
	}
	switch {
	case found < 2:
		report.Confidence -= 0.1
	case found > 5:
		report.Confidence = min(1.0, report.Confidence+0.1)
	}

	if len(report.Issues) > 0 {
		report.Confidence = max(0.3, report.Confidence-0.3)
	}
	return report
}
