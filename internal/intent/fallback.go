package intent

import (
	"sort"
	"strings"
)

type patternSet struct {
	intent   Intent
	patterns []string
}

// Ordered by enumeration order so ties resolve deterministically.
var fallbackPatterns = []patternSet{
	{Aggregation, []string{"total", "sum", "average", "count", "how many", "maximum", "minimum", "avg", "max", "min"}},
	{Comparison, []string{"top", "bottom", "highest", "lowest", "best", "worst", "greater than", "less than", "compare", "versus"}},
	{TrendAnalysis, []string{"over time", "trend", "growth", "change", "increase", "decrease", "by month", "by year", "quarterly"}},
	{Filtering, []string{"where", "filter", "specific", "only", "exclude", "between", "during", "within"}},
	{Joining, []string{"customers and orders", "products and sales", "related", "associated with", "linked to"}},
	{Reporting, []string{"report", "summary", "overview", "dashboard", "breakdown", "analysis by"}},
	{Metadata, []string{"tables", "columns", "schema", "structure", "what data", "available", "database"}},
}

var clearPatterns = map[Intent][]string{
	Aggregation:   {"total", "sum", "count", "average"},
	Comparison:    {"top", "best", "highest", "maximum"},
	TrendAnalysis: {"over time", "trend", "monthly", "yearly"},
	Filtering:     {"where", "specific", "only", "between"},
}

var alternativePatterns = []patternSet{
	{DataRetrieval, []string{"show", "get", "find", "list", "display"}},
	{Aggregation, []string{"total", "sum", "count", "average", "aggregate"}},
	{Comparison, []string{"compare", "versus", "top", "bottom", "rank"}},
	{TrendAnalysis, []string{"trend", "over time", "change", "growth"}},
	{Filtering, []string{"where", "filter", "specific", "criteria"}},
	{Reporting, []string{"report", "summary", "analysis", "breakdown"}},
	{Analytics, []string{"insight", "pattern", "correlation", "analysis"}},
}

// Fallback scores every intent by literal substring hits in the lower-cased question
// and returns the best intent with its score. No hits yields data_retrieval with score 0.
func Fallback(question string) (Intent, int) {
	lower := strings.ToLower(question)
	best, bestScore := DataRetrieval, 0
	for _, set := range fallbackPatterns {
		if score := countSubstrings(lower, set.patterns); score > bestScore {
			best, bestScore = set.intent, score
		}
	}
	return best, bestScore
}

// Alternatives returns up to three intents ranked by keyword hits.
func Alternatives(question string) []Intent {
	lower := strings.ToLower(question)
	type scored struct {
		intent Intent
		score  int
	}
	var candidates []scored
	for _, set := range alternativePatterns {
		if score := countSubstrings(lower, set.patterns); score > 0 {
			candidates = append(candidates, scored{set.intent, score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	alternatives := []Intent{}
	for i := 0; i < len(candidates) && i < 3; i++ {
		alternatives = append(alternatives, candidates[i].intent)
	}
	return alternatives
}

func countSubstrings(lower string, patterns []string) int {
	count := 0
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			count++
		}
	}
	return count
}
