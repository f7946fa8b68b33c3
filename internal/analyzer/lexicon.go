package analyzer

import "regexp"

type phraseOperator struct {
	phrase   string
	operator string
	pattern  *regexp.Regexp
}

type relativeTime struct {
	phrase  string
	daysAgo int
	pattern *regexp.Regexp
}

type concept struct {
	name     string
	synonyms []string
	patterns []*regexp.Regexp
}

type conceptJoin struct {
	left  string
	right string
	join  string
}

var stopwords = toSet(
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "he", "in", "is", "it", "its", "of", "on", "that", "the",
	"to", "was", "will", "with", "this", "these", "those", "what",
	"when", "where", "who", "why", "how", "can", "could", "would",
	"should", "do", "does", "did", "have", "had", "having",
)

var concepts = []concept{
	newConcept("customers", "customer", "client", "user", "account"),
	newConcept("sales", "sale", "order", "purchase", "transaction", "revenue"),
	newConcept("products", "product", "item", "sku", "inventory"),
	newConcept("employees", "employee", "staff", "worker", "person"),
	newConcept("time", "date", "time", "period", "month", "quarter", "year"),
	newConcept("amount", "amount", "price", "cost", "value", "total", "sum"),
	newConcept("count", "count", "number", "quantity", "how many"),
}

var relativeTimes = []relativeTime{
	newRelativeTime("today", 0),
	newRelativeTime("yesterday", 1),
	newRelativeTime("this week", 7),
	newRelativeTime("last week", 14),
	newRelativeTime("this month", 30),
	newRelativeTime("last month", 60),
	newRelativeTime("this quarter", 90),
	newRelativeTime("last quarter", 180),
	newRelativeTime("this year", 365),
	newRelativeTime("last year", 730),
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\b`),
	regexp.MustCompile(`\b\d{2}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`(?i)\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}\b`),
}

var aggregations = []phraseOperator{
	newPhraseOperator("total", "SUM"),
	newPhraseOperator("sum", "SUM"),
	newPhraseOperator("average", "AVG"),
	newPhraseOperator("avg", "AVG"),
	newPhraseOperator("mean", "AVG"),
	newPhraseOperator("count", "COUNT"),
	newPhraseOperator("number of", "COUNT"),
	newPhraseOperator("how many", "COUNT"),
	newPhraseOperator("maximum", "MAX"),
	newPhraseOperator("max", "MAX"),
	newPhraseOperator("minimum", "MIN"),
	newPhraseOperator("min", "MIN"),
	newPhraseOperator("highest", "MAX"),
	newPhraseOperator("lowest", "MIN"),
}

var comparisons = []phraseOperator{
	newPhraseOperator("greater than", ">"),
	newPhraseOperator("more than", ">"),
	newPhraseOperator("above", ">"),
	newPhraseOperator("over", ">"),
	newPhraseOperator("less than", "<"),
	newPhraseOperator("below", "<"),
	newPhraseOperator("under", "<"),
	newPhraseOperator("equal to", "="),
	newPhraseOperator("equals", "="),
	newPhraseOperator("is", "="),
	newPhraseOperator("between", "BETWEEN"),
	newPhraseOperator("from", "BETWEEN"),
	newPhraseOperator("to", "BETWEEN"),
}

var spelledNumbers = []struct {
	word  string
	value float64
}{
	{"one", 1}, {"two", 2}, {"three", 3}, {"four", 4}, {"five", 5},
	{"six", 6}, {"seven", 7}, {"eight", 8}, {"nine", 9}, {"ten", 10},
	{"twenty", 20}, {"thirty", 30}, {"fifty", 50}, {"hundred", 100},
}

var conceptJoins = []conceptJoin{
	{left: "customers", right: "sales", join: "customer_orders"},
	{left: "customers", right: "products", join: "customer_purchases"},
	{left: "sales", right: "products", join: "order_items"},
	{left: "employees", right: "sales", join: "sales_rep"},
	{left: "products", right: "inventory", join: "product_stock"},
}

var (
	wordPattern        = regexp.MustCompile(`\b\w+\b`)
	capitalizedPattern = regexp.MustCompile(`\b[A-Z][a-z]+\b`)
	doubleQuoted       = regexp.MustCompile(`"([^"]*)"`)
	singleQuoted       = regexp.MustCompile(`'([^']*)'`)
	numericPattern     = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	spelledPatterns    = compileSpelled()
)

type questionRule struct {
	kind    QuestionType
	pattern *regexp.Regexp
}

// Evaluated in order; the first matching rule wins.
var questionRules = []questionRule{
	{kind: Selection, pattern: wholeWords("what", "which", "who")},
	{kind: Counting, pattern: wholeWords("how many", "count", "number")},
	{kind: Aggregation, pattern: wholeWords("total", "sum", "average", "mean")},
	{kind: Temporal, pattern: wholeWords("when", "time", "date")},
	{kind: Spatial, pattern: wholeWords("where", "location")},
	{kind: Explanatory, pattern: wholeWords("why", "how", "explain")},
}

func newConcept(name string, synonyms ...string) concept {
	c := concept{name: name, synonyms: synonyms}
	for _, synonym := range synonyms {
		// Leading boundary only, so "orders" and "customers" still hit.
		c.patterns = append(c.patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(synonym)))
	}
	return c
}

func newRelativeTime(phrase string, daysAgo int) relativeTime {
	return relativeTime{phrase: phrase, daysAgo: daysAgo, pattern: wholeWords(phrase)}
}

func newPhraseOperator(phrase, operator string) phraseOperator {
	return phraseOperator{phrase: phrase, operator: operator, pattern: wholeWords(phrase)}
}

func wholeWords(phrases ...string) *regexp.Regexp {
	expr := ""
	for i, phrase := range phrases {
		if i > 0 {
			expr += "|"
		}
		expr += regexp.QuoteMeta(phrase)
	}
	return regexp.MustCompile(`\b(?:` + expr + `)\b`)
}

func compileSpelled() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(spelledNumbers))
	for i, n := range spelledNumbers {
		patterns[i] = wholeWords(n.word)
	}
	return patterns
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
