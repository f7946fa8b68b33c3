// Package analyzer extracts structured signal from a free-text question.
package analyzer

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

type QuestionType string

const (
	Selection   QuestionType = "selection"
	Counting    QuestionType = "counting"
	Aggregation QuestionType = "aggregation"
	Temporal    QuestionType = "temporal"
	Spatial     QuestionType = "spatial"
	Explanatory QuestionType = "explanatory"
	Inquiry     QuestionType = "inquiry"
	Statement   QuestionType = "statement"
)

type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
)

type NumberKind string

const (
	Integer NumberKind = "integer"
	Decimal NumberKind = "decimal"
	Word    NumberKind = "word"
)

type TimeReference struct {
	HasTimeReference bool       `json:"has_time_reference"`
	Expressions      []string   `json:"time_expressions"`
	DaysAgo          *int       `json:"relative_days,omitempty"`
	ResolvedDate     *time.Time `json:"calculated_date,omitempty"`
	ExplicitDates    []string   `json:"explicit_dates"`
}

type PhraseMatch struct {
	Phrase   string `json:"phrase"`
	Operator string `json:"operator"`
}

type Number struct {
	Value float64    `json:"value"`
	Text  string     `json:"text"`
	Kind  NumberKind `json:"type"`
}

type JoinHint struct {
	Left  string `json:"left"`
	Right string `json:"right"`
	Join  string `json:"join"`
}

// Analysis is built once per question and not modified afterwards.
type Analysis struct {
	Keywords      []string            `json:"keywords"`
	Entities      []string            `json:"entities"`
	Time          TimeReference       `json:"time_references"`
	Aggregations  []PhraseMatch       `json:"aggregations"`
	Comparisons   []PhraseMatch       `json:"comparisons"`
	Numbers       []Number            `json:"numbers"`
	BusinessTerms map[string][]string `json:"business_terms"`
	QuestionType  QuestionType        `json:"question_type"`
	Complexity    Complexity          `json:"complexity"`
	Joins         []JoinHint          `json:"potential_joins"`
	Context       map[string]any      `json:"context,omitempty"`
}

// Terms returns keywords followed by entities, the input the schema matcher ranks against.
func (a Analysis) Terms() []string {
	terms := make([]string, 0, len(a.Keywords)+len(a.Entities))
	terms = append(terms, a.Keywords...)
	return append(terms, a.Entities...)
}

type Analyzer struct {
	now func() time.Time
}

type Option func(*Analyzer)

// WithClock fixes the reference time used to resolve relative expressions.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

func New(opts ...Option) *Analyzer {
	a := &Analyzer{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze never fails. A sub-extractor that panics leaves its field at the zero value.
func (a *Analyzer) Analyze(question string) Analysis {
	return a.AnalyzeWithContext(question, nil)
}

// AnalyzeWithContext is Analyze with caller-supplied context attached to the
// result. An empty context is left off.
func (a *Analyzer) AnalyzeWithContext(question string, context map[string]any) Analysis {
	lower := strings.ToLower(question)
	result := Analysis{
		Keywords:      []string{},
		Entities:      []string{},
		Time:          TimeReference{Expressions: []string{}, ExplicitDates: []string{}},
		Aggregations:  []PhraseMatch{},
		Comparisons:   []PhraseMatch{},
		Numbers:       []Number{},
		BusinessTerms: map[string][]string{},
		QuestionType:  Statement,
		Complexity:    Simple,
		Joins:         []JoinHint{},
	}

	guard(func() { result.Keywords = extractKeywords(lower) })
	guard(func() { result.BusinessTerms = extractBusinessTerms(lower) })
	guard(func() { result.Entities = extractEntities(question, lower) })
	guard(func() { result.Time = extractTime(question, lower, a.now()) })
	guard(func() { result.Aggregations = matchPhrases(lower, aggregations) })
	guard(func() { result.Comparisons = matchPhrases(lower, comparisons) })
	guard(func() { result.Numbers = extractNumbers(lower) })
	guard(func() { result.QuestionType = classifyQuestion(lower) })
	guard(func() { result.Complexity = scoreComplexity(lower, result) })
	guard(func() { result.Joins = inferJoins(result.BusinessTerms) })
	if len(context) > 0 {
		result.Context = context
	}
	return result
}

func guard(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

func extractKeywords(lower string) []string {
	keywords := []string{}
	for _, word := range wordPattern.FindAllString(lower, -1) {
		if len(word) <= 2 {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		keywords = append(keywords, word)
	}
	return keywords
}

func extractEntities(original, lower string) []string {
	seen := map[string]struct{}{}
	entities := []string{}
	add := func(value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if _, ok := seen[value]; ok {
			return
		}
		seen[value] = struct{}{}
		entities = append(entities, value)
	}

	for _, word := range capitalizedPattern.FindAllString(original, -1) {
		add(word)
	}
	for _, pattern := range []*regexp.Regexp{doubleQuoted, singleQuoted} {
		for _, match := range pattern.FindAllStringSubmatch(original, -1) {
			add(match[1])
		}
	}
	for _, c := range concepts {
		for i, p := range c.patterns {
			if p.MatchString(lower) {
				add(c.synonyms[i])
			}
		}
	}
	return entities
}

func extractBusinessTerms(lower string) map[string][]string {
	terms := map[string][]string{}
	for _, c := range concepts {
		for i, p := range c.patterns {
			if p.MatchString(lower) {
				terms[c.name] = append(terms[c.name], c.synonyms[i])
			}
		}
	}
	return terms
}

func extractTime(original, lower string, now time.Time) TimeReference {
	ref := TimeReference{Expressions: []string{}, ExplicitDates: []string{}}
	for _, rt := range relativeTimes {
		if !rt.pattern.MatchString(lower) {
			continue
		}
		ref.HasTimeReference = true
		ref.Expressions = append(ref.Expressions, rt.phrase)
		// The last matching phrase sets the resolved date.
		days := rt.daysAgo
		resolved := now.AddDate(0, 0, -days)
		ref.DaysAgo = &days
		ref.ResolvedDate = &resolved
	}
	for _, p := range datePatterns {
		for _, match := range p.FindAllString(original, -1) {
			ref.HasTimeReference = true
			ref.ExplicitDates = append(ref.ExplicitDates, match)
		}
	}
	return ref
}

func matchPhrases(lower string, table []phraseOperator) []PhraseMatch {
	matches := []PhraseMatch{}
	for _, entry := range table {
		if entry.pattern.MatchString(lower) {
			matches = append(matches, PhraseMatch{Phrase: entry.phrase, Operator: entry.operator})
		}
	}
	return matches
}

func extractNumbers(lower string) []Number {
	numbers := []Number{}
	for _, literal := range numericPattern.FindAllString(lower, -1) {
		value, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			continue
		}
		kind := Integer
		if strings.Contains(literal, ".") {
			kind = Decimal
		}
		numbers = append(numbers, Number{Value: value, Text: literal, Kind: kind})
	}
	for i, p := range spelledPatterns {
		if p.MatchString(lower) {
			numbers = append(numbers, Number{Value: spelledNumbers[i].value, Text: spelledNumbers[i].word, Kind: Word})
		}
	}
	return numbers
}

func classifyQuestion(lower string) QuestionType {
	for _, rule := range questionRules {
		if rule.pattern.MatchString(lower) {
			return rule.kind
		}
	}
	if strings.Contains(lower, "?") {
		return Inquiry
	}
	return Statement
}

func scoreComplexity(lower string, a Analysis) Complexity {
	score := len(a.BusinessTerms)
	if len(a.Time.Expressions) > 0 {
		score++
	}
	if len(a.Aggregations) > 0 {
		score++
	}
	if len(a.Comparisons) > 0 {
		score++
	}
	if len(strings.Fields(lower)) > 15 {
		score++
	}
	switch {
	case score <= 2:
		return Simple
	case score <= 4:
		return Moderate
	default:
		return Complex
	}
}

func inferJoins(terms map[string][]string) []JoinHint {
	joins := []JoinHint{}
	for _, pair := range conceptJoins {
		_, left := terms[pair.left]
		_, right := terms[pair.right]
		if left && right {
			joins = append(joins, JoinHint{Left: pair.left, Right: pair.right, Join: pair.join})
		}
	}
	return joins
}
