package schema

import (
	"sort"
	"strings"
)

const maxRankedTables = 5

type RankedTable struct {
	Table
	Score           int      `json:"relevance_score"`
	MatchingColumns []Column `json:"matching_columns"`
}

type Ranked struct {
	Tables           []RankedTable  `json:"tables"`
	Relationships    []Relationship `json:"relationships"`
	TotalTables      int            `json:"total_tables_in_db"`
	SchemaConfidence float64        `json:"schema_confidence"`
}

func (r Ranked) TableNames() []string {
	names := make([]string, 0, len(r.Tables))
	for _, t := range r.Tables {
		names = append(names, t.Name)
	}
	return names
}

// Match ranks tables by substring overlap with the question terms. A table scores 2 when its
// name contains or is contained by any term and 1 per matching column. Only positive scores
// are kept, ties keep discovery order, and at most five tables are returned.
func Match(terms []string, snapshot Snapshot) Ranked {
	normalized := normalizeTerms(terms)

	ranked := []RankedTable{}
	for _, table := range snapshot.Tables {
		score := 0
		if overlapsAny(strings.ToLower(table.Name), normalized) {
			score += 2
		}
		matching := []Column{}
		for _, column := range table.Columns {
			if overlapsAny(strings.ToLower(column.Name), normalized) {
				score++
				matching = append(matching, column)
			}
		}
		if score > 0 {
			ranked = append(ranked, RankedTable{Table: table, Score: score, MatchingColumns: matching})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > maxRankedTables {
		ranked = ranked[:maxRankedTables]
	}

	selected := make(map[string]struct{}, len(ranked))
	for _, t := range ranked {
		selected[t.Name] = struct{}{}
	}
	relationships := []Relationship{}
	for _, rel := range snapshot.Relationships {
		_, source := selected[rel.SourceTable]
		_, target := selected[rel.TargetTable]
		if source && target {
			relationships = append(relationships, rel)
		}
	}

	return Ranked{
		Tables:           ranked,
		Relationships:    relationships,
		TotalTables:      len(snapshot.Tables),
		SchemaConfidence: min(1.0, float64(len(ranked))/3.0),
	}
}

func normalizeTerms(terms []string) []string {
	seen := map[string]struct{}{}
	normalized := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		normalized = append(normalized, term)
	}
	return normalized
}

func overlapsAny(name string, terms []string) bool {
	if name == "" {
		return false
	}
	for _, term := range terms {
		if strings.Contains(name, term) || strings.Contains(term, name) {
			return true
		}
	}
	return false
}
