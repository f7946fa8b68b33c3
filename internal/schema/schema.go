// Package schema holds the discovered table inventory of a data source.
package schema

import (
	"fmt"
	"strings"
	"time"
)

type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
}

type ForeignKey struct {
	Name               string   `json:"name,omitempty"`
	ConstrainedColumns []string `json:"constrained_columns"`
	ReferredTable      string   `json:"referred_table"`
	ReferredColumns    []string `json:"referred_columns"`
}

type Table struct {
	Name        string       `json:"name"`
	Schema      string       `json:"schema,omitempty"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

type Relationship struct {
	SourceTable   string   `json:"source_table"`
	TargetTable   string   `json:"target_table"`
	SourceColumns []string `json:"source_columns"`
	TargetColumns []string `json:"target_columns"`
	Constraint    string   `json:"constraint_name,omitempty"`
}

type Index struct {
	Name    string   `json:"name"`
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// Snapshot is read-only once discovered. Relationships must equal DeriveRelationships(Tables).
type Snapshot struct {
	Source        string         `json:"database"`
	Tables        []Table        `json:"tables"`
	Relationships []Relationship `json:"relationships"`
	Indexes       []Index        `json:"indexes"`
	DiscoveredAt  time.Time      `json:"discovered_at"`
}

// NewSnapshot derives relationships from the tables' foreign keys.
func NewSnapshot(source string, tables []Table, indexes []Index, discoveredAt time.Time) Snapshot {
	if tables == nil {
		tables = []Table{}
	}
	if indexes == nil {
		indexes = []Index{}
	}
	return Snapshot{
		Source:        source,
		Tables:        tables,
		Relationships: DeriveRelationships(tables),
		Indexes:       indexes,
		DiscoveredAt:  discoveredAt,
	}
}

func DeriveRelationships(tables []Table) []Relationship {
	relationships := []Relationship{}
	for _, table := range tables {
		for _, fk := range table.ForeignKeys {
			relationships = append(relationships, Relationship{
				SourceTable:   table.Name,
				TargetTable:   fk.ReferredTable,
				SourceColumns: fk.ConstrainedColumns,
				TargetColumns: fk.ReferredColumns,
				Constraint:    fk.Name,
			})
		}
	}
	return relationships
}

// Table looks a table up by case-insensitive name.
func (s Snapshot) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

func (s Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}

// Describe renders a table the way it is presented to the SQL synthesis prompt.
func (t Table) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n", t.Name)
	b.WriteString("Columns:\n")
	for _, c := range t.Columns {
		fmt.Fprintf(&b, "  - %s (%s)", c.Name, c.Type)
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if c.Default != nil {
			fmt.Fprintf(&b, " DEFAULT %s", *c.Default)
		}
		b.WriteString("\n")
	}
	if len(t.PrimaryKey) > 0 {
		fmt.Fprintf(&b, "Primary Key: %s\n", strings.Join(t.PrimaryKey, ", "))
	}
	for _, fk := range t.ForeignKeys {
		fmt.Fprintf(&b, "Foreign Key: %s -> %s(%s)\n",
			strings.Join(fk.ConstrainedColumns, ", "), fk.ReferredTable, strings.Join(fk.ReferredColumns, ", "))
	}
	return b.String()
}

func (r Relationship) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s",
		r.SourceTable, strings.Join(r.SourceColumns, ","), r.TargetTable, strings.Join(r.TargetColumns, ","))
}
