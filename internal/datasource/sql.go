package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nldbquery/nldbquery/internal/schema"
)

// SQLSource is a Source backed by a database/sql handle.
type SQLSource struct {
	name    string
	dialect Dialect
	db      *sql.DB
	url     string
	now     func() time.Time
}

func NewSQLSource(name string, dialect Dialect, db *sql.DB, rawURL string) *SQLSource {
	return &SQLSource{
		name:    name,
		dialect: dialect,
		db:      db,
		url:     rawURL,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQLSource) Info() Info {
	return Info{Name: s.name, Dialect: string(s.dialect), URL: RedactURL(s.url)}
}

func (s *SQLSource) Dialect() Dialect {
	return s.dialect
}

func (s *SQLSource) DB() *sql.DB {
	return s.db
}

// Execute runs sqlText and keeps at most maxRows rows. maxRows <= 0 keeps all.
func (s *SQLSource) Execute(ctx context.Context, sqlText string, maxRows int) (Rows, error) {
	text := StripTrailingSemicolons(sqlText)
	if text == "" {
		return Rows{}, fmt.Errorf("sql is required")
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, text)
	if err != nil {
		return Rows{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, values, truncated, err := ScanRows(rows, maxRows)
	if err != nil {
		return Rows{}, err
	}
	return Rows{Columns: columns, Rows: values, Truncated: truncated, Duration: time.Since(start)}, nil
}

func (s *SQLSource) DiscoverSchema(ctx context.Context) (schema.Snapshot, error) {
	var (
		tables  []schema.Table
		indexes []schema.Index
		err     error
	)
	if s.dialect == SQLite {
		tables, indexes, err = discoverSQLite(ctx, s.db)
	} else {
		queries, ok := catalogQueriesByDialect[s.dialect]
		if !ok {
			return schema.Snapshot{}, fmt.Errorf("schema discovery is not supported for %s", s.dialect)
		}
		tables, indexes, err = discoverCatalog(ctx, s.db, queries)
	}
	if err != nil {
		return schema.Snapshot{}, fmt.Errorf("discover %s schema: %w", s.name, err)
	}
	return schema.NewSnapshot(s.name, tables, indexes, s.now()), nil
}

func (s *SQLSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLSource) Close() error {
	return s.db.Close()
}

// ScanRows reads every row as []any, keeping at most maxRows. The returned flag
// reports whether rows were dropped.
func ScanRows(rows *sql.Rows, maxRows int) ([]string, [][]any, bool, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, false, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if maxRows > 0 && len(resultRows) >= maxRows {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, false, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, resultRows, truncated, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
