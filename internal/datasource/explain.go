package datasource

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"
)

// Explain returns the plan the database would use for sqlText without running it.
func (s *SQLSource) Explain(ctx context.Context, sqlText string) (Plan, error) {
	text := StripTrailingSemicolons(sqlText)
	if text == "" {
		return Plan{}, fmt.Errorf("sql is required")
	}
	switch s.dialect {
	case Postgres:
		return s.documentPlan(ctx, "EXPLAIN (FORMAT JSON) "+text, "json")
	case MySQL:
		return s.documentPlan(ctx, "EXPLAIN FORMAT=JSON "+text, "json")
	case SQLServer:
		return s.showplanXML(ctx, text)
	case SQLite:
		return s.tabularPlan(ctx, "EXPLAIN QUERY PLAN "+text)
	default:
		return s.tabularPlan(ctx, "EXPLAIN "+text)
	}
}

func (s *SQLSource) documentPlan(ctx context.Context, query, format string) (Plan, error) {
	var raw string
	if err := s.db.QueryRowContext(ctx, query).Scan(&raw); err != nil {
		return Plan{}, fmt.Errorf("explain query: %w", err)
	}
	return Plan{Dialect: string(s.dialect), Format: format, Raw: raw}, nil
}

func (s *SQLSource) tabularPlan(ctx context.Context, query string) (Plan, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return Plan{}, fmt.Errorf("explain query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, values, _, err := ScanRows(rows, 0)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Dialect: string(s.dialect), Format: "table", Columns: columns, Rows: values}, nil
}

// showplanXML needs SHOWPLAN_XML toggled on the same connection as the query.
func (s *SQLSource) showplanXML(ctx context.Context, query string) (Plan, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("reserve connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "SET SHOWPLAN_XML ON"); err != nil {
		return Plan{}, fmt.Errorf("enable showplan: %w", err)
	}
	defer func() {
		resetCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(resetCtx, "SET SHOWPLAN_XML OFF"); err != nil {
			// A connection still in showplan mode must not go back to the pool.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
	}()

	var raw string
	if err := conn.QueryRowContext(ctx, query).Scan(&raw); err != nil {
		return Plan{}, fmt.Errorf("explain query: %w", err)
	}
	return Plan{Dialect: string(s.dialect), Format: "xml", Raw: raw}, nil
}
