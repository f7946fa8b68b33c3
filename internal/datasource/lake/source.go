// Package lake answers questions over parquet tables kept in an object store,
// querying them through an embedded DuckDB.
package lake

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/nldbquery/nldbquery/internal/datasource"
	"github.com/nldbquery/nldbquery/internal/schema"
	"github.com/nldbquery/nldbquery/internal/storage"
)

// Source exposes every table directory below the store prefix as a view.
type Source struct {
	name     string
	location string
	store    storage.ObjectStore
	now      func() time.Time
}

func New(name, location string, store storage.ObjectStore) (*Source, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("lake source name is required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &Source{
		name:     name,
		location: location,
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Source) Info() datasource.Info {
	return datasource.Info{Name: s.name, Dialect: string(datasource.DuckDB), URL: s.location}
}

func (s *Source) Execute(ctx context.Context, sqlText string, maxRows int) (datasource.Rows, error) {
	text := datasource.StripTrailingSemicolons(sqlText)
	if text == "" {
		return datasource.Rows{}, fmt.Errorf("sql is required")
	}
	// One extra row tells a full page apart from a truncated one.
	if maxRows > 0 {
		text = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", text, maxRows+1)
	}

	start := time.Now()
	var result datasource.Rows
	err := s.withViews(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, text)
		if err != nil {
			return fmt.Errorf("execute query: %w", err)
		}
		defer func() { _ = rows.Close() }()

		columns, values, truncated, err := datasource.ScanRows(rows, maxRows)
		if err != nil {
			return err
		}
		result = datasource.Rows{Columns: columns, Rows: values, Truncated: truncated}
		return nil
	})
	if err != nil {
		return datasource.Rows{}, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (s *Source) Explain(ctx context.Context, sqlText string) (datasource.Plan, error) {
	text := datasource.StripTrailingSemicolons(sqlText)
	if text == "" {
		return datasource.Plan{}, fmt.Errorf("sql is required")
	}
	var plan datasource.Plan
	err := s.withViews(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, "EXPLAIN "+text)
		if err != nil {
			return fmt.Errorf("explain query: %w", err)
		}
		defer func() { _ = rows.Close() }()

		columns, values, _, err := datasource.ScanRows(rows, 0)
		if err != nil {
			return err
		}
		plan = datasource.Plan{Dialect: string(datasource.DuckDB), Format: "table", Columns: columns, Rows: values}
		return nil
	})
	return plan, err
}

// DiscoverSchema reads the footer of the first parquet file of every table.
func (s *Source) DiscoverSchema(ctx context.Context) (schema.Snapshot, error) {
	grouped, err := s.tables(ctx)
	if err != nil {
		return schema.Snapshot{}, err
	}
	tables := make([]schema.Table, 0, len(grouped))
	for _, name := range storage.TableNames(grouped) {
		first := grouped[name][0]
		columns, err := s.readColumns(ctx, first.Key)
		if err != nil {
			return schema.Snapshot{}, fmt.Errorf("read schema of table %q: %w", name, err)
		}
		tables = append(tables, schema.Table{
			Name:        name,
			Columns:     columns,
			PrimaryKey:  []string{},
			ForeignKeys: []schema.ForeignKey{},
		})
	}
	return schema.NewSnapshot(s.name, tables, nil, s.now()), nil
}

func (s *Source) Ping(ctx context.Context) error {
	if _, err := s.store.List(ctx, ""); err != nil {
		return fmt.Errorf("list lake objects: %w", err)
	}
	return nil
}

func (s *Source) Close() error {
	return nil
}

func (s *Source) tables(ctx context.Context) (map[string][]storage.ObjectInfo, error) {
	objects, err := s.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list lake objects: %w", err)
	}
	grouped := storage.GroupByTable(objects)
	if len(grouped) == 0 {
		return nil, fmt.Errorf("no parquet tables found in %s", s.location)
	}
	return grouped, nil
}

// withViews downloads every table into a scratch directory and hands fn an
// in-memory DuckDB with one read_parquet view per table.
func (s *Source) withViews(ctx context.Context, fn func(db *sql.DB) error) error {
	grouped, err := s.tables(ctx)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", "nldb-lake-")
	if err != nil {
		return fmt.Errorf("create query temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPaths := map[string][]string{}
	for _, table := range storage.TableNames(grouped) {
		for index, file := range grouped[table] {
			localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", table, index))
			if err := s.download(ctx, file.Key, localPath); err != nil {
				return err
			}
			localPaths[table] = append(localPaths[table], localPath)
		}
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	for table, paths := range localPaths {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(table), quoteStringArray(paths))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			return fmt.Errorf("create view for table %q: %w", table, err)
		}
	}
	return fn(db)
}

func (s *Source) download(ctx context.Context, key, localPath string) error {
	reader, err := s.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	if err := writeFile(localPath, reader); err != nil {
		_ = reader.Close()
		return fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	if err := reader.Close(); err != nil {
		return fmt.Errorf("close object %q: %w", key, err)
	}
	return nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
