package lake

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/nldbquery/nldbquery/internal/storage"
)

type orderRow struct {
	ID       int64   `parquet:"id"`
	Customer string  `parquet:"customer"`
	Total    float64 `parquet:"total"`
	Note     *string `parquet:"note,optional"`
}

type customerRow struct {
	Name string `parquet:"name"`
	City string `parquet:"city"`
}

func newTestSource(t *testing.T) (*Source, *memoryStore) {
	t.Helper()
	store := &memoryStore{objects: map[string][]byte{
		"orders/part-0.parquet":    buildParquet(t, []orderRow{{ID: 1, Customer: "ada", Total: 10.5}, {ID: 2, Customer: "ada", Total: 4.5}}),
		"orders/part-1.parquet":    buildParquet(t, []orderRow{{ID: 3, Customer: "grace", Total: 20}}),
		"customers/part-0.parquet": buildParquet(t, []customerRow{{Name: "ada", City: "London"}, {Name: "grace", City: "Arlington"}}),
		"README.md":                []byte("not a table"),
	}}
	source, err := New("lake", "s3://bucket/lake", store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return source, store
}

func TestExecuteJoinsViewsAcrossFiles(t *testing.T) {
	source, _ := newTestSource(t)

	rows, err := source.Execute(context.Background(), `SELECT c.city, SUM(o.total) AS total_revenue
FROM orders o JOIN customers c ON c.name = o.customer
GROUP BY c.city ORDER BY total_revenue DESC;`, 100)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(rows.Rows) != 2 || rows.Truncated {
		t.Fatalf("rows = %+v", rows)
	}
	if rows.Rows[0][0] != "Arlington" || rows.Rows[0][1] != float64(20) {
		t.Fatalf("first row = %#v", rows.Rows[0])
	}
	if strings.Join(rows.Columns, ",") != "city,total_revenue" {
		t.Fatalf("Columns = %v", rows.Columns)
	}
}

func TestExecuteMarksTruncatedResults(t *testing.T) {
	source, _ := newTestSource(t)

	rows, err := source.Execute(context.Background(), "SELECT id FROM orders ORDER BY id", 2)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(rows.Rows) != 2 || !rows.Truncated {
		t.Fatalf("rows = %+v", rows)
	}

	rows, err = source.Execute(context.Background(), "SELECT COUNT(*) AS c FROM orders", 2)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rows.Truncated || rows.Rows[0][0] != int64(3) {
		t.Fatalf("count rows = %+v", rows)
	}
}

func TestDiscoverSchemaReadsParquetFooters(t *testing.T) {
	source, _ := newTestSource(t)

	snapshot, err := source.DiscoverSchema(context.Background())
	if err != nil {
		t.Fatalf("DiscoverSchema() error = %v", err)
	}
	if names := strings.Join(snapshot.TableNames(), ","); names != "customers,orders" {
		t.Fatalf("TableNames() = %s", names)
	}

	orders, _ := snapshot.Table("orders")
	types := map[string]string{}
	nullable := map[string]bool{}
	for _, column := range orders.Columns {
		types[column.Name] = column.Type
		nullable[column.Name] = column.Nullable
	}
	if types["id"] != "BIGINT" || types["customer"] != "VARCHAR" || types["total"] != "DOUBLE" {
		t.Fatalf("column types = %v", types)
	}
	if !nullable["note"] || nullable["id"] {
		t.Fatalf("nullability = %v", nullable)
	}
	if len(snapshot.Relationships) != 0 {
		t.Fatalf("Relationships = %+v", snapshot.Relationships)
	}
}

func TestExplainReturnsPlanRows(t *testing.T) {
	source, _ := newTestSource(t)

	plan, err := source.Explain(context.Background(), "SELECT * FROM orders WHERE total > 5")
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if plan.Dialect != "duckdb" || plan.Format != "table" || len(plan.Rows) == 0 {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestEmptyLakeFails(t *testing.T) {
	source, err := New("lake", "s3://bucket/empty", &memoryStore{objects: map[string][]byte{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := source.Execute(context.Background(), "SELECT 1", 10); err == nil || !strings.Contains(err.Error(), "no parquet tables") {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := source.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestInfo(t *testing.T) {
	source, _ := newTestSource(t)
	info := source.Info()
	if info.Name != "lake" || info.Dialect != "duckdb" || info.URL != "s3://bucket/lake" {
		t.Fatalf("Info() = %+v", info)
	}
}

func buildParquet[T any](t *testing.T, rows []T) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("write parquet rows: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}
	return buf.Bytes()
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) List(context.Context, string) ([]storage.ObjectInfo, error) {
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]storage.ObjectInfo, 0, len(keys))
	for _, key := range keys {
		out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(m.objects[key]))})
	}
	return out, nil
}
