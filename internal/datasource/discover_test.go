package datasource

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestDiscoverSchemaPostgres(t *testing.T) {
	db, mock := newSQLMock(t)
	source := NewSQLSource("primary", Postgres, db, "postgres://app:pw@db/shop")

	mock.ExpectQuery(`FROM information_schema\.columns c`).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "data_type", "is_nullable", "column_default"}).
			AddRow("public", "customers", "id", "integer", "NO", "nextval('customers_id_seq'::regclass)").
			AddRow("public", "customers", "name", "text", "YES", nil).
			AddRow("public", "orders", "id", "integer", "NO", nil).
			AddRow("public", "orders", "customer_id", "integer", "NO", nil).
			AddRow("public", "orders", "total", "numeric", "YES", nil))
	mock.ExpectQuery(`tc\.constraint_type = 'PRIMARY KEY'`).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name"}).
			AddRow("public", "customers", "id").
			AddRow("public", "orders", "id"))
	mock.ExpectQuery(`FROM information_schema\.referential_constraints rc`).
		WillReturnRows(sqlmock.NewRows([]string{"constraint_name", "table_schema", "table_name", "column_name", "ref_table", "ref_column"}).
			AddRow("orders_customer_id_fkey", "public", "orders", "customer_id", "customers", "id"))
	mock.ExpectQuery(`FROM pg_index ix`).
		WillReturnRows(sqlmock.NewRows([]string{"index_name", "schema", "table", "column", "unique"}).
			AddRow("orders_customer_total_idx", "public", "orders", "customer_id", false).
			AddRow("orders_customer_total_idx", "public", "orders", "total", false))

	snapshot, err := source.DiscoverSchema(context.Background())
	if err != nil {
		t.Fatalf("DiscoverSchema() error = %v", err)
	}
	if snapshot.Source != "primary" {
		t.Fatalf("Source = %q", snapshot.Source)
	}
	if names := strings.Join(snapshot.TableNames(), ","); names != "customers,orders" {
		t.Fatalf("TableNames() = %s", names)
	}

	customers, _ := snapshot.Table("customers")
	if len(customers.Columns) != 2 || customers.Columns[0].Nullable || !customers.Columns[1].Nullable {
		t.Fatalf("customers columns = %+v", customers.Columns)
	}
	if customers.Columns[0].Default == nil || !strings.HasPrefix(*customers.Columns[0].Default, "nextval") {
		t.Fatalf("customers.id default = %v", customers.Columns[0].Default)
	}
	if strings.Join(customers.PrimaryKey, ",") != "id" {
		t.Fatalf("customers primary key = %v", customers.PrimaryKey)
	}

	if len(snapshot.Relationships) != 1 {
		t.Fatalf("Relationships = %+v", snapshot.Relationships)
	}
	if got := snapshot.Relationships[0].String(); got != "orders.customer_id -> customers.id" {
		t.Fatalf("relationship = %q", got)
	}
	if len(snapshot.Indexes) != 1 || strings.Join(snapshot.Indexes[0].Columns, ",") != "customer_id,total" {
		t.Fatalf("Indexes = %+v", snapshot.Indexes)
	}
	assertSQLMock(t, mock)
}

func TestDiscoverSchemaMySQLGroupsCompositeForeignKeys(t *testing.T) {
	db, mock := newSQLMock(t)
	source := NewSQLSource("sales", MySQL, db, "mysql://app@db/sales")

	mock.ExpectQuery(`c\.table_schema = DATABASE\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "data_type", "is_nullable", "column_default"}).
			AddRow("sales", "line_items", "order_id", "int", "NO", nil).
			AddRow("sales", "line_items", "region", "varchar", "NO", nil).
			AddRow("sales", "orders", "id", "int", "NO", nil).
			AddRow("sales", "orders", "region", "varchar", "NO", nil))
	mock.ExpectQuery(`PRIMARY KEY`).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name"}).
			AddRow("sales", "orders", "id").
			AddRow("sales", "orders", "region"))
	mock.ExpectQuery(`referenced_table_name IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"constraint_name", "table_schema", "table_name", "column_name", "referenced_table_name", "referenced_column_name"}).
			AddRow("fk_line_order", "sales", "line_items", "order_id", "orders", "id").
			AddRow("fk_line_order", "sales", "line_items", "region", "orders", "region"))
	mock.ExpectQuery(`FROM information_schema\.statistics`).
		WillReturnRows(sqlmock.NewRows([]string{"index_name", "table_schema", "table_name", "column_name", "unique"}))

	snapshot, err := source.DiscoverSchema(context.Background())
	if err != nil {
		t.Fatalf("DiscoverSchema() error = %v", err)
	}
	items, _ := snapshot.Table("line_items")
	if len(items.ForeignKeys) != 1 {
		t.Fatalf("foreign keys = %+v", items.ForeignKeys)
	}
	fk := items.ForeignKeys[0]
	if strings.Join(fk.ConstrainedColumns, ",") != "order_id,region" || strings.Join(fk.ReferredColumns, ",") != "id,region" {
		t.Fatalf("foreign key = %+v", fk)
	}
	orders, _ := snapshot.Table("orders")
	if strings.Join(orders.PrimaryKey, ",") != "id,region" {
		t.Fatalf("orders primary key = %v", orders.PrimaryKey)
	}
	if len(snapshot.Indexes) != 0 {
		t.Fatalf("Indexes = %+v", snapshot.Indexes)
	}
	assertSQLMock(t, mock)
}

func TestDiscoverSchemaWrapsQueryFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	source := NewSQLSource("primary", Postgres, db, "")

	mock.ExpectQuery(`FROM information_schema\.columns c`).WillReturnError(sql.ErrConnDone)

	_, err := source.DiscoverSchema(context.Background())
	if err == nil || !strings.Contains(err.Error(), "read columns") {
		t.Fatalf("DiscoverSchema() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteTruncatesAtMaxRows(t *testing.T) {
	db, mock := newSQLMock(t)
	source := NewSQLSource("primary", Postgres, db, "")

	mock.ExpectQuery(`SELECT name, total FROM orders$`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "total"}).
			AddRow([]byte("ada"), 10.5).
			AddRow([]byte("bob"), 7.25).
			AddRow([]byte("cy"), 1.0))

	rows, err := source.Execute(context.Background(), "SELECT name, total FROM orders;", 2)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !rows.Truncated || len(rows.Rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows.Rows[0][0] != "ada" {
		t.Fatalf("first cell = %#v, want normalized string", rows.Rows[0][0])
	}
	if strings.Join(rows.Columns, ",") != "name,total" {
		t.Fatalf("Columns = %v", rows.Columns)
	}
	assertSQLMock(t, mock)
}

func TestExecuteRejectsBlankSQL(t *testing.T) {
	db, _ := newSQLMock(t)
	source := NewSQLSource("primary", Postgres, db, "")
	if _, err := source.Execute(context.Background(), " ; ", 10); err == nil {
		t.Fatal("expected blank sql error")
	}
}

func TestExplainPostgresReturnsJSONDocument(t *testing.T) {
	db, mock := newSQLMock(t)
	source := NewSQLSource("primary", Postgres, db, "")

	mock.ExpectQuery(`^EXPLAIN \(FORMAT JSON\) SELECT \* FROM orders$`).
		WillReturnRows(sqlmock.NewRows([]string{"QUERY PLAN"}).AddRow(`[{"Plan":{"Node Type":"Seq Scan"}}]`))

	plan, err := source.Explain(context.Background(), "SELECT * FROM orders;")
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if plan.Format != "json" || plan.Dialect != "postgres" || !strings.Contains(plan.Raw, "Seq Scan") {
		t.Fatalf("plan = %+v", plan)
	}
	assertSQLMock(t, mock)
}

func TestExplainSQLServerTogglesShowplan(t *testing.T) {
	db, mock := newSQLMock(t)
	source := NewSQLSource("mssql", SQLServer, db, "")

	mock.ExpectExec(`SET SHOWPLAN_XML ON`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`^SELECT TOP 5 \* FROM orders$`).
		WillReturnRows(sqlmock.NewRows([]string{"Microsoft SQL Server 2005 XML Showplan"}).AddRow("<ShowPlanXML/>"))
	mock.ExpectExec(`SET SHOWPLAN_XML OFF`).WillReturnResult(sqlmock.NewResult(0, 0))

	plan, err := source.Explain(context.Background(), "SELECT TOP 5 * FROM orders")
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if plan.Format != "xml" || plan.Raw != "<ShowPlanXML/>" {
		t.Fatalf("plan = %+v", plan)
	}
	assertSQLMock(t, mock)
}

func TestExplainSQLServerDiscardsConnectionWhenResetFails(t *testing.T) {
	db, mock := newSQLMock(t)
	db.SetMaxOpenConns(1)
	source := NewSQLSource("mssql", SQLServer, db, "")

	mock.ExpectExec(`SET SHOWPLAN_XML ON`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`^SELECT TOP 5 \* FROM orders$`).
		WillReturnRows(sqlmock.NewRows([]string{"Microsoft SQL Server 2005 XML Showplan"}).AddRow("<ShowPlanXML/>"))
	mock.ExpectExec(`SET SHOWPLAN_XML OFF`).WillReturnError(errors.New("connection reset"))
	mock.ExpectClose()

	plan, err := source.Explain(context.Background(), "SELECT TOP 5 * FROM orders")
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if plan.Raw != "<ShowPlanXML/>" {
		t.Fatalf("plan = %+v", plan)
	}
	if open := db.Stats().OpenConnections; open != 0 {
		t.Fatalf("open connections = %d, want 0", open)
	}
	assertSQLMock(t, mock)
}

func TestInfoRedactsURL(t *testing.T) {
	db, _ := newSQLMock(t)
	source := NewSQLSource("primary", Postgres, db, "postgres://app:pw@db/shop")
	info := source.Info()
	if info.Name != "primary" || info.Dialect != "postgres" || info.URL != "postgres://app:***@db/shop" {
		t.Fatalf("Info() = %+v", info)
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
