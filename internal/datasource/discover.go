package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/nldbquery/nldbquery/internal/schema"
)

// catalogQueries read the schema in bulk. Each query's column order is fixed:
//
//	columns:     schema, table, column, data_type, is_nullable, column_default
//	primaryKeys: schema, table, column
//	foreignKeys: constraint, schema, table, column, referred_table, referred_column
//	indexes:     index, schema, table, column, unique
//
// An empty query skips that part of discovery.
type catalogQueries struct {
	columns     string
	primaryKeys string
	foreignKeys string
	indexes     string
}

const standardPrimaryKeys = `
SELECT kcu.table_schema, kcu.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_schema = tc.constraint_schema
 AND kcu.constraint_name = tc.constraint_name
 AND kcu.table_name = tc.table_name
WHERE tc.constraint_type = 'PRIMARY KEY' AND %s
ORDER BY kcu.table_schema, kcu.table_name, kcu.ordinal_position`

const standardForeignKeys = `
SELECT rc.constraint_name, kcu.table_schema, kcu.table_name, kcu.column_name, ref.table_name, ref.column_name
FROM information_schema.referential_constraints rc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_schema = rc.constraint_schema
 AND kcu.constraint_name = rc.constraint_name
JOIN information_schema.key_column_usage ref
  ON ref.constraint_schema = rc.unique_constraint_schema
 AND ref.constraint_name = rc.unique_constraint_name
 AND ref.ordinal_position = kcu.position_in_unique_constraint
WHERE %s
ORDER BY kcu.table_schema, kcu.table_name, rc.constraint_name, kcu.ordinal_position`

const standardColumns = `
SELECT c.table_schema, c.table_name, c.column_name, c.data_type, c.is_nullable, c.column_default
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema
 AND t.table_name = c.table_name
WHERE t.table_type = 'BASE TABLE' AND %s
ORDER BY c.table_schema, c.table_name, c.ordinal_position`

var catalogQueriesByDialect = map[Dialect]catalogQueries{
	Postgres: {
		columns:     fmt.Sprintf(standardColumns, "c.table_schema NOT IN ('pg_catalog', 'information_schema')"),
		primaryKeys: fmt.Sprintf(standardPrimaryKeys, "tc.table_schema NOT IN ('pg_catalog', 'information_schema')"),
		foreignKeys: fmt.Sprintf(standardForeignKeys, "kcu.table_schema NOT IN ('pg_catalog', 'information_schema')"),
		indexes: `
SELECT i.relname, n.nspname, t.relname, a.attname, ix.indisunique
FROM pg_index ix
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_class t ON t.oid = ix.indrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
WHERE NOT ix.indisprimary AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
ORDER BY n.nspname, t.relname, i.relname, array_position(ix.indkey::int2[], a.attnum)`,
	},
	MySQL: {
		columns:     fmt.Sprintf(standardColumns, "c.table_schema = DATABASE()"),
		primaryKeys: fmt.Sprintf(standardPrimaryKeys, "tc.table_schema = DATABASE()"),
		foreignKeys: `
SELECT constraint_name, table_schema, table_name, column_name, referenced_table_name, referenced_column_name
FROM information_schema.key_column_usage
WHERE table_schema = DATABASE() AND referenced_table_name IS NOT NULL
ORDER BY table_schema, table_name, constraint_name, ordinal_position`,
		indexes: `
SELECT index_name, table_schema, table_name, column_name, non_unique = 0
FROM information_schema.statistics
WHERE table_schema = DATABASE() AND index_name <> 'PRIMARY'
ORDER BY table_schema, table_name, index_name, seq_in_index`,
	},
	SQLServer: {
		columns:     fmt.Sprintf(standardColumns, "c.table_schema NOT IN ('sys', 'INFORMATION_SCHEMA')"),
		primaryKeys: fmt.Sprintf(standardPrimaryKeys, "tc.table_schema NOT IN ('sys', 'INFORMATION_SCHEMA')"),
		foreignKeys: fmt.Sprintf(standardForeignKeys, "kcu.table_schema NOT IN ('sys', 'INFORMATION_SCHEMA')"),
		indexes: `
SELECT i.name, s.name, t.name, c.name, i.is_unique
FROM sys.indexes i
JOIN sys.tables t ON t.object_id = i.object_id
JOIN sys.schemas s ON s.schema_id = t.schema_id
JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
WHERE i.is_primary_key = 0 AND i.name IS NOT NULL
ORDER BY s.name, t.name, i.name, ic.key_ordinal`,
	},
	DuckDB: {
		columns:     fmt.Sprintf(standardColumns, "c.table_schema NOT IN ('pg_catalog', 'information_schema')"),
		primaryKeys: fmt.Sprintf(standardPrimaryKeys, "tc.table_schema NOT IN ('pg_catalog', 'information_schema')"),
	},
}

// tableSet keeps tables in discovery order, keyed by schema-qualified name.
type tableSet struct {
	order []string
	byKey map[string]*schema.Table
}

func newTableSet() *tableSet {
	return &tableSet{byKey: map[string]*schema.Table{}}
}

func (s *tableSet) get(schemaName, tableName string) *schema.Table {
	key := schemaName + "." + tableName
	table, ok := s.byKey[key]
	if !ok {
		table = &schema.Table{
			Name:        tableName,
			Schema:      schemaName,
			Columns:     []schema.Column{},
			PrimaryKey:  []string{},
			ForeignKeys: []schema.ForeignKey{},
		}
		s.byKey[key] = table
		s.order = append(s.order, key)
	}
	return table
}

func (s *tableSet) lookup(schemaName, tableName string) (*schema.Table, bool) {
	table, ok := s.byKey[schemaName+"."+tableName]
	return table, ok
}

func (s *tableSet) tables() []schema.Table {
	out := make([]schema.Table, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.byKey[key])
	}
	return out
}

func discoverCatalog(ctx context.Context, db *sql.DB, q catalogQueries) ([]schema.Table, []schema.Index, error) {
	set := newTableSet()

	err := eachRow(ctx, db, q.columns, func(rows *sql.Rows) error {
		var schemaName, tableName, columnName, dataType, nullable string
		var columnDefault sql.NullString
		if err := rows.Scan(&schemaName, &tableName, &columnName, &dataType, &nullable, &columnDefault); err != nil {
			return err
		}
		column := schema.Column{Name: columnName, Type: dataType, Nullable: nullable == "YES"}
		if columnDefault.Valid {
			value := columnDefault.String
			column.Default = &value
		}
		table := set.get(schemaName, tableName)
		table.Columns = append(table.Columns, column)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}

	if q.primaryKeys != "" {
		err = eachRow(ctx, db, q.primaryKeys, func(rows *sql.Rows) error {
			var schemaName, tableName, columnName string
			if err := rows.Scan(&schemaName, &tableName, &columnName); err != nil {
				return err
			}
			if table, ok := set.lookup(schemaName, tableName); ok {
				table.PrimaryKey = append(table.PrimaryKey, columnName)
			}
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("read primary keys: %w", err)
		}
	}

	if q.foreignKeys != "" {
		err = eachRow(ctx, db, q.foreignKeys, func(rows *sql.Rows) error {
			var constraint, schemaName, tableName, columnName, referredTable, referredColumn string
			if err := rows.Scan(&constraint, &schemaName, &tableName, &columnName, &referredTable, &referredColumn); err != nil {
				return err
			}
			table, ok := set.lookup(schemaName, tableName)
			if !ok {
				return nil
			}
			last := len(table.ForeignKeys) - 1
			if last < 0 || table.ForeignKeys[last].Name != constraint {
				table.ForeignKeys = append(table.ForeignKeys, schema.ForeignKey{Name: constraint, ReferredTable: referredTable})
				last++
			}
			fk := &table.ForeignKeys[last]
			fk.ConstrainedColumns = append(fk.ConstrainedColumns, columnName)
			fk.ReferredColumns = append(fk.ReferredColumns, referredColumn)
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("read foreign keys: %w", err)
		}
	}

	indexes := []schema.Index{}
	if q.indexes != "" {
		err = eachRow(ctx, db, q.indexes, func(rows *sql.Rows) error {
			var indexName, schemaName, tableName, columnName string
			var unique bool
			if err := rows.Scan(&indexName, &schemaName, &tableName, &columnName, &unique); err != nil {
				return err
			}
			last := len(indexes) - 1
			if last < 0 || indexes[last].Name != indexName || indexes[last].Table != tableName {
				indexes = append(indexes, schema.Index{Name: indexName, Table: tableName, Unique: unique})
				last++
			}
			indexes[last].Columns = append(indexes[last].Columns, columnName)
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("read indexes: %w", err)
		}
	}

	return set.tables(), indexes, nil
}

func discoverSQLite(ctx context.Context, db *sql.DB) ([]schema.Table, []schema.Index, error) {
	var names []string
	err := eachRow(ctx, db, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`, func(rows *sql.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list tables: %w", err)
	}

	set := newTableSet()
	indexes := []schema.Index{}
	for _, name := range names {
		table := set.get("main", name)
		if err := readSQLiteColumns(ctx, db, table); err != nil {
			return nil, nil, fmt.Errorf("read columns of %s: %w", name, err)
		}
		if err := readSQLiteForeignKeys(ctx, db, table); err != nil {
			return nil, nil, fmt.Errorf("read foreign keys of %s: %w", name, err)
		}
		tableIndexes, err := readSQLiteIndexes(ctx, db, name)
		if err != nil {
			return nil, nil, fmt.Errorf("read indexes of %s: %w", name, err)
		}
		indexes = append(indexes, tableIndexes...)
	}

	// A foreign key without target columns references the target's primary key.
	for _, key := range set.order {
		table := set.byKey[key]
		for i := range table.ForeignKeys {
			fk := &table.ForeignKeys[i]
			target, ok := set.lookup("main", fk.ReferredTable)
			if !ok {
				continue
			}
			for j := range fk.ReferredColumns {
				if fk.ReferredColumns[j] == "" && j < len(target.PrimaryKey) {
					fk.ReferredColumns[j] = target.PrimaryKey[j]
				}
			}
		}
	}
	return set.tables(), indexes, nil
}

func readSQLiteColumns(ctx context.Context, db *sql.DB, table *schema.Table) error {
	type keyPart struct {
		position int
		column   string
	}
	var keyParts []keyPart
	err := eachRow(ctx, db, `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, func(rows *sql.Rows) error {
		var name, dataType string
		var notNull, pk int
		var columnDefault sql.NullString
		if err := rows.Scan(&name, &dataType, &notNull, &columnDefault, &pk); err != nil {
			return err
		}
		column := schema.Column{Name: name, Type: dataType, Nullable: notNull == 0 && pk == 0}
		if columnDefault.Valid {
			value := columnDefault.String
			column.Default = &value
		}
		table.Columns = append(table.Columns, column)
		if pk > 0 {
			keyParts = append(keyParts, keyPart{position: pk, column: name})
		}
		return nil
	}, table.Name)
	if err != nil {
		return err
	}
	sort.Slice(keyParts, func(i, j int) bool { return keyParts[i].position < keyParts[j].position })
	for _, part := range keyParts {
		table.PrimaryKey = append(table.PrimaryKey, part.column)
	}
	return nil
}

func readSQLiteForeignKeys(ctx context.Context, db *sql.DB, table *schema.Table) error {
	lastID := -1
	return eachRow(ctx, db, `SELECT id, "table", "from", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq`, func(rows *sql.Rows) error {
		var id int
		var referredTable, from string
		var to sql.NullString
		if err := rows.Scan(&id, &referredTable, &from, &to); err != nil {
			return err
		}
		if id != lastID {
			table.ForeignKeys = append(table.ForeignKeys, schema.ForeignKey{
				Name:          fmt.Sprintf("fk_%s_%d", table.Name, id),
				ReferredTable: referredTable,
			})
			lastID = id
		}
		fk := &table.ForeignKeys[len(table.ForeignKeys)-1]
		fk.ConstrainedColumns = append(fk.ConstrainedColumns, from)
		fk.ReferredColumns = append(fk.ReferredColumns, to.String)
		return nil
	}, table.Name)
}

func readSQLiteIndexes(ctx context.Context, db *sql.DB, tableName string) ([]schema.Index, error) {
	var indexes []schema.Index
	err := eachRow(ctx, db, `SELECT name, "unique" FROM pragma_index_list(?) WHERE origin <> 'pk' ORDER BY name`, func(rows *sql.Rows) error {
		var name string
		var unique int
		if err := rows.Scan(&name, &unique); err != nil {
			return err
		}
		indexes = append(indexes, schema.Index{Name: name, Table: tableName, Unique: unique == 1})
		return nil
	}, tableName)
	if err != nil {
		return nil, err
	}
	for i := range indexes {
		index := &indexes[i]
		err := eachRow(ctx, db, `SELECT name FROM pragma_index_info(?) ORDER BY seqno`, func(rows *sql.Rows) error {
			var column sql.NullString
			if err := rows.Scan(&column); err != nil {
				return err
			}
			if column.Valid {
				index.Columns = append(index.Columns, column.String)
			}
			return nil
		}, index.Name)
		if err != nil {
			return nil, err
		}
	}
	return indexes, nil
}

// eachRow closes its rows before returning, so callers may issue the next query
// on a single-connection pool.
func eachRow(ctx context.Context, db *sql.DB, query string, scan func(*sql.Rows) error, args ...any) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
