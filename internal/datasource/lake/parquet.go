package lake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/nldbquery/nldbquery/internal/schema"
)

func (s *Source) readColumns(ctx context.Context, key string) ([]schema.Column, error) {
	reader, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open parquet file %q: %w", key, err)
	}

	fields := file.Schema().Fields()
	columns := make([]schema.Column, 0, len(fields))
	for _, field := range fields {
		columns = append(columns, schema.Column{
			Name:     field.Name(),
			Type:     columnType(field),
			Nullable: field.Optional(),
		})
	}
	return columns, nil
}

// columnType names a parquet field with the DuckDB type read_parquet gives it.
func columnType(field parquet.Field) string {
	if !field.Leaf() {
		if field.Repeated() {
			return "LIST"
		}
		return "STRUCT"
	}
	typ := field.Type()
	if logical := typ.LogicalType(); logical != nil {
		switch {
		case logical.UTF8 != nil, logical.Enum != nil, logical.Json != nil:
			return "VARCHAR"
		case logical.Date != nil:
			return "DATE"
		case logical.Timestamp != nil:
			return "TIMESTAMP"
		case logical.Time != nil:
			return "TIME"
		case logical.Decimal != nil:
			return fmt.Sprintf("DECIMAL(%d,%d)", logical.Decimal.Precision, logical.Decimal.Scale)
		case logical.UUID != nil:
			return "UUID"
		}
	}
	switch typ.Kind() {
	case parquet.Boolean:
		return "BOOLEAN"
	case parquet.Int32:
		return "INTEGER"
	case parquet.Int64:
		return "BIGINT"
	case parquet.Int96:
		return "TIMESTAMP"
	case parquet.Float:
		return "FLOAT"
	case parquet.Double:
		return "DOUBLE"
	default:
		return "BLOB"
	}
}

func writeFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, reader); err != nil {
		return err
	}
	return nil
}
