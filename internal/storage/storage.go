// Package storage describes the read-only object store behind the lake data
// source and maps object keys to lake tables.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object exceeds size limit")
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectStore lists and reads objects. Keys are relative to the store's
// configured prefix.
type ObjectStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

const parquetSuffix = ".parquet"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,127}$`)

// TableFromKey maps a lake object key to its table: the first path component
// names the table and the object must be a parquet file somewhere below it.
//
//	orders/part-0001.parquet                 -> orders
//	orders/date=2024-01-01/part-0001.parquet -> orders
func TableFromKey(key string) (string, bool) {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if !strings.HasSuffix(strings.ToLower(key), parquetSuffix) {
		return "", false
	}
	table, rest, found := strings.Cut(key, "/")
	if !found || rest == "" {
		return "", false
	}
	if !pathComponentPattern.MatchString(table) {
		return "", false
	}
	return table, true
}

// GroupByTable buckets parquet objects by table. Keys inside each table are sorted and
// objects that do not belong to a table are skipped.
func GroupByTable(objects []ObjectInfo) map[string][]ObjectInfo {
	grouped := map[string][]ObjectInfo{}
	for _, obj := range objects {
		table, ok := TableFromKey(obj.Key)
		if !ok {
			continue
		}
		grouped[table] = append(grouped[table], obj)
	}
	for _, files := range grouped {
		sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })
	}
	return grouped
}

// TableNames returns the sorted table names of a grouping.
func TableNames(grouped map[string][]ObjectInfo) []string {
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
