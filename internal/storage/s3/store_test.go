package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/nldbquery/nldbquery/internal/storage"
)

func TestGetUsesPrefixAndNormalizedKey(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("bucket-a", "lake/prod", 0, fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	reader, err := store.Get(context.Background(), "/orders/part-1.parquet")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	_ = reader.Close()
	if fake.lastBucket != "bucket-a" {
		t.Fatalf("bucket = %q", fake.lastBucket)
	}
	if fake.lastKey != "lake/prod/orders/part-1.parquet" {
		t.Fatalf("key = %q", fake.lastKey)
	}
}

func TestGetRejectsPathTraversal(t *testing.T) {
	store, err := NewWithClient("bucket-a", "", 0, &fakeClient{})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if _, err := store.Get(context.Background(), "../secrets.txt"); err == nil {
		t.Fatal("expected path traversal validation error")
	}
}

func TestGetMapsMissingObject(t *testing.T) {
	store, err := NewWithClient("bucket-a", "", 0, &fakeClient{getErr: storage.ErrObjectNotFound})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if _, err := store.Get(context.Background(), "missing.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestGetEnforcesObjectSizeLimit(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("bucket-a", "", 8, fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	_, err = store.Get(context.Background(), "orders/part-0001.parquet")
	if !errors.Is(err, storage.ErrObjectTooLarge) {
		t.Fatalf("Get() error = %v, want ErrObjectTooLarge", err)
	}
	if !strings.Contains(err.Error(), "24 B, limit 8 B") {
		t.Fatalf("Get() error = %v", err)
	}
	if !fake.closed {
		t.Fatal("rejected object body was not closed")
	}

	unlimited, _ := NewWithClient("bucket-a", "", -1, fake)
	if _, err := unlimited.Get(context.Background(), "orders/part-0001.parquet"); err != nil {
		t.Fatalf("Get() without limit error = %v", err)
	}
}

func TestListReturnsRelativeKeys(t *testing.T) {
	fake := &fakeClient{objects: []storage.ObjectInfo{
		{Key: "lake/prod/orders/part-1.parquet", Size: 10},
		{Key: "lake/prod/orders/", Size: 0},
		{Key: "lake/prod/customers/part-1.parquet", Size: 20},
	}}
	store, err := NewWithClient("bucket-a", "/lake/prod/", 0, fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	objects, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if fake.lastPrefix != "lake/prod/" {
		t.Fatalf("prefix = %q", fake.lastPrefix)
	}
	if len(objects) != 2 || objects[0].Key != "orders/part-1.parquet" || objects[1].Key != "customers/part-1.parquet" {
		t.Fatalf("objects = %+v", objects)
	}

	if _, err := store.List(context.Background(), "orders"); err != nil {
		t.Fatalf("List(orders) error = %v", err)
	}
	if fake.lastPrefix != "lake/prod/orders/" {
		t.Fatalf("prefix = %q", fake.lastPrefix)
	}
	if _, err := store.List(context.Background(), "../other"); err == nil {
		t.Fatal("expected invalid prefix error")
	}
}

func TestLocation(t *testing.T) {
	store, _ := NewWithClient("bucket-a", "lake", 0, &fakeClient{})
	if got := store.Location(); got != "s3://bucket-a/lake" {
		t.Fatalf("Location() = %q", got)
	}
	bare, _ := NewWithClient("bucket-a", "", 0, &fakeClient{})
	if got := bare.Location(); got != "s3://bucket-a" {
		t.Fatalf("Location() = %q", got)
	}
}

func TestParseEndpoint(t *testing.T) {
	endpoint, secure, err := parseEndpoint("https://minio.example.com", false)
	if err != nil {
		t.Fatalf("parseEndpoint() error = %v", err)
	}
	if endpoint != "minio.example.com" || !secure {
		t.Fatalf("endpoint/secure = %q/%v", endpoint, secure)
	}
	endpoint, secure, err = parseEndpoint("localhost:9000", false)
	if err != nil || endpoint != "localhost:9000" || secure {
		t.Fatalf("parseEndpoint() = %q/%v/%v", endpoint, secure, err)
	}
}

type fakeClient struct {
	lastBucket string
	lastKey    string
	lastPrefix string
	getErr     error
	objects    []storage.ObjectInfo
	closed     bool
}

func (f *fakeClient) Get(_ context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	f.lastBucket = bucket
	f.lastKey = key
	if f.getErr != nil {
		return nil, 0, f.getErr
	}
	return &trackedBody{Reader: strings.NewReader(key), closed: &f.closed}, int64(len(key)), nil
}

type trackedBody struct {
	io.Reader
	closed *bool
}

func (b *trackedBody) Close() error {
	*b.closed = true
	return nil
}

func (f *fakeClient) List(_ context.Context, _, prefix string) ([]storage.ObjectInfo, error) {
	f.lastPrefix = prefix
	return append([]storage.ObjectInfo(nil), f.objects...), nil
}
