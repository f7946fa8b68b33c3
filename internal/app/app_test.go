package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nldbquery/nldbquery/internal/config"
	"github.com/nldbquery/nldbquery/internal/dispatch"
)

func testConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	env["NLDB_PROFILE"] = "test"
	cfg, err := config.Load("nldb-api", func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func TestBuildRegistersConfiguredSources(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "datasources.yaml")
	body := "datasources:\n  - name: archive\n    url: sqlite://" + filepath.Join(dir, "archive.db") + "\n"
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	cfg := testConfig(t, map[string]string{
		"NLDB_PRIMARY_DB_URL":   "sqlite://:memory:",
		"NLDB_DATASOURCES_FILE": file,
	})

	runtime, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = runtime.Close() })

	if names := strings.Join(runtime.Registry.Names(), ","); names != "primary,archive" {
		t.Fatalf("Names() = %s", names)
	}
	result, rpcErr := runtime.Dispatcher.Call(context.Background(), dispatch.MethodDatabaseInfo, map[string]any{"database": "archive"})
	if rpcErr != nil {
		t.Fatalf("database/info error = %v", rpcErr)
	}
	if result == nil {
		t.Fatal("expected database info")
	}
}

func TestBuildFailsOnBadSource(t *testing.T) {
	cfg := testConfig(t, map[string]string{"NLDB_PRIMARY_DB_URL": "oracle://scott:tiger@db/orcl"})
	if _, err := Build(context.Background(), cfg, slog.New(slog.DiscardHandler)); err == nil || !strings.Contains(err.Error(), "data source primary") {
		t.Fatalf("Build() error = %v", err)
	}
}

func TestBuildRequiresProviderAPIKey(t *testing.T) {
	cfg := testConfig(t, map[string]string{"NLDB_AI_PROVIDER": "openai"})
	if _, err := Build(context.Background(), cfg, slog.New(slog.DiscardHandler)); err == nil || !strings.Contains(err.Error(), "init completion provider") {
		t.Fatalf("Build() error = %v", err)
	}
}
