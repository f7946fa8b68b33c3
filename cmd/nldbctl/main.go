package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nldbquery/nldbquery/internal/cli/nldbctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("NLDB_CLI_TIMEOUT")), 60*time.Second)
	options := nldbctl.Options{
		BaseURL:  envOr("NLDB_API_URL", "http://localhost:8000"),
		APIKey:   strings.TrimSpace(os.Getenv("NLDB_API_KEY")),
		Database: strings.TrimSpace(os.Getenv("NLDB_DATABASE")),
		Timeout:  timeout,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}

	os.Exit(nldbctl.Run(context.Background(), os.Args[1:], options))
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid NLDB_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
