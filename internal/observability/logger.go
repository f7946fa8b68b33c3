// Package observability holds the structured logger, trace ids and Prometheus
// metrics shared by every binary.
package observability

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nldbquery/nldbquery/internal/config"
)

const (
	redacted        = "***"
	maxLoggedSQLLen = 500
)

var (
	credentialPattern = regexp.MustCompile(`(?i)\b(password|pwd|secret|api[_-]?key)=[^;&\s]+`)
	userInfoPattern   = regexp.MustCompile(`://([^:/@\s]+):[^@/\s]+@`)
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// NewLogger builds the process logger. Attributes that carry secrets are masked
// and SQL attributes are truncated before they reach the handler.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel, ReplaceAttr: sanitizeAttr}
	var handler slog.Handler = slog.NewTextHandler(writer, opts)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func sanitizeAttr(_ []string, attr slog.Attr) slog.Attr {
	key := strings.ToLower(attr.Key)
	switch {
	case strings.Contains(key, "password"), strings.Contains(key, "secret"),
		strings.Contains(key, "api_key"), strings.Contains(key, "token"):
		return slog.String(attr.Key, redacted)
	case key == "sql" || strings.HasSuffix(key, "_sql"):
		text := attr.Value.String()
		if len(text) > maxLoggedSQLLen {
			text = text[:maxLoggedSQLLen] + "..."
		}
		return slog.String(attr.Key, text)
	}

	var text string
	switch attr.Value.Kind() {
	case slog.KindString:
		text = attr.Value.String()
	case slog.KindAny:
		err, ok := attr.Value.Any().(error)
		if !ok {
			return attr
		}
		text = err.Error()
	default:
		return attr
	}
	if clean := Sanitize(text); clean != text || attr.Value.Kind() == slog.KindAny {
		return slog.String(attr.Key, clean)
	}
	return attr
}

// Sanitize masks credentials embedded in connection strings and error text.
func Sanitize(text string) string {
	text = userInfoPattern.ReplaceAllString(text, "://$1:"+redacted+"@")
	return credentialPattern.ReplaceAllString(text, "$1="+redacted)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	if value, ok := ctx.Value(traceIDKey).(string); ok {
		return value
	}
	return ""
}
