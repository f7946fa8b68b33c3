package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nldbquery/nldbquery/internal/observability"
)

// CodeUnauthorized is the protocol error code for rejected credentials and
// missing roles.
const CodeUnauthorized = -32001

type contextKey string

const identityKey contextKey = "auth_identity"

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Middleware guards the protocol endpoint. Requests without a known API key get
// HTTP 401 with a protocol error envelope; accepted requests carry the caller's
// Identity on their context.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, reason := credentials(r)
			if reason == "" {
				identity, ok := validator.Validate(r.Context(), apiKey)
				if ok {
					logger.DebugContext(r.Context(), "caller authenticated",
						slog.String("subject", identity.Subject),
						slog.Any("roles", identity.Roles),
					)
					next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
					return
				}
				reason = "invalid"
			}

			observability.ObserveAuthFailure(reason)
			logger.WarnContext(r.Context(), "authentication failed",
				slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
				slog.String("reason", reason),
				slog.String("remote_addr", r.RemoteAddr),
			)
			writeUnauthorized(w, r, reason)
		})
	}
}

// credentials reads the key from X-API-Key or an Authorization bearer token. A
// request that sends two different keys is rejected as "conflicting".
func credentials(r *http.Request) (string, string) {
	headerKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
	var bearer string
	if token, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer "); ok {
		bearer = strings.TrimSpace(token)
	}
	switch {
	case headerKey == "" && bearer == "":
		return "", "missing"
	case headerKey != "" && bearer != "" && headerKey != bearer:
		return "", "conflicting"
	case headerKey != "":
		return headerKey, ""
	default:
		return bearer, ""
	}
}

var unauthorizedMessages = map[string]string{
	"missing":     "Unauthorized: missing API key",
	"conflicting": "Unauthorized: X-API-Key and bearer token differ",
	"invalid":     "Unauthorized: invalid API key",
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="nldb"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      nil,
		"error": map[string]any{
			"code":    CodeUnauthorized,
			"message": unauthorizedMessages[reason],
			"data":    map[string]string{"trace_id": observability.TraceIDFromContext(r.Context())},
		},
	})
}
