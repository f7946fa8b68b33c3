package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:analyst:sql_runner|query_reader, k2:viewer:query_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.Subject != "analyst" {
		t.Fatalf("Subject = %q", identity.Subject)
	}
	if strings.Join(identity.Roles, ",") != "query_reader,sql_runner" {
		t.Fatalf("Roles = %v", identity.Roles)
	}
	if _, ok := validator.Validate(context.Background(), "missing"); ok {
		t.Fatal("unknown key accepted")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	for _, spec := range []string{"invalid", "k1::query_reader", "k1:s:|", "k1:a:query_reader,k1:b:query_reader"} {
		if _, err := NewStaticAPIKeyValidator(spec); err == nil {
			t.Fatalf("expected parse error for %q", spec)
		}
	}
}

func TestRequire(t *testing.T) {
	reader := WithIdentity(context.Background(), Identity{Subject: "viewer", Roles: []string{RoleQueryReader}})
	runner := WithIdentity(context.Background(), Identity{Subject: "analyst", Roles: []string{RoleSQLRunner}})

	if err := Require(reader, RoleQueryReader); err != nil {
		t.Fatalf("reader query_reader: %v", err)
	}
	if err := Require(reader, RoleSQLRunner); !errors.Is(err, ErrForbidden) {
		t.Fatalf("reader sql_runner error = %v", err)
	}
	if err := Require(runner, RoleQueryReader); err != nil {
		t.Fatalf("runner query_reader: %v", err)
	}
	if err := Require(context.Background(), RoleQueryReader); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("anonymous error = %v", err)
	}
}

func TestMiddlewareRejectsBadCredentials(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:viewer:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name    string
		headers map[string]string
		message string
	}{
		{name: "missing", headers: map[string]string{}, message: "Unauthorized: missing API key"},
		{name: "wrong", headers: map[string]string{"X-API-Key": "wrong"}, message: "Unauthorized: invalid API key"},
		{name: "conflicting", headers: map[string]string{"X-API-Key": "k1", "Authorization": "Bearer k2"}, message: "Unauthorized: X-API-Key and bearer token differ"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
			}
			if rr.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("expected WWW-Authenticate header")
			}

			var body struct {
				JSONRPC string `json:"jsonrpc"`
				Error   struct {
					Code    int    `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.JSONRPC != "2.0" || body.Error.Code != CodeUnauthorized || body.Error.Message != tc.message {
				t.Fatalf("body = %+v", body)
			}
		})
	}
}

func TestMiddlewareAcceptsMatchingHeaders(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:viewer:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}
	handler := Middleware(nil, validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("X-API-Key", "k1")
	req.Header.Set("Authorization", "Bearer k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:viewer:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.Subject != "viewer" {
			t.Fatalf("Subject = %q", identity.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}
