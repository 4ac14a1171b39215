package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sunray-sh/sunray-api/internal/store"
)

func TestIdentityRoundTrip(t *testing.T) {
	id := Identity{
		Key:       store.APIKey{ID: "key-1", Scopes: "all"},
		Worker:    "worker-east",
		IPAddress: "10.0.0.9",
		RequestID: "corr-1",
	}
	ctx := WithIdentity(context.Background(), id)

	got := IdentityFromContext(ctx)
	if got.Key.ID != "key-1" || got.Worker != "worker-east" {
		t.Errorf("identity lost in round trip: %+v", got)
	}
}

func TestIdentityFromBareContext(t *testing.T) {
	got := IdentityFromContext(context.Background())
	if got.Key.ID != "" || got.Worker != "" {
		t.Errorf("bare context should yield a zero identity, got %+v", got)
	}
}

func TestRequireScope(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		scopes   string
		required string
		want     int
	}{
		{"exact match", "host:read,user:write", "host:read", http.StatusNoContent},
		{"all grants everything", "all", "session:write", http.StatusNoContent},
		{"resource wildcard", "host:*", "host:write", http.StatusNoContent},
		{"missing scope", "host:read", "session:write", http.StatusForbidden},
		{"empty scopes", "", "host:read", http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/x", nil)
			ctx := WithIdentity(req.Context(), Identity{Key: store.APIKey{Scopes: tc.scopes}})
			w := httptest.NewRecorder()

			RequireScope(tc.required)(next).ServeHTTP(w, req.WithContext(ctx))

			if w.Code != tc.want {
				t.Errorf("scopes=%q required=%q: status %d, want %d", tc.scopes, tc.required, w.Code, tc.want)
			}
		})
	}
}

func TestRequireScopeWithoutIdentity(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for unauthenticated requests")
	})
	req := httptest.NewRequest("GET", "/x", nil)
	w := httptest.NewRecorder()

	RequireScope("host:read")(next).ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status %d, want 403", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"10.1.2.3:54321", "10.1.2.3"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"10.1.2.3", "10.1.2.3"},
	}
	for _, tc := range tests {
		req := httptest.NewRequest("GET", "/x", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.want {
			t.Errorf("clientIP(%q) = %q, want %q", tc.remoteAddr, got, tc.want)
		}
	}
}

func TestWriteAuthErrorShape(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Correlation-ID", "corr-42")

	writeAuthError(w, http.StatusUnauthorized, "Invalid API key")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "Invalid API key" {
		t.Errorf("error = %q", body["error"])
	}
	if body["correlation_id"] != "corr-42" {
		t.Errorf("correlation_id = %q, want corr-42", body["correlation_id"])
	}
}
