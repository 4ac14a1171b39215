package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunray-sh/sunray-api/internal/db"
	"github.com/sunray-sh/sunray-api/internal/mailer"
	"github.com/sunray-sh/sunray-api/internal/service/control"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/workerrpc"
)

// testEnv is a full router over the test database: a worker RPC stub that
// accepts everything, disabled email, and one seeded API key per scope set
// the test asks for.
type testEnv struct {
	Router http.Handler
	Server *Server // for tests that rebuild the router with different knobs
	Store  *store.Store
	Key    string // plain "all"-scope API key
}

// newTestEnv wires the router against the test database. Skips unless
// TEST_DATABASE_URL is set.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, dbURL)
	require.NoError(t, err, "connect to test database")
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool), "apply migrations")

	_, err = pool.Exec(ctx, `
		DELETE FROM sunray_audit_log;
		DELETE FROM sunray_access_rules;
		DELETE FROM sunray_webhook_tokens;
		DELETE FROM sunray_sessions;
		DELETE FROM sunray_email_otps;
		DELETE FROM sunray_setup_tokens;
		DELETE FROM sunray_passkeys;
		DELETE FROM sunray_user_hosts;
		DELETE FROM sunray_hosts;
		DELETE FROM sunray_workers;
		DELETE FROM sunray_api_keys;
		DELETE FROM sunray_users;
		DELETE FROM sunray_config_params;
	`)
	require.NoError(t, err, "clean test database")

	// Worker RPC sink: accepts every cache-clear so fan-out always succeeds.
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(sink.Close)
	client := workerrpc.New()
	client.BaseURL = sink.URL

	st := store.New(pool)
	key, err := st.CreateAPIKey(ctx, "test key", "test-key-0123456789abcdef", "test-key...cdef", "all")
	require.NoError(t, err)

	srv := &Server{
		DB:              pool,
		Control:         control.New(pool, client, mailer.Disabled{}),
		Version:         "test",
		RateLimitConfig: DefaultRateLimitConfig,
	}
	return &testEnv{Router: srv.Routes(), Server: srv, Store: st, Key: key.Key}
}

// seedScopedKey creates an API key carrying exactly the given scopes.
func (e *testEnv) seedScopedKey(t *testing.T, scopes string) string {
	t.Helper()
	key, err := e.Store.CreateAPIKey(context.Background(),
		"scoped "+scopes, "scoped-"+scopes+"-0123456789", "scoped...6789", scopes)
	require.NoError(t, err)
	return key.Key
}

// request performs one request against the router with a Bearer key; a nil
// body sends no payload.
func (e *testEnv) request(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err, "marshal request body")
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// decodeBody unmarshals a recorded JSON response.
func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "decode response body: %s", w.Body.String())
	return v
}
