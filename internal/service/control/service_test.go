package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sunray-sh/sunray-api/internal/db"
	"github.com/sunray-sh/sunray-api/internal/mailer"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/workerrpc"
)

// captureMailer records sends instead of delivering them.
type captureMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// workerStub plays the edge worker's cache-clear endpoint and records every
// request it receives.
type workerStub struct {
	srv *httptest.Server

	mu     sync.Mutex
	calls  []workerrpc.ClearRequest
	status int // response status; 0 means 200
}

func newWorkerStub(t *testing.T) *workerStub {
	t.Helper()
	ws := &workerStub{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req workerrpc.ClearRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ws.mu.Lock()
		ws.calls = append(ws.calls, req)
		status := ws.status
		ws.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *workerStub) fail(status int) {
	ws.mu.Lock()
	ws.status = status
	ws.mu.Unlock()
}

func (ws *workerStub) requests() []workerrpc.ClearRequest {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return append([]workerrpc.ClearRequest(nil), ws.calls...)
}

// testService wires a Service against the test database with a stub worker
// and a capture mailer. Skips unless TEST_DATABASE_URL is set.
func testService(t *testing.T) (*Service, *store.Store, *captureMailer, *workerStub) {
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

	ws := newWorkerStub(t)
	client := workerrpc.New()
	client.BaseURL = ws.srv.URL

	mail := &captureMailer{}
	svc := New(pool, client, mail)
	return svc, store.New(pool), mail, ws
}

// seedHost creates an active host bound to an active worker that carries an
// active API key, the minimum routable fan-out destination.
func seedHost(t *testing.T, st *store.Store, domain string) (store.Host, store.Worker) {
	t.Helper()
	ctx := context.Background()

	key, err := st.CreateAPIKey(ctx, "worker key "+domain, "key-"+domain, "key-...", "all")
	require.NoError(t, err)
	w, err := st.CreateWorker(ctx, "worker-"+domain, "cloudflare", "", &key.ID)
	require.NoError(t, err)
	h, err := st.CreateHost(ctx, domain, "", "https://backend."+domain)
	require.NoError(t, err)
	require.NoError(t, st.BindWorker(ctx, h.ID, w.ID))

	h, err = st.GetHostByID(ctx, h.ID)
	require.NoError(t, err)
	return h, w
}

// seedUser creates an active user authorized on the given hosts.
func seedUser(t *testing.T, st *store.Store, username string, hosts ...store.Host) store.User {
	t.Helper()
	ctx := context.Background()

	u, err := st.CreateUser(ctx, username, username+"@ex.com", "")
	require.NoError(t, err)
	for _, h := range hosts {
		_, err = st.AuthorizeUserOnHost(ctx, u.ID, h.ID)
		require.NoError(t, err)
	}
	return u
}

// lastAuditOfType returns the newest audit row of the given event type.
func lastAuditOfType(t *testing.T, st *store.Store, eventType string) store.AuditRecord {
	t.Helper()
	rows, err := st.ListAuditByType(context.Background(), eventType, 1)
	require.NoError(t, err)
	require.NotEmpty(t, rows, "expected an audit entry of type %s", eventType)
	return rows[0]
}

// countAuditOfType counts audit rows of the given event type.
func countAuditOfType(t *testing.T, st *store.Store, eventType string) int {
	t.Helper()
	rows, err := st.ListAuditByType(context.Background(), eventType, 100)
	require.NoError(t, err)
	return len(rows)
}

func hourFromNow() time.Time { return time.Now().Add(time.Hour) }
