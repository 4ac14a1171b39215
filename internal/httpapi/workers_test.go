package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunray-sh/sunray-api/internal/service/control"
)

// tryRegister performs a registration call and returns the raw recorder so
// failure cases can be asserted too. worker == "" skips the header.
func tryRegister(t *testing.T, env *testEnv, worker, hostname string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if hostname != "" {
		require.NoError(t, json.NewEncoder(&body).Encode(map[string]string{"hostname": hostname}))
	}
	req := httptest.NewRequest("POST", "/sunray-srvr/v1/workers/register", &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.Key)
	if worker != "" {
		req.Header.Set("X-Worker-ID", worker)
	}
	rec := httptest.NewRecorder()
	env.Router.ServeHTTP(rec, req)
	return rec
}

func TestWorkerRegistrationProtocol(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, "POST", "/sunray-srvr/v1/admin/hosts", env.Key, map[string]string{
		"domain":      "edge.example.com",
		"backend_url": "https://backend.internal:8069",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Identity and hostname are both mandatory.
	rec = tryRegister(t, env, "", "edge.example.com")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no X-Worker-ID: got %d, want 400", rec.Code)
	}
	if body := decodeBody[errorBody](t, rec); body.Error != "Missing X-Worker-ID header" {
		t.Errorf("no X-Worker-ID: error = %q", body.Error)
	}
	rec = tryRegister(t, env, "worker-a", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no hostname: got %d, want 400", rec.Code)
	}
	if body := decodeBody[errorBody](t, rec); body.Error != "hostname is required" {
		t.Errorf("no hostname: error = %q", body.Error)
	}

	// First contact binds the host and implicitly creates the worker.
	rec = tryRegister(t, env, "worker-a", "edge.example.com")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[control.RegistrationResult](t, rec)
	if res.Status != control.RegistrationNew || res.Worker != "worker-a" || res.Host != "edge.example.com" {
		t.Errorf("first contact = %+v", res)
	}

	// Heartbeat re-registration is idempotent.
	rec = tryRegister(t, env, "worker-a", "edge.example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	if res = decodeBody[control.RegistrationResult](t, rec); res.Status != control.RegistrationIdempotent {
		t.Errorf("heartbeat = %+v", res)
	}

	// An unapproved takeover is rejected without touching the binding.
	rec = tryRegister(t, env, "worker-b", "edge.example.com")
	if rec.Code != http.StatusConflict {
		t.Fatalf("takeover: got %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody[errorBody](t, rec); body.Error != "Host is already bound to another worker" {
		t.Errorf("takeover: error = %q", body.Error)
	}

	// The operator approves the migration; worker-b sees it inbound.
	rec = env.request(t, "POST", "/sunray-srvr/v1/admin/hosts/edge.example.com/pending-worker", env.Key,
		map[string]string{"worker": "worker-b"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.request(t, "GET", "/sunray-srvr/v1/admin/workers/worker-b/migration-status", env.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decodeBody[control.MigrationStatus](t, rec)
	require.Len(t, status.PendingInbound, 1)
	if status.PendingInbound[0].Domain != "edge.example.com" {
		t.Errorf("pending_inbound = %+v", status.PendingInbound)
	}
	if status.PendingInbound[0].CurrentWorker != "worker-a" {
		t.Errorf("current_worker = %q", status.PendingInbound[0].CurrentWorker)
	}

	// The approved worker's next registration completes the swap.
	rec = tryRegister(t, env, "worker-b", "edge.example.com")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decodeBody[control.RegistrationResult](t, rec)
	if res.Status != control.RegistrationMigrated || res.PreviousWorker != "worker-a" {
		t.Errorf("migration = %+v", res)
	}

	// Afterwards worker-b protects the host and nothing is pending.
	rec = env.request(t, "GET", "/sunray-srvr/v1/admin/workers/worker-b/migration-status", env.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status = decodeBody[control.MigrationStatus](t, rec)
	if status.ProtectedHosts != 1 {
		t.Errorf("protected_hosts = %d, want 1", status.ProtectedHosts)
	}
	if len(status.PendingInbound) != 0 {
		t.Errorf("pending_inbound after migration = %+v", status.PendingInbound)
	}
}

func TestWorkerRegistrationUnknownHost(t *testing.T) {
	env := newTestEnv(t)

	rec := tryRegister(t, env, "worker-a", "ghost.example.com")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody[errorBody](t, rec); body.Error != "Host not found" {
		t.Errorf("error = %q", body.Error)
	}
}
