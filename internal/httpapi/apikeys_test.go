package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunray-sh/sunray-api/internal/service/control"
)

func TestAPIKeyLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, "POST", "/sunray-srvr/v1/admin/api-keys", env.Key,
		map[string]string{"name": "ops dashboard", "scopes": "host:read"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[control.CreatedAPIKey](t, rec)
	if created.Key == "" {
		t.Fatal("plain key missing from creation response")
	}
	if created.Scopes != "host:read" {
		t.Errorf("scopes = %q", created.Scopes)
	}

	// The fresh key authenticates and carries exactly its scope.
	rec = env.request(t, "GET", "/sunray-srvr/v1/admin/hosts/missing.example.com", created.Key, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("new key read: got %d, want 404 from the handler", rec.Code)
	}
	rec = env.request(t, "POST", "/sunray-srvr/v1/admin/hosts", created.Key,
		map[string]string{"domain": "x.example.com", "backend_url": "https://b"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("new key write: got %d, want 403", rec.Code)
	}

	// Regeneration rotates the value; the old one dies immediately.
	oldKey := created.Key
	rec = env.request(t, "POST", "/sunray-srvr/v1/admin/api-keys/"+created.ID+"/regenerate", env.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := decodeBody[control.CreatedAPIKey](t, rec)
	if rotated.Key == oldKey {
		t.Error("regenerate did not rotate the key value")
	}

	rec = env.request(t, "GET", "/sunray-srvr/v1/admin/hosts/missing.example.com", oldKey, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("old key after rotation: got %d, want 401", rec.Code)
	}
	rec = env.request(t, "GET", "/sunray-srvr/v1/admin/hosts/missing.example.com", rotated.Key, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("rotated key: got %d, want 404 from the handler", rec.Code)
	}

	// Deletion deactivates.
	rec = env.request(t, "DELETE", "/sunray-srvr/v1/admin/api-keys/"+created.ID, env.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.request(t, "GET", "/sunray-srvr/v1/admin/hosts/missing.example.com", rotated.Key, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("deleted key: got %d, want 401", rec.Code)
	}
}
