package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/workerrpc"
)

func TestCreateSessionValidation(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	h, _ := seedHost(t, st, "app.ex.com")
	seedUser(t, st, "alice", h)

	cases := []struct {
		name string
		p    CreateSessionParams
		msg  string
	}{
		{"missing username", CreateSessionParams{HostDomain: "app.ex.com", SessionID: "s1"}, "username is required"},
		{"missing host", CreateSessionParams{Username: "alice", SessionID: "s1"}, "host is required"},
		{"missing session id", CreateSessionParams{Username: "alice", HostDomain: "app.ex.com"}, "session_id is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateSession(ctx, tc.p)
			require.Error(t, err)
			assert.Equal(t, 400, HTTPStatus(err))
			assert.Equal(t, tc.msg, ErrorMessage(err))
		})
	}

	_, err := svc.CreateSession(ctx, CreateSessionParams{
		Username: "ghost", HostDomain: "app.ex.com", SessionID: "s1",
	})
	assert.Equal(t, 404, HTTPStatus(err))
	assert.Equal(t, "User not found", ErrorMessage(err))

	_, err = svc.CreateSession(ctx, CreateSessionParams{
		Username: "alice", HostDomain: "nowhere.ex.com", SessionID: "s1",
	})
	assert.Equal(t, 404, HTTPStatus(err))
	assert.Equal(t, "Host not found", ErrorMessage(err))
}

func TestCreateSessionRequiresAuthorization(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	h, _ := seedHost(t, st, "app.ex.com")
	other, _ := seedHost(t, st, "other.ex.com")
	seedUser(t, st, "bob", other) // authorized elsewhere, not on app.ex.com
	_ = h

	_, err := svc.CreateSession(ctx, CreateSessionParams{
		Username:   "bob",
		HostDomain: "app.ex.com",
		SessionID:  "sess-denied",
		CreatedIP:  "10.0.0.9",
	})
	require.Error(t, err)
	assert.Equal(t, 403, HTTPStatus(err))
	assert.Equal(t, "User not authorized for this host", ErrorMessage(err))

	rec := lastAuditOfType(t, st, string(audit.AuthFailure))
	assert.Equal(t, "bob", rec.Username)
	assert.Contains(t, rec.Details, "user_not_authorized")

	// The rejected session must not exist.
	_, err = st.GetSessionBySessionID(ctx, "sess-denied")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSessionCrossDomainCredential(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	h1, _ := seedHost(t, st, "mail.ex.com")
	h2, _ := seedHost(t, st, "crm.ex.com")
	seedUser(t, st, "carol", h1, h2)

	require.NoError(t, svc.RegisterPasskey(ctx, RegisterPasskeyParams{
		Username:     "carol",
		HostDomain:   "mail.ex.com",
		CredentialID: "cred-mail",
		PublicKey:    "pk-carol",
	}))

	// Presenting the mail.ex.com credential on crm.ex.com is refused even
	// though carol is authorized on both hosts.
	_, err := svc.CreateSession(ctx, CreateSessionParams{
		Username:     "carol",
		HostDomain:   "crm.ex.com",
		SessionID:    "sess-cross",
		CredentialID: "cred-mail",
	})
	require.Error(t, err)
	assert.Equal(t, 403, HTTPStatus(err))
	assert.Equal(t, "Credential not valid for this host", ErrorMessage(err))

	rec := lastAuditOfType(t, st, string(audit.SecurityCrossDomainSession))
	assert.Contains(t, rec.Details, "mail.ex.com")
	assert.Contains(t, rec.Details, "crm.ex.com")

	// On its own domain the same credential works.
	created, err := svc.CreateSession(ctx, CreateSessionParams{
		Username:     "carol",
		HostDomain:   "mail.ex.com",
		SessionID:    "sess-home",
		CredentialID: "cred-mail",
	})
	require.NoError(t, err)
	assert.Equal(t, "mail.ex.com", created.Host)
}

func TestCreateSessionDefaultsAndConflict(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	h, _ := seedHost(t, st, "app.ex.com")
	u := seedUser(t, st, "alice", h)

	before := time.Now().UTC()
	created, err := svc.CreateSession(ctx, CreateSessionParams{
		Username:   "alice",
		HostDomain: "app.ex.com",
		SessionID:  "sess-1",
		CreatedIP:  "203.0.113.7",
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	})
	require.NoError(t, err)
	assert.Equal(t, u.ID, created.UserID)
	assert.Equal(t, "normal", created.SessionType)

	// No duration given: the 8-hour default applies.
	wantExpiry := before.Add(defaultSessionDuration)
	assert.WithinDuration(t, wantExpiry, created.ExpiresAt, time.Minute)

	sess, err := st.GetSessionBySessionID(ctx, "sess-1")
	require.NoError(t, err)
	assert.Contains(t, sess.CreatedVia, `"method":"passkey"`)
	assert.Contains(t, sess.CreatedVia, "Chrome 120 on Windows")

	rec := lastAuditOfType(t, st, string(audit.SessionCreated))
	assert.Equal(t, "alice", rec.Username)
	assert.Contains(t, rec.Details, `"duration_s":28800`)

	// Same session ID again is a conflict, not an upsert.
	_, err = svc.CreateSession(ctx, CreateSessionParams{
		Username:   "alice",
		HostDomain: "app.ex.com",
		SessionID:  "sess-1",
	})
	require.Error(t, err)
	assert.Equal(t, 409, HTTPStatus(err))
	assert.Equal(t, "Session already exists", ErrorMessage(err))
}

func TestCreateRemoteSessionRules(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	h, _ := seedHost(t, st, "app.ex.com")
	u := seedUser(t, st, "alice", h)

	// Feature off entirely.
	_, err := svc.CreateRemoteSession(ctx, CreateRemoteSessionParams{
		UserID: u.ID, HostDomain: "app.ex.com", SessionID: "r1",
	})
	require.Error(t, err)
	assert.Equal(t, 501, HTTPStatus(err))
	assert.Equal(t, "Remote authentication is not enabled for this host", ErrorMessage(err))

	// Enabled but no TTL configured is an operator mistake, not a client one.
	on := true
	_, err = svc.UpdateHost(ctx, "app.ex.com", UpdateHostParams{RemoteAuthEnabled: &on})
	require.NoError(t, err)
	_, err = svc.CreateRemoteSession(ctx, CreateRemoteSessionParams{
		UserID: u.ID, HostDomain: "app.ex.com", SessionID: "r1",
	})
	require.Error(t, err)
	assert.Equal(t, 500, HTTPStatus(err))

	ttl, maxTTL := 3600, 7200
	_, err = svc.UpdateHost(ctx, "app.ex.com", UpdateHostParams{
		RemoteAuthSessionTTL: &ttl,
		RemoteAuthMaxTTL:     &maxTTL,
	})
	require.NoError(t, err)

	// Asking beyond the host maximum is refused.
	_, err = svc.CreateRemoteSession(ctx, CreateRemoteSessionParams{
		UserID: u.ID, HostDomain: "app.ex.com", SessionID: "r1", DurationS: 7201,
	})
	require.Error(t, err)
	assert.Equal(t, 422, HTTPStatus(err))
	assert.Equal(t, "Requested session duration exceeds the host maximum", ErrorMessage(err))

	before := time.Now().UTC()
	created, err := svc.CreateRemoteSession(ctx, CreateRemoteSessionParams{
		UserID:     u.ID,
		HostDomain: "app.ex.com",
		SessionID:  "r1",
		CreatedIP:  "198.51.100.3",
	})
	require.NoError(t, err)
	assert.Equal(t, "remote", created.SessionType)
	// No duration given: the host TTL applies.
	assert.WithinDuration(t, before.Add(time.Hour), created.ExpiresAt, time.Minute)

	rec := lastAuditOfType(t, st, string(audit.RemoteSessionCreated))
	assert.Equal(t, "alice", rec.Username)
	assert.Contains(t, rec.Details, `"duration_s":3600`)

	_, err = svc.CreateRemoteSession(ctx, CreateRemoteSessionParams{
		UserID: "00000000-0000-0000-0000-000000000000", HostDomain: "app.ex.com", SessionID: "r2",
	})
	assert.Equal(t, 404, HTTPStatus(err))
	assert.Equal(t, "User not found", ErrorMessage(err))
}

func TestListUserSessions(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	h1, _ := seedHost(t, st, "one.ex.com")
	h2, _ := seedHost(t, st, "two.ex.com")
	u := seedUser(t, st, "alice", h1, h2)

	// No sessions yet: empty list, and nothing written to the audit log.
	infos, err := svc.ListUserSessions(ctx, u.ID, "")
	require.NoError(t, err)
	assert.Empty(t, infos)
	assert.Zero(t, countAuditOfType(t, st, string(audit.RemoteSessionListed)))

	_, err = svc.CreateSession(ctx, CreateSessionParams{
		Username: "alice", HostDomain: "one.ex.com", SessionID: "sess-a",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	})
	require.NoError(t, err)
	_, err = svc.CreateSession(ctx, CreateSessionParams{
		Username: "alice", HostDomain: "two.ex.com", SessionID: "sess-b",
	})
	require.NoError(t, err)

	infos, err = svc.ListUserSessions(ctx, u.ID, "sess-b")
	require.NoError(t, err)
	require.Len(t, infos, 2)

	byID := map[string]SessionInfo{}
	for _, si := range infos {
		byID[si.SessionID] = si
	}
	assert.Equal(t, "one.ex.com", byID["sess-a"].Host)
	assert.Equal(t, "Firefox 121 on Linux", byID["sess-a"].Device)
	assert.False(t, byID["sess-a"].IsCurrent)
	assert.True(t, byID["sess-b"].IsCurrent)

	rec := lastAuditOfType(t, st, string(audit.RemoteSessionListed))
	assert.Contains(t, rec.Details, `"session_count":2`)

	_, err = svc.ListUserSessions(ctx, "00000000-0000-0000-0000-000000000000", "")
	assert.Equal(t, 404, HTTPStatus(err))
}

func TestTerminateOwnSession(t *testing.T) {
	svc, st, _, ws := testService(t)
	ctx := context.Background()

	h, _ := seedHost(t, st, "app.ex.com")
	alice := seedUser(t, st, "alice", h)
	mallory := seedUser(t, st, "mallory", h)

	_, err := svc.CreateSession(ctx, CreateSessionParams{
		Username: "alice", HostDomain: "app.ex.com", SessionID: "sess-own",
	})
	require.NoError(t, err)

	_, err = svc.TerminateOwnSession(ctx, "sess-own", "")
	require.Error(t, err)
	assert.Equal(t, 400, HTTPStatus(err))
	assert.Equal(t, "Missing X-User-ID header", ErrorMessage(err))

	_, err = svc.TerminateOwnSession(ctx, "sess-own", mallory.ID)
	require.Error(t, err)
	assert.Equal(t, 403, HTTPStatus(err))
	assert.Equal(t, "Cannot terminate another user's session", ErrorMessage(err))

	// Ownership checks must not have touched the session.
	sess, err := st.GetSessionBySessionID(ctx, "sess-own")
	require.NoError(t, err)
	assert.True(t, sess.IsActive)

	res, err := svc.TerminateOwnSession(ctx, "sess-own", alice.ID)
	require.NoError(t, err)
	assert.True(t, res.CacheCleared)

	sess, err = st.GetSessionBySessionID(ctx, "sess-own")
	require.NoError(t, err)
	assert.True(t, sess.Revoked)
	assert.Equal(t, "User-initiated termination", sess.RevokedReason)

	reqs := ws.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, workerrpc.ScopeUserSession, reqs[0].Scope)
	assert.Equal(t, "sess-own", reqs[0].Target["sessionId"])

	rec := lastAuditOfType(t, st, string(audit.RemoteSessionTerminated))
	assert.Equal(t, "alice", rec.Username)

	_, err = svc.TerminateOwnSession(ctx, "sess-none", alice.ID)
	assert.Equal(t, 404, HTTPStatus(err))
	assert.Equal(t, "Session not found", ErrorMessage(err))
}

func TestExpireSessions(t *testing.T) {
	svc, st, _, ws := testService(t)
	ctx := context.Background()

	host, _ := seedHost(t, st, "gc.ex.com")
	alice := seedUser(t, st, "alice", host)

	_, err := st.CreateSession(ctx, store.Session{
		SessionID: "sess-stale",
		UserID:    alice.ID,
		HostID:    host.ID,
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	_, err = st.CreateSession(ctx, store.Session{
		SessionID: "sess-live",
		UserID:    alice.ID,
		HostID:    host.ID,
		ExpiresAt: hourFromNow(),
	})
	require.NoError(t, err)

	n, err := svc.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stale, err := st.GetSessionBySessionID(ctx, "sess-stale")
	require.NoError(t, err)
	assert.False(t, stale.IsActive)
	assert.False(t, stale.Revoked, "natural expiry is not a revocation")

	live, err := st.GetSessionBySessionID(ctx, "sess-live")
	require.NoError(t, err)
	assert.True(t, live.IsActive)

	rec := lastAuditOfType(t, st, string(audit.SessionExpired))
	assert.Equal(t, "system", rec.EventSource)
	assert.Contains(t, rec.Details, `"expired_count":1`)

	// Expiry is local bookkeeping; the edge enforces expires_at itself.
	assert.Empty(t, ws.requests())

	// An idle sweep adds nothing.
	n, err = svc.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, countAuditOfType(t, st, string(audit.SessionExpired)))
}
