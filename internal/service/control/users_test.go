package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunray-sh/sunray-api/internal/audit"
)

func TestCheckUser(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	seedUser(t, st, "alice")

	exists, err := svc.CheckUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = svc.CheckUser(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = svc.CheckUser(ctx, "")
	assert.Equal(t, 400, HTTPStatus(err))
}

func TestValidateUserProjection(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	h, _ := seedHost(t, st, "app.ex.com")
	seedUser(t, st, "alice", h)

	// Fresh user: exists, nothing else.
	v, err := svc.ValidateUser(ctx, "alice", "app.ex.com", "10.0.0.1", "")
	require.NoError(t, err)
	assert.Equal(t, UserValidation{UserExists: true}, v)

	rec := lastAuditOfType(t, st, string(audit.UserValidationSuccess))
	assert.Equal(t, "alice", rec.Username)
	assert.Contains(t, rec.Details, `"has_passkey":false`)

	// A live setup token flips has_valid_token.
	_, err = svc.GenerateSetupToken(ctx, GenerateSetupTokenParams{
		Username: "alice", HostDomain: "app.ex.com",
	})
	require.NoError(t, err)
	v, err = svc.ValidateUser(ctx, "alice", "app.ex.com", "10.0.0.1", "")
	require.NoError(t, err)
	assert.True(t, v.HasValidToken)
	assert.False(t, v.HasPasskey)

	// A passkey on this domain flips has_passkey; one on another domain
	// must not.
	require.NoError(t, svc.RegisterPasskey(ctx, RegisterPasskeyParams{
		Username: "alice", HostDomain: "app.ex.com",
		CredentialID: "cred-app", PublicKey: "pk",
	}))
	v, err = svc.ValidateUser(ctx, "alice", "app.ex.com", "10.0.0.1", "")
	require.NoError(t, err)
	assert.True(t, v.HasPasskey)

	// Deployment mode opens remote login.
	on := true
	_, err = svc.UpdateHost(ctx, "app.ex.com", UpdateHostParams{DeploymentMode: &on})
	require.NoError(t, err)
	v, err = svc.ValidateUser(ctx, "alice", "app.ex.com", "10.0.0.1", "")
	require.NoError(t, err)
	assert.True(t, v.RemoteLoginAllowed)
}

func TestValidateUserUnknownSameShape(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	seedHost(t, st, "app.ex.com")

	v, err := svc.ValidateUser(ctx, "ghost", "app.ex.com", "10.0.0.1", "")
	require.NoError(t, err)
	assert.Equal(t, UserValidation{}, v)

	rec := lastAuditOfType(t, st, string(audit.UserValidationUnknown))
	assert.Contains(t, rec.Details, "ghost")

	// Host existence is still checked first.
	_, err = svc.ValidateUser(ctx, "ghost", "nowhere.ex.com", "10.0.0.1", "")
	assert.Equal(t, 404, HTTPStatus(err))
	assert.Equal(t, "Host not found", ErrorMessage(err))
}

func TestCreateUser(t *testing.T) {
	svc, _, _, _ := testService(t)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, "Alice", "Alice@Ex.com", "")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Username)
	assert.Equal(t, "alice@ex.com", u.Email, "emails are stored lowercased")
	assert.Equal(t, "Alice", u.DisplayName, "display name defaults to the username")

	_, err = svc.CreateUser(ctx, "Alice", "other@ex.com", "")
	require.Error(t, err)
	assert.Equal(t, 409, HTTPStatus(err))
	assert.Equal(t, "User with this username or email already exists", ErrorMessage(err))

	_, err = svc.CreateUser(ctx, "bob", "not-an-email", "")
	assert.Equal(t, 400, HTTPStatus(err))
	assert.Equal(t, "a valid email is required", ErrorMessage(err))
}

func TestAuthorizeUserOnHostIdempotent(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	host, _ := seedHost(t, st, "app.ex.com")
	seedUser(t, st, "alice")

	require.NoError(t, svc.AuthorizeUserOnHost(ctx, "alice", "app.ex.com"))
	assert.Equal(t, 1, countAuditOfType(t, st, string(audit.HostUserAuthorized)))

	// The grant changes the host's effective config, so its version moves.
	bumped, err := st.GetHostByID(ctx, host.ID)
	require.NoError(t, err)
	assert.Greater(t, bumped.ConfigVersion, host.ConfigVersion)

	// Re-granting is a silent no-op.
	require.NoError(t, svc.AuthorizeUserOnHost(ctx, "alice", "app.ex.com"))
	assert.Equal(t, 1, countAuditOfType(t, st, string(audit.HostUserAuthorized)))
	again, err := st.GetHostByID(ctx, host.ID)
	require.NoError(t, err)
	assert.Equal(t, bumped.ConfigVersion, again.ConfigVersion)

	err = svc.AuthorizeUserOnHost(ctx, "ghost", "app.ex.com")
	assert.Equal(t, 404, HTTPStatus(err))
	assert.Equal(t, "User not found", ErrorMessage(err))
}

func TestRegisterPasskey(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	h, _ := seedHost(t, st, "app.ex.com")
	u := seedUser(t, st, "alice", h)

	require.NoError(t, svc.RegisterPasskey(ctx, RegisterPasskeyParams{
		Username:     "alice",
		HostDomain:   "app.ex.com",
		CredentialID: "cred-1",
		PublicKey:    "pk-1",
		ClientIP:     "10.1.1.1",
	}))

	pks, err := st.ListPasskeysByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, pks, 1)
	assert.Equal(t, "Passkey", pks[0].Name, "unnamed credentials get the default")
	assert.Equal(t, "app.ex.com", pks[0].HostDomain)

	rec := lastAuditOfType(t, st, string(audit.PasskeyRegistered))
	assert.Equal(t, "alice", rec.Username)
	assert.Contains(t, rec.Details, "cred-1")

	err = svc.RegisterPasskey(ctx, RegisterPasskeyParams{
		Username:     "alice",
		HostDomain:   "app.ex.com",
		CredentialID: "cred-1",
		PublicKey:    "pk-1",
	})
	require.Error(t, err)
	assert.Equal(t, 409, HTTPStatus(err))
	assert.Equal(t, "Passkey already registered", ErrorMessage(err))

	err = svc.RegisterPasskey(ctx, RegisterPasskeyParams{
		Username: "alice", HostDomain: "app.ex.com", CredentialID: "cred-2",
	})
	assert.Equal(t, 400, HTTPStatus(err))
	assert.Equal(t, "public_key is required", ErrorMessage(err))
}

func TestRevokePasskeyOwnership(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	h, _ := seedHost(t, st, "app.ex.com")
	alice := seedUser(t, st, "alice", h)
	seedUser(t, st, "mallory", h)

	require.NoError(t, svc.RegisterPasskey(ctx, RegisterPasskeyParams{
		Username: "alice", HostDomain: "app.ex.com", CredentialID: "cred-1", PublicKey: "pk",
	}))

	// Another user cannot revoke it, and the response does not reveal that
	// the credential exists.
	err := svc.RevokePasskey(ctx, "mallory", "cred-1")
	require.Error(t, err)
	assert.Equal(t, 404, HTTPStatus(err))
	assert.Equal(t, "Passkey not found", ErrorMessage(err))

	require.NoError(t, svc.RevokePasskey(ctx, "alice", "cred-1"))
	pks, err := st.ListPasskeysByUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, pks)

	rec := lastAuditOfType(t, st, string(audit.PasskeyRevoked))
	assert.Contains(t, rec.Details, "cred-1")

	err = svc.RevokePasskey(ctx, "alice", "cred-1")
	assert.Equal(t, 404, HTTPStatus(err))
}

func TestVerifyAuth(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	h1, _ := seedHost(t, st, "mail.ex.com")
	h2, _ := seedHost(t, st, "crm.ex.com")
	u := seedUser(t, st, "alice", h1, h2)

	require.NoError(t, svc.RegisterPasskey(ctx, RegisterPasskeyParams{
		Username: "alice", HostDomain: "mail.ex.com",
		CredentialID: "cred-mail", PublicKey: "pk", SignCount: 1,
	}))

	require.NoError(t, svc.VerifyAuth(ctx, VerifyAuthParams{
		Username:     "alice",
		HostDomain:   "mail.ex.com",
		CredentialID: "cred-mail",
		SignCount:    7,
		ClientIP:     "10.0.0.5",
	}))

	pks, err := st.ListPasskeysByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, pks, 1)
	assert.Equal(t, int64(7), pks[0].SignCount, "sign counter advances on verify")
	assert.NotNil(t, pks[0].LastUsedAt)

	rec := lastAuditOfType(t, st, string(audit.AuthSuccess))
	assert.Equal(t, "alice", rec.Username)
	assert.Contains(t, rec.Details, `"method":"passkey"`)

	// The same credential on the wrong domain is refused and flagged; the
	// sign counter stays put.
	err = svc.VerifyAuth(ctx, VerifyAuthParams{
		Username:     "alice",
		HostDomain:   "crm.ex.com",
		CredentialID: "cred-mail",
		SignCount:    8,
	})
	require.Error(t, err)
	assert.Equal(t, 403, HTTPStatus(err))
	assert.Equal(t, "Credential not valid for this host", ErrorMessage(err))
	lastAuditOfType(t, st, string(audit.SecurityCrossDomainSession))

	pks, err = st.ListPasskeysByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pks[0].SignCount)

	err = svc.VerifyAuth(ctx, VerifyAuthParams{
		Username: "alice", HostDomain: "mail.ex.com", CredentialID: "cred-none",
	})
	assert.Equal(t, 404, HTTPStatus(err))
	assert.Equal(t, "Credential not found", ErrorMessage(err))
}
