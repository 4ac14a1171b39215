package control

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/hoststate"
	"github.com/sunray-sh/sunray-api/internal/store"
)

// CheckUser reports whether an active user with the username exists. This
// is the cheap pre-flight the worker calls before starting an enrollment
// ceremony; it deliberately has no side effects.
func (s *Service) CheckUser(ctx context.Context, username string) (bool, error) {
	if username == "" {
		return false, invalid("username is required")
	}
	var exists bool
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		var err error
		exists, err = st.UserExists(ctx, username)
		return err
	})
	return exists, err
}

// UserValidation is the worker's pre-auth projection of one user on one
// host. All four fields are present in every response; unknown users get
// the same shape with every flag false.
type UserValidation struct {
	UserExists         bool `json:"user_exists"`
	HasPasskey         bool `json:"has_passkey"`
	HasValidToken      bool `json:"has_valid_token"`
	RemoteLoginAllowed bool `json:"remote_login_allowed"`
}

// ValidateUser reports what credentials a user could present on a host.
// The unknown-user path performs the same audit write and returns the same
// structure as the known-user path, so response shape does not leak account
// existence.
func (s *Service) ValidateUser(ctx context.Context, username, hostDomain, clientIP, userAgent string) (UserValidation, error) {
	switch {
	case username == "":
		return UserValidation{}, invalid("username is required")
	case hostDomain == "":
		return UserValidation{}, invalid("host is required")
	}

	now := time.Now().UTC()

	var out UserValidation
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		host, err := st.GetActiveHostByDomain(ctx, hostDomain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}

		user, err := st.GetActiveUserByUsername(ctx, username)
		if isStoreMiss(err) {
			return appendAudit(ctx, st, audit.Entry{
				EventType: audit.UserValidationUnknown,
				Severity:  audit.SeverityInfo,
				IPAddress: clientIP,
				UserAgent: userAgent,
				Details:   map[string]any{"username": username, "host": host.Domain},
			})
		}
		if err != nil {
			return err
		}

		out.UserExists = true
		if out.HasPasskey, err = st.UserHasPasskeyOnDomain(ctx, user.ID, host.Domain); err != nil {
			return err
		}
		if out.HasValidToken, err = st.UserHasLiveSetupToken(ctx, user.ID, host.ID, now); err != nil {
			return err
		}
		out.RemoteLoginAllowed = hoststate.RemoteLoginAllowed(stateInputs(host), now)

		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.UserValidationSuccess,
			Severity:  audit.SeverityInfo,
			UserID:    user.ID,
			Username:  user.Username,
			IPAddress: clientIP,
			UserAgent: userAgent,
			Details: map[string]any{
				"username":             user.Username,
				"host":                 host.Domain,
				"has_passkey":          out.HasPasskey,
				"has_valid_token":      out.HasValidToken,
				"remote_login_allowed": out.RemoteLoginAllowed,
			},
		})
	})
	if err != nil {
		return UserValidation{}, err
	}
	return out, nil
}

// CreatedUser is the admin view of a new user.
type CreatedUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// CreateUser registers a user. Usernames are case-preserving but must be
// unique; emails are normalized to lowercase.
func (s *Service) CreateUser(ctx context.Context, username, email, displayName string) (CreatedUser, error) {
	switch {
	case username == "":
		return CreatedUser{}, invalid("username is required")
	case email == "" || !strings.Contains(email, "@"):
		return CreatedUser{}, invalid("a valid email is required")
	}
	if displayName == "" {
		displayName = username
	}

	var out CreatedUser
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		u, err := st.CreateUser(ctx, username, email, displayName)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return conflict("User with this username or email already exists")
			}
			return err
		}
		out = CreatedUser{ID: u.ID, Username: u.Username, Email: u.Email, DisplayName: u.DisplayName}
		return nil
	})
	if err != nil {
		return CreatedUser{}, err
	}
	log.Ctx(ctx).Info().Str("username", username).Msg("user created")
	return out, nil
}

// AuthorizeUserOnHost grants a user access to a host. Granting an existing
// authorization is a no-op and writes no audit entry.
func (s *Service) AuthorizeUserOnHost(ctx context.Context, username, hostDomain string) error {
	return store.WithTx(ctx, s.DB, func(st *store.Store) error {
		user, err := st.GetActiveUserByUsername(ctx, username)
		if err != nil {
			return notFoundOr(err, "User not found")
		}
		host, err := st.GetActiveHostByDomain(ctx, hostDomain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}

		added, err := st.AuthorizeUserOnHost(ctx, user.ID, host.ID)
		if err != nil {
			return err
		}
		if !added {
			return nil
		}
		// The authorized-user set is part of the host's config snapshot, so
		// the host version must advance for workers to refetch it.
		if err := st.TouchHost(ctx, host.ID); err != nil {
			return err
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.HostUserAuthorized,
			Severity:  audit.SeverityInfo,
			UserID:    user.ID,
			Username:  user.Username,
			Details:   map[string]any{"username": user.Username, "host": host.Domain},
		})
	})
}

// RegisterPasskeyParams is the worker's report of a completed WebAuthn
// registration ceremony. The control plane stores the credential without
// re-verifying it; the worker owns the cryptography.
type RegisterPasskeyParams struct {
	Username       string
	HostDomain     string
	CredentialID   string
	PublicKey      string
	Name           string
	SignCount      int64
	BackupEligible bool
	BackupState    bool
	ClientIP       string
	UserAgent      string
}

// RegisterPasskey records a new credential pinned to the host domain it was
// created under.
func (s *Service) RegisterPasskey(ctx context.Context, p RegisterPasskeyParams) error {
	switch {
	case p.Username == "":
		return invalid("username is required")
	case p.HostDomain == "":
		return invalid("host is required")
	case p.CredentialID == "":
		return invalid("credential_id is required")
	case p.PublicKey == "":
		return invalid("public_key is required")
	}
	if p.Name == "" {
		p.Name = "Passkey"
	}

	return store.WithTx(ctx, s.DB, func(st *store.Store) error {
		user, err := st.GetActiveUserByUsername(ctx, p.Username)
		if err != nil {
			return notFoundOr(err, "User not found")
		}
		host, err := st.GetActiveHostByDomain(ctx, p.HostDomain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}

		pk, err := st.CreatePasskey(ctx, store.Passkey{
			UserID:           user.ID,
			CredentialID:     p.CredentialID,
			PublicKey:        p.PublicKey,
			Name:             p.Name,
			HostDomain:       host.Domain,
			SignCount:        p.SignCount,
			BackupEligible:   p.BackupEligible,
			BackupState:      p.BackupState,
			CreatedIP:        p.ClientIP,
			CreatedUserAgent: p.UserAgent,
		})
		if err != nil {
			if store.IsUniqueViolation(err) {
				return conflict("Passkey already registered")
			}
			return err
		}

		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.PasskeyRegistered,
			Severity:  audit.SeverityInfo,
			UserID:    user.ID,
			Username:  user.Username,
			IPAddress: p.ClientIP,
			UserAgent: p.UserAgent,
			Details: map[string]any{
				"credential_id": pk.CredentialID,
				"host":          host.Domain,
				"name":          pk.Name,
			},
		})
	})
}

// RevokePasskey removes one credential. The worker's cached copy dies with
// the host cache invalidation the caller issues separately, or at the next
// snapshot pull.
func (s *Service) RevokePasskey(ctx context.Context, username, credentialID string) error {
	return store.WithTx(ctx, s.DB, func(st *store.Store) error {
		user, err := st.GetUserByUsername(ctx, username)
		if err != nil {
			return notFoundOr(err, "User not found")
		}
		pk, err := st.GetPasskeyByCredentialID(ctx, credentialID)
		if err != nil {
			return notFoundOr(err, "Passkey not found")
		}
		if pk.UserID != user.ID {
			return notFound("Passkey not found")
		}

		if err := appendAudit(ctx, st, audit.Entry{
			EventType: audit.PasskeyRevoked,
			Severity:  audit.SeverityInfo,
			UserID:    user.ID,
			Username:  user.Username,
			Details: map[string]any{
				"credential_id": pk.CredentialID,
				"host":          pk.HostDomain,
				"name":          pk.Name,
			},
		}); err != nil {
			return err
		}
		return st.DeletePasskey(ctx, pk.ID)
	})
}

// VerifyAuthParams is the worker's report of a successful passkey
// authentication at the edge.
type VerifyAuthParams struct {
	Username     string
	HostDomain   string
	CredentialID string
	SignCount    int64
	ClientIP     string
	UserAgent    string
}

// VerifyAuth records a successful edge authentication: it advances the
// credential's sign counter and writes the auth.success entry. A credential
// presented on a domain other than the one it was registered for is refused
// and flagged.
func (s *Service) VerifyAuth(ctx context.Context, p VerifyAuthParams) error {
	switch {
	case p.Username == "":
		return invalid("username is required")
	case p.HostDomain == "":
		return invalid("host is required")
	case p.CredentialID == "":
		return invalid("credential_id is required")
	}

	var rejectErr error
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		user, err := st.GetActiveUserByUsername(ctx, p.Username)
		if err != nil {
			return notFoundOr(err, "User not found")
		}
		host, err := st.GetActiveHostByDomain(ctx, p.HostDomain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}
		pk, err := st.GetPasskeyByCredentialID(ctx, p.CredentialID)
		if err != nil {
			return notFoundOr(err, "Credential not found")
		}

		if pk.HostDomain != host.Domain {
			rejectErr = forbidden("Credential not valid for this host")
			return appendAudit(ctx, st, audit.Entry{
				EventType: audit.SecurityCrossDomainSession,
				Severity:  audit.SeverityWarning,
				UserID:    user.ID,
				Username:  user.Username,
				IPAddress: p.ClientIP,
				UserAgent: p.UserAgent,
				Details: map[string]any{
					"credential_id":     pk.CredentialID,
					"registered_domain": pk.HostDomain,
					"requested_domain":  host.Domain,
				},
			})
		}

		if err := st.TrackPasskeyUsage(ctx, pk.ID, p.SignCount); err != nil {
			return err
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.AuthSuccess,
			Severity:  audit.SeverityInfo,
			UserID:    user.ID,
			Username:  user.Username,
			IPAddress: p.ClientIP,
			UserAgent: p.UserAgent,
			Details: map[string]any{
				"method":        "passkey",
				"credential_id": pk.CredentialID,
				"host":          host.Domain,
			},
		})
	})
	if err != nil {
		return err
	}
	return rejectErr
}
