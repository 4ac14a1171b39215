package control

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/workerrpc"
)

// defaultSessionDuration applies when a worker reports a session without an
// explicit duration.
const defaultSessionDuration = 28800 * time.Second

// CreateSessionParams carries everything a worker reports after issuing a
// session at the edge.
type CreateSessionParams struct {
	Username          string
	HostDomain        string
	SessionID         string
	CredentialID      string
	CreatedIP         string
	DeviceFingerprint string
	UserAgent         string
	CSRFToken         string
	DurationS         int
}

// CreatedSession is the control plane's record of a new session. UserID is
// returned so the worker can address session-management calls later.
type CreatedSession struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Host        string    `json:"host"`
	SessionType string    `json:"session_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CreateSession mirrors an edge-issued session into the store. The worker
// has already verified the credential; the control plane still enforces that
// the user is authorized on the host and that the credential was registered
// for that host's domain.
func (s *Service) CreateSession(ctx context.Context, p CreateSessionParams) (CreatedSession, error) {
	switch {
	case p.Username == "":
		return CreatedSession{}, invalid("username is required")
	case p.HostDomain == "":
		return CreatedSession{}, invalid("host is required")
	case p.SessionID == "":
		return CreatedSession{}, invalid("session_id is required")
	}

	duration := time.Duration(p.DurationS) * time.Second
	if duration <= 0 {
		duration = defaultSessionDuration
	}
	now := time.Now().UTC()

	var (
		out       CreatedSession
		rejectErr error
	)
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		user, err := st.GetActiveUserByUsername(ctx, p.Username)
		if err != nil {
			return notFoundOr(err, "User not found")
		}
		host, err := st.GetActiveHostByDomain(ctx, p.HostDomain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}

		authorized, err := st.IsUserAuthorizedOnHost(ctx, user.ID, host.ID)
		if err != nil {
			return err
		}
		if !authorized {
			rejectErr = forbidden("User not authorized for this host")
			return appendAudit(ctx, st, audit.Entry{
				EventType: audit.AuthFailure,
				Severity:  audit.SeverityWarning,
				UserID:    user.ID,
				Username:  user.Username,
				IPAddress: p.CreatedIP,
				UserAgent: p.UserAgent,
				Details: map[string]any{
					"host":   host.Domain,
					"reason": "user_not_authorized",
				},
			})
		}

		if p.CredentialID != "" {
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
					IPAddress: p.CreatedIP,
					UserAgent: p.UserAgent,
					Details: map[string]any{
						"credential_id":     pk.CredentialID,
						"registered_domain": pk.HostDomain,
						"requested_domain":  host.Domain,
					},
				})
			}
		}

		createdVia := map[string]any{
			"method": "passkey",
			"device": ParseUserAgent(p.UserAgent),
		}
		if p.DeviceFingerprint != "" {
			createdVia["device_fingerprint"] = p.DeviceFingerprint
		}
		if p.CSRFToken != "" {
			createdVia["csrf_token"] = p.CSRFToken
		}
		viaJSON, err := json.Marshal(createdVia)
		if err != nil {
			return err
		}

		sess, err := st.CreateSession(ctx, store.Session{
			SessionID:    p.SessionID,
			UserID:       user.ID,
			HostID:       host.ID,
			SessionType:  "normal",
			ExpiresAt:    now.Add(duration),
			LastActivity: now,
			CredentialID: p.CredentialID,
			CreatedIP:    p.CreatedIP,
			UserAgent:    p.UserAgent,
			CreatedVia:   string(viaJSON),
		})
		if err != nil {
			if store.IsUniqueViolation(err) {
				return conflict("Session already exists")
			}
			return err
		}

		out = CreatedSession{
			SessionID:   sess.SessionID,
			UserID:      user.ID,
			Username:    user.Username,
			Host:        host.Domain,
			SessionType: sess.SessionType,
			ExpiresAt:   sess.ExpiresAt,
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.SessionCreated,
			Severity:  audit.SeverityInfo,
			UserID:    user.ID,
			Username:  user.Username,
			IPAddress: p.CreatedIP,
			UserAgent: p.UserAgent,
			Details: map[string]any{
				"session_id":   sess.SessionID,
				"host":         host.Domain,
				"session_type": sess.SessionType,
				"duration_s":   int(duration / time.Second),
			},
		})
	})
	if err != nil {
		return CreatedSession{}, err
	}
	if rejectErr != nil {
		return CreatedSession{}, rejectErr
	}
	return out, nil
}

// CreateRemoteSessionParams carries a remote-auth session report. The worker
// has already completed the WebAuthn ceremony, so UserID is trusted as-is.
type CreateRemoteSessionParams struct {
	UserID     string
	HostDomain string
	SessionID  string
	DurationS  int
	CreatedIP  string
	UserAgent  string
}

// CreateRemoteSession records a session issued through the remote
// authentication path. The host must have the feature enabled and carry a
// configured TTL; the requested duration may not exceed the host maximum.
func (s *Service) CreateRemoteSession(ctx context.Context, p CreateRemoteSessionParams) (CreatedSession, error) {
	switch {
	case p.UserID == "":
		return CreatedSession{}, invalid("user_id is required")
	case p.HostDomain == "":
		return CreatedSession{}, invalid("host is required")
	case p.SessionID == "":
		return CreatedSession{}, invalid("session_id is required")
	}

	now := time.Now().UTC()

	var out CreatedSession
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		host, err := st.GetActiveHostByDomain(ctx, p.HostDomain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}
		if !host.RemoteAuthEnabled {
			return notImplemented("Remote authentication is not enabled for this host")
		}
		if host.RemoteAuthSessionTTL <= 0 {
			return internal("Remote auth session TTL is not configured for this host")
		}

		duration := time.Duration(p.DurationS) * time.Second
		if duration <= 0 {
			duration = time.Duration(host.RemoteAuthSessionTTL) * time.Second
		}
		if host.RemoteAuthMaxTTL > 0 && duration > time.Duration(host.RemoteAuthMaxTTL)*time.Second {
			return unprocessable("Requested session duration exceeds the host maximum")
		}

		user, err := st.GetUserByID(ctx, p.UserID)
		if err != nil {
			return notFoundOr(err, "User not found")
		}

		viaJSON, err := json.Marshal(map[string]any{
			"method": "remote_auth",
			"device": ParseUserAgent(p.UserAgent),
		})
		if err != nil {
			return err
		}

		sess, err := st.CreateSession(ctx, store.Session{
			SessionID:    p.SessionID,
			UserID:       user.ID,
			HostID:       host.ID,
			SessionType:  "remote",
			ExpiresAt:    now.Add(duration),
			LastActivity: now,
			CreatedIP:    p.CreatedIP,
			UserAgent:    p.UserAgent,
			CreatedVia:   string(viaJSON),
		})
		if err != nil {
			if store.IsUniqueViolation(err) {
				return conflict("Session already exists")
			}
			return err
		}

		out = CreatedSession{
			SessionID:   sess.SessionID,
			UserID:      user.ID,
			Username:    user.Username,
			Host:        host.Domain,
			SessionType: sess.SessionType,
			ExpiresAt:   sess.ExpiresAt,
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.RemoteSessionCreated,
			Severity:  audit.SeverityInfo,
			UserID:    user.ID,
			Username:  user.Username,
			IPAddress: p.CreatedIP,
			UserAgent: p.UserAgent,
			Details: map[string]any{
				"session_id": sess.SessionID,
				"host":       host.Domain,
				"duration_s": int(duration / time.Second),
			},
		})
	})
	if err != nil {
		return CreatedSession{}, err
	}
	return out, nil
}

// SessionInfo is one row of the session-management listing shown to end
// users through the worker.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	Host         string    `json:"host"`
	Device       string    `json:"device"`
	IPAddress    string    `json:"ip_address"`
	SessionType  string    `json:"session_type"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsCurrent    bool      `json:"is_current"`
}

// ListUserSessions returns the user's active sessions with parsed device
// info. currentSessionID, when given, marks the session the user is calling
// from.
func (s *Service) ListUserSessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	var out []SessionInfo
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		user, err := st.GetUserByID(ctx, userID)
		if err != nil {
			return notFoundOr(err, "User not found")
		}
		sessions, err := st.ListActiveSessionsByUser(ctx, user.ID, time.Now().UTC())
		if err != nil {
			return err
		}

		domains := map[string]string{}
		out = make([]SessionInfo, 0, len(sessions))
		for _, sess := range sessions {
			domain, ok := domains[sess.HostID]
			if !ok {
				host, err := st.GetHostByID(ctx, sess.HostID)
				if err != nil {
					return err
				}
				domain = host.Domain
				domains[sess.HostID] = domain
			}
			out = append(out, SessionInfo{
				SessionID:    sess.SessionID,
				Host:         domain,
				Device:       ParseUserAgent(sess.UserAgent),
				IPAddress:    sess.CreatedIP,
				SessionType:  sess.SessionType,
				CreatedAt:    sess.CreatedAt,
				LastActivity: sess.LastActivity,
				ExpiresAt:    sess.ExpiresAt,
				IsCurrent:    currentSessionID != "" && sess.SessionID == currentSessionID,
			})
		}

		if len(out) == 0 {
			return nil
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.RemoteSessionListed,
			Severity:  audit.SeverityInfo,
			UserID:    user.ID,
			Username:  user.Username,
			Details:   map[string]any{"session_count": len(out)},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TerminateOwnSession ends one of the caller's own sessions. requestUserID
// comes from the X-User-ID header the worker sets after validating the
// user's management token; it must own the session.
func (s *Service) TerminateOwnSession(ctx context.Context, sessionID, requestUserID string) (RevocationResult, error) {
	if requestUserID == "" {
		return RevocationResult{}, invalid("Missing X-User-ID header")
	}

	const reason = "User-initiated termination"

	var (
		user  store.User
		host  store.Host
		sess  store.Session
		fo    fanout
		foErr error
	)
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		var err error
		sess, err = st.GetSessionBySessionID(ctx, sessionID)
		if err != nil {
			return notFoundOr(err, "Session not found")
		}
		if sess.UserID != requestUserID {
			return forbidden("Cannot terminate another user's session")
		}

		sess, err = st.RevokeSession(ctx, sessionID, reason)
		if err != nil {
			return notFoundOr(err, "Session not found or already terminated")
		}
		if user, err = st.GetUserByID(ctx, sess.UserID); err != nil {
			return err
		}
		if host, err = st.GetHostByID(ctx, sess.HostID); err != nil {
			return err
		}
		fo, foErr = fanoutForHost(ctx, st, host)

		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.RemoteSessionTerminated,
			Severity:  audit.SeverityInfo,
			UserID:    user.ID,
			Username:  user.Username,
			Details: map[string]any{
				"session_id": sess.SessionID,
				"host":       host.Domain,
			},
		})
	})
	if err != nil {
		return RevocationResult{}, err
	}

	req := workerrpc.ClearRequest{
		Scope: workerrpc.ScopeUserSession,
		Target: map[string]string{
			"hostname":  host.Domain,
			"username":  user.Username,
			"sessionId": sess.SessionID,
		},
		Reason: "Session revocation: " + reason,
	}
	res := RevocationResult{SessionID: sess.SessionID}
	if foErr != nil {
		res.CacheCleared = s.clearCacheUnroutable(ctx, req.Scope, host.Domain, foErr)
	} else {
		res.CacheCleared = s.clearCache(ctx, fo, req)
	}
	return res, nil
}

// ExpireSessions deactivates sessions past their expiry and writes one
// summary entry when anything changed. Called by the hourly cron. Natural
// expiry needs no cache fan-out: the edge checks expires_at itself.
func (s *Service) ExpireSessions(ctx context.Context) (int64, error) {
	now := time.Now().UTC()

	var expired int64
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		var err error
		if expired, err = st.ExpireSessions(ctx, now); err != nil {
			return err
		}
		if expired == 0 {
			return nil
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType:   audit.SessionExpired,
			Severity:    audit.SeverityInfo,
			EventSource: "system",
			Details:     map[string]any{"expired_count": expired, "as_of": now},
		})
	})
	return expired, err
}
