package store

import (
	"context"
	"fmt"
	"time"
)

const sessionCols = `id, session_id, user_id, host_id, session_type, is_active,
	revoked, revoked_reason, expires_at, last_activity, credential_id,
	created_ip, user_agent, created_via, config_version, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var x Session
	err := row.Scan(&x.ID, &x.SessionID, &x.UserID, &x.HostID, &x.SessionType, &x.IsActive,
		&x.Revoked, &x.RevokedReason, &x.ExpiresAt, &x.LastActivity, &x.CredentialID,
		&x.CreatedIP, &x.UserAgent, &x.CreatedVia, &x.ConfigVersion, &x.CreatedAt, &x.UpdatedAt)
	return x, err
}

func (s *Store) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.SessionType == "" {
		sess.SessionType = "normal"
	}
	if sess.CreatedVia == "" {
		sess.CreatedVia = "{}"
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO sunray_sessions (session_id, user_id, host_id, session_type,
			expires_at, credential_id, created_ip, user_agent, created_via)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+sessionCols,
		sess.SessionID, sess.UserID, sess.HostID, sess.SessionType,
		sess.ExpiresAt, sess.CredentialID, sess.CreatedIP, sess.UserAgent, sess.CreatedVia)
	created, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return created, nil
}

func (s *Store) GetSessionBySessionID(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionCols+` FROM sunray_sessions WHERE session_id = $1`, sessionID)
	sess, err := scanSession(row)
	return sess, notFound(err)
}

// RevokeSession flips the session inactive with a reason. The local write is
// the source of truth; edge fan-out happens afterwards and cannot undo it.
func (s *Store) RevokeSession(ctx context.Context, sessionID, reason string) (Session, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE sunray_sessions
		SET is_active = FALSE, revoked = TRUE, revoked_reason = $2, `+touch+`
		WHERE session_id = $1
		RETURNING `+sessionCols, sessionID, reason)
	sess, err := scanSession(row)
	return sess, notFound(err)
}

// Bulk revocations. Each returns the number of sessions newly revoked.

func (s *Store) RevokeSessionsByUser(ctx context.Context, userID, reason string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sunray_sessions
		SET is_active = FALSE, revoked = TRUE, revoked_reason = $2, `+touch+`
		WHERE user_id = $1 AND is_active`, userID, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) RevokeSessionsByUserOnHost(ctx context.Context, userID, hostID, reason string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sunray_sessions
		SET is_active = FALSE, revoked = TRUE, revoked_reason = $3, `+touch+`
		WHERE user_id = $1 AND host_id = $2 AND is_active`, userID, hostID, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) RevokeSessionsByHost(ctx context.Context, hostID, reason string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sunray_sessions
		SET is_active = FALSE, revoked = TRUE, revoked_reason = $2, `+touch+`
		WHERE host_id = $1 AND is_active`, hostID, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) RevokeSessionsByWorker(ctx context.Context, workerID, reason string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sunray_sessions
		SET is_active = FALSE, revoked = TRUE, revoked_reason = $2, `+touch+`
		WHERE is_active AND host_id IN (
			SELECT id FROM sunray_hosts WHERE worker_id = $1
		)`, workerID, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListActiveSessionsByUser returns live sessions newest first, the order the
// session-management UI presents them in.
func (s *Store) ListActiveSessionsByUser(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	return s.listSessions(ctx, `
		SELECT `+sessionCols+` FROM sunray_sessions
		WHERE user_id = $1 AND is_active AND expires_at > $2
		ORDER BY created_at DESC`, userID, now)
}

func (s *Store) listSessions(ctx context.Context, sql string, args ...any) ([]Session, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ExpireSessions deactivates sessions past their expiry without marking
// them revoked; natural expiry is not a revocation.
func (s *Store) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sunray_sessions
		SET is_active = FALSE, `+touch+`
		WHERE is_active AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountActiveSessions(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM sunray_sessions WHERE is_active`).Scan(&n)
	return n, err
}
