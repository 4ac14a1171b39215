package store

import (
	"context"
	"fmt"
	"time"
)

const setupTokenCols = `id, user_id, host_id, token_hash, device_name, expires_at,
	consumed, consumed_date, current_uses, max_uses, allowed_cidrs,
	config_version, created_at, updated_at`

func scanSetupToken(row interface{ Scan(...any) error }) (SetupToken, error) {
	var t SetupToken
	err := row.Scan(&t.ID, &t.UserID, &t.HostID, &t.TokenHash, &t.DeviceName, &t.ExpiresAt,
		&t.Consumed, &t.ConsumedDate, &t.CurrentUses, &t.MaxUses, &t.AllowedCIDRs,
		&t.ConfigVersion, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) CreateSetupToken(ctx context.Context, t SetupToken) (SetupToken, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO sunray_setup_tokens (user_id, host_id, token_hash, device_name,
			expires_at, max_uses, allowed_cidrs)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+setupTokenCols,
		t.UserID, t.HostID, t.TokenHash, t.DeviceName, t.ExpiresAt, t.MaxUses, t.AllowedCIDRs)
	created, err := scanSetupToken(row)
	if err != nil {
		return SetupToken{}, fmt.Errorf("create setup token: %w", err)
	}
	return created, nil
}

// GetLiveSetupTokenForUpdate locks the unconsumed, unexpired token matching
// the claimed hash. The row lock serializes concurrent consumption attempts
// so current_uses never skips or loses an increment.
func (s *Store) GetLiveSetupTokenForUpdate(ctx context.Context, userID, tokenHash string, now time.Time) (SetupToken, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+setupTokenCols+` FROM sunray_setup_tokens
		WHERE user_id = $1 AND token_hash = $2 AND NOT consumed AND expires_at > $3
		FOR UPDATE`, userID, tokenHash, now)
	t, err := scanSetupToken(row)
	return t, notFound(err)
}

// ConsumeSetupToken increments the use counter and marks the token consumed
// when the allowance is exhausted. Must run on a row previously locked by
// GetLiveSetupTokenForUpdate.
func (s *Store) ConsumeSetupToken(ctx context.Context, id string, consumed bool, now time.Time) (SetupToken, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE sunray_setup_tokens
		SET current_uses = current_uses + 1,
			consumed = $2,
			consumed_date = CASE WHEN $2 THEN $3 ELSE consumed_date END,
			`+touch+`
		WHERE id = $1
		RETURNING `+setupTokenCols, id, consumed, now)
	t, err := scanSetupToken(row)
	return t, notFound(err)
}

// UserHasLiveSetupToken reports whether the user holds at least one usable
// token for the host (user-validation projection).
func (s *Store) UserHasLiveSetupToken(ctx context.Context, userID, hostID string, now time.Time) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sunray_setup_tokens
			WHERE user_id = $1 AND host_id = $2 AND NOT consumed
			  AND expires_at > $3 AND current_uses < max_uses
		)`, userID, hostID, now).Scan(&ok)
	return ok, err
}

func (s *Store) ListSetupTokensByUser(ctx context.Context, userID string) ([]SetupToken, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+setupTokenCols+` FROM sunray_setup_tokens
		WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SetupToken
	for rows.Next() {
		t, err := scanSetupToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
