package store

import (
	"context"
	"fmt"
)

const passkeyCols = `id, user_id, credential_id, public_key, name, host_domain,
	sign_count, backup_eligible, backup_state, created_ip, created_user_agent,
	last_used_at, config_version, created_at, updated_at`

func scanPasskey(row interface{ Scan(...any) error }) (Passkey, error) {
	var p Passkey
	err := row.Scan(&p.ID, &p.UserID, &p.CredentialID, &p.PublicKey, &p.Name, &p.HostDomain,
		&p.SignCount, &p.BackupEligible, &p.BackupState, &p.CreatedIP, &p.CreatedUserAgent,
		&p.LastUsedAt, &p.ConfigVersion, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) CreatePasskey(ctx context.Context, p Passkey) (Passkey, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO sunray_passkeys (user_id, credential_id, public_key, name, host_domain,
			backup_eligible, backup_state, created_ip, created_user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+passkeyCols,
		p.UserID, p.CredentialID, p.PublicKey, p.Name, p.HostDomain,
		p.BackupEligible, p.BackupState, p.CreatedIP, p.CreatedUserAgent)
	created, err := scanPasskey(row)
	if err != nil {
		return Passkey{}, fmt.Errorf("create passkey: %w", err)
	}
	return created, nil
}

func (s *Store) GetPasskeyByCredentialID(ctx context.Context, credentialID string) (Passkey, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+passkeyCols+` FROM sunray_passkeys WHERE credential_id = $1`, credentialID)
	p, err := scanPasskey(row)
	return p, notFound(err)
}

func (s *Store) ListPasskeysByUser(ctx context.Context, userID string) ([]Passkey, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+passkeyCols+` FROM sunray_passkeys
		WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Passkey
	for rows.Next() {
		p, err := scanPasskey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UserHasPasskeyOnDomain checks rpId-bound possession: only credentials
// registered under the host's domain count.
func (s *Store) UserHasPasskeyOnDomain(ctx context.Context, userID, hostDomain string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sunray_passkeys WHERE user_id = $1 AND host_domain = $2
		)`, userID, hostDomain).Scan(&ok)
	return ok, err
}

// TrackPasskeyUsage records a successful authentication with the credential.
func (s *Store) TrackPasskeyUsage(ctx context.Context, id string, signCount int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sunray_passkeys
		SET last_used_at = now(), sign_count = GREATEST(sign_count, $2), `+touch+`
		WHERE id = $1`, id, signCount)
	return err
}

func (s *Store) DeletePasskey(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sunray_passkeys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
