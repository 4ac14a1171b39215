package store

import (
	"context"
	"fmt"
)

const apiKeyCols = `id, name, key, key_display, scopes, is_active, expires_at,
	last_used_at, usage_count, config_version, created_at, updated_at`

func scanAPIKey(row interface{ Scan(...any) error }) (APIKey, error) {
	var k APIKey
	err := row.Scan(&k.ID, &k.Name, &k.Key, &k.KeyDisplay, &k.Scopes, &k.IsActive,
		&k.ExpiresAt, &k.LastUsedAt, &k.UsageCount, &k.ConfigVersion, &k.CreatedAt, &k.UpdatedAt)
	return k, err
}

func (s *Store) CreateAPIKey(ctx context.Context, name, key, keyDisplay, scopes string) (APIKey, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO sunray_api_keys (name, key, key_display, scopes)
		VALUES ($1, $2, $3, $4)
		RETURNING `+apiKeyCols, name, key, keyDisplay, scopes)
	k, err := scanAPIKey(row)
	if err != nil {
		return APIKey{}, fmt.Errorf("create api key: %w", err)
	}
	return k, nil
}

func (s *Store) GetAPIKeyByID(ctx context.Context, id string) (APIKey, error) {
	row := s.db.QueryRow(ctx, `SELECT `+apiKeyCols+` FROM sunray_api_keys WHERE id = $1`, id)
	k, err := scanAPIKey(row)
	return k, notFound(err)
}

// GetAPIKeyByKey resolves a presented Bearer value. Active/expiry checks are
// the caller's responsibility so it can distinguish the failure modes.
func (s *Store) GetAPIKeyByKey(ctx context.Context, key string) (APIKey, error) {
	row := s.db.QueryRow(ctx, `SELECT `+apiKeyCols+` FROM sunray_api_keys WHERE key = $1`, key)
	k, err := scanAPIKey(row)
	return k, notFound(err)
}

// GetActiveAPIKeyForWorker returns the key a worker's fan-out calls
// authenticate with.
func (s *Store) GetActiveAPIKeyForWorker(ctx context.Context, workerID string) (APIKey, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+apiKeyCols+` FROM sunray_api_keys k
		JOIN sunray_workers w ON w.api_key_id = k.id
		WHERE w.id = $1 AND k.is_active`, workerID)
	k, err := scanAPIKey(row)
	return k, notFound(err)
}

// RegenerateAPIKey replaces the key material, keeping name and scopes.
func (s *Store) RegenerateAPIKey(ctx context.Context, id, newKey, newDisplay string) (APIKey, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE sunray_api_keys
		SET key = $2, key_display = $3, `+touch+`
		WHERE id = $1
		RETURNING `+apiKeyCols, id, newKey, newDisplay)
	k, err := scanAPIKey(row)
	return k, notFound(err)
}

// ListAPIKeys returns every key, newest first. Callers expose KeyDisplay,
// never Key.
func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+apiKeyCols+` FROM sunray_api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sunray_api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TrackAPIKeyUsage bumps the usage counter on each authenticated request.
func (s *Store) TrackAPIKeyUsage(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sunray_api_keys
		SET last_used_at = now(), usage_count = usage_count + 1, `+touch+`
		WHERE id = $1`, id)
	return err
}

func (s *Store) CountActiveAPIKeys(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM sunray_api_keys WHERE is_active`).Scan(&n)
	return n, err
}
