package store

import (
	"context"
	"fmt"
	"time"
)

const webhookTokenCols = `id, host_id, name, token, header_name, param_name,
	token_source, allowed_cidrs, is_active, expires_at, last_used_at,
	usage_count, config_version, created_at, updated_at`

func scanWebhookToken(row interface{ Scan(...any) error }) (WebhookToken, error) {
	var w WebhookToken
	err := row.Scan(&w.ID, &w.HostID, &w.Name, &w.Token, &w.HeaderName, &w.ParamName,
		&w.TokenSource, &w.AllowedCIDRs, &w.IsActive, &w.ExpiresAt, &w.LastUsedAt,
		&w.UsageCount, &w.ConfigVersion, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (s *Store) CreateWebhookToken(ctx context.Context, w WebhookToken) (WebhookToken, error) {
	if w.TokenSource == "" {
		w.TokenSource = "header"
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO sunray_webhook_tokens (host_id, name, token, header_name,
			param_name, token_source, allowed_cidrs, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+webhookTokenCols,
		w.HostID, w.Name, w.Token, w.HeaderName,
		w.ParamName, w.TokenSource, w.AllowedCIDRs, w.ExpiresAt)
	created, err := scanWebhookToken(row)
	if err != nil {
		return WebhookToken{}, fmt.Errorf("create webhook token: %w", err)
	}
	return created, nil
}

func (s *Store) GetWebhookTokenByID(ctx context.Context, id string) (WebhookToken, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+webhookTokenCols+` FROM sunray_webhook_tokens WHERE id = $1`, id)
	w, err := scanWebhookToken(row)
	return w, notFound(err)
}

func (s *Store) GetWebhookTokenByToken(ctx context.Context, token string) (WebhookToken, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+webhookTokenCols+` FROM sunray_webhook_tokens WHERE token = $1`, token)
	w, err := scanWebhookToken(row)
	return w, notFound(err)
}

func (s *Store) RegenerateWebhookToken(ctx context.Context, id, newToken string) (WebhookToken, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE sunray_webhook_tokens
		SET token = $2, `+touch+`
		WHERE id = $1
		RETURNING `+webhookTokenCols, id, newToken)
	w, err := scanWebhookToken(row)
	return w, notFound(err)
}

func (s *Store) TrackWebhookUsage(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sunray_webhook_tokens
		SET last_used_at = now(), usage_count = usage_count + 1, `+touch+`
		WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsableWebhookTokensByHost returns tokens the snapshot may publish:
// active and not expired.
func (s *Store) ListUsableWebhookTokensByHost(ctx context.Context, hostID string, now time.Time) ([]WebhookToken, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+webhookTokenCols+` FROM sunray_webhook_tokens
		WHERE host_id = $1 AND is_active
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY name`, hostID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WebhookToken
	for rows.Next() {
		w, err := scanWebhookToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
