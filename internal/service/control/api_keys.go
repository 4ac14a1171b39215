package control

import (
	"context"
	"strings"
	"time"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/token"
)

// CreatedAPIKey carries the one response that ever contains the full key
// value. Listings and later reads only see KeyDisplay.
type CreatedAPIKey struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Key        string    `json:"key"`
	KeyDisplay string    `json:"key_display"`
	Scopes     string    `json:"scopes"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateAPIKey mints a new key with the given scopes. Scopes default to
// "all" when empty, matching keys provisioned for workers.
func (s *Service) CreateAPIKey(ctx context.Context, name, scopes string) (CreatedAPIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return CreatedAPIKey{}, invalid("name is required")
	}
	scopes = strings.TrimSpace(scopes)
	if scopes == "" {
		scopes = "all"
	}

	plain := token.NewAPIKey()
	display := keyDisplay(plain)

	var out CreatedAPIKey
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		k, err := st.CreateAPIKey(ctx, name, plain, display, scopes)
		if err != nil {
			return err
		}
		out = CreatedAPIKey{
			ID:         k.ID,
			Name:       k.Name,
			Key:        plain,
			KeyDisplay: k.KeyDisplay,
			Scopes:     k.Scopes,
			CreatedAt:  k.CreatedAt,
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.APIKeyCreated,
			Severity:  audit.SeverityInfo,
			Details: map[string]any{
				"key_name": k.Name,
				"key_id":   k.ID,
				"scopes":   k.Scopes,
			},
		})
	})
	if err != nil {
		return CreatedAPIKey{}, err
	}
	return out, nil
}

// RegenerateAPIKey replaces the key material in place. The old value stops
// authenticating at commit; callers holding it get 401 on their next request.
func (s *Service) RegenerateAPIKey(ctx context.Context, id string) (CreatedAPIKey, error) {
	plain := token.NewAPIKey()
	display := keyDisplay(plain)

	var out CreatedAPIKey
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		k, err := st.RegenerateAPIKey(ctx, id, plain, display)
		if err != nil {
			return notFoundOr(err, "API key not found")
		}
		out = CreatedAPIKey{
			ID:         k.ID,
			Name:       k.Name,
			Key:        plain,
			KeyDisplay: k.KeyDisplay,
			Scopes:     k.Scopes,
			CreatedAt:  k.CreatedAt,
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.APIKeyRegenerated,
			Severity:  audit.SeverityInfo,
			Details:   map[string]any{"key_name": k.Name, "key_id": k.ID},
		})
	})
	if err != nil {
		return CreatedAPIKey{}, err
	}
	return out, nil
}

// DeleteAPIKey removes the key. The audit entry captures the usage stats
// that disappear with the row.
func (s *Service) DeleteAPIKey(ctx context.Context, id string) error {
	return store.WithTx(ctx, s.DB, func(st *store.Store) error {
		k, err := st.GetAPIKeyByID(ctx, id)
		if err != nil {
			return notFoundOr(err, "API key not found")
		}
		if err := appendAudit(ctx, st, audit.Entry{
			EventType: audit.APIKeyDeleted,
			Severity:  audit.SeverityInfo,
			Details: map[string]any{
				"key_name":    k.Name,
				"key_id":      k.ID,
				"was_active":  k.IsActive,
				"usage_count": k.UsageCount,
				"last_used":   k.LastUsedAt,
			},
		}); err != nil {
			return err
		}
		if err := st.DeleteAPIKey(ctx, id); err != nil {
			return notFoundOr(err, "API key not found")
		}
		return nil
	})
}

// keyDisplay redacts a key to its first eight and last four characters.
func keyDisplay(key string) string {
	if len(key) > 12 {
		return key[:8] + "..." + key[len(key)-4:]
	}
	if len(key) > 4 {
		return key[:4] + "..."
	}
	return key
}
