package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// Process-wide configuration keys. Values live in sunray_config_params so
// operators can tune them without a redeploy; readers fall back to the
// documented defaults when a key is absent.
const (
	ParamMaxSessionDuration    = "sunray.max_session_duration_s"
	ParamMaxWAFRevalidation    = "sunray.max_waf_bypass_revalidation_s"
	ParamDefaultDeviceName     = "sunray.default_token_device_name"
	ParamDefaultTokenHours     = "sunray.default_token_valid_hours"
	ParamDefaultTokenMaxUses   = "sunray.default_token_maximum_use"
	ParamTokenMailTemplate     = "sunray.setup_token_mail_template"
	ParamTokenSendEmailDefault = "sunray.setup_token_send_email_default"
	ParamAdminIPWhitelist      = "sunray.admin_ip_whitelist"
	ParamRemotePollingInterval = "remote_auth.polling_interval"
	ParamRemoteChallengeTTL    = "remote_auth.challenge_ttl"
)

// Defaults for the keys above.
const (
	DefaultMaxSessionDuration    = 86400
	DefaultMaxWAFRevalidation    = 3600
	DefaultTokenDeviceName       = "Device"
	DefaultTokenValidHours       = 48
	DefaultTokenMaxUses          = 1
	DefaultRemotePollingInterval = 5
	DefaultRemoteChallengeTTL    = 300
)

// GetParam returns the raw value for key, or ErrNotFound.
func (s *Store) GetParam(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `
		SELECT value FROM sunray_config_params WHERE key = $1`, key).Scan(&value)
	if err != nil {
		return "", notFound(err)
	}
	return value, nil
}

// GetParamString returns the value for key or def when unset.
func (s *Store) GetParamString(ctx context.Context, key, def string) (string, error) {
	v, err := s.GetParam(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// GetParamInt parses the value as an integer, falling back to def when the
// key is unset or malformed.
func (s *Store) GetParamInt(ctx context.Context, key string, def int) (int, error) {
	v, err := s.GetParam(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, nil
	}
	return n, nil
}

// GetParamBool treats "true"/"1"/"yes" (any case) as true.
func (s *Store) GetParamBool(ctx context.Context, key string, def bool) (bool, error) {
	v, err := s.GetParam(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// SetParam upserts one configuration key.
func (s *Store) SetParam(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sunray_config_params (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = now()`,
		key, value)
	return err
}
