package store

import (
	"context"
	"fmt"
	"time"
)

const hostCols = `id, domain, display_name, backend_url, is_active, block_all_traffic,
	worker_id, pending_worker_name, migration_requested_at, last_migration_ts,
	deployment_mode, golive_date, deployment_session_ttl_s,
	session_duration_s, waf_bypass_revalidation_s,
	email_login_enabled, email_login_session_duration_s, otp_validity_s,
	remote_auth_enabled, remote_auth_session_ttl_s, remote_auth_max_session_ttl_s,
	session_mgmt_enabled, session_mgmt_ttl_s,
	allowed_cidrs, public_url_patterns, token_url_patterns,
	webhook_header_name, webhook_param_name,
	config_version, created_at, updated_at`

func scanHost(row interface{ Scan(...any) error }) (Host, error) {
	var h Host
	err := row.Scan(&h.ID, &h.Domain, &h.DisplayName, &h.BackendURL, &h.IsActive, &h.BlockAllTraffic,
		&h.WorkerID, &h.PendingWorkerName, &h.MigrationRequestedAt, &h.LastMigrationTS,
		&h.DeploymentMode, &h.GoLiveDate, &h.DeploymentSessionTTL,
		&h.SessionDurationSecs, &h.WAFRevalidationSecs,
		&h.EmailLoginEnabled, &h.EmailLoginSessionSecs, &h.OTPValiditySecs,
		&h.RemoteAuthEnabled, &h.RemoteAuthSessionTTL, &h.RemoteAuthMaxTTL,
		&h.SessionMgmtEnabled, &h.SessionMgmtTTL,
		&h.AllowedCIDRs, &h.PublicURLPatterns, &h.TokenURLPatterns,
		&h.WebhookHeaderName, &h.WebhookParamName,
		&h.ConfigVersion, &h.CreatedAt, &h.UpdatedAt)
	return h, err
}

// CreateHost inserts a host with column defaults for all tuning knobs.
func (s *Store) CreateHost(ctx context.Context, domain, displayName, backendURL string) (Host, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO sunray_hosts (domain, display_name, backend_url)
		VALUES ($1, $2, $3)
		RETURNING `+hostCols, domain, displayName, backendURL)
	h, err := scanHost(row)
	if err != nil {
		return Host{}, fmt.Errorf("create host: %w", err)
	}
	return h, nil
}

func (s *Store) GetHostByID(ctx context.Context, id string) (Host, error) {
	row := s.db.QueryRow(ctx, `SELECT `+hostCols+` FROM sunray_hosts WHERE id = $1`, id)
	h, err := scanHost(row)
	return h, notFound(err)
}

func (s *Store) GetHostByDomain(ctx context.Context, domain string) (Host, error) {
	row := s.db.QueryRow(ctx, `SELECT `+hostCols+` FROM sunray_hosts WHERE domain = $1`, domain)
	h, err := scanHost(row)
	return h, notFound(err)
}

func (s *Store) GetActiveHostByDomain(ctx context.Context, domain string) (Host, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+hostCols+` FROM sunray_hosts WHERE domain = $1 AND is_active`, domain)
	h, err := scanHost(row)
	return h, notFound(err)
}

func (s *Store) ListActiveHosts(ctx context.Context) ([]Host, error) {
	return s.listHosts(ctx, `SELECT `+hostCols+` FROM sunray_hosts WHERE is_active ORDER BY domain`)
}

func (s *Store) ListHostsByWorker(ctx context.Context, workerID string) ([]Host, error) {
	return s.listHosts(ctx, `
		SELECT `+hostCols+` FROM sunray_hosts
		WHERE worker_id = $1 AND is_active ORDER BY domain`, workerID)
}

// GetFanoutHostByWorker picks one active host fronted by the worker to
// address worker-wide cache invalidations through.
func (s *Store) GetFanoutHostByWorker(ctx context.Context, workerID string) (Host, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+hostCols+` FROM sunray_hosts
		WHERE worker_id = $1 AND is_active ORDER BY domain LIMIT 1`, workerID)
	h, err := scanHost(row)
	return h, notFound(err)
}

// ListUserFanoutHosts returns one active host per distinct worker among the
// hosts the user is authorized on. User-wide invalidations go to each worker
// exactly once.
func (s *Store) ListUserFanoutHosts(ctx context.Context, userID string) ([]Host, error) {
	return s.listHosts(ctx, `
		SELECT DISTINCT ON (h.worker_id) `+prefixCols(hostCols, "h")+`
		FROM sunray_hosts h
		JOIN sunray_user_hosts uh ON uh.host_id = h.id
		WHERE uh.user_id = $1 AND h.is_active AND h.worker_id IS NOT NULL
		ORDER BY h.worker_id, h.domain`, userID)
}

func (s *Store) listHosts(ctx context.Context, sql string, args ...any) ([]Host, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// UpdateHostSettings writes the admin-tunable columns from h and bumps the
// config version. Validation and audit trail are the service's job.
func (s *Store) UpdateHostSettings(ctx context.Context, h Host) (Host, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE sunray_hosts SET
			display_name = $2, backend_url = $3, is_active = $4, block_all_traffic = $5,
			deployment_mode = $6, golive_date = $7, deployment_session_ttl_s = $8,
			session_duration_s = $9, waf_bypass_revalidation_s = $10,
			email_login_enabled = $11, email_login_session_duration_s = $12, otp_validity_s = $13,
			remote_auth_enabled = $14, remote_auth_session_ttl_s = $15, remote_auth_max_session_ttl_s = $16,
			session_mgmt_enabled = $17, session_mgmt_ttl_s = $18,
			allowed_cidrs = $19, public_url_patterns = $20, token_url_patterns = $21,
			webhook_header_name = $22, webhook_param_name = $23,
			`+touch+`
		WHERE id = $1
		RETURNING `+hostCols,
		h.ID, h.DisplayName, h.BackendURL, h.IsActive, h.BlockAllTraffic,
		h.DeploymentMode, h.GoLiveDate, h.DeploymentSessionTTL,
		h.SessionDurationSecs, h.WAFRevalidationSecs,
		h.EmailLoginEnabled, h.EmailLoginSessionSecs, h.OTPValiditySecs,
		h.RemoteAuthEnabled, h.RemoteAuthSessionTTL, h.RemoteAuthMaxTTL,
		h.SessionMgmtEnabled, h.SessionMgmtTTL,
		h.AllowedCIDRs, h.PublicURLPatterns, h.TokenURLPatterns,
		h.WebhookHeaderName, h.WebhookParamName)
	updated, err := scanHost(row)
	return updated, notFound(err)
}

// SetPendingWorker schedules a migration toward the named worker.
func (s *Store) SetPendingWorker(ctx context.Context, hostID, workerName string, requestedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sunray_hosts
		SET pending_worker_name = $2, migration_requested_at = $3, `+touch+`
		WHERE id = $1`, hostID, workerName, requestedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ClearPendingWorker(ctx context.Context, hostID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sunray_hosts
		SET pending_worker_name = NULL, migration_requested_at = NULL, `+touch+`
		WHERE id = $1`, hostID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BindWorker attaches a worker to a previously unbound host.
func (s *Store) BindWorker(ctx context.Context, hostID, workerID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sunray_hosts SET worker_id = $2, `+touch+`
		WHERE id = $1`, hostID, workerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MigrateToWorker performs the migration swap in one statement: rebind,
// clear the pending marker, and stamp last_migration_ts. Readers never see
// a partial combination.
func (s *Store) MigrateToWorker(ctx context.Context, hostID, workerID string, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sunray_hosts
		SET worker_id = $2,
			pending_worker_name = NULL,
			migration_requested_at = NULL,
			last_migration_ts = $3,
			`+touch+`
		WHERE id = $1`, hostID, workerID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGoLiveDue returns hosts still in deployment mode whose go-live date
// has arrived, restricted to hosts that would otherwise derive as
// protected (active, bound, not locked).
func (s *Store) ListGoLiveDue(ctx context.Context, today time.Time) ([]Host, error) {
	return s.listHosts(ctx, `
		SELECT `+hostCols+` FROM sunray_hosts
		WHERE deployment_mode
		  AND golive_date IS NOT NULL AND golive_date <= $1
		  AND is_active AND worker_id IS NOT NULL AND NOT block_all_traffic
		ORDER BY domain`, today)
}

// FinishDeployment switches deployment mode off after go-live; the derived
// state flips to protected and workers pick up the bumped config version.
func (s *Store) FinishDeployment(ctx context.Context, hostID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sunray_hosts SET deployment_mode = FALSE, `+touch+`
		WHERE id = $1`, hostID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchHost bumps config_version without changing any other column. Used
// when host-scoped config lives in a side table (authorized users) and the
// host row itself would otherwise stay stale.
func (s *Store) TouchHost(ctx context.Context, hostID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE sunray_hosts SET `+touch+` WHERE id = $1`, hostID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountHosts(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM sunray_hosts`).Scan(&n)
	return n, err
}

func (s *Store) CountHostsByWorker(ctx context.Context, workerID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM sunray_hosts WHERE worker_id = $1 AND is_active`, workerID).Scan(&n)
	return n, err
}
