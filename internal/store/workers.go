package store

import (
	"context"
	"fmt"
)

const workerCols = `id, name, worker_type, worker_url, api_key_id, is_active, config_version, created_at, updated_at`

func scanWorker(row interface{ Scan(...any) error }) (Worker, error) {
	var w Worker
	err := row.Scan(&w.ID, &w.Name, &w.WorkerType, &w.WorkerURL, &w.APIKeyID,
		&w.IsActive, &w.ConfigVersion, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (s *Store) CreateWorker(ctx context.Context, name, workerType, workerURL string, apiKeyID *string) (Worker, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO sunray_workers (name, worker_type, worker_url, api_key_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+workerCols, name, workerType, workerURL, apiKeyID)
	w, err := scanWorker(row)
	if err != nil {
		return Worker{}, fmt.Errorf("create worker: %w", err)
	}
	return w, nil
}

func (s *Store) GetWorkerByID(ctx context.Context, id string) (Worker, error) {
	row := s.db.QueryRow(ctx, `SELECT `+workerCols+` FROM sunray_workers WHERE id = $1`, id)
	w, err := scanWorker(row)
	return w, notFound(err)
}

func (s *Store) GetWorkerByName(ctx context.Context, name string) (Worker, error) {
	row := s.db.QueryRow(ctx, `SELECT `+workerCols+` FROM sunray_workers WHERE name = $1`, name)
	w, err := scanWorker(row)
	return w, notFound(err)
}

func (s *Store) GetActiveWorkerByName(ctx context.Context, name string) (Worker, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+workerCols+` FROM sunray_workers WHERE name = $1 AND is_active`, name)
	w, err := scanWorker(row)
	return w, notFound(err)
}

// ListPendingOutbound returns hosts currently bound to the worker that are
// scheduled to migrate elsewhere.
func (s *Store) ListPendingOutbound(ctx context.Context, workerID, workerName string) ([]MigrationHost, error) {
	return s.listMigrationHosts(ctx, `
		SELECT h.domain, $2::TEXT, h.pending_worker_name, h.migration_requested_at
		FROM sunray_hosts h
		WHERE h.worker_id = $1
		  AND h.pending_worker_name IS NOT NULL
		  AND h.pending_worker_name <> $2
		ORDER BY h.domain`, workerID, workerName)
}

// ListPendingInbound returns hosts bound to other workers (or unbound) that
// are scheduled to migrate to the named worker.
func (s *Store) ListPendingInbound(ctx context.Context, workerName string) ([]MigrationHost, error) {
	return s.listMigrationHosts(ctx, `
		SELECT h.domain, COALESCE(w.name, ''), h.pending_worker_name, h.migration_requested_at
		FROM sunray_hosts h
		LEFT JOIN sunray_workers w ON w.id = h.worker_id
		WHERE h.pending_worker_name = $1
		  AND (w.name IS NULL OR w.name <> $1)
		ORDER BY h.domain`, workerName)
}

func (s *Store) listMigrationHosts(ctx context.Context, sql string, args ...any) ([]MigrationHost, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MigrationHost
	for rows.Next() {
		var m MigrationHost
		var pending *string
		if err := rows.Scan(&m.Domain, &m.CurrentWorker, &pending, &m.RequestedAt); err != nil {
			return nil, err
		}
		if pending != nil {
			m.PendingWorker = *pending
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
