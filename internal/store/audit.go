package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sunray-sh/sunray-api/internal/audit"
)

// AppendAudit persists one audit entry. Event types outside the declared
// taxonomy are rejected here so a stray literal fails on its first write.
func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	e = e.Normalize()

	if !e.EventType.Valid() {
		return fmt.Errorf("audit: unknown event type %q", e.EventType)
	}
	if !e.Severity.Valid() {
		return fmt.Errorf("audit: unknown severity %q", e.Severity)
	}

	details := "{}"
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("audit: marshal details: %w", err)
		}
		details = string(raw)
	}

	// Empty attribution IDs become NULL so the UUID columns stay clean.
	var userID, apiKeyID *string
	if e.UserID != "" {
		userID = &e.UserID
	}
	if e.APIKeyID != "" {
		apiKeyID = &e.APIKeyID
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO sunray_audit_log (event_type, severity, user_id, username,
			admin_user_id, api_key_id, worker, ip_address, user_agent,
			request_id, event_source, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(e.EventType), string(e.Severity), userID, e.Username,
		e.AdminUserID, apiKeyID, e.Worker, e.IPAddress, e.UserAgent,
		e.RequestID, e.EventSource, details)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

const auditCols = `id, ts, event_type, severity, user_id, username, admin_user_id,
	api_key_id, worker, ip_address, user_agent, request_id, event_source, details`

// ListAuditByType returns the newest entries of one event type.
func (s *Store) ListAuditByType(ctx context.Context, eventType string, limit int) ([]AuditRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+auditCols+` FROM sunray_audit_log
		WHERE event_type = $1
		ORDER BY ts DESC
		LIMIT $2`, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.EventType, &r.Severity, &r.UserID,
			&r.Username, &r.AdminUserID, &r.APIKeyID, &r.Worker, &r.IPAddress,
			&r.UserAgent, &r.RequestID, &r.EventSource, &r.Details); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneAudit deletes entries older than cutoff. Only the retention job may
// call this; audit entries are otherwise immutable.
func (s *Store) PruneAudit(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sunray_audit_log WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
