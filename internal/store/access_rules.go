package store

import (
	"context"
	"fmt"
)

const accessRuleCols = `id, host_id, name, rule_type, action, value, priority,
	is_active, config_version, created_at, updated_at`

func scanAccessRule(row interface{ Scan(...any) error }) (AccessRule, error) {
	var r AccessRule
	err := row.Scan(&r.ID, &r.HostID, &r.Name, &r.RuleType, &r.Action, &r.Value,
		&r.Priority, &r.IsActive, &r.ConfigVersion, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Store) CreateAccessRule(ctx context.Context, r AccessRule) (AccessRule, error) {
	if r.RuleType == "" {
		r.RuleType = "cidr"
	}
	if r.Action == "" {
		r.Action = "allow"
	}
	if r.Priority == 0 {
		r.Priority = 10
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO sunray_access_rules (host_id, name, rule_type, action, value, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+accessRuleCols,
		r.HostID, r.Name, r.RuleType, r.Action, r.Value, r.Priority)
	created, err := scanAccessRule(row)
	if err != nil {
		return AccessRule{}, fmt.Errorf("create access rule: %w", err)
	}
	return created, nil
}

// ListActiveAccessRules returns the host's live rules in priority order,
// lowest number first.
func (s *Store) ListActiveAccessRules(ctx context.Context, hostID string) ([]AccessRule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+accessRuleCols+` FROM sunray_access_rules
		WHERE host_id = $1 AND is_active
		ORDER BY priority, created_at`, hostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccessRule
	for rows.Next() {
		r, err := scanAccessRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAccessRule(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sunray_access_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
