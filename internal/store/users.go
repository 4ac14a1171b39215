package store

import (
	"context"
	"fmt"
)

const userCols = `id, username, email, display_name, is_active, config_version, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.IsActive,
		&u.ConfigVersion, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// CreateUser inserts a user. Email is stored lowercased so OTP lookups by
// normalized address always hit.
func (s *Store) CreateUser(ctx context.Context, username, email, displayName string) (User, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO sunray_users (username, email, display_name)
		VALUES ($1, lower($2), $3)
		RETURNING `+userCols, username, email, displayName)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userCols+` FROM sunray_users WHERE id = $1`, id)
	u, err := scanUser(row)
	return u, notFound(err)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userCols+` FROM sunray_users WHERE username = $1`, username)
	u, err := scanUser(row)
	return u, notFound(err)
}

// GetActiveUserByUsername is the lookup used by the credential paths; an
// archived user is indistinguishable from a missing one.
func (s *Store) GetActiveUserByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userCols+` FROM sunray_users
		WHERE username = $1 AND is_active`, username)
	u, err := scanUser(row)
	return u, notFound(err)
}

// GetActiveUserByEmailOnHost finds an active user by normalized email who is
// authorized on the given host.
func (s *Store) GetActiveUserByEmailOnHost(ctx context.Context, email, hostID string) (User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userCols+` FROM sunray_users u
		WHERE u.email = lower($1) AND u.is_active
		  AND EXISTS (
			SELECT 1 FROM sunray_user_hosts uh
			WHERE uh.user_id = u.id AND uh.host_id = $2
		  )`, email, hostID)
	u, err := scanUser(row)
	return u, notFound(err)
}

// UserExists answers the users/check probe; activation status is not
// revealed there.
func (s *Store) UserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM sunray_users WHERE username = $1)`, username).Scan(&exists)
	return exists, err
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+userCols+` FROM sunray_users WHERE is_active ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sunray_users SET is_active = $2, `+touch+` WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AuthorizeUserOnHost adds the user to the host's authorization set.
// Returns false when the pair already existed.
func (s *Store) AuthorizeUserOnHost(ctx context.Context, userID, hostID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO sunray_user_hosts (user_id, host_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, userID, hostID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) IsUserAuthorizedOnHost(ctx context.Context, userID, hostID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sunray_user_hosts WHERE user_id = $1 AND host_id = $2
		)`, userID, hostID).Scan(&ok)
	return ok, err
}

// ListAuthorizedUsernames returns active usernames authorized on the host,
// the set embedded in the config snapshot.
func (s *Store) ListAuthorizedUsernames(ctx context.Context, hostID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.username FROM sunray_users u
		JOIN sunray_user_hosts uh ON uh.user_id = u.id
		WHERE uh.host_id = $1 AND u.is_active
		ORDER BY u.username`, hostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM sunray_users`).Scan(&n)
	return n, err
}
