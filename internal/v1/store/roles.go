package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/reson8/reson8/server/go/internal/v1/permissions"
)

func (s *Store) CreateRole(ctx context.Context, r *Role) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (id, server_id, name, permissions, power_level, color, is_default, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ServerID, r.Name, r.Permissions, r.PowerLevel, r.Color, r.IsDefault, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting role: %w", err)
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, id string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, server_id, name, permissions, power_level, color, is_default, created_at
		 FROM roles WHERE id = ?`, id)
	return scanRole(row)
}

// RoleByName resolves a role by its unique (server, name) pair.
func (s *Store) RoleByName(ctx context.Context, serverID, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, server_id, name, permissions, power_level, color, is_default, created_at
		 FROM roles WHERE server_id = ? AND name = ?`, serverID, name)
	return scanRole(row)
}

// DefaultRole returns the role new members are bound to on first join.
func (s *Store) DefaultRole(ctx context.Context, serverID string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, server_id, name, permissions, power_level, color, is_default, created_at
		 FROM roles WHERE server_id = ? AND is_default = 1 ORDER BY created_at LIMIT 1`, serverID)
	return scanRole(row)
}

// ListRoles returns every role of a server, highest power level first.
func (s *Store) ListRoles(ctx context.Context, serverID string) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, server_id, name, permissions, power_level, color, is_default, created_at
		 FROM roles WHERE server_id = ? ORDER BY power_level DESC, name`, serverID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()
	return collectRoles(rows)
}

// RolesForUser returns the roles bound to a user on a server, highest power
// level first.
func (s *Store) RolesForUser(ctx context.Context, userID, serverID string) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.server_id, r.name, r.permissions, r.power_level, r.color, r.is_default, r.created_at
		 FROM roles r
		 JOIN role_assignments ra ON ra.role_id = r.id
		 WHERE ra.user_id = ? AND r.server_id = ?
		 ORDER BY r.power_level DESC, r.name`, userID, serverID)
	if err != nil {
		return nil, fmt.Errorf("listing user roles: %w", err)
	}
	defer rows.Close()
	return collectRoles(rows)
}

// RoleMasksForUser satisfies permissions.RoleSource.
func (s *Store) RoleMasksForUser(ctx context.Context, userID, serverID string) ([]permissions.Mask, error) {
	roles, err := s.RolesForUser(ctx, userID, serverID)
	if err != nil {
		return nil, err
	}
	masks := make([]permissions.Mask, 0, len(roles))
	for _, r := range roles {
		masks = append(masks, r.Permissions)
	}
	return masks, nil
}

// UsersWithRoles returns every user holding at least one role on the server,
// nickname ascending.
func (s *Store) UsersWithRoles(ctx context.Context, serverID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT u.id, u.username, u.nickname, u.created_at
		 FROM users u
		 JOIN role_assignments ra ON ra.user_id = u.id
		 JOIN roles r ON r.id = ra.role_id
		 WHERE r.server_id = ?
		 ORDER BY u.nickname, u.id`, serverID)
	if err != nil {
		return nil, fmt.Errorf("listing role holders: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Nickname, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// AssignRole binds a role to a user. Repeating an existing binding is a
// no-op.
func (s *Store) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO role_assignments (user_id, role_id) VALUES (?, ?)`,
		userID, roleID)
	if err != nil {
		return fmt.Errorf("assigning role: %w", err)
	}
	return nil
}

// UnassignRole removes a role binding. Removing an absent binding is a no-op.
func (s *Store) UnassignRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM role_assignments WHERE user_id = ? AND role_id = ?`,
		userID, roleID)
	if err != nil {
		return fmt.Errorf("unassigning role: %w", err)
	}
	return nil
}

func scanRole(row *sql.Row) (*Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.ServerID, &r.Name, &r.Permissions, &r.PowerLevel, &r.Color, &r.IsDefault, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning role: %w", err)
	}
	return &r, nil
}

func collectRoles(rows *sql.Rows) ([]Role, error) {
	var out []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.ServerID, &r.Name, &r.Permissions, &r.PowerLevel, &r.Color, &r.IsDefault, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
