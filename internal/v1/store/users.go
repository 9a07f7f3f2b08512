package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertUser inserts the user or refreshes the mutable columns of an
// existing row. The secret is only written when set, so reconnects without
// a credential keep the stored one.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, nickname, secret, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			nickname = excluded.nickname,
			secret   = CASE WHEN excluded.secret = '' THEN users.secret ELSE excluded.secret END`,
		u.ID, u.Username, u.Nickname, u.Secret, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, nickname, secret, created_at FROM users WHERE id = ?`, id)

	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Nickname, &u.Secret, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}
