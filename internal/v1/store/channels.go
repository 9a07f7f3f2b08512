package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) CreateChannel(ctx context.Context, ch *Channel) error {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, server_id, name, type, parent_id, position, max_users, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.ServerID, ch.Name, ch.Type, ch.ParentID, ch.Position, ch.MaxUsers, ch.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting channel: %w", err)
	}
	return nil
}

func (s *Store) GetChannel(ctx context.Context, id string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, server_id, name, type, parent_id, position, max_users, created_at
		 FROM channels WHERE id = ?`, id)

	var ch Channel
	err := row.Scan(&ch.ID, &ch.ServerID, &ch.Name, &ch.Type, &ch.ParentID, &ch.Position, &ch.MaxUsers, &ch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning channel: %w", err)
	}
	return &ch, nil
}

// ListChannels returns every channel of a server ordered by (position, id),
// the order the tree builder expects.
func (s *Store) ListChannels(ctx context.Context, serverID string) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, server_id, name, type, parent_id, position, max_users, created_at
		 FROM channels WHERE server_id = ? ORDER BY position, id`, serverID)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ID, &ch.ServerID, &ch.Name, &ch.Type, &ch.ParentID, &ch.Position, &ch.MaxUsers, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// UpdateChannel rewrites the mutable columns of a channel row.
func (s *Store) UpdateChannel(ctx context.Context, ch *Channel) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET name = ?, parent_id = ?, position = ?, max_users = ? WHERE id = ?`,
		ch.Name, ch.ParentID, ch.Position, ch.MaxUsers, ch.ID)
	if err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChannel removes a channel, its messages, and reparents its children
// to the root, all in one transaction.
func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE channels SET parent_id = NULL WHERE parent_id = ?`, id); err != nil {
			return fmt.Errorf("reparenting children: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE channel_id = ?`, id); err != nil {
			return fmt.Errorf("deleting channel messages: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting channel: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// NextPosition returns one past the highest sibling position under parentID
// (nil for the root level).
func (s *Store) NextPosition(ctx context.Context, serverID string, parentID *string) (int, error) {
	var query string
	var args []any
	if parentID == nil {
		query = `SELECT COALESCE(MAX(position) + 1, 0) FROM channels WHERE server_id = ? AND parent_id IS NULL`
		args = []any{serverID}
	} else {
		query = `SELECT COALESCE(MAX(position) + 1, 0) FROM channels WHERE server_id = ? AND parent_id = ?`
		args = []any{serverID, *parentID}
	}

	var pos int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&pos); err != nil {
		return 0, fmt.Errorf("computing next position: %w", err)
	}
	return pos, nil
}
