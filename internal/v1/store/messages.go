package store

import (
	"context"
	"fmt"
	"time"
)

func (s *Store) InsertMessage(ctx context.Context, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, user_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ChannelID, m.UserID, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessagesBefore returns up to limit messages of a channel older than the
// cursor (all messages when before is nil), newest first. The author nickname
// is joined in so history frames need no second lookup.
func (s *Store) ListMessagesBefore(ctx context.Context, channelID string, limit int, before *time.Time) ([]Message, error) {
	query := `SELECT m.id, m.channel_id, m.user_id, u.nickname, m.content, m.created_at
		 FROM messages m JOIN users u ON u.id = m.user_id
		 WHERE m.channel_id = ?`
	args := []any{channelID}
	if before != nil {
		query += ` AND m.created_at < ?`
		args = append(args, before.UTC())
	}
	query += ` ORDER BY m.created_at DESC, m.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Nickname, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
