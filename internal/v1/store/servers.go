package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

func (s *Store) CreateServer(ctx context.Context, srv *Server) error {
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO servers (id, name, address, max_clients, created_at) VALUES (?, ?, ?, ?, ?)`,
		srv.ID, srv.Name, srv.Address, srv.MaxClients, srv.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting server: %w", err)
	}
	return nil
}

func (s *Store) GetServer(ctx context.Context, id string) (*Server, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, address, max_clients, created_at FROM servers WHERE id = ?`, id)
	return scanServer(row)
}

// DefaultServer returns the oldest server, used when a client joins without
// naming one. Single-server deployments are the common case.
func (s *Store) DefaultServer(ctx context.Context) (*Server, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, address, max_clients, created_at FROM servers ORDER BY created_at, id LIMIT 1`)
	return scanServer(row)
}

func (s *Store) CountServers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM servers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting servers: %w", err)
	}
	return n, nil
}

func scanServer(row *sql.Row) (*Server, error) {
	var srv Server
	err := row.Scan(&srv.ID, &srv.Name, &srv.Address, &srv.MaxClients, &srv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning server: %w", err)
	}
	return &srv, nil
}
