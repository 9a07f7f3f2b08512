package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/reson8/reson8/server/go/internal/v1/permissions"
)

// SeedOptions controls first-boot provisioning.
type SeedOptions struct {
	// Template selects the channel layout: "default" or "empty".
	Template   string
	ServerName string
	MaxClients int
}

const defaultMemberMask = permissions.Mask(permissions.Connect) |
	permissions.Mask(permissions.Speak) |
	permissions.Mask(permissions.SendMessages)

// Seed provisions the instance on first boot: one server, an admin role, a
// default member role, and (under the "default" template) a starter channel
// pair. It is a no-op when a server already exists.
func (s *Store) Seed(ctx context.Context, opts SeedOptions) (*Server, error) {
	n, err := s.CountServers(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return s.DefaultServer(ctx)
	}

	if opts.ServerName == "" {
		opts.ServerName = "Reson8 Server"
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = 100
	}

	srv := &Server{ID: uuid.NewString(), Name: opts.ServerName, MaxClients: opts.MaxClients}
	if err := s.CreateServer(ctx, srv); err != nil {
		return nil, err
	}

	admin := &Role{
		ID:          uuid.NewString(),
		ServerID:    srv.ID,
		Name:        "admin",
		Permissions: permissions.Mask(permissions.Admin),
		PowerLevel:  100,
		Color:       "#e74c3c",
	}
	member := &Role{
		ID:          uuid.NewString(),
		ServerID:    srv.ID,
		Name:        "member",
		Permissions: defaultMemberMask,
		PowerLevel:  0,
		IsDefault:   true,
	}
	for _, r := range []*Role{admin, member} {
		if err := s.CreateRole(ctx, r); err != nil {
			return nil, err
		}
	}

	if opts.Template != "empty" {
		channels := []*Channel{
			{ID: uuid.NewString(), ServerID: srv.ID, Name: "General", Type: ChannelText, Position: 0},
			{ID: uuid.NewString(), ServerID: srv.ID, Name: "Lounge", Type: ChannelVoice, Position: 1},
		}
		for _, ch := range channels {
			if err := s.CreateChannel(ctx, ch); err != nil {
				return nil, fmt.Errorf("seeding channel %s: %w", ch.Name, err)
			}
		}
	}

	return srv, nil
}
