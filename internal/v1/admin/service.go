// Package admin covers membership and role administration: user rosters,
// role listings, role binding, and the bookkeeping that runs when a user
// joins a server.
package admin

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/logging"
	"github.com/reson8/reson8/server/go/internal/v1/permissions"
	"github.com/reson8/reson8/server/go/internal/v1/presence"
	"github.com/reson8/reson8/server/go/internal/v1/protocol"
	"github.com/reson8/reson8/server/go/internal/v1/store"
)

// UserSummary is one connected user with their role bindings, the shape
// GET_ALL_USERS answers with.
type UserSummary struct {
	UserID    string       `json:"userId"`
	Nickname  string       `json:"nickname"`
	ChannelID string       `json:"channelId,omitempty"`
	Roles     []store.Role `json:"roles"`
}

type Service struct {
	store    *store.Store
	presence presence.Store
	eval     *permissions.Evaluator

	// adminInstanceID, when set, names the user that is bound to the admin
	// role automatically on join. Lets a fresh instance be administered
	// without manual database edits.
	adminInstanceID string
}

func NewService(st *store.Store, pres presence.Store, adminInstanceID string) *Service {
	return &Service{
		store:           st,
		presence:        pres,
		eval:            permissions.NewEvaluator(st),
		adminInstanceID: adminInstanceID,
	}
}

// EffectiveMask returns the user's effective permission mask on a server.
func (s *Service) EffectiveMask(ctx context.Context, userID, serverID string) (permissions.Mask, error) {
	mask, err := s.eval.EffectiveMask(ctx, userID, serverID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
	}
	return mask, nil
}

// EnsureMembership runs the durable side of a server join: the user row is
// upserted, first-time members get the default role, and the configured
// admin user gets the admin role.
func (s *Service) EnsureMembership(ctx context.Context, serverID string, user store.User) error {
	if err := s.store.UpsertUser(ctx, &user); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
	}
	userID := user.ID

	roles, err := s.store.RolesForUser(ctx, userID, serverID)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
	}
	if len(roles) == 0 {
		def, err := s.store.DefaultRole(ctx, serverID)
		if err == nil {
			if err := s.store.AssignRole(ctx, userID, def.ID); err != nil {
				return fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
			}
		} else if err != store.ErrNotFound {
			return fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
		}
	}

	if s.adminInstanceID != "" && userID == s.adminInstanceID {
		adminRole, err := s.store.RoleByName(ctx, serverID, "admin")
		if err == nil {
			if err := s.store.AssignRole(ctx, userID, adminRole.ID); err != nil {
				return fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
			}
			logging.Info(ctx, "admin role bound to configured instance admin")
		} else if err != store.ErrNotFound {
			return fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
		}
	}
	return nil
}

// ListUsers returns every user holding at least one role on the server with
// their roles, nickname ascending. Users currently online also carry their
// channel location from presence.
func (s *Service) ListUsers(ctx context.Context, serverID string) ([]UserSummary, error) {
	users, err := s.store.UsersWithRoles(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
	}

	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		roles, err := s.store.RolesForUser(ctx, u.ID, serverID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
		}
		if roles == nil {
			roles = []store.Role{}
		}

		var channelID string
		if entry, err := s.presence.Get(ctx, u.ID); err == nil && entry.ServerID == serverID {
			channelID = entry.ChannelID
		}

		out = append(out, UserSummary{
			UserID:    u.ID,
			Nickname:  u.Nickname,
			ChannelID: channelID,
			Roles:     roles,
		})
	}
	return out, nil
}

// ListRoles returns the server's roles, highest power level first.
func (s *Service) ListRoles(ctx context.Context, serverID string) ([]store.Role, error) {
	roles, err := s.store.ListRoles(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
	}
	return roles, nil
}

// AssignRole adds or removes a role binding. Both directions are idempotent.
func (s *Service) AssignRole(ctx context.Context, serverID string, req protocol.AssignRoleRequest) (*store.Role, error) {
	if req.Action != "add" && req.Action != "remove" {
		return nil, fmt.Errorf("%w: action %q", protocol.ErrInvalidInput, req.Action)
	}

	role, err := s.store.GetRole(ctx, req.RoleID)
	if err == store.ErrNotFound {
		return nil, fmt.Errorf("%w: role %s", protocol.ErrNotFound, req.RoleID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
	}
	if role.ServerID != serverID {
		return nil, fmt.Errorf("%w: role %s", protocol.ErrNotFound, req.RoleID)
	}

	if _, err := s.store.GetUser(ctx, req.UserID); err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("%w: user %s", protocol.ErrNotFound, req.UserID)
		}
		return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
	}

	if req.Action == "add" {
		err = s.store.AssignRole(ctx, req.UserID, role.ID)
	} else {
		err = s.store.UnassignRole(ctx, req.UserID, role.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
	}

	logging.Info(ctx, "role binding changed",
		zap.String("role", role.Name), zap.String("action", req.Action), zap.String("target_user", req.UserID))
	return role, nil
}
