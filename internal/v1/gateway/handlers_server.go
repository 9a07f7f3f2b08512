package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/admin"
	"github.com/reson8/reson8/server/go/internal/v1/logging"
	"github.com/reson8/reson8/server/go/internal/v1/permissions"
	"github.com/reson8/reson8/server/go/internal/v1/presence"
	"github.com/reson8/reson8/server/go/internal/v1/protocol"
	"github.com/reson8/reson8/server/go/internal/v1/rooms"
	"github.com/reson8/reson8/server/go/internal/v1/store"
	"github.com/reson8/reson8/server/go/internal/v1/tree"
)

// serverSnapshot is the USER_JOIN_SERVER ack payload: everything a client
// needs to render the server without further round trips.
type serverSnapshot struct {
	Server      *store.Server       `json:"server"`
	Channels    []*tree.Node        `json:"channels"`
	Users       []admin.UserSummary `json:"users"`
	Roles       []store.Role        `json:"roles"`
	Permissions permissions.Mask    `json:"permissions"`
}

func (h *Hub) handleJoinServer(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	if s.authenticated() {
		return nil, fmt.Errorf("%w: already joined", protocol.ErrPreconditionFailed)
	}

	req, err := decode[protocol.JoinServerRequest](data)
	if err != nil {
		return nil, err
	}
	if req.UserID == "" || req.Nickname == "" {
		return nil, fmt.Errorf("%w: userId and nickname required", protocol.ErrInvalidInput)
	}

	var srv *store.Server
	if req.ServerID != "" {
		srv, err = h.deps.Store.GetServer(ctx, req.ServerID)
	} else {
		srv, err = h.deps.Store.DefaultServer(ctx)
	}
	if err == store.ErrNotFound {
		return nil, fmt.Errorf("%w: server", protocol.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
	}

	count, err := h.deps.Presence.CountServer(ctx, srv.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
	}
	if srv.MaxClients > 0 && count >= srv.MaxClients {
		return nil, fmt.Errorf("%w: server full", protocol.ErrPreconditionFailed)
	}

	if err := h.deps.Admin.EnsureMembership(ctx, srv.ID, store.User{
		ID:       req.UserID,
		Username: req.Username,
		Nickname: req.Nickname,
		Secret:   req.Secret,
	}); err != nil {
		return nil, err
	}
	if err := h.deps.Presence.JoinServer(ctx, presence.Entry{
		UserID:   req.UserID,
		Nickname: req.Nickname,
		ServerID: srv.ID,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
	}

	s.setIdentity(req.UserID, req.Nickname, srv.ID)
	h.deps.Broker.Join(rooms.ServerRoom(srv.ID), s)

	ctx = s.logContext(ctx)
	logging.Info(ctx, "user joined server", zap.String("nickname", req.Nickname))

	h.deps.Broker.EmitExcept(ctx, rooms.ServerRoom(srv.ID), s.id, protocol.EventUserJoined, protocol.UserJoined{
		ServerID: srv.ID,
		UserID:   req.UserID,
		Nickname: req.Nickname,
	})
	h.deps.Broker.Emit(ctx, rooms.ServerRoom(srv.ID), protocol.EventPresenceUpdate, protocol.PresenceUpdate{
		ServerID: srv.ID,
		UserID:   req.UserID,
		Nickname: req.Nickname,
	})

	return h.snapshot(ctx, srv, req.UserID)
}

func (h *Hub) snapshot(ctx context.Context, srv *store.Server, userID string) (*serverSnapshot, error) {
	nodes, err := h.deps.Channels.Tree(ctx, srv.ID)
	if err != nil {
		return nil, err
	}
	users, err := h.deps.Admin.ListUsers(ctx, srv.ID)
	if err != nil {
		return nil, err
	}
	roleList, err := h.deps.Admin.ListRoles(ctx, srv.ID)
	if err != nil {
		return nil, err
	}
	mask, err := h.deps.Admin.EffectiveMask(ctx, userID, srv.ID)
	if err != nil {
		return nil, err
	}

	return &serverSnapshot{
		Server:      srv,
		Channels:    nodes,
		Users:       users,
		Roles:       roleList,
		Permissions: mask,
	}, nil
}

func (h *Hub) handleLeaveServer(ctx context.Context, s *Session, _ json.RawMessage) (any, error) {
	h.leaveServer(ctx, s)
	return nil, nil
}

// leaveServer unwinds a session's server membership: the voice session and
// channel first, then presence, then the departure broadcasts. Safe to call
// on sessions that never joined.
func (h *Hub) leaveServer(ctx context.Context, s *Session) {
	userID, _, serverID := s.identity()
	if userID == "" {
		return
	}

	h.leaveChannel(ctx, s)

	if err := h.deps.Presence.LeaveServer(ctx, serverID, userID); err != nil {
		logging.Warn(ctx, "presence leave failed", zap.Error(err))
	}

	h.deps.Broker.EmitExcept(ctx, rooms.ServerRoom(serverID), s.id, protocol.EventUserLeft, protocol.UserLeft{
		ServerID: serverID,
		UserID:   userID,
	})

	h.deps.Broker.LeaveAll(s)
	s.clearIdentity()
	logging.Info(ctx, "user left server")
}

func (h *Hub) handleGetAllUsers(ctx context.Context, s *Session, _ json.RawMessage) (any, error) {
	_, _, serverID := s.identity()
	return h.deps.Admin.ListUsers(ctx, serverID)
}

func (h *Hub) handleGetRoles(ctx context.Context, s *Session, _ json.RawMessage) (any, error) {
	_, _, serverID := s.identity()
	return h.deps.Admin.ListRoles(ctx, serverID)
}

func (h *Hub) handleAssignRole(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.AssignRoleRequest](data)
	if err != nil {
		return nil, err
	}

	_, _, serverID := s.identity()
	role, err := h.deps.Admin.AssignRole(ctx, serverID, req)
	if err != nil {
		return nil, err
	}

	// Role changes alter what everyone may do; let clients refresh.
	if entry, err := h.deps.Presence.Get(ctx, req.UserID); err == nil {
		h.deps.Broker.Emit(ctx, rooms.ServerRoom(serverID), protocol.EventPresenceUpdate, protocol.PresenceUpdate{
			ServerID:  serverID,
			UserID:    req.UserID,
			Nickname:  entry.Nickname,
			ChannelID: entry.ChannelID,
		})
	}
	return role, nil
}
