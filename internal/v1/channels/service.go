// Package channels implements channel management: the authoritative tree,
// creation, updates, moves and deletion. Every structural change persists
// first, then rebroadcasts the full tree to the server room.
package channels

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/logging"
	"github.com/reson8/reson8/server/go/internal/v1/presence"
	"github.com/reson8/reson8/server/go/internal/v1/protocol"
	"github.com/reson8/reson8/server/go/internal/v1/rooms"
	"github.com/reson8/reson8/server/go/internal/v1/store"
	"github.com/reson8/reson8/server/go/internal/v1/tree"
)

const maxChannelNameLen = 100

type Service struct {
	store    *store.Store
	presence presence.Store
	broker   *rooms.Broker
}

func NewService(st *store.Store, pres presence.Store, broker *rooms.Broker) *Service {
	return &Service{store: st, presence: pres, broker: broker}
}

// Tree returns the current channel hierarchy of a server with each node's
// occupants filled from presence.
func (s *Service) Tree(ctx context.Context, serverID string) ([]*tree.Node, error) {
	channels, err := s.store.ListChannels(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading channels: %v", protocol.ErrBackendFailure, err)
	}
	nodes := tree.Build(channels)

	entries, err := s.presence.ListServer(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading presence: %v", protocol.ErrBackendFailure, err)
	}
	byChannel := make(map[string][]tree.Occupant)
	for _, e := range entries {
		if e.ChannelID == "" {
			continue
		}
		byChannel[e.ChannelID] = append(byChannel[e.ChannelID], tree.Occupant{UserID: e.UserID, Nickname: e.Nickname})
	}
	fillOccupants(nodes, byChannel)
	return nodes, nil
}

func fillOccupants(nodes []*tree.Node, byChannel map[string][]tree.Occupant) {
	for _, n := range nodes {
		if occ, ok := byChannel[n.ID]; ok {
			n.Occupants = occ
		}
		fillOccupants(n.Children, byChannel)
	}
}

// Create adds a channel and broadcasts the updated tree. Position defaults to
// the end of the target sibling list.
func (s *Service) Create(ctx context.Context, serverID string, req protocol.CreateChannelRequest) (*store.Channel, error) {
	if req.Name == "" || len(req.Name) > maxChannelNameLen {
		return nil, fmt.Errorf("%w: channel name", protocol.ErrInvalidInput)
	}
	chType := store.ChannelType(req.Type)
	if !chType.Valid() {
		return nil, fmt.Errorf("%w: channel type %q", protocol.ErrInvalidInput, req.Type)
	}

	var parentID *string
	if req.ParentID != "" {
		parent, err := s.store.GetChannel(ctx, req.ParentID)
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("%w: parent channel %s", protocol.ErrNotFound, req.ParentID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
		}
		if parent.ServerID != serverID {
			return nil, fmt.Errorf("%w: parent on different server", protocol.ErrInvalidInput)
		}
		parentID = &parent.ID
	}

	position := 0
	if req.Position != nil {
		position = *req.Position
	} else {
		next, err := s.store.NextPosition(ctx, serverID, parentID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
		}
		position = next
	}

	ch := &store.Channel{
		ID:       uuid.NewString(),
		ServerID: serverID,
		Name:     req.Name,
		Type:     chType,
		ParentID: parentID,
		Position: position,
		MaxUsers: req.MaxUsers,
	}
	if err := s.store.CreateChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("%w: creating channel: %v", protocol.ErrBackendFailure, err)
	}

	logging.Info(ctx, "channel created", zap.String("name", ch.Name), zap.String("type", string(ch.Type)))
	s.broker.Emit(ctx, rooms.ServerRoom(serverID), protocol.EventChannelCreated, ch)
	s.broadcastTree(ctx, serverID)
	return ch, nil
}

// Update renames or re-limits a channel; parent and position changes go
// through Move so the cycle check cannot be skipped.
func (s *Service) Update(ctx context.Context, serverID string, req protocol.UpdateChannelRequest) (*store.Channel, error) {
	ch, err := s.channelOn(ctx, serverID, req.ChannelID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if *req.Name == "" || len(*req.Name) > maxChannelNameLen {
			return nil, fmt.Errorf("%w: channel name", protocol.ErrInvalidInput)
		}
		ch.Name = *req.Name
	}
	if req.MaxUsers != nil {
		ch.MaxUsers = req.MaxUsers
	}
	if req.ParentID != nil || req.Position != nil {
		moveReq := protocol.MoveChannelRequest{ChannelID: ch.ID, ParentID: req.ParentID, Position: ch.Position}
		if req.Position != nil {
			moveReq.Position = *req.Position
		}
		if req.ParentID == nil {
			moveReq.ParentID = ch.ParentID
		}
		return s.move(ctx, serverID, ch, moveReq)
	}

	if err := s.store.UpdateChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("%w: updating channel: %v", protocol.ErrBackendFailure, err)
	}
	s.broadcastTree(ctx, serverID)
	return ch, nil
}

// Move reparents and repositions a channel. Moves that would fold the tree
// onto itself are rejected.
func (s *Service) Move(ctx context.Context, serverID string, req protocol.MoveChannelRequest) (*store.Channel, error) {
	ch, err := s.channelOn(ctx, serverID, req.ChannelID)
	if err != nil {
		return nil, err
	}
	return s.move(ctx, serverID, ch, req)
}

func (s *Service) move(ctx context.Context, serverID string, ch *store.Channel, req protocol.MoveChannelRequest) (*store.Channel, error) {
	if req.ParentID != nil && *req.ParentID != "" {
		parent, err := s.store.GetChannel(ctx, *req.ParentID)
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("%w: parent channel %s", protocol.ErrNotFound, *req.ParentID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
		}
		if parent.ServerID != serverID {
			return nil, fmt.Errorf("%w: parent on different server", protocol.ErrInvalidInput)
		}

		all, err := s.store.ListChannels(ctx, serverID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
		}
		if tree.WouldCycle(all, ch.ID, parent.ID) {
			return nil, fmt.Errorf("%w: move would create a cycle", protocol.ErrPreconditionFailed)
		}
		ch.ParentID = &parent.ID
	} else {
		ch.ParentID = nil
	}
	ch.Position = req.Position

	if err := s.store.UpdateChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("%w: moving channel: %v", protocol.ErrBackendFailure, err)
	}

	logging.Info(ctx, "channel moved", zap.String("name", ch.Name), zap.Int("position", ch.Position))
	s.broadcastTree(ctx, serverID)
	return ch, nil
}

// Delete removes a channel. Its messages go with it; its children are
// promoted to the root level.
func (s *Service) Delete(ctx context.Context, serverID, channelID string) error {
	if _, err := s.channelOn(ctx, serverID, channelID); err != nil {
		return err
	}
	if err := s.store.DeleteChannel(ctx, channelID); err != nil {
		return fmt.Errorf("%w: deleting channel: %v", protocol.ErrBackendFailure, err)
	}

	logging.Info(ctx, "channel deleted")
	s.broker.Emit(ctx, rooms.ServerRoom(serverID), protocol.EventChannelDeleted, protocol.ChannelDeleted{ChannelID: channelID})
	s.broadcastTree(ctx, serverID)
	return nil
}

// Get resolves a channel and verifies it belongs to the server.
func (s *Service) Get(ctx context.Context, serverID, channelID string) (*store.Channel, error) {
	return s.channelOn(ctx, serverID, channelID)
}

func (s *Service) channelOn(ctx context.Context, serverID, channelID string) (*store.Channel, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err == store.ErrNotFound {
		return nil, fmt.Errorf("%w: channel %s", protocol.ErrNotFound, channelID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
	}
	if ch.ServerID != serverID {
		return nil, fmt.Errorf("%w: channel %s", protocol.ErrNotFound, channelID)
	}
	return ch, nil
}

func (s *Service) broadcastTree(ctx context.Context, serverID string) {
	nodes, err := s.Tree(ctx, serverID)
	if err != nil {
		logging.Error(ctx, "failed to rebuild channel tree for broadcast", zap.Error(err))
		return
	}
	s.broker.Emit(ctx, rooms.ServerRoom(serverID), protocol.EventChannelTreeUpdate, nodes)
}
