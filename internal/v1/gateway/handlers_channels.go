package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/logging"
	"github.com/reson8/reson8/server/go/internal/v1/presence"
	"github.com/reson8/reson8/server/go/internal/v1/protocol"
	"github.com/reson8/reson8/server/go/internal/v1/rooms"
	"github.com/reson8/reson8/server/go/internal/v1/store"
)

func (h *Hub) handleJoinChannel(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.JoinChannelRequest](data)
	if err != nil {
		return nil, err
	}
	if req.ChannelID == "" {
		return nil, fmt.Errorf("%w: channelId required", protocol.ErrInvalidInput)
	}

	userID, nickname, serverID := s.identity()
	ch, err := h.deps.Channels.Get(ctx, serverID, req.ChannelID)
	if err != nil {
		return nil, err
	}

	if ch.MaxUsers != nil && *ch.MaxUsers > 0 {
		count, err := h.deps.Presence.CountChannel(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
		}
		if count >= *ch.MaxUsers {
			return nil, fmt.Errorf("%w: channel full", protocol.ErrPreconditionFailed)
		}
	}

	// Moving channels implies leaving the previous one, media included.
	h.leaveChannel(ctx, s)

	if err := h.deps.Presence.JoinChannel(ctx, serverID, userID, ch.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrBackendFailure, err)
	}
	h.deps.Broker.Join(rooms.ChannelRoom(ch.ID), s)

	var result any
	voiceOpen := false
	if ch.Type == store.ChannelVoice {
		existing, err := h.deps.Voice.JoinChannel(ctx, ch.ID, userID, nickname)
		if err != nil {
			h.deps.Broker.Leave(rooms.ChannelRoom(ch.ID), s)
			if perr := h.deps.Presence.LeaveChannel(ctx, serverID, userID); perr != nil {
				logging.Warn(ctx, "presence rollback failed", zap.Error(perr))
			}
			return nil, err
		}
		voiceOpen = true

		producers := make([]protocol.NewProducer, 0, len(existing))
		for _, p := range existing {
			producers = append(producers, protocol.NewProducer{
				ChannelID:  p.ChannelID,
				UserID:     p.UserID,
				Nickname:   p.Nickname,
				ProducerID: p.ProducerID,
			})
		}
		payload := protocol.ExistingProducers{ChannelID: ch.ID, Producers: producers}
		if len(producers) > 0 {
			s.Deliver(protocol.EventExistingProducers, payload)
		}
		result = payload
	}
	s.setChannel(ch.ID, voiceOpen)

	logging.Info(ctx, "user joined channel",
		zap.String("channel_id", ch.ID), zap.String("channel_type", string(ch.Type)))

	h.deps.Broker.Emit(ctx, rooms.ServerRoom(serverID), protocol.EventPresenceUpdate, protocol.PresenceUpdate{
		ServerID:  serverID,
		UserID:    userID,
		Nickname:  nickname,
		ChannelID: ch.ID,
	})
	return result, nil
}

func (h *Hub) handleLeaveChannel(ctx context.Context, s *Session, _ json.RawMessage) (any, error) {
	h.leaveChannel(ctx, s)
	return nil, nil
}

// leaveChannel unwinds the session's channel membership: the voice session
// and its PRODUCER_CLOSED broadcast first, then presence, then the updated
// location. A session outside any channel is a no-op.
func (h *Hub) leaveChannel(ctx context.Context, s *Session) {
	channelID, voiceOpen := s.currentChannel()
	if channelID == "" {
		return
	}
	userID, nickname, serverID := s.identity()

	if voiceOpen {
		if closed := h.deps.Voice.LeaveChannel(ctx, channelID, userID); closed != nil {
			h.deps.Broker.EmitExcept(ctx, rooms.ChannelRoom(channelID), s.id, protocol.EventProducerClosed, protocol.ProducerClosed{
				ChannelID:  channelID,
				UserID:     closed.UserID,
				ProducerID: closed.ProducerID,
			})
		}
	}

	if err := h.deps.Presence.LeaveChannel(ctx, serverID, userID); err != nil && err != presence.ErrNotPresent {
		logging.Warn(ctx, "presence channel leave failed", zap.Error(err))
	}
	h.deps.Broker.Leave(rooms.ChannelRoom(channelID), s)
	s.setChannel("", false)

	h.deps.Broker.Emit(ctx, rooms.ServerRoom(serverID), protocol.EventPresenceUpdate, protocol.PresenceUpdate{
		ServerID: serverID,
		UserID:   userID,
		Nickname: nickname,
	})
}

func (h *Hub) handleCreateChannel(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.CreateChannelRequest](data)
	if err != nil {
		return nil, err
	}
	_, _, serverID := s.identity()
	return h.deps.Channels.Create(ctx, serverID, req)
}

func (h *Hub) handleUpdateChannel(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.UpdateChannelRequest](data)
	if err != nil {
		return nil, err
	}
	_, _, serverID := s.identity()
	return h.deps.Channels.Update(ctx, serverID, req)
}

func (h *Hub) handleDeleteChannel(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.DeleteChannelRequest](data)
	if err != nil {
		return nil, err
	}
	_, _, serverID := s.identity()
	return nil, h.deps.Channels.Delete(ctx, serverID, req.ChannelID)
}

func (h *Hub) handleMoveChannel(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.MoveChannelRequest](data)
	if err != nil {
		return nil, err
	}
	_, _, serverID := s.identity()
	return h.deps.Channels.Move(ctx, serverID, req)
}

func (h *Hub) handleSendMessage(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.SendMessageRequest](data)
	if err != nil {
		return nil, err
	}
	userID, nickname, serverID := s.identity()
	return h.deps.Messages.Send(ctx, serverID, req.ChannelID, userID, nickname, req.Content)
}

func (h *Hub) handleFetchMessages(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.FetchMessagesRequest](data)
	if err != nil {
		return nil, err
	}
	_, _, serverID := s.identity()
	msgs, err := h.deps.Messages.Fetch(ctx, serverID, req.ChannelID, req.Limit, req.Before)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return msgs, nil
}
