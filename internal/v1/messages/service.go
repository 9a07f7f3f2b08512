// Package messages persists chat history and fans new messages out. Writes
// follow persist-then-broadcast: a message is durable before anyone sees it.
package messages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reson8/reson8/server/go/internal/v1/protocol"
	"github.com/reson8/reson8/server/go/internal/v1/rooms"
	"github.com/reson8/reson8/server/go/internal/v1/store"
)

const (
	maxContentLen = 2000

	defaultPageSize = 50
	maxPageSize     = 100
)

type Service struct {
	store  *store.Store
	broker *rooms.Broker
}

func NewService(st *store.Store, broker *rooms.Broker) *Service {
	return &Service{store: st, broker: broker}
}

// Send validates, persists and broadcasts one message. Only TEXT channels
// accept messages.
func (s *Service) Send(ctx context.Context, serverID, channelID, userID, nickname, content string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > maxContentLen {
		return nil, fmt.Errorf("%w: message content", protocol.ErrInvalidInput)
	}

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
	if ch.Type != store.ChannelText {
		return nil, fmt.Errorf("%w: channel does not accept messages", protocol.ErrPreconditionFailed)
	}

	msg := &store.Message{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		UserID:    userID,
		Nickname:  nickname,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: persisting message: %v", protocol.ErrBackendFailure, err)
	}

	s.broker.Emit(ctx, rooms.ServerRoom(serverID), protocol.EventMessageReceived, msg)
	return msg, nil
}

// Fetch returns a page of history in ascending order, ready for prepending.
// The cursor is exclusive; an empty cursor starts from the newest message.
func (s *Service) Fetch(ctx context.Context, serverID, channelID string, limit int, before string) ([]store.Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

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

	var cursor *time.Time
	if before != "" {
		t, err := time.Parse(time.RFC3339Nano, before)
		if err != nil {
			return nil, fmt.Errorf("%w: cursor %q", protocol.ErrInvalidInput, before)
		}
		cursor = &t
	}

	page, err := s.store.ListMessagesBefore(ctx, channelID, limit, cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: loading messages: %v", protocol.ErrBackendFailure, err)
	}

	// Query order is newest-first; flip so clients get ascending time.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}
