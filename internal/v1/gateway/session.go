// Package gateway is the WebSocket edge: it owns connections, decodes the
// JSON envelope protocol, dispatches inbound events to the domain services
// and pushes broadcasts back out.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/logging"
	"github.com/reson8/reson8/server/go/internal/v1/protocol"
)

// Session is one connected client. Identity fields are set by the
// USER_JOIN_SERVER handler and read under the mutex; the outbound path is a
// buffered channel drained by the write pump.
type Session struct {
	id   string
	hub  *Hub
	conn wsConnection

	send chan []byte
	seq  atomic.Int64

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	userID   string
	nickname string
	serverID string

	// channelID is the channel the user currently occupies, empty at the
	// server root. voiceOpen marks whether an SFU session exists for it.
	channelID string
	voiceOpen bool
}

// ID satisfies rooms.Subscriber. Sessions are keyed by a connection-scoped
// UUID, not the user ID, so one user may hold several connections.
func (s *Session) ID() string { return s.id }

// Deliver satisfies rooms.Subscriber: wrap the payload in an envelope with
// the session's next sequence number and queue it. Never blocks; a full
// buffer drops the frame and logs.
func (s *Session) Deliver(event string, data any) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	raw, err := json.Marshal(data)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound payload",
			zap.String("event", event), zap.Error(err))
		return
	}
	s.enqueue(protocol.Envelope{Event: event, Data: raw, Seq: s.seq.Add(1)})
}

// ack answers an inbound frame exactly once.
func (s *Session) ack(result protocol.AckResult) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	raw, err := json.Marshal(result)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal ack", zap.Error(err))
		return
	}
	s.enqueue(protocol.Envelope{Event: protocol.EventAck, Data: raw, Seq: s.seq.Add(1)})
}

func (s *Session) enqueue(env protocol.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal envelope", zap.Error(err))
		return
	}

	defer func() {
		// Send on a closed channel races with disconnect; drop the frame.
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "dropped frame for closing session",
				zap.String("session_id", s.id))
		}
	}()

	select {
	case s.send <- frame:
	default:
		logging.Warn(context.Background(), "session send buffer full, dropping frame",
			zap.String("session_id", s.id), zap.String("event", env.Event))
	}
}

// disconnect closes the outbound channel once, which lets the write pump
// drain and close the connection.
func (s *Session) disconnect() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.send)
	})
}

// --- identity accessors ---

func (s *Session) identity() (userID, nickname, serverID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.nickname, s.serverID
}

func (s *Session) authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID != ""
}

func (s *Session) setIdentity(userID, nickname, serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.nickname = nickname
	s.serverID = serverID
}

func (s *Session) clearIdentity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
	s.nickname = ""
	s.serverID = ""
	s.channelID = ""
	s.voiceOpen = false
}

func (s *Session) currentChannel() (channelID string, voiceOpen bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channelID, s.voiceOpen
}

func (s *Session) setChannel(channelID string, voiceOpen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelID = channelID
	s.voiceOpen = voiceOpen
}

// logContext returns a context carrying the session identifiers the logging
// layer knows how to surface.
func (s *Session) logContext(ctx context.Context) context.Context {
	userID, _, serverID := s.identity()
	ctx = context.WithValue(ctx, logging.SessionIDKey, s.id)
	if userID != "" {
		ctx = context.WithValue(ctx, logging.UserIDKey, userID)
	}
	if serverID != "" {
		ctx = context.WithValue(ctx, logging.ServerIDKey, serverID)
	}
	return ctx
}
