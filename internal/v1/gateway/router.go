package gateway

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/logging"
	"github.com/reson8/reson8/server/go/internal/v1/metrics"
	"github.com/reson8/reson8/server/go/internal/v1/permissions"
	"github.com/reson8/reson8/server/go/internal/v1/protocol"
)

// handler processes one inbound event. The returned value travels back in
// the ack; a nil error acks success.
type handler func(ctx context.Context, s *Session, data json.RawMessage) (any, error)

func (h *Hub) buildDispatchTable() map[string]handler {
	return map[string]handler{
		protocol.EventJoinServer:   h.handleJoinServer,
		protocol.EventLeaveServer:  h.handleLeaveServer,
		protocol.EventGetAllUsers:  h.handleGetAllUsers,
		protocol.EventGetRoles:     h.handleGetRoles,
		protocol.EventAssignRole:   h.handleAssignRole,
		protocol.EventJoinChannel:  h.handleJoinChannel,
		protocol.EventLeaveChannel: h.handleLeaveChannel,

		protocol.EventCreateChannel: h.handleCreateChannel,
		protocol.EventUpdateChannel: h.handleUpdateChannel,
		protocol.EventDeleteChannel: h.handleDeleteChannel,
		protocol.EventChannelMoved:  h.handleMoveChannel,
		protocol.EventSendMessage:   h.handleSendMessage,
		protocol.EventFetchMessages: h.handleFetchMessages,

		protocol.EventGetRouterCapabilities: h.handleGetRouterCapabilities,
		protocol.EventCreateTransport:       h.handleCreateTransport,
		protocol.EventConnectTransport:      h.handleConnectTransport,
		protocol.EventProduce:               h.handleProduce,
		protocol.EventConsume:               h.handleConsume,
		protocol.EventResumeConsumer:        h.handleResumeConsumer,
		protocol.EventCloseProducer:         h.handleCloseProducer,
	}
}

// requiredFlag maps events to the permission bit they demand. Events absent
// from the map only require authentication.
var requiredFlag = map[string]permissions.Flag{
	protocol.EventJoinChannel:   permissions.Connect,
	protocol.EventSendMessage:   permissions.SendMessages,
	protocol.EventCreateChannel: permissions.CreateChannel,
	protocol.EventUpdateChannel: permissions.ManageChannels,
	protocol.EventDeleteChannel: permissions.ManageChannels,
	protocol.EventChannelMoved:  permissions.ManageChannels,
	protocol.EventGetAllUsers:   permissions.ManageRoles,
	protocol.EventGetRoles:      permissions.ManageRoles,
	protocol.EventAssignRole:    permissions.ManageRoles,

	protocol.EventGetRouterCapabilities: permissions.Connect,
	protocol.EventCreateTransport:       permissions.Connect,
	protocol.EventConnectTransport:      permissions.Connect,
	protocol.EventConsume:               permissions.Connect,
	protocol.EventResumeConsumer:        permissions.Connect,
	protocol.EventProduce:               permissions.Speak,
	protocol.EventCloseProducer:         permissions.Speak,
}

// dispatch routes one inbound envelope. Every frame carrying an ackId is
// acknowledged exactly once, success or failure, panic included.
func (h *Hub) dispatch(s *Session, env protocol.Envelope) {
	ctx := s.logContext(context.Background())
	start := time.Now()

	acked := false
	sendAck := func(result protocol.AckResult) {
		if acked || env.AckID == 0 {
			return
		}
		acked = true
		result.AckID = env.AckID
		s.ack(result)
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error(ctx, "panic handling event",
				zap.String("event", env.Event), zap.Any("panic", r))
			metrics.GatewayEvents.WithLabelValues(env.Event, "panic").Inc()
			sendAck(protocol.AckResult{Success: false, Error: "internal error"})
		}
	}()

	fn, ok := h.handlers[env.Event]
	if !ok {
		logging.Warn(ctx, "unknown event", zap.String("event", env.Event))
		metrics.GatewayEvents.WithLabelValues(env.Event, "unknown").Inc()
		sendAck(protocol.AckResult{Success: false, Error: "unknown event"})
		return
	}

	if err := h.authorize(ctx, s, env.Event); err != nil {
		h.finish(s, env, start, nil, err, sendAck)
		return
	}

	result, err := fn(ctx, s, env.Data)
	h.finish(s, env, start, result, err, sendAck)
}

func (h *Hub) finish(s *Session, env protocol.Envelope, start time.Time, result any, err error, sendAck func(protocol.AckResult)) {
	metrics.EventHandlingDuration.WithLabelValues(env.Event).Observe(time.Since(start).Seconds())

	if err != nil {
		ctx := s.logContext(context.Background())
		logging.Warn(ctx, "event failed", zap.String("event", env.Event), zap.Error(err))
		metrics.GatewayEvents.WithLabelValues(env.Event, "error").Inc()

		msg := protocol.ClientMessage(err)
		sendAck(protocol.AckResult{Success: false, Error: msg})
		if env.AckID == 0 {
			s.Deliver(protocol.EventError, protocol.ErrorEvent{Event: env.Event, Error: msg})
		}
		return
	}

	metrics.GatewayEvents.WithLabelValues(env.Event, "ok").Inc()
	sendAck(protocol.AckResult{Success: true, Data: result})
}

// authorize gates an event on authentication and, when the event demands
// one, the caller's effective permission mask. Masks are evaluated per
// event so role changes apply to the very next operation.
func (h *Hub) authorize(ctx context.Context, s *Session, event string) error {
	if event == protocol.EventJoinServer {
		return nil
	}
	if !s.authenticated() {
		return protocol.ErrNotAuthenticated
	}

	flag, needed := requiredFlag[event]
	if !needed {
		return nil
	}

	userID, _, serverID := s.identity()
	mask, err := h.deps.Admin.EffectiveMask(ctx, userID, serverID)
	if err != nil {
		return err
	}
	return permissions.Require(mask, flag, protocol.ErrPermissionDenied)
}

func decode[T any](data json.RawMessage) (T, error) {
	var req T
	if len(data) == 0 {
		return req, protocol.ErrInvalidInput
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, protocol.ErrInvalidInput
	}
	return req, nil
}
