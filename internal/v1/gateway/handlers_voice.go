package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/reson8/reson8/server/go/internal/v1/protocol"
	"github.com/reson8/reson8/server/go/internal/v1/rooms"
	"github.com/reson8/reson8/server/go/internal/v1/sfu"
)

// voiceChannel resolves the channel the voice operation applies to: the
// session's open voice session.
func (s *Session) voiceChannel() (string, error) {
	channelID, voiceOpen := s.currentChannel()
	if channelID == "" || !voiceOpen {
		return "", fmt.Errorf("%w: no voice session", protocol.ErrPreconditionFailed)
	}
	return channelID, nil
}

// Capabilities are served only for the channel the session holds a voice
// session in, so routers are never created for channels nobody joined.
func (h *Hub) handleGetRouterCapabilities(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.GetRouterCapabilitiesRequest](data)
	if err != nil {
		return nil, err
	}
	channelID, err := s.voiceChannel()
	if err != nil {
		return nil, err
	}
	if req.ChannelID != "" && req.ChannelID != channelID {
		return nil, fmt.Errorf("%w: no voice session in channel %s", protocol.ErrPreconditionFailed, req.ChannelID)
	}

	caps, err := h.deps.Voice.RouterCapabilities(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(caps), nil
}

func (h *Hub) handleCreateTransport(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.CreateTransportRequest](data)
	if err != nil {
		return nil, err
	}
	channelID, err := s.voiceChannel()
	if err != nil {
		return nil, err
	}

	userID, _, _ := s.identity()
	return h.deps.Voice.CreateTransport(ctx, channelID, userID, sfu.Direction(req.Direction))
}

func (h *Hub) handleConnectTransport(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.ConnectTransportRequest](data)
	if err != nil {
		return nil, err
	}
	channelID, err := s.voiceChannel()
	if err != nil {
		return nil, err
	}

	userID, _, _ := s.identity()
	return nil, h.deps.Voice.ConnectTransport(ctx, channelID, userID, req.TransportID, req.DTLSParameters)
}

func (h *Hub) handleProduce(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.ProduceRequest](data)
	if err != nil {
		return nil, err
	}
	channelID, err := s.voiceChannel()
	if err != nil {
		return nil, err
	}

	userID, _, _ := s.identity()
	info, err := h.deps.Voice.Produce(ctx, channelID, userID, req.TransportID, req.Kind, req.RTPParameters)
	if err != nil {
		return nil, err
	}

	h.deps.Broker.EmitExcept(ctx, rooms.ChannelRoom(channelID), s.id, protocol.EventNewProducer, protocol.NewProducer{
		ChannelID:  info.ChannelID,
		UserID:     info.UserID,
		Nickname:   info.Nickname,
		ProducerID: info.ProducerID,
	})
	return map[string]string{"producerId": info.ProducerID}, nil
}

func (h *Hub) handleConsume(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.ConsumeRequest](data)
	if err != nil {
		return nil, err
	}
	channelID, err := s.voiceChannel()
	if err != nil {
		return nil, err
	}

	userID, _, _ := s.identity()
	return h.deps.Voice.Consume(ctx, channelID, userID, req.ProducerID, req.RTPCapabilities)
}

func (h *Hub) handleResumeConsumer(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.ResumeConsumerRequest](data)
	if err != nil {
		return nil, err
	}
	channelID, err := s.voiceChannel()
	if err != nil {
		return nil, err
	}

	userID, _, _ := s.identity()
	return nil, h.deps.Voice.ResumeConsumer(ctx, channelID, userID, req.ConsumerID)
}

func (h *Hub) handleCloseProducer(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	req, err := decode[protocol.CloseProducerRequest](data)
	if err != nil {
		return nil, err
	}
	channelID, err := s.voiceChannel()
	if err != nil {
		return nil, err
	}

	userID, _, _ := s.identity()
	info, err := h.deps.Voice.CloseProducer(ctx, channelID, userID, req.ProducerID)
	if err != nil {
		return nil, err
	}

	h.deps.Broker.EmitExcept(ctx, rooms.ChannelRoom(channelID), s.id, protocol.EventProducerClosed, protocol.ProducerClosed{
		ChannelID:  info.ChannelID,
		UserID:     info.UserID,
		ProducerID: info.ProducerID,
	})
	return nil, nil
}
