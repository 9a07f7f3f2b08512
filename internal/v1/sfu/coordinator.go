package sfu

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/logging"
	"github.com/reson8/reson8/server/go/internal/v1/metrics"
	"github.com/reson8/reson8/server/go/internal/v1/protocol"
)

// ProducerInfo identifies a live producer and its owner, used for
// NEW_PRODUCER / PRODUCER_CLOSED broadcasts and attribution.
type ProducerInfo struct {
	ChannelID  string `json:"channelId"`
	UserID     string `json:"userId"`
	Nickname   string `json:"nickname"`
	ProducerID string `json:"producerId"`
}

// ConsumerInfo is the payload answering a CONSUME request.
type ConsumerInfo struct {
	ConsumerID    string          `json:"consumerId"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

// voiceSession is the media state of one user inside one voice channel.
type voiceSession struct {
	channelID string
	userID    string
	nickname  string

	sendTransport Transport
	recvTransport Transport
	producer      Producer
	consumers     map[string]Consumer // consumerID -> consumer
}

// channelRouter is a lazily created router plus the sessions using it.
type channelRouter struct {
	router   Router
	sessions map[string]*voiceSession // userID -> session
}

// Coordinator owns every router, transport, producer and consumer, keyed so
// that each object is reachable from the (channel, user) pair it belongs to.
// A worker is spawned per CPU at startup and routers are assigned to workers
// round-robin.
type Coordinator struct {
	mu      sync.Mutex
	workers []Worker
	next    int // round-robin cursor

	routers map[string]*channelRouter // channelID -> router

	// producerID -> owner, so remote producers can always be attributed.
	producers map[string]ProducerInfo
}

// NewCoordinator spawns numWorkers media workers. A worker death is treated
// as unrecoverable: onWorkerDied fires and the caller is expected to exit.
func NewCoordinator(engine Engine, numWorkers int, onWorkerDied func(error)) (*Coordinator, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}

	c := &Coordinator{
		routers:   make(map[string]*channelRouter),
		producers: make(map[string]ProducerInfo),
	}
	for i := 0; i < numWorkers; i++ {
		w, err := engine.NewWorker(onWorkerDied)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("spawning media worker %d: %w", i, err)
		}
		c.workers = append(c.workers, w)
	}
	return c, nil
}

// RouterCapabilities returns the RTP capabilities of the channel's router,
// creating the router on first use.
func (c *Coordinator) RouterCapabilities(ctx context.Context, channelID string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cr, err := c.routerLocked(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return cr.router.Capabilities(), nil
}

// JoinChannel opens a voice session for the user and returns the producers
// already live in the channel so the client can consume them.
func (c *Coordinator) JoinChannel(ctx context.Context, channelID, userID, nickname string) ([]ProducerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cr, err := c.routerLocked(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if _, ok := cr.sessions[userID]; ok {
		return nil, fmt.Errorf("%w: voice session already open", protocol.ErrPreconditionFailed)
	}

	cr.sessions[userID] = &voiceSession{
		channelID: channelID,
		userID:    userID,
		nickname:  nickname,
		consumers: make(map[string]Consumer),
	}
	metrics.ActiveVoiceSessions.Inc()

	var existing []ProducerInfo
	for _, s := range cr.sessions {
		if s.userID != userID && s.producer != nil {
			existing = append(existing, ProducerInfo{
				ChannelID:  channelID,
				UserID:     s.userID,
				Nickname:   s.nickname,
				ProducerID: s.producer.ID(),
			})
		}
	}
	return existing, nil
}

// CreateTransport creates the send or recv transport of the user's session.
// Each session holds at most one transport per direction.
func (c *Coordinator) CreateTransport(ctx context.Context, channelID, userID string, direction Direction) (TransportParameters, error) {
	if direction != DirectionSend && direction != DirectionRecv {
		return TransportParameters{}, fmt.Errorf("%w: unknown transport direction %q", protocol.ErrInvalidInput, direction)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cr, s, err := c.sessionLocked(channelID, userID)
	if err != nil {
		return TransportParameters{}, err
	}
	if existing := s.transport(direction); existing != nil {
		return TransportParameters{}, fmt.Errorf("%w: %s transport already exists", protocol.ErrPreconditionFailed, direction)
	}

	t, err := cr.router.NewTransport(direction)
	if err != nil {
		return TransportParameters{}, fmt.Errorf("%w: creating transport: %v", protocol.ErrBackendFailure, err)
	}
	if direction == DirectionSend {
		s.sendTransport = t
	} else {
		s.recvTransport = t
	}

	logging.Info(ctx, "voice transport created",
		zap.String("transport_id", t.ID()), zap.String("direction", string(direction)))
	return t.Parameters(), nil
}

// ConnectTransport completes the DTLS handshake on one of the user's
// transports.
func (c *Coordinator) ConnectTransport(ctx context.Context, channelID, userID, transportID string, dtlsParameters json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, s, err := c.sessionLocked(channelID, userID)
	if err != nil {
		return err
	}
	t := s.transportByID(transportID)
	if t == nil {
		return fmt.Errorf("%w: transport %s", protocol.ErrNotFound, transportID)
	}
	if t.Connected() {
		return fmt.Errorf("%w: transport already connected", protocol.ErrPreconditionFailed)
	}
	if err := t.Connect(dtlsParameters); err != nil {
		return fmt.Errorf("%w: connecting transport: %v", protocol.ErrBackendFailure, err)
	}
	return nil
}

// Produce starts the user's audio producer on their connected send
// transport. One producer per session.
func (c *Coordinator) Produce(ctx context.Context, channelID, userID, transportID, kind string, rtpParameters json.RawMessage) (ProducerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, s, err := c.sessionLocked(channelID, userID)
	if err != nil {
		return ProducerInfo{}, err
	}
	if s.sendTransport == nil || s.sendTransport.ID() != transportID {
		return ProducerInfo{}, fmt.Errorf("%w: send transport %s", protocol.ErrNotFound, transportID)
	}
	if !s.sendTransport.Connected() {
		return ProducerInfo{}, fmt.Errorf("%w: send transport not connected", protocol.ErrPreconditionFailed)
	}
	if s.producer != nil {
		return ProducerInfo{}, fmt.Errorf("%w: producer already open", protocol.ErrPreconditionFailed)
	}

	p, err := s.sendTransport.Produce(kind, rtpParameters)
	if err != nil {
		return ProducerInfo{}, fmt.Errorf("%w: producing: %v", protocol.ErrBackendFailure, err)
	}
	s.producer = p
	metrics.ActiveProducers.Inc()

	info := ProducerInfo{ChannelID: channelID, UserID: userID, Nickname: s.nickname, ProducerID: p.ID()}
	c.producers[p.ID()] = info

	logging.Info(ctx, "producer opened", zap.String("producer_id", p.ID()))
	return info, nil
}

// Consume creates a paused consumer of another user's producer on the
// caller's connected recv transport.
func (c *Coordinator) Consume(ctx context.Context, channelID, userID, producerID string, rtpCapabilities json.RawMessage) (ConsumerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, s, err := c.sessionLocked(channelID, userID)
	if err != nil {
		return ConsumerInfo{}, err
	}
	if s.recvTransport == nil {
		return ConsumerInfo{}, fmt.Errorf("%w: no recv transport", protocol.ErrPreconditionFailed)
	}
	if !s.recvTransport.Connected() {
		return ConsumerInfo{}, fmt.Errorf("%w: recv transport not connected", protocol.ErrPreconditionFailed)
	}
	owner, ok := c.producers[producerID]
	if !ok || owner.ChannelID != channelID {
		return ConsumerInfo{}, fmt.Errorf("%w: producer %s", protocol.ErrNotFound, producerID)
	}
	if owner.UserID == userID {
		return ConsumerInfo{}, fmt.Errorf("%w: cannot consume own producer", protocol.ErrPreconditionFailed)
	}

	consumer, err := s.recvTransport.Consume(producerID, rtpCapabilities)
	if err != nil {
		return ConsumerInfo{}, fmt.Errorf("%w: consuming: %v", protocol.ErrBackendFailure, err)
	}
	s.consumers[consumer.ID()] = consumer

	return ConsumerInfo{
		ConsumerID:    consumer.ID(),
		ProducerID:    producerID,
		Kind:          consumer.Kind(),
		RTPParameters: consumer.Parameters(),
	}, nil
}

// ResumeConsumer unpauses a consumer once the client is ready to receive.
func (c *Coordinator) ResumeConsumer(ctx context.Context, channelID, userID, consumerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, s, err := c.sessionLocked(channelID, userID)
	if err != nil {
		return err
	}
	consumer, ok := s.consumers[consumerID]
	if !ok {
		return fmt.Errorf("%w: consumer %s", protocol.ErrNotFound, consumerID)
	}
	if err := consumer.Resume(); err != nil {
		return fmt.Errorf("%w: resuming consumer: %v", protocol.ErrBackendFailure, err)
	}
	return nil
}

// CloseProducer tears down the user's own producer and returns its info for
// the PRODUCER_CLOSED broadcast.
func (c *Coordinator) CloseProducer(ctx context.Context, channelID, userID, producerID string) (ProducerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cr, s, err := c.sessionLocked(channelID, userID)
	if err != nil {
		return ProducerInfo{}, err
	}
	if s.producer == nil || s.producer.ID() != producerID {
		return ProducerInfo{}, fmt.Errorf("%w: producer %s", protocol.ErrNotFound, producerID)
	}

	info := c.producers[producerID]
	c.closeProducerLocked(ctx, cr, s)
	return info, nil
}

// LeaveChannel tears down the user's whole session in dependency order:
// consumers, then the producer, then both transports, then the router once
// the channel is empty. Returns the closed producer's info when one was
// live, for the PRODUCER_CLOSED broadcast.
func (c *Coordinator) LeaveChannel(ctx context.Context, channelID, userID string) *ProducerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	cr, ok := c.routers[channelID]
	if !ok {
		return nil
	}
	s, ok := cr.sessions[userID]
	if !ok {
		return nil
	}

	var closed *ProducerInfo
	if s.producer != nil {
		info := c.producers[s.producer.ID()]
		closed = &info
	}

	for id, consumer := range s.consumers {
		if err := consumer.Close(); err != nil {
			logging.Warn(ctx, "closing consumer", zap.String("consumer_id", id), zap.Error(err))
		}
	}
	s.consumers = nil
	c.closeProducerLocked(ctx, cr, s)
	for _, t := range []Transport{s.sendTransport, s.recvTransport} {
		if t != nil {
			if err := t.Close(); err != nil {
				logging.Warn(ctx, "closing transport", zap.String("transport_id", t.ID()), zap.Error(err))
			}
		}
	}
	delete(cr.sessions, userID)
	metrics.ActiveVoiceSessions.Dec()

	if len(cr.sessions) == 0 {
		if err := cr.router.Close(); err != nil {
			logging.Warn(ctx, "closing router", zap.Error(err))
		}
		delete(c.routers, channelID)
		logging.Info(ctx, "router closed, channel empty")
	}
	return closed
}

// SessionCount reports how many voice sessions are open, across channels.
func (c *Coordinator) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, cr := range c.routers {
		n += len(cr.sessions)
	}
	return n
}

// Close tears down every router and worker. Called on shutdown.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for channelID, cr := range c.routers {
		cr.router.Close()
		delete(c.routers, channelID)
	}
	for _, w := range c.workers {
		w.Close()
	}
	c.workers = nil
}

func (c *Coordinator) routerLocked(ctx context.Context, channelID string) (*channelRouter, error) {
	if cr, ok := c.routers[channelID]; ok {
		return cr, nil
	}
	if len(c.workers) == 0 {
		return nil, fmt.Errorf("%w: no media workers", protocol.ErrBackendFailure)
	}

	w := c.workers[c.next%len(c.workers)]
	c.next++

	r, err := w.NewRouter(channelID)
	if err != nil {
		return nil, fmt.Errorf("%w: creating router: %v", protocol.ErrBackendFailure, err)
	}
	cr := &channelRouter{router: r, sessions: make(map[string]*voiceSession)}
	c.routers[channelID] = cr

	logging.Info(ctx, "router created",
		zap.String("router_id", r.ID()), zap.String("worker_id", w.ID()))
	return cr, nil
}

func (c *Coordinator) sessionLocked(channelID, userID string) (*channelRouter, *voiceSession, error) {
	cr, ok := c.routers[channelID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no voice session in channel %s", protocol.ErrPreconditionFailed, channelID)
	}
	s, ok := cr.sessions[userID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no voice session in channel %s", protocol.ErrPreconditionFailed, channelID)
	}
	return cr, s, nil
}

// closeProducerLocked tears down the session's producer and, with it, every
// other session's consumer of that producer. A consumer must never outlive
// its source.
func (c *Coordinator) closeProducerLocked(ctx context.Context, cr *channelRouter, s *voiceSession) {
	if s.producer == nil {
		return
	}
	id := s.producer.ID()

	for _, other := range cr.sessions {
		if other == s {
			continue
		}
		for consumerID, consumer := range other.consumers {
			if consumer.ProducerID() != id {
				continue
			}
			if err := consumer.Close(); err != nil {
				logging.Warn(ctx, "closing consumer", zap.String("consumer_id", consumerID), zap.Error(err))
			}
			delete(other.consumers, consumerID)
		}
	}

	if err := s.producer.Close(); err != nil {
		logging.Warn(ctx, "closing producer", zap.String("producer_id", id), zap.Error(err))
	}
	delete(c.producers, id)
	s.producer = nil
	metrics.ActiveProducers.Dec()
}

func (s *voiceSession) transport(d Direction) Transport {
	if d == DirectionSend {
		return s.sendTransport
	}
	return s.recvTransport
}

func (s *voiceSession) transportByID(id string) Transport {
	if s.sendTransport != nil && s.sendTransport.ID() == id {
		return s.sendTransport
	}
	if s.recvTransport != nil && s.recvTransport.ID() == id {
		return s.recvTransport
	}
	return nil
}
