package sfu

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reson8/reson8/server/go/internal/v1/protocol"
)

// --- mock engine ---

type mockEngine struct {
	workers []*mockWorker
}

func (e *mockEngine) NewWorker(_ func(error)) (Worker, error) {
	w := &mockWorker{id: fmt.Sprintf("w%d", len(e.workers))}
	e.workers = append(e.workers, w)
	return w, nil
}

type mockWorker struct {
	id      string
	routers int
	closed  bool
}

func (w *mockWorker) ID() string { return w.id }

func (w *mockWorker) NewRouter(channelID string) (Router, error) {
	w.routers++
	return &mockRouter{id: "router-" + channelID}, nil
}

func (w *mockWorker) Close() error {
	w.closed = true
	return nil
}

type mockRouter struct {
	id     string
	closed bool
	seq    int
}

func (r *mockRouter) ID() string { return r.id }

func (r *mockRouter) Capabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"kind":"audio"}]}`)
}

func (r *mockRouter) NewTransport(direction Direction) (Transport, error) {
	r.seq++
	return &mockTransport{
		id:        fmt.Sprintf("%s-t%d", r.id, r.seq),
		direction: direction,
	}, nil
}

func (r *mockRouter) Close() error {
	r.closed = true
	return nil
}

type mockTransport struct {
	id        string
	direction Direction
	connected bool
	closed    bool
	seq       int
}

func (t *mockTransport) ID() string           { return t.id }
func (t *mockTransport) Direction() Direction { return t.direction }
func (t *mockTransport) Connected() bool      { return t.connected }

func (t *mockTransport) Parameters() TransportParameters {
	return TransportParameters{ID: t.id}
}

func (t *mockTransport) Connect(_ json.RawMessage) error {
	t.connected = true
	return nil
}

func (t *mockTransport) Produce(kind string, _ json.RawMessage) (Producer, error) {
	t.seq++
	return &mockProducer{id: fmt.Sprintf("%s-p%d", t.id, t.seq), kind: kind}, nil
}

func (t *mockTransport) Consume(producerID string, _ json.RawMessage) (Consumer, error) {
	t.seq++
	return &mockConsumer{id: fmt.Sprintf("%s-c%d", t.id, t.seq), producerID: producerID}, nil
}

func (t *mockTransport) Close() error {
	t.closed = true
	return nil
}

type mockProducer struct {
	id     string
	kind   string
	closed bool
}

func (p *mockProducer) ID() string   { return p.id }
func (p *mockProducer) Kind() string { return p.kind }
func (p *mockProducer) Close() error {
	p.closed = true
	return nil
}

type mockConsumer struct {
	id         string
	producerID string
	resumed    bool
	closed     bool
}

func (c *mockConsumer) ID() string                  { return c.id }
func (c *mockConsumer) ProducerID() string          { return c.producerID }
func (c *mockConsumer) Kind() string                { return "audio" }
func (c *mockConsumer) Parameters() json.RawMessage { return json.RawMessage(`{}`) }
func (c *mockConsumer) Resume() error {
	c.resumed = true
	return nil
}
func (c *mockConsumer) Close() error {
	c.closed = true
	return nil
}

// --- helpers ---

func newTestCoordinator(t *testing.T, workers int) (*Coordinator, *mockEngine) {
	t.Helper()
	engine := &mockEngine{}
	c, err := NewCoordinator(engine, workers, func(err error) {
		t.Fatalf("unexpected worker death: %v", err)
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, engine
}

// fullHandshake walks one user through join, both transports, connect and
// produce, returning the producer info.
func fullHandshake(t *testing.T, c *Coordinator, channelID, userID, nickname string) ProducerInfo {
	t.Helper()
	ctx := context.Background()

	_, err := c.JoinChannel(ctx, channelID, userID, nickname)
	require.NoError(t, err)

	send, err := c.CreateTransport(ctx, channelID, userID, DirectionSend)
	require.NoError(t, err)
	recv, err := c.CreateTransport(ctx, channelID, userID, DirectionRecv)
	require.NoError(t, err)

	require.NoError(t, c.ConnectTransport(ctx, channelID, userID, send.ID, nil))
	require.NoError(t, c.ConnectTransport(ctx, channelID, userID, recv.ID, nil))

	info, err := c.Produce(ctx, channelID, userID, send.ID, "audio", nil)
	require.NoError(t, err)
	return info
}

// --- tests ---

func TestHandshake_FullFlow(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	ctx := context.Background()

	caps, err := c.RouterCapabilities(ctx, "c1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"codecs":[{"kind":"audio"}]}`, string(caps))

	info := fullHandshake(t, c, "c1", "u1", "alice")
	assert.Equal(t, "c1", info.ChannelID)
	assert.Equal(t, "u1", info.UserID)
	assert.Equal(t, "alice", info.Nickname)
	assert.NotEmpty(t, info.ProducerID)
}

func TestHandshake_OrderEnforced(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	ctx := context.Background()

	// Transport before join
	_, err := c.CreateTransport(ctx, "c1", "u1", DirectionSend)
	assert.ErrorIs(t, err, protocol.ErrPreconditionFailed)

	_, err = c.JoinChannel(ctx, "c1", "u1", "alice")
	require.NoError(t, err)

	send, err := c.CreateTransport(ctx, "c1", "u1", DirectionSend)
	require.NoError(t, err)

	// Produce before connect
	_, err = c.Produce(ctx, "c1", "u1", send.ID, "audio", nil)
	assert.ErrorIs(t, err, protocol.ErrPreconditionFailed)

	require.NoError(t, c.ConnectTransport(ctx, "c1", "u1", send.ID, nil))

	// Double connect
	err = c.ConnectTransport(ctx, "c1", "u1", send.ID, nil)
	assert.ErrorIs(t, err, protocol.ErrPreconditionFailed)

	// Unknown transport
	err = c.ConnectTransport(ctx, "c1", "u1", "bogus", nil)
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestCreateTransport_OnePerDirection(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	ctx := context.Background()

	_, err := c.JoinChannel(ctx, "c1", "u1", "alice")
	require.NoError(t, err)

	_, err = c.CreateTransport(ctx, "c1", "u1", DirectionSend)
	require.NoError(t, err)
	_, err = c.CreateTransport(ctx, "c1", "u1", DirectionSend)
	assert.ErrorIs(t, err, protocol.ErrPreconditionFailed)

	_, err = c.CreateTransport(ctx, "c1", "u1", "sideways")
	assert.ErrorIs(t, err, protocol.ErrInvalidInput)
}

func TestProduce_SingleProducerPerSession(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	ctx := context.Background()

	fullHandshake(t, c, "c1", "u1", "alice")

	cr := c.routers["c1"]
	sendID := cr.sessions["u1"].sendTransport.ID()
	_, err := c.Produce(ctx, "c1", "u1", sendID, "audio", nil)
	assert.ErrorIs(t, err, protocol.ErrPreconditionFailed)
}

func TestJoinChannel_ReturnsExistingProducers(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	ctx := context.Background()

	first := fullHandshake(t, c, "c1", "u1", "alice")

	existing, err := c.JoinChannel(ctx, "c1", "u2", "bob")
	require.NoError(t, err)
	require.Len(t, existing, 1)
	assert.Equal(t, first.ProducerID, existing[0].ProducerID)
	assert.Equal(t, "alice", existing[0].Nickname)
}

func TestConsume_AttributionAndGuards(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	ctx := context.Background()

	producer := fullHandshake(t, c, "c1", "u1", "alice")
	fullHandshake(t, c, "c1", "u2", "bob")

	// Consuming your own producer is rejected
	_, err := c.Consume(ctx, "c1", "u1", producer.ProducerID, nil)
	assert.ErrorIs(t, err, protocol.ErrPreconditionFailed)

	info, err := c.Consume(ctx, "c1", "u2", producer.ProducerID, nil)
	require.NoError(t, err)
	assert.Equal(t, producer.ProducerID, info.ProducerID)
	assert.Equal(t, "audio", info.Kind)

	require.NoError(t, c.ResumeConsumer(ctx, "c1", "u2", info.ConsumerID))
	assert.ErrorIs(t, c.ResumeConsumer(ctx, "c1", "u2", "bogus"), protocol.ErrNotFound)

	// Unknown producer
	_, err = c.Consume(ctx, "c1", "u2", "bogus", nil)
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestCloseProducer(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	ctx := context.Background()

	producer := fullHandshake(t, c, "c1", "u1", "alice")

	info, err := c.CloseProducer(ctx, "c1", "u1", producer.ProducerID)
	require.NoError(t, err)
	assert.Equal(t, producer.ProducerID, info.ProducerID)

	// Gone now
	_, err = c.CloseProducer(ctx, "c1", "u1", producer.ProducerID)
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestCloseProducer_ClosesRemoteConsumers(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	ctx := context.Background()

	producer := fullHandshake(t, c, "c1", "u1", "alice")
	fullHandshake(t, c, "c1", "u2", "bob")

	info, err := c.Consume(ctx, "c1", "u2", producer.ProducerID, nil)
	require.NoError(t, err)
	consumer := c.routers["c1"].sessions["u2"].consumers[info.ConsumerID].(*mockConsumer)

	_, err = c.CloseProducer(ctx, "c1", "u1", producer.ProducerID)
	require.NoError(t, err)

	assert.True(t, consumer.closed)
	assert.Empty(t, c.routers["c1"].sessions["u2"].consumers)
	assert.ErrorIs(t, c.ResumeConsumer(ctx, "c1", "u2", info.ConsumerID), protocol.ErrNotFound)
}

func TestLeaveChannel_ClosesRemoteConsumers(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	ctx := context.Background()

	producer := fullHandshake(t, c, "c1", "u1", "alice")
	fullHandshake(t, c, "c1", "u2", "bob")

	info, err := c.Consume(ctx, "c1", "u2", producer.ProducerID, nil)
	require.NoError(t, err)
	consumer := c.routers["c1"].sessions["u2"].consumers[info.ConsumerID].(*mockConsumer)

	closed := c.LeaveChannel(ctx, "c1", "u1")
	require.NotNil(t, closed)
	assert.Equal(t, producer.ProducerID, closed.ProducerID)

	assert.True(t, consumer.closed)
	assert.Empty(t, c.routers["c1"].sessions["u2"].consumers)
}

func TestLeaveChannel_TearsDownEverything(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	ctx := context.Background()

	producer := fullHandshake(t, c, "c1", "u1", "alice")
	fullHandshake(t, c, "c1", "u2", "bob")

	info, err := c.Consume(ctx, "c1", "u2", producer.ProducerID, nil)
	require.NoError(t, err)

	cr := c.routers["c1"]
	u2 := cr.sessions["u2"]
	consumer := u2.consumers[info.ConsumerID].(*mockConsumer)
	u2Send := u2.sendTransport.(*mockTransport)

	closed := c.LeaveChannel(ctx, "c1", "u2")
	require.NotNil(t, closed)
	assert.Equal(t, "u2", closed.UserID)

	assert.True(t, consumer.closed)
	assert.True(t, u2Send.closed)
	assert.Equal(t, 1, c.SessionCount())

	// Last user out closes the router
	router := cr.router.(*mockRouter)
	c.LeaveChannel(ctx, "c1", "u1")
	assert.True(t, router.closed)
	assert.Zero(t, c.SessionCount())
	assert.Empty(t, c.routers)

	// Leaving again is harmless
	assert.Nil(t, c.LeaveChannel(ctx, "c1", "u1"))
}

func TestRouters_RoundRobinAcrossWorkers(t *testing.T) {
	c, engine := newTestCoordinator(t, 2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := c.RouterCapabilities(ctx, fmt.Sprintf("c%d", i))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, engine.workers[0].routers)
	assert.Equal(t, 2, engine.workers[1].routers)
}

func TestRouter_ReusedWithinChannel(t *testing.T) {
	c, engine := newTestCoordinator(t, 1)
	ctx := context.Background()

	_, err := c.RouterCapabilities(ctx, "c1")
	require.NoError(t, err)
	_, err = c.JoinChannel(ctx, "c1", "u1", "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, engine.workers[0].routers)
}

func TestJoinChannel_DuplicateRejected(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	ctx := context.Background()

	_, err := c.JoinChannel(ctx, "c1", "u1", "alice")
	require.NoError(t, err)
	_, err = c.JoinChannel(ctx, "c1", "u1", "alice")
	assert.ErrorIs(t, err, protocol.ErrPreconditionFailed)
}
