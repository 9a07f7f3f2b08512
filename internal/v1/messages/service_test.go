package messages

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reson8/reson8/server/go/internal/v1/protocol"
	"github.com/reson8/reson8/server/go/internal/v1/rooms"
	"github.com/reson8/reson8/server/go/internal/v1/store"
)

type captureSub struct {
	id string

	mu     sync.Mutex
	events []string
}

func (c *captureSub) ID() string { return c.id }

func (c *captureSub) Deliver(event string, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureSub) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

type fixture struct {
	svc   *Service
	st    *store.Store
	srv   *store.Server
	text  *store.Channel
	voice *store.Channel
	sub   *captureSub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := &store.Server{ID: "s1", Name: "test", MaxClients: 10}
	require.NoError(t, st.CreateServer(ctx, srv))
	require.NoError(t, st.UpsertUser(ctx, &store.User{ID: "u1", Nickname: "alice"}))

	text := &store.Channel{ID: uuid.NewString(), ServerID: srv.ID, Name: "general", Type: store.ChannelText}
	voice := &store.Channel{ID: uuid.NewString(), ServerID: srv.ID, Name: "lounge", Type: store.ChannelVoice, Position: 1}
	require.NoError(t, st.CreateChannel(ctx, text))
	require.NoError(t, st.CreateChannel(ctx, voice))

	broker := rooms.NewBroker(nil)
	sub := &captureSub{id: "watcher"}
	broker.Join(rooms.ServerRoom(srv.ID), sub)

	return &fixture{svc: NewService(st, broker), st: st, srv: srv, text: text, voice: voice, sub: sub}
}

func TestSend_PersistsThenBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, f.srv.ID, f.text.ID, "u1", "alice", "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content, "content is trimmed")
	assert.Equal(t, []string{protocol.EventMessageReceived}, f.sub.seen())

	stored, err := f.st.ListMessagesBefore(ctx, f.text.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, f.srv.ID, f.text.ID, "u1", "alice", "   ")
	assert.ErrorIs(t, err, protocol.ErrInvalidInput)

	_, err = f.svc.Send(ctx, f.srv.ID, f.text.ID, "u1", "alice", strings.Repeat("x", 2001))
	assert.ErrorIs(t, err, protocol.ErrInvalidInput)

	_, err = f.svc.Send(ctx, f.srv.ID, "ghost", "u1", "alice", "hi")
	assert.ErrorIs(t, err, protocol.ErrNotFound)

	_, err = f.svc.Send(ctx, f.srv.ID, f.voice.ID, "u1", "alice", "hi")
	assert.ErrorIs(t, err, protocol.ErrPreconditionFailed)

	assert.Empty(t, f.sub.seen(), "failed sends must not broadcast")
}

func TestFetch_PaginatesBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 120; i++ {
		require.NoError(t, f.st.InsertMessage(ctx, &store.Message{
			ID:        uuid.NewString(),
			ChannelID: f.text.ID,
			UserID:    "u1",
			Content:   fmt.Sprintf("m%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	// Default page is the newest 50, ascending
	page, err := f.svc.Fetch(ctx, f.srv.ID, f.text.ID, 0, "")
	require.NoError(t, err)
	require.Len(t, page, 50)
	assert.Equal(t, "m70", page[0].Content)
	assert.Equal(t, "m119", page[49].Content)

	// Walk backwards with the exclusive cursor
	cursor := page[0].CreatedAt.UTC().Format(time.RFC3339Nano)
	page2, err := f.svc.Fetch(ctx, f.srv.ID, f.text.ID, 50, cursor)
	require.NoError(t, err)
	require.Len(t, page2, 50)
	assert.Equal(t, "m20", page2[0].Content)
	assert.Equal(t, "m69", page2[49].Content)

	// Final page is short
	cursor = page2[0].CreatedAt.UTC().Format(time.RFC3339Nano)
	page3, err := f.svc.Fetch(ctx, f.srv.ID, f.text.ID, 50, cursor)
	require.NoError(t, err)
	require.Len(t, page3, 20)
	assert.Equal(t, "m0", page3[0].Content)

	// Past the beginning
	cursor = page3[0].CreatedAt.UTC().Format(time.RFC3339Nano)
	page4, err := f.svc.Fetch(ctx, f.srv.ID, f.text.ID, 50, cursor)
	require.NoError(t, err)
	assert.Empty(t, page4)
}

func TestFetch_LimitClampedAndCursorValidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 150; i++ {
		require.NoError(t, f.st.InsertMessage(ctx, &store.Message{
			ID:        uuid.NewString(),
			ChannelID: f.text.ID,
			UserID:    "u1",
			Content:   "m",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := f.svc.Fetch(ctx, f.srv.ID, f.text.ID, 1000, "")
	require.NoError(t, err)
	assert.Len(t, page, 100)

	_, err = f.svc.Fetch(ctx, f.srv.ID, f.text.ID, 10, "not-a-time")
	assert.ErrorIs(t, err, protocol.ErrInvalidInput)
}
