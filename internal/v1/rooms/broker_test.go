package rooms

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSub struct {
	id string

	mu     sync.Mutex
	events []string
}

func (r *recordingSub) ID() string { return r.id }

func (r *recordingSub) Deliver(event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSub) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestEmit_ReachesRoomMembersOnly(t *testing.T) {
	b := NewBroker(nil)
	inRoom := &recordingSub{id: "a"}
	outside := &recordingSub{id: "b"}

	b.Join(ServerRoom("s1"), inRoom)
	b.Join(ServerRoom("s2"), outside)

	b.Emit(context.Background(), ServerRoom("s1"), "USER_JOINED", nil)

	assert.Equal(t, []string{"USER_JOINED"}, inRoom.seen())
	assert.Empty(t, outside.seen())
}

func TestEmitExcept_SkipsSender(t *testing.T) {
	b := NewBroker(nil)
	sender := &recordingSub{id: "a"}
	other := &recordingSub{id: "b"}

	room := ChannelRoom("c1")
	b.Join(room, sender)
	b.Join(room, other)

	b.EmitExcept(context.Background(), room, "a", "NEW_PRODUCER", nil)

	assert.Empty(t, sender.seen())
	assert.Equal(t, []string{"NEW_PRODUCER"}, other.seen())
}

func TestLeave_StopsDelivery(t *testing.T) {
	b := NewBroker(nil)
	sub := &recordingSub{id: "a"}
	room := ChannelRoom("c1")

	b.Join(room, sub)
	b.Leave(room, sub)
	b.Emit(context.Background(), room, "MESSAGE_RECEIVED", nil)

	assert.Empty(t, sub.seen())
	assert.Empty(t, b.Members(room))
}

func TestLeaveAll(t *testing.T) {
	b := NewBroker(nil)
	sub := &recordingSub{id: "a"}
	stay := &recordingSub{id: "b"}

	b.Join(ServerRoom("s1"), sub)
	b.Join(ChannelRoom("c1"), sub)
	b.Join(ChannelRoom("c1"), stay)

	b.LeaveAll(sub)

	assert.Empty(t, b.Members(ServerRoom("s1")))
	require.Equal(t, []string{"b"}, b.Members(ChannelRoom("c1")))
}

func TestJoin_Rejoin_NoDuplicateDelivery(t *testing.T) {
	b := NewBroker(nil)
	sub := &recordingSub{id: "a"}
	room := ServerRoom("s1")

	b.Join(room, sub)
	b.Join(room, sub)
	b.Emit(context.Background(), room, "PRESENCE_UPDATE", nil)

	assert.Equal(t, []string{"PRESENCE_UPDATE"}, sub.seen())
}

func TestEmit_EmptyRoomIsHarmless(t *testing.T) {
	b := NewBroker(nil)
	b.Emit(context.Background(), ChannelRoom("ghost"), "X", nil)
}
