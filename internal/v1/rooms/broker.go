// Package rooms implements the in-process broadcast broker. Rooms are named
// strings ("server:{id}", "channel:{id}"); sessions subscribe to the rooms
// they should hear and every broadcast fans out to current subscribers.
// With a bus attached, broadcasts also reach subscribers on other instances.
package rooms

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/bus"
	"github.com/reson8/reson8/server/go/internal/v1/logging"
	"github.com/reson8/reson8/server/go/internal/v1/metrics"
)

// Room name constructors, so callers never format keys by hand.
func ServerRoom(serverID string) string   { return "server:" + serverID }
func ChannelRoom(channelID string) string { return "channel:" + channelID }

// Subscriber receives broadcast events. Deliver must not block; gateway
// sessions satisfy this with a buffered send channel.
type Subscriber interface {
	ID() string
	Deliver(event string, data any)
}

// Broker tracks room membership and fans events out. All methods are safe
// for concurrent use.
type Broker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber
	bus   *bus.Service // nil in single-instance mode
}

func NewBroker(b *bus.Service) *Broker {
	return &Broker{
		rooms: make(map[string]map[string]Subscriber),
		bus:   b,
	}
}

// Join adds the subscriber to a room, creating it on first use.
func (b *Broker) Join(room string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rooms[room] == nil {
		b.rooms[room] = make(map[string]Subscriber)
		metrics.ActiveRooms.Inc()
	}
	b.rooms[room][s.ID()] = s
	metrics.RoomSubscribers.WithLabelValues(room).Set(float64(len(b.rooms[room])))
}

// Leave removes the subscriber from a room, dropping the room when empty.
func (b *Broker) Leave(room string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(room, s.ID())
}

// LeaveAll removes the subscriber from every room it joined. Called on
// disconnect so no room retains a dead session.
func (b *Broker) LeaveAll(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for room := range b.rooms {
		b.leaveLocked(room, s.ID())
	}
}

func (b *Broker) leaveLocked(room, id string) {
	members, ok := b.rooms[room]
	if !ok {
		return
	}
	if _, ok := members[id]; !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(b.rooms, room)
		metrics.ActiveRooms.Dec()
		metrics.RoomSubscribers.DeleteLabelValues(room)
		return
	}
	metrics.RoomSubscribers.WithLabelValues(room).Set(float64(len(members)))
}

// Members returns the subscriber IDs currently in a room.
func (b *Broker) Members(room string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.rooms[room]))
	for id := range b.rooms[room] {
		ids = append(ids, id)
	}
	return ids
}

// Emit broadcasts an event to every subscriber of a room on every instance.
func (b *Broker) Emit(ctx context.Context, room, event string, data any) {
	b.EmitExcept(ctx, room, "", event, data)
}

// EmitExcept broadcasts like Emit but skips the local subscriber with the
// given ID, typically the sender of the triggering frame.
func (b *Broker) EmitExcept(ctx context.Context, room, exceptID, event string, data any) {
	b.emitLocal(room, exceptID, event, data)

	if b.bus == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		logging.Error(ctx, "failed to marshal broadcast for bus",
			zap.String("room", room), zap.String("event", event), zap.Error(err))
		return
	}
	if err := b.bus.Publish(ctx, room, event, raw); err != nil {
		logging.Warn(ctx, "bus publish failed, broadcast stays local",
			zap.String("room", room), zap.String("event", event), zap.Error(err))
	}
}

// EmitLocal delivers only to local subscribers. The bus subscription handler
// uses it to forward remote broadcasts without re-publishing them.
func (b *Broker) EmitLocal(room, event string, data any) {
	b.emitLocal(room, "", event, data)
}

func (b *Broker) emitLocal(room, exceptID, event string, data any) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.rooms[room]))
	for id, s := range b.rooms[room] {
		if id == exceptID {
			continue
		}
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.Deliver(event, data)
	}
}

// BindBus wires the bus subscription into local delivery. Call once at
// startup after constructing the broker.
func (b *Broker) BindBus(ctx context.Context, wg *sync.WaitGroup) {
	if b.bus == nil {
		return
	}
	b.bus.Subscribe(ctx, wg, func(p bus.Payload) {
		b.EmitLocal(p.Room, p.Event, p.Data)
	})
}
