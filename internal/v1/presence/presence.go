// Package presence tracks who is connected where. The data is volatile by
// design: it lives in Redis (or an in-process map) and is rebuilt from live
// connections, never from the durable store. A wiped presence backend means
// everyone is offline, nothing more.
package presence

import "context"

// Entry is one connected user's location.
type Entry struct {
	UserID    string `json:"userId"`
	Nickname  string `json:"nickname"`
	ServerID  string `json:"serverId"`
	ChannelID string `json:"channelId,omitempty"`
}

// Store is the volatile presence backend. JoinChannel moves the user
// atomically: membership in at most one channel per server is an invariant
// the backend enforces, not the caller.
type Store interface {
	// JoinServer registers the user as online. ChannelID on the entry is
	// ignored; users join servers outside any channel.
	JoinServer(ctx context.Context, e Entry) error

	// LeaveServer removes the user from the server and from whichever
	// channel they occupied.
	LeaveServer(ctx context.Context, serverID, userID string) error

	// JoinChannel moves the user into channelID, leaving any previous
	// channel in the same step.
	JoinChannel(ctx context.Context, serverID, userID, channelID string) error

	// LeaveChannel clears the user's channel, keeping them on the server.
	LeaveChannel(ctx context.Context, serverID, userID string) error

	// Get returns the user's entry, or ErrNotPresent.
	Get(ctx context.Context, userID string) (*Entry, error)

	// ListServer returns every entry on a server.
	ListServer(ctx context.Context, serverID string) ([]Entry, error)

	// ListChannel returns the user IDs inside a channel.
	ListChannel(ctx context.Context, channelID string) ([]string, error)

	// CountServer returns how many users are on a server.
	CountServer(ctx context.Context, serverID string) (int, error)

	// CountChannel returns how many users are inside a channel.
	CountChannel(ctx context.Context, channelID string) (int, error)

	// Ping reports backend reachability for readiness probes.
	Ping(ctx context.Context) error
}
