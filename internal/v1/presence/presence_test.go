package presence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both backends must satisfy the same laws, so every case runs against each.
func withStores(t *testing.T, run func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		run(t, NewMemoryStore())
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		run(t, NewRedisStore(client))
	})
}

func TestJoinAndGet(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Get(ctx, "u1")
		assert.ErrorIs(t, err, ErrNotPresent)

		require.NoError(t, s.JoinServer(ctx, Entry{UserID: "u1", Nickname: "alice", ServerID: "s1"}))

		e, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "alice", e.Nickname)
		assert.Equal(t, "s1", e.ServerID)
		assert.Empty(t, e.ChannelID, "server join lands outside any channel")

		n, err := s.CountServer(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestJoinChannel_MovesAtomically(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.JoinServer(ctx, Entry{UserID: "u1", Nickname: "alice", ServerID: "s1"}))

		require.NoError(t, s.JoinChannel(ctx, "s1", "u1", "c1"))
		require.NoError(t, s.JoinChannel(ctx, "s1", "u1", "c2"))

		// At most one channel per user
		c1, err := s.ListChannel(ctx, "c1")
		require.NoError(t, err)
		assert.Empty(t, c1)

		c2, err := s.ListChannel(ctx, "c2")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, c2)

		e, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "c2", e.ChannelID)
	})
}

func TestJoinChannel_RequiresServerJoin(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		err := s.JoinChannel(context.Background(), "s1", "ghost", "c1")
		assert.ErrorIs(t, err, ErrNotPresent)
	})
}

func TestLeaveChannel(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.JoinServer(ctx, Entry{UserID: "u1", Nickname: "alice", ServerID: "s1"}))
		require.NoError(t, s.JoinChannel(ctx, "s1", "u1", "c1"))

		require.NoError(t, s.LeaveChannel(ctx, "s1", "u1"))

		e, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, e.ChannelID)

		// Still on the server
		n, err := s.CountServer(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		// Leaving twice is harmless
		require.NoError(t, s.LeaveChannel(ctx, "s1", "u1"))
	})
}

func TestLeaveServer_ClearsChannelMembership(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.JoinServer(ctx, Entry{UserID: "u1", Nickname: "alice", ServerID: "s1"}))
		require.NoError(t, s.JoinChannel(ctx, "s1", "u1", "c1"))

		require.NoError(t, s.LeaveServer(ctx, "s1", "u1"))

		_, err := s.Get(ctx, "u1")
		assert.ErrorIs(t, err, ErrNotPresent)

		members, err := s.ListChannel(ctx, "c1")
		require.NoError(t, err)
		assert.Empty(t, members, "server leave must evict channel membership")

		n, err := s.CountServer(ctx, "s1")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestListServer(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.JoinServer(ctx, Entry{UserID: "u1", Nickname: "alice", ServerID: "s1"}))
		require.NoError(t, s.JoinServer(ctx, Entry{UserID: "u2", Nickname: "bob", ServerID: "s1"}))
		require.NoError(t, s.JoinServer(ctx, Entry{UserID: "u3", Nickname: "eve", ServerID: "s2"}))

		entries, err := s.ListServer(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, entries, 2)

		names := map[string]bool{}
		for _, e := range entries {
			names[e.Nickname] = true
		}
		assert.True(t, names["alice"])
		assert.True(t, names["bob"])
	})
}

func TestCountChannel(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.JoinServer(ctx, Entry{UserID: "u1", Nickname: "a", ServerID: "s1"}))
		require.NoError(t, s.JoinServer(ctx, Entry{UserID: "u2", Nickname: "b", ServerID: "s1"}))
		require.NoError(t, s.JoinChannel(ctx, "s1", "u1", "c1"))
		require.NoError(t, s.JoinChannel(ctx, "s1", "u2", "c1"))

		n, err := s.CountChannel(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}
