package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence keys expire after an hour so a crashed instance cannot strand
// ghosts; live connections refresh the TTL on every write.
const keyTTL = time.Hour

const (
	serverKeyPrefix  = "presence:server:"
	channelKeyPrefix = "presence:channel:"
	userKeyPrefix    = "presence:user:"
)

// RedisStore keeps presence in Redis: one set per server, one set per
// channel, one hash per user. Multi-key updates run in a MULTI/EXEC pipeline
// so a crash between steps cannot leave a user in two channels.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func serverKey(id string) string  { return serverKeyPrefix + id }
func channelKey(id string) string { return channelKeyPrefix + id }
func userKey(id string) string    { return userKeyPrefix + id }

func (r *RedisStore) JoinServer(ctx context.Context, e Entry) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, serverKey(e.ServerID), e.UserID)
		pipe.Expire(ctx, serverKey(e.ServerID), keyTTL)
		pipe.HSet(ctx, userKey(e.UserID),
			"userId", e.UserID,
			"nickname", e.Nickname,
			"serverId", e.ServerID,
			"channelId", "")
		pipe.Expire(ctx, userKey(e.UserID), keyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence join server: %w", err)
	}
	return nil
}

func (r *RedisStore) LeaveServer(ctx context.Context, serverID, userID string) error {
	prev, err := r.client.HGet(ctx, userKey(userID), "channelId").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("presence leave server: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, serverKey(serverID), userID)
		if prev != "" {
			pipe.SRem(ctx, channelKey(prev), userID)
		}
		pipe.Del(ctx, userKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence leave server: %w", err)
	}
	return nil
}

func (r *RedisStore) JoinChannel(ctx context.Context, serverID, userID, channelID string) error {
	prev, err := r.client.HGet(ctx, userKey(userID), "channelId").Result()
	if err == redis.Nil {
		return ErrNotPresent
	}
	if err != nil {
		return fmt.Errorf("presence join channel: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != "" && prev != channelID {
			pipe.SRem(ctx, channelKey(prev), userID)
		}
		pipe.SAdd(ctx, channelKey(channelID), userID)
		pipe.Expire(ctx, channelKey(channelID), keyTTL)
		pipe.HSet(ctx, userKey(userID), "channelId", channelID)
		pipe.Expire(ctx, userKey(userID), keyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence join channel: %w", err)
	}
	return nil
}

func (r *RedisStore) LeaveChannel(ctx context.Context, serverID, userID string) error {
	prev, err := r.client.HGet(ctx, userKey(userID), "channelId").Result()
	if err == redis.Nil {
		return ErrNotPresent
	}
	if err != nil {
		return fmt.Errorf("presence leave channel: %w", err)
	}
	if prev == "" {
		return nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, channelKey(prev), userID)
		pipe.HSet(ctx, userKey(userID), "channelId", "")
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence leave channel: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, userID string) (*Entry, error) {
	fields, err := r.client.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence get: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotPresent
	}
	return &Entry{
		UserID:    fields["userId"],
		Nickname:  fields["nickname"],
		ServerID:  fields["serverId"],
		ChannelID: fields["channelId"],
	}, nil
}

func (r *RedisStore) ListServer(ctx context.Context, serverID string) ([]Entry, error) {
	ids, err := r.client.SMembers(ctx, serverKey(serverID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list server: %w", err)
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, err := r.Get(ctx, id)
		if err == ErrNotPresent {
			// Hash expired ahead of the set entry; skip the ghost.
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

func (r *RedisStore) ListChannel(ctx context.Context, channelID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, channelKey(channelID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list channel: %w", err)
	}
	return ids, nil
}

func (r *RedisStore) CountServer(ctx context.Context, serverID string) (int, error) {
	n, err := r.client.SCard(ctx, serverKey(serverID)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence count server: %w", err)
	}
	return int(n), nil
}

func (r *RedisStore) CountChannel(ctx context.Context, channelID string) (int, error) {
	n, err := r.client.SCard(ctx, channelKey(channelID)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence count channel: %w", err)
	}
	return int(n), nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
