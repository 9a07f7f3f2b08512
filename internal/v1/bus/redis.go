// Package bus bridges room broadcasts between instances over Redis Pub/Sub.
// A single instance without Redis runs with a nil Service; every method is a
// no-op in that mode.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/logging"
	"github.com/reson8/reson8/server/go/internal/v1/metrics"
)

const channelPattern = "reson8:room:*"

// Payload is the container moving room events between instances.
type Payload struct {
	Room   string          `json:"room"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin"` // publishing instance, used to suppress echo
}

// Service handles all interaction with Redis Pub/Sub. Publishes run behind a
// circuit breaker so a dead Redis degrades to local-only fan-out instead of
// stalling every broadcast.
type Service struct {
	client     *redis.Client
	cb         *gobreaker.CircuitBreaker
	instanceID string
}

// NewService connects to Redis and verifies the connection immediately.
func NewService(addr, password, instanceID string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(ctx, "connected to redis pub/sub", zap.String("addr", addr))
	return &Service{
		client:     rdb,
		cb:         gobreaker.NewCircuitBreaker(st),
		instanceID: instanceID,
	}, nil
}

// Client returns the underlying Redis client for reuse by other backends.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Publish broadcasts a room event to every other instance.
func (s *Service) Publish(ctx context.Context, room, event string, data json.RawMessage) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		msg := Payload{Room: room, Event: event, Data: data, Origin: s.instanceID}
		raw, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshaling bus payload: %w", err)
		}
		return nil, s.client.Publish(ctx, "reson8:room:"+room, raw).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "redis circuit breaker open, dropping publish", zap.String("room", room))
			return nil
		}
		logging.Error(ctx, "redis publish failed", zap.String("room", room), zap.Error(err))
		return err
	}
	return nil
}

// Subscribe starts a background listener over every room channel and invokes
// handler for each payload published by another instance. Payloads this
// instance published are dropped to avoid echo loops.
func (s *Service) Subscribe(ctx context.Context, wg *sync.WaitGroup, handler func(Payload)) {
	if s == nil || s.client == nil {
		return
	}

	pubsub := s.client.PSubscribe(ctx, channelPattern)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		logging.Info(ctx, "subscribed to redis room channels", zap.String("pattern", channelPattern))
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logging.Warn(ctx, "redis subscription channel closed")
					return
				}

				var payload Payload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					logging.Error(ctx, "failed to unmarshal bus payload", zap.Error(err))
					continue
				}
				if payload.Origin == s.instanceID {
					continue
				}
				handler(payload)
			}
		}
	}()
}

// Ping checks Redis connectivity for readiness probes.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return err
}

// Close shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
