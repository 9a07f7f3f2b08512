// Package ratelimit guards the WebSocket upgrade endpoint. Limits are keyed
// by client IP and stored in Redis when available so they hold across
// instances, falling back to process-local memory otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/logging"
	"github.com/reson8/reson8/server/go/internal/v1/metrics"
)

type Limiter struct {
	wsIP *limiter.Limiter
}

// New builds the connection limiter. rate uses the limiter format, e.g.
// "20-M" for twenty connections per IP per minute.
func New(rate string, redisClient *redis.Client) (*Limiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid ws ip rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("creating redis limiter store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store")
	}

	return &Limiter{wsIP: limiter.New(store, wsIPRate)}, nil
}

// AllowWebSocket reports whether a new connection from this client may
// proceed, writing the 429 response itself when not. Store failures fail
// open; availability beats strictness here.
func (l *Limiter) AllowWebSocket(c *gin.Context) bool {
	if l == nil {
		return true
	}

	ctx := c.Request.Context()
	ip := c.ClientIP()

	res, err := l.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true
	}

	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(res.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this IP"})
		return false
	}
	return true
}
