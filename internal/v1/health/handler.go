// Package health exposes the liveness and readiness probes. Liveness only
// proves the process is running; readiness pings the durable store and, when
// configured, the Redis bus.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/logging"
)

// Pinger is anything with a connectivity check. Both the sqlite store and the
// Redis bus satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler manages the health check endpoints.
type Handler struct {
	store   Pinger
	bus     Pinger
	started time.Time
}

// NewHandler creates a health check handler. bus may be nil when the server
// runs single-instance without Redis.
func NewHandler(store, bus Pinger) *Handler {
	return &Handler{
		store:   store,
		bus:     bus,
		started: time.Now(),
	}
}

// LivenessResponse is the liveness probe body.
type LivenessResponse struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime"`
}

// ReadinessResponse is the readiness probe body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /healthz (also mounted at /health/live). Returns 200
// whenever the process is up; no dependencies are consulted.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status: "ok",
		Uptime: int64(time.Since(h.started).Seconds()),
	})
}

// Readiness handles GET /health/ready. Returns 200 only when every critical
// dependency answers; otherwise 503 with per-check detail.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"database": h.check(ctx, "database", h.store),
		"redis":    h.check(ctx, "redis", h.bus),
	}

	status := "ready"
	statusCode := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// check pings one dependency. A nil dependency is not configured and counts
// as healthy.
func (h *Handler) check(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return "healthy"
	}
	if err := p.Ping(ctx); err != nil {
		logging.Error(ctx, "health check failed", zap.String("dependency", name), zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
