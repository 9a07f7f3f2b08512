package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/admin"
	"github.com/reson8/reson8/server/go/internal/v1/channels"
	"github.com/reson8/reson8/server/go/internal/v1/logging"
	"github.com/reson8/reson8/server/go/internal/v1/messages"
	"github.com/reson8/reson8/server/go/internal/v1/metrics"
	"github.com/reson8/reson8/server/go/internal/v1/presence"
	"github.com/reson8/reson8/server/go/internal/v1/ratelimit"
	"github.com/reson8/reson8/server/go/internal/v1/rooms"
	"github.com/reson8/reson8/server/go/internal/v1/sfu"
	"github.com/reson8/reson8/server/go/internal/v1/store"
)

// Deps collects everything the hub needs. All fields are required except
// Limiter, which may be nil to disable connection limiting.
type Deps struct {
	Store    *store.Store
	Presence presence.Store
	Broker   *rooms.Broker
	Channels *channels.Service
	Messages *messages.Service
	Admin    *admin.Service
	Voice    *sfu.Coordinator
	Limiter  *ratelimit.Limiter

	AllowedOrigins []string
}

// Hub is the registry of live sessions and the entry point for new
// connections.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*Session

	deps     Deps
	handlers map[string]handler
	upgrader websocket.Upgrader
}

func NewHub(deps Deps) *Hub {
	h := &Hub{
		sessions: make(map[string]*Session),
		deps:     deps,
	}
	h.handlers = h.buildDispatchTable()
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(deps.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	allowedSet := make(map[string]bool, len(allowed))
	wildcard := false
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		allowedSet[o] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin
			return true
		}
		return wildcard || allowedSet[origin]
	}
}

// ServeWs upgrades an HTTP request to a session and starts its pumps.
func (h *Hub) ServeWs(c *gin.Context) {
	if !h.deps.Limiter.AllowWebSocket(c) {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	s := &Session{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	metrics.IncSession()

	logging.Info(s.logContext(c.Request.Context()), "session connected",
		zap.String("remote", c.ClientIP()))

	go s.writePump()
	go s.readPump()
}

// handleDisconnect runs the full teardown for a session whose read pump
// ended, in dependency order: media first, then presence, then broadcasts,
// then room membership.
func (h *Hub) handleDisconnect(s *Session) {
	ctx := s.logContext(context.Background())
	h.leaveServer(ctx, s)

	h.mu.Lock()
	if _, ok := h.sessions[s.id]; ok {
		delete(h.sessions, s.id)
		metrics.DecSession()
	}
	h.mu.Unlock()

	s.disconnect()
	logging.Info(ctx, "session disconnected")
}

// Shutdown disconnects every session. The caller stops accepting upgrades
// before invoking this.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	open := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()

	for _, s := range open {
		h.handleDisconnect(s)
	}
	logging.Info(ctx, "gateway shut down", zap.Int("sessions_closed", len(open)))
}

// SessionCount reports the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
