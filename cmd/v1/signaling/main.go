package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/admin"
	"github.com/reson8/reson8/server/go/internal/v1/bus"
	"github.com/reson8/reson8/server/go/internal/v1/channels"
	"github.com/reson8/reson8/server/go/internal/v1/config"
	"github.com/reson8/reson8/server/go/internal/v1/gateway"
	"github.com/reson8/reson8/server/go/internal/v1/health"
	"github.com/reson8/reson8/server/go/internal/v1/logging"
	"github.com/reson8/reson8/server/go/internal/v1/messages"
	"github.com/reson8/reson8/server/go/internal/v1/presence"
	"github.com/reson8/reson8/server/go/internal/v1/ratelimit"
	"github.com/reson8/reson8/server/go/internal/v1/rooms"
	"github.com/reson8/reson8/server/go/internal/v1/sfu"
	"github.com/reson8/reson8/server/go/internal/v1/store"
)

func main() {
	// Load .env for local development. Paths cover running from the repo
	// root and from the package directory.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	if cfg.DevelopmentMode {
		logging.Info(ctx, "running in DEVELOPMENT MODE")
	}

	// --- Durable store ---
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logging.Fatal(ctx, "failed to open database", zap.Error(err), zap.String("path", cfg.DatabasePath))
	}
	if cfg.SeedTemplate {
		srv, err := st.Seed(ctx, store.SeedOptions{Template: "default"})
		if err != nil {
			logging.Fatal(ctx, "failed to seed database", zap.Error(err))
		}
		logging.Info(ctx, "database seeded", zap.String("server_id", srv.ID))
	}

	// --- Presence and cross-instance bus (optional Redis) ---
	instanceID := uuid.NewString()

	var pres presence.Store
	var busService *bus.Service
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pres = presence.NewRedisStore(redisClient)

		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword, instanceID)
		if err != nil {
			logging.Warn(ctx, "redis bus unavailable, running single-instance", zap.Error(err))
			busService = nil
		} else {
			logging.Info(ctx, "redis pub/sub initialized", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		pres = presence.NewMemoryStore()
		logging.Info(ctx, "running single-instance with in-memory presence")
	}

	broker := rooms.NewBroker(busService)
	busCtx, stopBus := context.WithCancel(ctx)
	var busWg sync.WaitGroup
	broker.BindBus(busCtx, &busWg)

	// --- Media ---
	var iceServers []webrtc.ICEServer
	if cfg.TURNURL != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:           []string{cfg.TURNURL},
			Username:       cfg.TURNUsername,
			Credential:     cfg.TURNCredential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	engine := sfu.NewPionEngine(sfu.PionOptions{
		PortMin:     cfg.RTCPortMin,
		PortMax:     cfg.RTCPortMax,
		AnnouncedIP: cfg.RTCAnnouncedIP,
		ICEServers:  iceServers,
	})
	coordinator, err := sfu.NewCoordinator(engine, runtime.NumCPU(), func(err error) {
		logging.Fatal(ctx, "media worker died", zap.Error(err))
	})
	if err != nil {
		logging.Fatal(ctx, "failed to start media coordinator", zap.Error(err))
	}

	// --- Gateway ---
	limiter, err := ratelimit.New(cfg.RateLimitWsIP, redisClient)
	if err != nil {
		logging.Fatal(ctx, "invalid rate limit configuration", zap.Error(err))
	}

	allowedOrigins := splitOrigins(cfg.AllowedOrigins)
	hub := gateway.NewHub(gateway.Deps{
		Store:          st,
		Presence:       pres,
		Broker:         broker,
		Channels:       channels.NewService(st, pres, broker),
		Messages:       messages.NewService(st, broker),
		Admin:          admin.NewService(st, pres, cfg.AdminInstanceID),
		Voice:          coordinator,
		Limiter:        limiter,
		AllowedOrigins: allowedOrigins,
	})

	// --- HTTP server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) == 0 || allowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}
	router.Use(cors.New(corsConfig))

	router.GET("/ws", hub.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var busPinger health.Pinger
	if busService != nil {
		busPinger = busService
	}
	healthHandler := health.NewHandler(st, busPinger)
	router.GET("/healthz", healthHandler.Liveness)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "signaling server starting",
			zap.String("addr", srv.Addr), zap.String("instance_id", instanceID))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server failed", zap.Error(err))
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Teardown order matters: stop accepting upgrades, disconnect sessions
	// (which releases presence and media), then the media stack, then the
	// backends.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "http server forced to shut down", zap.Error(err))
	}
	hub.Shutdown(shutdownCtx)
	coordinator.Close()

	stopBus()
	if busService != nil {
		if err := busService.Close(); err != nil {
			logging.Error(ctx, "failed to close redis bus", zap.Error(err))
		}
		busWg.Wait()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logging.Error(ctx, "failed to close redis client", zap.Error(err))
		}
	}
	if err := st.Close(); err != nil {
		logging.Error(ctx, "failed to close database", zap.Error(err))
	}

	logging.Info(ctx, "server exiting")
}

// splitOrigins turns the comma-separated ALLOWED_ORIGINS value into a list.
// Empty input means same-machine development and allows everything.
func splitOrigins(raw string) []string {
	if raw == "" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
