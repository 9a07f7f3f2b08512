package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Host         string
	Port         string
	DatabasePath string

	// Presence / pub-sub store. Optional: when REDIS_ADDR is empty the
	// server runs with the in-process presence store and no cross-instance
	// fan-out.
	RedisAddr     string
	RedisPassword string

	// SFU media settings
	RTCAnnouncedIP string
	RTCPortMin     uint16
	RTCPortMax     uint16

	// Optional TURN relay credentials returned to clients during the
	// transport handshake.
	TURNURL        string
	TURNUsername   string
	TURNCredential string

	// AdminInstanceID: a client connecting with this installation id is
	// auto-assigned the admin role on join.
	AdminInstanceID string

	// SeedTemplate seeds default channels and roles on startup (opt-in).
	SeedTemplate bool

	// Optional variables with defaults
	DevelopmentMode bool
	LogLevel        string
	AllowedOrigins  string
	RateLimitWsIP   string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Optional: HOST (defaults to all interfaces)
	cfg.Host = os.Getenv("HOST")

	// Required: DATABASE_PATH (sqlite file path or DSN)
	cfg.DatabasePath = os.Getenv("DATABASE_PATH")
	if cfg.DatabasePath == "" {
		errs = append(errs, "DATABASE_PATH is required")
	}

	// Optional: REDIS_ADDR (host:port)
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr != "" && !isValidHostPort(cfg.RedisAddr) {
		errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Optional: RTC_ANNOUNCED_IP, the public IP advertised in ICE candidates
	cfg.RTCAnnouncedIP = os.Getenv("RTC_ANNOUNCED_IP")

	// Optional: RTC_PORT_MIN / RTC_PORT_MAX, the UDP port window for media
	cfg.RTCPortMin = parsePortOrDefault("RTC_PORT_MIN", 40000, &errs)
	cfg.RTCPortMax = parsePortOrDefault("RTC_PORT_MAX", 49999, &errs)
	if cfg.RTCPortMin > cfg.RTCPortMax {
		errs = append(errs, fmt.Sprintf("RTC_PORT_MIN (%d) must not exceed RTC_PORT_MAX (%d)", cfg.RTCPortMin, cfg.RTCPortMax))
	}

	cfg.TURNURL = os.Getenv("TURN_URL")
	cfg.TURNUsername = os.Getenv("TURN_USERNAME")
	cfg.TURNCredential = os.Getenv("TURN_CREDENTIAL")
	if cfg.TURNURL != "" && (cfg.TURNUsername == "" || cfg.TURNCredential == "") {
		errs = append(errs, "TURN_USERNAME and TURN_CREDENTIAL are required when TURN_URL is set")
	}

	cfg.AdminInstanceID = os.Getenv("ADMIN_INSTANCE_ID")
	cfg.SeedTemplate = os.Getenv("SEED_TEMPLATE") == "true"

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

func parsePortOrDefault(key string, def uint16, errs *[]string) uint16 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s must be a valid port number between 1 and 65535 (got '%s')", key, raw))
		return def
	}
	return uint16(port)
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated")
	slog.Info("Configuration",
		"host", cfg.Host,
		"port", cfg.Port,
		"database_path", cfg.DatabasePath,
		"redis_addr", cfg.RedisAddr,
		"rtc_announced_ip", cfg.RTCAnnouncedIP,
		"rtc_port_min", cfg.RTCPortMin,
		"rtc_port_max", cfg.RTCPortMax,
		"turn_url", cfg.TURNURL,
		"turn_credential", redactSecret(cfg.TURNCredential),
		"admin_instance_id", redactSecret(cfg.AdminInstanceID),
		"seed_template", cfg.SeedTemplate,
		"development_mode", cfg.DevelopmentMode,
		"log_level", cfg.LogLevel,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 4 characters
func redactSecret(secret string) string {
	if len(secret) <= 4 {
		if secret == "" {
			return ""
		}
		return "***"
	}
	return secret[:4] + "***"
}
