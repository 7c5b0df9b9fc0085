package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	MaxBodyBytes int64

	// Session pool knobs. MaxConcurrentSessions mirrors the avatar vendor's
	// concurrency quota (commonly 1 on constrained plans).
	MaxConcurrentSessions int
	SessionTimeout        time.Duration
	SweepInterval         time.Duration

	// Avatar vendor.
	AvatarBaseURL         string
	AvatarAPIKey          string
	AvatarDefaultAvatarID string
	AvatarQuality         string

	// Hosted LLM.
	LLMAPIKey string
	LLMModel  string

	// Empty => in-memory conversation store.
	DatabaseURL string

	// How many prior messages are replayed to the LLM per turn.
	HistoryLimit int

	// SSE (chat streaming).
	SSEPingInterval      time.Duration
	SSEMaxStreamDuration time.Duration

	// Live WebSocket chat channel.
	LiveMaxMessageBytes         int64
	LiveWSPingInterval          time.Duration
	LiveWSWriteTimeout          time.Duration
	LiveMaxSessionsPerPrincipal int

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream HTTP client defaults
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("HAVEN_ADDR", ":8080"),
		AuthMode:                      AuthMode(envOr("HAVEN_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                       make(map[string]struct{}),
		CORSAllowedOrigins:            make(map[string]struct{}),
		MaxBodyBytes:                  envInt64Or("HAVEN_MAX_BODY_BYTES", 1<<20), // 1 MiB
		MaxConcurrentSessions:         envIntOr("HAVEN_MAX_CONCURRENT_SESSIONS", 1),
		SessionTimeout:                envDurationOr("HAVEN_SESSION_TIMEOUT", 10*time.Minute),
		SweepInterval:                 envDurationOr("HAVEN_SWEEP_INTERVAL", 5*time.Minute),
		AvatarBaseURL:                 envOr("HAVEN_AVATAR_BASE_URL", "https://api.heygen.com"),
		AvatarAPIKey:                  strings.TrimSpace(os.Getenv("HAVEN_AVATAR_API_KEY")),
		AvatarDefaultAvatarID:         strings.TrimSpace(os.Getenv("HAVEN_AVATAR_DEFAULT_AVATAR_ID")),
		AvatarQuality:                 envOr("HAVEN_AVATAR_QUALITY", "medium"),
		LLMAPIKey:                     strings.TrimSpace(os.Getenv("HAVEN_LLM_API_KEY")),
		LLMModel:                      envOr("HAVEN_LLM_MODEL", "gemini-2.0-flash"),
		DatabaseURL:                   strings.TrimSpace(os.Getenv("HAVEN_DATABASE_URL")),
		HistoryLimit:                  envIntOr("HAVEN_HISTORY_LIMIT", 40),
		SSEPingInterval:               envDurationOr("HAVEN_SSE_PING_INTERVAL", 15*time.Second),
		SSEMaxStreamDuration:          envDurationOr("HAVEN_SSE_MAX_DURATION", 2*time.Minute),
		LiveMaxMessageBytes:           envInt64Or("HAVEN_LIVE_MAX_MESSAGE_BYTES", 64*1024),
		LiveWSPingInterval:            envDurationOr("HAVEN_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:            envDurationOr("HAVEN_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveMaxSessionsPerPrincipal:   envIntOr("HAVEN_LIVE_MAX_SESSIONS_PER_PRINCIPAL", 2),
		LimitRPS:                      envFloat64Or("HAVEN_RATE_LIMIT_RPS", 2.0),
		LimitBurst:                    envIntOr("HAVEN_RATE_LIMIT_BURST", 4),
		LimitMaxConcurrentRequests:    envIntOr("HAVEN_MAX_CONCURRENT_REQUESTS", 20),
		ReadHeaderTimeout:             envDurationOr("HAVEN_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("HAVEN_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:                envDurationOr("HAVEN_TOTAL_REQUEST_TIMEOUT", time.Minute),
		ShutdownGracePeriod:           envDurationOr("HAVEN_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamConnectTimeout:        envDurationOr("HAVEN_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("HAVEN_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("HAVEN_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("HAVEN_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("HAVEN_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("HAVEN_API_KEYS must be set when HAVEN_AUTH_MODE=required")
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("HAVEN_MAX_BODY_BYTES must be > 0")
	}
	if cfg.MaxConcurrentSessions <= 0 {
		return Config{}, fmt.Errorf("HAVEN_MAX_CONCURRENT_SESSIONS must be > 0")
	}
	if cfg.SessionTimeout <= 0 {
		return Config{}, fmt.Errorf("HAVEN_SESSION_TIMEOUT must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("HAVEN_SWEEP_INTERVAL must be > 0")
	}

	if strings.TrimSpace(cfg.AvatarBaseURL) == "" {
		return Config{}, fmt.Errorf("HAVEN_AVATAR_BASE_URL must not be empty")
	}
	if cfg.AvatarAPIKey == "" {
		return Config{}, fmt.Errorf("HAVEN_AVATAR_API_KEY must be set")
	}
	if cfg.LLMAPIKey == "" {
		return Config{}, fmt.Errorf("HAVEN_LLM_API_KEY must be set")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("HAVEN_HISTORY_LIMIT must be > 0")
	}

	if cfg.SSEPingInterval <= 0 {
		return Config{}, fmt.Errorf("HAVEN_SSE_PING_INTERVAL must be > 0")
	}
	if cfg.SSEMaxStreamDuration <= 0 {
		return Config{}, fmt.Errorf("HAVEN_SSE_MAX_DURATION must be > 0")
	}
	if cfg.LiveMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("HAVEN_LIVE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("HAVEN_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("HAVEN_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveMaxSessionsPerPrincipal <= 0 {
		return Config{}, fmt.Errorf("HAVEN_LIVE_MAX_SESSIONS_PER_PRINCIPAL must be > 0")
	}

	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("HAVEN_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("HAVEN_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("HAVEN_MAX_CONCURRENT_REQUESTS must be >= 0")
	}

	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("HAVEN_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("HAVEN_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("HAVEN_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("HAVEN_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("HAVEN_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("HAVEN_RESPONSE_HEADER_TIMEOUT must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
