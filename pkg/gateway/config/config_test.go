package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"HAVEN_ADDR",
	"HAVEN_AUTH_MODE",
	"HAVEN_API_KEYS",
	"HAVEN_CORS_ORIGINS",
	"HAVEN_MAX_BODY_BYTES",
	"HAVEN_MAX_CONCURRENT_SESSIONS",
	"HAVEN_SESSION_TIMEOUT",
	"HAVEN_SWEEP_INTERVAL",
	"HAVEN_AVATAR_BASE_URL",
	"HAVEN_AVATAR_API_KEY",
	"HAVEN_AVATAR_DEFAULT_AVATAR_ID",
	"HAVEN_AVATAR_QUALITY",
	"HAVEN_LLM_API_KEY",
	"HAVEN_LLM_MODEL",
	"HAVEN_DATABASE_URL",
	"HAVEN_HISTORY_LIMIT",
	"HAVEN_SSE_PING_INTERVAL",
	"HAVEN_SSE_MAX_DURATION",
	"HAVEN_LIVE_MAX_MESSAGE_BYTES",
	"HAVEN_LIVE_WS_PING_INTERVAL",
	"HAVEN_LIVE_WS_WRITE_TIMEOUT",
	"HAVEN_LIVE_MAX_SESSIONS_PER_PRINCIPAL",
	"HAVEN_RATE_LIMIT_RPS",
	"HAVEN_RATE_LIMIT_BURST",
	"HAVEN_MAX_CONCURRENT_REQUESTS",
	"HAVEN_READ_HEADER_TIMEOUT",
	"HAVEN_READ_TIMEOUT",
	"HAVEN_TOTAL_REQUEST_TIMEOUT",
	"HAVEN_SHUTDOWN_GRACE_PERIOD",
	"HAVEN_CONNECT_TIMEOUT",
	"HAVEN_RESPONSE_HEADER_TIMEOUT",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

// setRequired fills the keys LoadFromEnv refuses to default.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("HAVEN_API_KEYS", "k1")
	t.Setenv("HAVEN_AVATAR_API_KEY", "avatar-key")
	t.Setenv("HAVEN_LLM_API_KEY", "llm-key")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)
	setRequired(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Errorf("AuthMode = %q", cfg.AuthMode)
	}
	if cfg.MaxConcurrentSessions != 1 {
		t.Errorf("MaxConcurrentSessions = %d, want 1", cfg.MaxConcurrentSessions)
	}
	if cfg.SessionTimeout != 10*time.Minute {
		t.Errorf("SessionTimeout = %v, want 10m", cfg.SessionTimeout)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Errorf("SweepInterval = %v, want 5m", cfg.SweepInterval)
	}
	if cfg.LLMModel != "gemini-2.0-flash" {
		t.Errorf("LLMModel = %q", cfg.LLMModel)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
}

func TestLoadFromEnv_RequiredAuthNeedsKeys(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("HAVEN_AVATAR_API_KEY", "avatar-key")
	t.Setenv("HAVEN_LLM_API_KEY", "llm-key")

	_, err := LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "HAVEN_API_KEYS") {
		t.Fatalf("err = %v, want HAVEN_API_KEYS error", err)
	}
}

func TestLoadFromEnv_MissingAvatarKey(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("HAVEN_API_KEYS", "k1")
	t.Setenv("HAVEN_LLM_API_KEY", "llm-key")

	_, err := LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "HAVEN_AVATAR_API_KEY") {
		t.Fatalf("err = %v, want HAVEN_AVATAR_API_KEY error", err)
	}
}

func TestLoadFromEnv_InvalidAuthMode(t *testing.T) {
	clearGatewayEnv(t)
	setRequired(t)
	t.Setenv("HAVEN_AUTH_MODE", "sometimes")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("want error for invalid auth mode")
	}
}

func TestLoadFromEnv_ParsesCSVAndOverrides(t *testing.T) {
	clearGatewayEnv(t)
	setRequired(t)
	t.Setenv("HAVEN_API_KEYS", "k1, k2 ,,k3")
	t.Setenv("HAVEN_CORS_ORIGINS", "https://app.example.com")
	t.Setenv("HAVEN_MAX_CONCURRENT_SESSIONS", "3")
	t.Setenv("HAVEN_SESSION_TIMEOUT", "90s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if len(cfg.APIKeys) != 3 {
		t.Errorf("APIKeys = %v", cfg.APIKeys)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://app.example.com"]; !ok {
		t.Errorf("CORS origins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.MaxConcurrentSessions != 3 {
		t.Errorf("MaxConcurrentSessions = %d", cfg.MaxConcurrentSessions)
	}
	if cfg.SessionTimeout != 90*time.Second {
		t.Errorf("SessionTimeout = %v", cfg.SessionTimeout)
	}
}

func TestLoadFromEnv_RejectsNonPositiveSessionKnobs(t *testing.T) {
	cases := map[string]string{
		"HAVEN_MAX_CONCURRENT_SESSIONS": "-1",
		"HAVEN_SESSION_TIMEOUT":         "-1s",
		"HAVEN_SWEEP_INTERVAL":          "0s",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			clearGatewayEnv(t)
			setRequired(t)
			t.Setenv(key, val)
			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("want error for %s=%s", key, val)
			}
		})
	}
}
