package handlers

import (
	"net/http"

	"github.com/havenline/havenline/pkg/gateway/config"
	"github.com/havenline/havenline/pkg/gateway/lifecycle"
	"github.com/havenline/havenline/pkg/gateway/sessionpool"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Pool      *sessionpool.Pool
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		AuthMode       string   `json:"auth_mode"`
		ActiveSessions int      `json:"active_sessions"`
		SessionCap     int      `json:"session_cap"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.MaxConcurrentSessions <= 0 {
		issues = append(issues, "max_concurrent_sessions must be > 0")
	}
	if h.Config.SessionTimeout <= 0 || h.Config.SweepInterval <= 0 {
		issues = append(issues, "session timeout and sweep interval must be > 0")
	}
	if h.Config.AvatarAPIKey == "" {
		issues = append(issues, "avatar api key is not configured")
	}
	if h.Config.LLMAPIKey == "" {
		issues = append(issues, "llm api key is not configured")
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	active := 0
	if h.Pool != nil {
		active = h.Pool.ActiveCount()
	}

	writeJSON(w, status, readyResp{
		OK:             ok,
		Draining:       draining,
		AuthMode:       string(h.Config.AuthMode),
		ActiveSessions: active,
		SessionCap:     h.Config.MaxConcurrentSessions,
		Issues:         issues,
	})
}
