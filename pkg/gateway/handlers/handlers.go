// Package handlers implements the HTTP surface of the gateway.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/havenline/havenline/pkg/avatar"
	"github.com/havenline/havenline/pkg/gateway/config"
	"github.com/havenline/havenline/pkg/gateway/lifecycle"
	"github.com/havenline/havenline/pkg/gateway/ratelimit"
	"github.com/havenline/havenline/pkg/gateway/sessionpool"
	"github.com/havenline/havenline/pkg/intake"
	"github.com/havenline/havenline/pkg/llm"
	"github.com/havenline/havenline/pkg/store"
)

// AvatarAPI is the slice of the vendor client the handlers call directly.
// Create/start/close go through the session pool instead.
type AvatarAPI interface {
	SendText(ctx context.Context, sessionID, text string, task avatar.TaskType) error
	ListSessions(ctx context.Context) ([]avatar.ActiveSession, error)
	Quota(ctx context.Context) (*avatar.Quota, error)
}

// Deps is the shared dependency set handed to every handler.
type Deps struct {
	Config    config.Config
	Pool      *sessionpool.Pool
	Avatar    AvatarAPI
	Intake    *intake.Agent
	LLM       llm.Generator
	Store     store.Store
	Logger    *slog.Logger
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func sessionIDFrom(r *http.Request) string {
	return r.PathValue("id")
}
