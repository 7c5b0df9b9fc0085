// Package server assembles the gateway: config, collaborators, routes, and
// the middleware chain.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/havenline/havenline/pkg/avatar"
	"github.com/havenline/havenline/pkg/gateway/config"
	"github.com/havenline/havenline/pkg/gateway/handlers"
	"github.com/havenline/havenline/pkg/gateway/lifecycle"
	"github.com/havenline/havenline/pkg/gateway/mw"
	"github.com/havenline/havenline/pkg/gateway/ratelimit"
	"github.com/havenline/havenline/pkg/gateway/sessionpool"
	"github.com/havenline/havenline/pkg/intake"
	"github.com/havenline/havenline/pkg/llm"
	"github.com/havenline/havenline/pkg/store"
	"github.com/havenline/havenline/pkg/store/memory"
	"github.com/havenline/havenline/pkg/store/postgres"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	pool      *sessionpool.Pool
	avatar    *avatar.Client
	intake    *intake.Agent
	generator llm.Generator
	store     store.Store
	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle

	sweepCancel context.CancelFunc
}

// New wires every collaborator from config. The context bounds connection
// setup (database, LLM client), not the server's lifetime.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: cfg.UpstreamConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		},
	}

	avatarClient := avatar.NewClient(cfg.AvatarAPIKey, httpClient).WithBaseURL(cfg.AvatarBaseURL)

	generator, err := llm.NewGemini(ctx, cfg.LLMAPIKey, cfg.LLMModel)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		st = pg
	} else {
		logger.Info("no database configured, using in-memory message store")
		st = memory.New()
	}

	pool := sessionpool.New(sessionpool.Config{
		MaxConcurrentSessions: cfg.MaxConcurrentSessions,
		SessionTimeout:        cfg.SessionTimeout,
		SweepInterval:         cfg.SweepInterval,
	}, avatarClient, logger)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		pool:      pool,
		avatar:    avatarClient,
		intake:    intake.NewAgent(),
		generator: generator,
		store:     st,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                       cfg.LimitRPS,
			Burst:                     cfg.LimitBurst,
			MaxConcurrentRequests:     cfg.LimitMaxConcurrentRequests,
			MaxConcurrentLiveSessions: cfg.LiveMaxSessionsPerPrincipal,
		}),
		lifecycle: &lifecycle.Lifecycle{},
	}

	s.routes()
	return s, nil
}

func (s *Server) deps() handlers.Deps {
	return handlers.Deps{
		Config:    s.cfg,
		Pool:      s.pool,
		Avatar:    s.avatar,
		Intake:    s.intake,
		LLM:       s.generator,
		Store:     s.store,
		Logger:    s.logger,
		Limiter:   s.limiter,
		Lifecycle: s.lifecycle,
	}
}

func (s *Server) routes() {
	d := s.deps()

	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg, Pool: s.pool, Lifecycle: s.lifecycle})

	s.mux.Handle("POST /v1/sessions", handlers.SessionCreateHandler{Deps: d})
	s.mux.Handle("GET /v1/sessions", handlers.SessionListHandler{Deps: d})
	s.mux.Handle("POST /v1/sessions/{id}/start", handlers.SessionStartHandler{Deps: d})
	s.mux.Handle("POST /v1/sessions/{id}/speak", handlers.SessionSpeakHandler{Deps: d})
	s.mux.Handle("POST /v1/sessions/{id}/chat", handlers.ChatHandler{Deps: d})
	s.mux.Handle("DELETE /v1/sessions/{id}", handlers.SessionCloseHandler{Deps: d})
	s.mux.Handle("GET /v1/sessions/{id}/summary", handlers.SessionSummaryHandler{Deps: d})

	s.mux.Handle("GET /v1/avatar/quota", handlers.QuotaHandler{Deps: d})
	s.mux.Handle("GET /v1/live/{id}", handlers.LiveHandler{Deps: d})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// StartSweeper launches the idle-session sweep in the background.
func (s *Server) StartSweeper() {
	ctx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	go s.pool.Run(ctx)
}

// SetDraining flips readiness so load balancers stop routing new sessions.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// Shutdown closes every tracked avatar session and releases the store. It is
// called after the HTTP server has stopped accepting requests.
func (s *Server) Shutdown(ctx context.Context) {
	if s.sweepCancel != nil {
		s.sweepCancel()
	}
	for _, info := range s.pool.Snapshot() {
		s.pool.Close(ctx, info.SessionID)
	}
	s.store.Close()
}
