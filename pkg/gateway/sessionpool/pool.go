// Package sessionpool tracks the gateway's live avatar sessions and enforces
// the vendor's concurrent-session quota. At capacity it frees room by
// closing the least-recently-active session rather than rejecting the new
// request; idle sessions are reaped by a periodic sweep.
package sessionpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/havenline/havenline/pkg/avatar"
)

// ErrNotTracked reports a session id the pool has no local record for. It is
// distinct from a vendor error: it means the local bookkeeping and the
// caller's view disagree.
var ErrNotTracked = errors.New("session is not tracked")

// Gateway is the slice of the avatar vendor client the pool needs.
type Gateway interface {
	CreateSession(ctx context.Context, req avatar.CreateSessionRequest) (*avatar.Session, error)
	StartSession(ctx context.Context, sessionID string) error
	CloseSession(ctx context.Context, sessionID string) error
}

type Config struct {
	// MaxConcurrentSessions mirrors the vendor's hard concurrency quota.
	MaxConcurrentSessions int
	// SessionTimeout is the idle threshold after which the sweep closes a
	// session.
	SessionTimeout time.Duration
	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration
}

type tracked struct {
	createdAt      time.Time
	lastActivityAt time.Time
}

// SessionInfo is a read-only view of one tracked entry.
type SessionInfo struct {
	SessionID      string    `json:"session_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Pool owns the session map. All bookkeeping is mutex-guarded; the
// check-capacity → evict → insert sequence in Create holds the lock across
// the vendor calls so concurrent creates cannot overshoot the cap.
type Pool struct {
	cfg    Config
	gw     Gateway
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*tracked
}

func New(cfg Config, gw Gateway, logger *slog.Logger) *Pool {
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = 1
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:      cfg,
		gw:       gw,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*tracked),
	}
}

// Create asks the vendor for a new session and tracks it. When the pool is
// at capacity it first evicts the entry with the smallest LastActivityAt
// (vendor close is best-effort). A failed vendor create leaves the pool
// unchanged; the pool never retries.
func (p *Pool) Create(ctx context.Context, req avatar.CreateSessionRequest) (*avatar.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.sessions) >= p.cfg.MaxConcurrentSessions {
		if victim := p.oldestLocked(); victim != "" {
			p.logger.Info("evicting least-recently-active session to free capacity",
				"session_id", victim, "active", len(p.sessions))
			p.removeAndCloseLocked(ctx, victim)
		}
	}

	sess, err := p.gw.CreateSession(ctx, req)
	if err != nil {
		return nil, err
	}

	now := p.now()
	p.sessions[sess.SessionID] = &tracked{createdAt: now, lastActivityAt: now}
	return sess, nil
}

// Start delegates to the vendor's start call for a tracked session and
// touches its activity on success. Vendor failures propagate and leave the
// entry in place so the caller may retry or close.
func (p *Pool) Start(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	_, ok := p.sessions[sessionID]
	p.mu.Unlock()
	if !ok {
		return ErrNotTracked
	}

	if err := p.gw.StartSession(ctx, sessionID); err != nil {
		return err
	}
	p.Touch(sessionID)
	return nil
}

// Touch records activity for a session. Untracked ids are ignored: touches
// legitimately race with eviction and the sweep.
func (p *Pool) Touch(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tr, ok := p.sessions[sessionID]; ok {
		tr.lastActivityAt = p.now()
	}
}

// Close removes the tracked entry and then closes the vendor session.
// Removal always happens; vendor close errors are logged and swallowed so a
// failed remote call can never leak a local entry. Closing an untracked id
// is a no-op.
func (p *Pool) Close(ctx context.Context, sessionID string) {
	p.mu.Lock()
	_, ok := p.sessions[sessionID]
	delete(p.sessions, sessionID)
	p.mu.Unlock()
	if !ok {
		return
	}
	p.closeVendor(ctx, sessionID)
}

// ActiveCount returns the number of tracked sessions.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Tracked reports whether the pool has a record for the given id.
func (p *Pool) Tracked(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[sessionID]
	return ok
}

// Snapshot returns a copy of the tracked entries for diagnostics.
func (p *Pool) Snapshot() []SessionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SessionInfo, 0, len(p.sessions))
	for id, tr := range p.sessions {
		out = append(out, SessionInfo{
			SessionID:      id,
			CreatedAt:      tr.createdAt,
			LastActivityAt: tr.lastActivityAt,
		})
	}
	return out
}

// Run drives the idle sweep until ctx is cancelled. The server owns the
// goroutine; the pool owns the ticker.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep closes every session idle past SessionTimeout. Sequential and
// best-effort: one failing vendor close must not stop the rest.
func (p *Pool) sweep(ctx context.Context) {
	now := p.now()

	p.mu.Lock()
	var expired []string
	for id, tr := range p.sessions {
		if now.Sub(tr.lastActivityAt) > p.cfg.SessionTimeout {
			expired = append(expired, id)
		}
	}
	p.mu.Unlock()

	for _, id := range expired {
		p.logger.Info("closing idle session", "session_id", id)
		p.Close(ctx, id)
	}
}

// oldestLocked returns the id with the smallest lastActivityAt. Caller holds
// p.mu.
func (p *Pool) oldestLocked() string {
	var (
		oldestID string
		oldestAt time.Time
	)
	for id, tr := range p.sessions {
		if oldestID == "" || tr.lastActivityAt.Before(oldestAt) {
			oldestID = id
			oldestAt = tr.lastActivityAt
		}
	}
	return oldestID
}

// removeAndCloseLocked evicts one entry while the caller holds p.mu.
func (p *Pool) removeAndCloseLocked(ctx context.Context, sessionID string) {
	delete(p.sessions, sessionID)
	p.closeVendor(ctx, sessionID)
}

func (p *Pool) closeVendor(ctx context.Context, sessionID string) {
	if err := p.gw.CloseSession(ctx, sessionID); err != nil {
		// Best-effort: the local entry is already gone; the vendor's own
		// idle reaping covers a leaked remote session.
		p.logger.Warn("vendor close failed", "session_id", sessionID, "error", err)
	}
}
