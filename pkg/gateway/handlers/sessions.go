package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/havenline/havenline/pkg/avatar"
	"github.com/havenline/havenline/pkg/gateway/apierror"
	"github.com/havenline/havenline/pkg/gateway/mw"
	"github.com/havenline/havenline/pkg/store"
)

// SessionCreateHandler handles POST /v1/sessions. At vendor capacity the
// pool evicts the least-recently-active session to make room; callers are
// never queued.
type SessionCreateHandler struct {
	Deps
}

func (h SessionCreateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeErrorJSON(w, http.StatusServiceUnavailable, &apierror.Error{
			Type:      apierror.ErrAPI,
			Message:   "gateway is draining",
			RequestID: reqID,
		})
		return
	}

	var body struct {
		AvatarID string `json:"avatar_id"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, r, apierror.NewInvalidRequestError("invalid request body"))
		return
	}

	avatarID := strings.TrimSpace(body.AvatarID)
	if avatarID == "" {
		avatarID = h.Config.AvatarDefaultAvatarID
	}

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	sess, err := h.Pool.Create(ctx, avatar.CreateSessionRequest{
		AvatarID: avatarID,
		Quality:  h.Config.AvatarQuality,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}

	h.logger().Info("session created", "session_id", sess.SessionID, "avatar_id", avatarID)
	writeJSON(w, http.StatusCreated, sess)
}

// SessionStartHandler handles POST /v1/sessions/{id}/start.
type SessionStartHandler struct {
	Deps
}

func (h SessionStartHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFrom(r)

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	if err := h.Pool.Start(ctx, id); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "started"})
}

// SessionSpeakHandler handles POST /v1/sessions/{id}/speak: the avatar
// repeats the given text verbatim.
type SessionSpeakHandler struct {
	Deps
}

func (h SessionSpeakHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFrom(r)
	if !h.Pool.Tracked(id) {
		writeErr(w, r, apierror.NewNotFoundError("session is not tracked"))
		return
	}

	var body struct {
		Text string `json:"text"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, r, apierror.NewInvalidRequestError("invalid request body"))
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeErr(w, r, apierror.NewInvalidRequestErrorWithParam("text is required", "text"))
		return
	}

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	if err := h.Avatar.SendText(ctx, id, body.Text, avatar.TaskRepeat); err != nil {
		writeErr(w, r, err)
		return
	}
	h.Pool.Touch(id)

	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "speaking"})
}

// SessionCloseHandler handles DELETE /v1/sessions/{id}. Close is idempotent
// and always succeeds locally; vendor close failures are logged, not
// surfaced.
type SessionCloseHandler struct {
	Deps
}

func (h SessionCloseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFrom(r)

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	h.Pool.Close(ctx, id)
	h.Intake.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// SessionListHandler handles GET /v1/sessions.
type SessionListHandler struct {
	Deps
}

func (h SessionListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := h.Pool.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"active_count": len(snap),
		"session_cap":  h.Config.MaxConcurrentSessions,
		"sessions":     snap,
	})
}

// SessionSummaryHandler handles GET /v1/sessions/{id}/summary: the intake
// view plus recent messages.
type SessionSummaryHandler struct {
	Deps
}

func (h SessionSummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFrom(r)
	if !h.Pool.Tracked(id) {
		writeErr(w, r, apierror.NewNotFoundError("session is not tracked"))
		return
	}

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	msgs, err := h.Store.ListMessages(ctx, id, h.Config.HistoryLimit)
	if err != nil {
		h.logger().Warn("list messages failed", "session_id", id, "error", err)
		msgs = nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"intake":   h.Intake.Summary(id),
		"messages": messagesOrEmpty(msgs),
	})
}

// QuotaHandler handles GET /v1/avatar/quota, the vendor-quota diagnostic.
type QuotaHandler struct {
	Deps
}

func (h QuotaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestCtx(r)
	defer cancel()

	quota, err := h.Avatar.Quota(ctx)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	remote, err := h.Avatar.ListSessions(ctx)
	if err != nil {
		h.logger().Warn("vendor session list failed", "error", err)
		remote = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"quota":           quota,
		"vendor_sessions": remote,
	})
}

func (d Deps) requestCtx(r *http.Request) (context.Context, context.CancelFunc) {
	if d.Config.HandlerTimeout > 0 {
		return context.WithTimeout(r.Context(), d.Config.HandlerTimeout)
	}
	return context.WithCancel(r.Context())
}

func messagesOrEmpty(msgs []store.Message) []store.Message {
	if msgs == nil {
		return []store.Message{}
	}
	return msgs
}
