package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/havenline/havenline/pkg/avatar"
	"github.com/havenline/havenline/pkg/gateway/apierror"
	"github.com/havenline/havenline/pkg/gateway/config"
	"github.com/havenline/havenline/pkg/gateway/ratelimit"
	"github.com/havenline/havenline/pkg/intake"
	"github.com/havenline/havenline/pkg/store"
)

// liveInbound is one client frame on the live channel.
type liveInbound struct {
	Type      string           `json:"type"` // "chat" or "speak"
	Text      string           `json:"text"`
	VoiceMeta *store.VoiceMeta `json:"voice_meta,omitempty"`
}

// liveOutbound is one server frame on the live channel.
type liveOutbound struct {
	Type      string            `json:"type"` // "reply", "phase", "ack", "error"
	Text      string            `json:"text,omitempty"`
	Phase     intake.Phase      `json:"phase,omitempty"`
	RiskFlags []intake.RiskFlag `json:"risk_flags,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// LiveHandler handles GET /v1/live/{id}: a WebSocket channel carrying chat
// turns for one avatar session. The Auth middleware skips upgrade requests
// because browsers cannot set Authorization headers on WebSockets, so this
// handler checks the api_key query parameter itself.
type LiveHandler struct {
	Deps
}

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// CORS middleware already gates browser origins; the upgrade itself
	// is authenticated below.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFrom(r)

	principal, ok := h.authenticateLive(r)
	if !ok {
		writeErr(w, r, apierror.NewAuthenticationError("missing or invalid api key"))
		return
	}
	if !h.Pool.Tracked(id) {
		writeErr(w, r, apierror.NewNotFoundError("session is not tracked"))
		return
	}

	decision := h.Limiter.AcquireLiveSession(principal, time.Now())
	if !decision.Allowed {
		w.Header().Set("Retry-After", "1")
		writeErr(w, r, apierror.NewRateLimitError("too many live channels"))
		return
	}
	defer decision.Permit.Release()

	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger().Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	h.logger().Info("live channel open", "session_id", id)
	h.serveConn(r, conn, id)
	h.logger().Info("live channel closed", "session_id", id)
}

func (h LiveHandler) authenticateLive(r *http.Request) (string, bool) {
	if h.Config.AuthMode != config.AuthModeRequired {
		return "", true
	}
	key := strings.TrimSpace(r.URL.Query().Get("api_key"))
	if key == "" {
		return "", false
	}
	if _, ok := h.Config.APIKeys[key]; !ok {
		return "", false
	}
	return ratelimit.PrincipalKeyFromAPIKey(key), true
}

func (h LiveHandler) serveConn(r *http.Request, conn *websocket.Conn, id string) {
	cfg := h.Config
	if cfg.LiveMaxMessageBytes > 0 {
		conn.SetReadLimit(cfg.LiveMaxMessageBytes)
	}

	readDeadline := func() {
		if cfg.LiveWSPingInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * cfg.LiveWSPingInterval))
		}
	}
	readDeadline()
	conn.SetPongHandler(func(string) error {
		readDeadline()
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	if cfg.LiveWSPingInterval > 0 {
		go h.pingLoop(conn, done)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger().Warn("live read failed", "session_id", id, "error", err)
			}
			return
		}
		readDeadline()

		var in liveInbound
		if err := json.Unmarshal(data, &in); err != nil {
			h.writeFrame(conn, liveOutbound{Type: "error", Message: "invalid frame"})
			continue
		}
		if strings.TrimSpace(in.Text) == "" {
			h.writeFrame(conn, liveOutbound{Type: "error", Message: "text is required"})
			continue
		}
		if !h.Pool.Tracked(id) {
			h.writeFrame(conn, liveOutbound{Type: "error", Message: "session is no longer tracked"})
			return
		}
		h.Pool.Touch(id)

		switch in.Type {
		case "speak":
			h.handleLiveSpeak(r, conn, id, in.Text)
		default:
			h.handleLiveChat(r, conn, id, in)
		}
	}
}

func (h LiveHandler) handleLiveSpeak(r *http.Request, conn *websocket.Conn, id, text string) {
	ctx, cancel := h.requestCtx(r)
	defer cancel()

	if err := h.Avatar.SendText(ctx, id, text, avatar.TaskRepeat); err != nil {
		h.logger().Warn("avatar relay failed", "session_id", id, "error", err)
		h.writeFrame(conn, liveOutbound{Type: "error", Message: "avatar relay failed"})
		return
	}
	h.writeFrame(conn, liveOutbound{Type: "ack"})
}

func (h LiveHandler) handleLiveChat(r *http.Request, conn *websocket.Conn, id string, in liveInbound) {
	ctx, cancel := h.requestCtx(r)
	defer cancel()

	if _, err := h.Store.AppendMessage(ctx, store.Message{
		SessionID: id,
		Role:      store.RoleUser,
		Content:   in.Text,
		VoiceMeta: in.VoiceMeta,
	}); err != nil {
		h.logger().Warn("persist user message failed", "session_id", id, "error", err)
	}

	phase, flags := h.Intake.Observe(id, in.Text)
	h.writeFrame(conn, liveOutbound{Type: "phase", Phase: phase, RiskFlags: flags})

	msgs, err := h.Store.ListMessages(ctx, id, h.Config.HistoryLimit)
	if err != nil {
		h.writeFrame(conn, liveOutbound{Type: "error", Message: "history unavailable"})
		return
	}
	turns := turnsFromMessages(msgs)

	reply, err := h.LLM.Reply(ctx, intake.SystemPrompt(phase), turns)
	if err != nil {
		h.logger().Warn("llm reply failed", "session_id", id, "error", err)
		h.writeFrame(conn, liveOutbound{Type: "error", Message: "reply generation failed"})
		return
	}

	if _, err := h.Store.AppendMessage(ctx, store.Message{
		SessionID: id,
		Role:      store.RoleAssistant,
		Content:   reply,
	}); err != nil {
		h.logger().Warn("persist assistant message failed", "session_id", id, "error", err)
	}
	if err := h.Avatar.SendText(ctx, id, reply, avatar.TaskRepeat); err != nil {
		h.logger().Warn("avatar relay failed", "session_id", id, "error", err)
	}
	h.Pool.Touch(id)

	h.writeFrame(conn, liveOutbound{Type: "reply", Text: reply, Phase: phase, RiskFlags: flags})
}

func (h LiveHandler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(h.Config.LiveWSPingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			deadline := time.Now().Add(h.writeTimeout())
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (h LiveHandler) writeFrame(conn *websocket.Conn, out liveOutbound) {
	_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout()))
	if err := conn.WriteJSON(out); err != nil {
		h.logger().Warn("live write failed", "error", err)
	}
}

func (h LiveHandler) writeTimeout() time.Duration {
	if h.Config.LiveWSWriteTimeout > 0 {
		return h.Config.LiveWSWriteTimeout
	}
	return 5 * time.Second
}
