package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/havenline/havenline/pkg/avatar"
	"github.com/havenline/havenline/pkg/gateway/apierror"
	"github.com/havenline/havenline/pkg/gateway/mw"
	"github.com/havenline/havenline/pkg/gateway/sse"
	"github.com/havenline/havenline/pkg/intake"
	"github.com/havenline/havenline/pkg/llm"
	"github.com/havenline/havenline/pkg/store"
)

type chatRequest struct {
	Text      string           `json:"text"`
	Stream    bool             `json:"stream"`
	VoiceMeta *store.VoiceMeta `json:"voice_meta,omitempty"`
}

type chatResponse struct {
	SessionID string            `json:"session_id"`
	Reply     string            `json:"reply"`
	Phase     intake.Phase      `json:"phase"`
	RiskFlags []intake.RiskFlag `json:"risk_flags,omitempty"`
}

// ChatHandler handles POST /v1/sessions/{id}/chat: persist the user turn,
// advance the intake phase, generate a reply, persist it, and relay the reply
// to the avatar so it is spoken. With stream=true the reply is delivered as
// server-sent events.
type ChatHandler struct {
	Deps
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFrom(r)
	if !h.Pool.Tracked(id) {
		writeErr(w, r, apierror.NewNotFoundError("session is not tracked"))
		return
	}

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, r, apierror.NewInvalidRequestError("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeErr(w, r, apierror.NewInvalidRequestErrorWithParam("text is required", "text"))
		return
	}

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	if _, err := h.Store.AppendMessage(ctx, store.Message{
		SessionID: id,
		Role:      store.RoleUser,
		Content:   req.Text,
		VoiceMeta: req.VoiceMeta,
	}); err != nil {
		writeErr(w, r, err)
		return
	}

	phase, flags := h.Intake.Observe(id, req.Text)
	h.Pool.Touch(id)

	turns, err := h.historyTurns(r, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	system := intake.SystemPrompt(phase)

	if req.Stream {
		h.streamReply(w, r, id, system, turns, phase, flags)
		return
	}

	reply, err := h.LLM.Reply(ctx, system, turns)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	h.finishTurn(r, id, reply)

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: id,
		Reply:     reply,
		Phase:     phase,
		RiskFlags: flags,
	})
}

func (h ChatHandler) streamReply(w http.ResponseWriter, r *http.Request, id, system string, turns []llm.Turn, phase intake.Phase, flags []intake.RiskFlag) {
	sw, err := sse.New(w)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	ctx := r.Context()
	if h.Config.SSEMaxStreamDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.SSEMaxStreamDuration)
		defer cancel()
	}

	_ = sw.Send("phase", map[string]any{"phase": phase, "risk_flags": flags})

	if h.Config.SSEPingInterval > 0 {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			t := time.NewTicker(h.Config.SSEPingInterval)
			defer t.Stop()
			for {
				select {
				case <-stop:
					return
				case <-t.C:
					if err := sw.Ping(); err != nil {
						return
					}
				}
			}
		}()
	}

	reply, err := h.LLM.StreamReply(ctx, system, turns, func(delta string) error {
		return sw.Send("delta", map[string]string{"text": delta})
	})
	if err != nil {
		reqID, _ := mw.RequestIDFrom(r.Context())
		apiErr, _ := apierror.FromError(err, reqID)
		_ = sw.Send("error", apierror.Envelope{Error: apiErr})
		return
	}

	h.finishTurn(r, id, reply)
	_ = sw.Send("done", chatResponse{
		SessionID: id,
		Reply:     reply,
		Phase:     phase,
		RiskFlags: flags,
	})
}

// finishTurn persists the assistant reply and relays it to the avatar. Both
// are best effort once the reply has been generated.
func (h ChatHandler) finishTurn(r *http.Request, id, reply string) {
	ctx, cancel := h.requestCtx(r)
	defer cancel()

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
}

// historyTurns loads the recent conversation, including the just-persisted
// user message, as LLM turns.
func (h ChatHandler) historyTurns(r *http.Request, id string) ([]llm.Turn, error) {
	ctx, cancel := h.requestCtx(r)
	defer cancel()

	msgs, err := h.Store.ListMessages(ctx, id, h.Config.HistoryLimit)
	if err != nil {
		return nil, err
	}
	return turnsFromMessages(msgs), nil
}

func turnsFromMessages(msgs []store.Message) []llm.Turn {
	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Role == store.RoleAssistant {
			role = llm.RoleAssistant
		}
		turns = append(turns, llm.Turn{Role: role, Text: m.Content})
	}
	return turns
}
