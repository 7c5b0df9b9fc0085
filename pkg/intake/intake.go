// Package intake tracks the psychological-intake conversation: which phase
// the interview is in, how many turns have happened, and whether any risk
// language has appeared in the user's messages.
package intake

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

// Phase is the current stage of the intake interview.
type Phase string

const (
	PhaseGreeting    Phase = "greeting"
	PhaseExploration Phase = "exploration"
	PhaseHistory     Phase = "history"
	PhaseSafetyCheck Phase = "safety_check"
	PhaseClosing     Phase = "closing"
)

// Turn thresholds for advancing phases on message count alone. A risk hit
// overrides these and forces safety_check.
const (
	explorationAfter = 2
	historyAfter     = 8
	closingAfter     = 16
)

// RiskFlag records one detected risk term in a user message.
type RiskFlag struct {
	Term       string    `json:"term"`
	DetectedAt time.Time `json:"detected_at"`
}

// Summary is the read-only view exposed over HTTP.
type Summary struct {
	SessionID    string     `json:"session_id"`
	Phase        Phase      `json:"phase"`
	MessageCount int        `json:"message_count"`
	RiskFlags    []RiskFlag `json:"risk_flags,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
}

type state struct {
	phase        Phase
	messageCount int
	riskFlags    []RiskFlag
	startedAt    time.Time
}

// Agent owns one intake state per session id. It is safe for concurrent use.
type Agent struct {
	lexicon []string
	now     func() time.Time

	mu     sync.Mutex
	states map[string]*state
}

func NewAgent() *Agent {
	return &Agent{
		lexicon: defaultRiskLexicon(),
		now:     time.Now,
		states:  make(map[string]*state),
	}
}

// Observe ingests one user message for the session: counts it, scans it for
// risk language, and advances the phase. It returns the phase to respond in
// and any newly detected risk flags.
func (a *Agent) Observe(sessionID, text string) (Phase, []RiskFlag) {
	hits := a.scan(text)

	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.states[sessionID]
	if !ok {
		st = &state{phase: PhaseGreeting, startedAt: a.now()}
		a.states[sessionID] = st
	}
	st.messageCount++

	if len(hits) > 0 {
		st.riskFlags = append(st.riskFlags, hits...)
		st.phase = PhaseSafetyCheck
		return st.phase, hits
	}

	st.phase = nextPhase(st.phase, st.messageCount)
	return st.phase, nil
}

// Summary returns the current intake view for a session. Unknown ids get a
// fresh greeting-phase summary without creating state.
func (a *Agent) Summary(sessionID string) Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.states[sessionID]
	if !ok {
		return Summary{SessionID: sessionID, Phase: PhaseGreeting}
	}
	return Summary{
		SessionID:    sessionID,
		Phase:        st.phase,
		MessageCount: st.messageCount,
		RiskFlags:    append([]RiskFlag(nil), st.riskFlags...),
		StartedAt:    st.startedAt,
	}
}

// Forget drops the state for a closed session.
func (a *Agent) Forget(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.states, sessionID)
}

// nextPhase advances on message count. safety_check is sticky until the
// clinician-facing closing threshold so risk follow-ups are not cut short.
func nextPhase(current Phase, messages int) Phase {
	if current == PhaseSafetyCheck && messages <= closingAfter {
		return PhaseSafetyCheck
	}
	switch {
	case messages > closingAfter:
		return PhaseClosing
	case messages > historyAfter:
		return PhaseHistory
	case messages > explorationAfter:
		return PhaseExploration
	default:
		return PhaseGreeting
	}
}

// scan matches lexicon terms on word boundaries, case-insensitively.
// Multi-word terms match as whole phrases.
func (a *Agent) scan(text string) []RiskFlag {
	lowered := strings.ToLower(text)
	var hits []RiskFlag
	for _, term := range a.lexicon {
		if containsWord(lowered, term) {
			hits = append(hits, RiskFlag{Term: term, DetectedAt: a.now()})
		}
	}
	return hits
}

func containsWord(haystack, needle string) bool {
	for start := 0; ; {
		idx := strings.Index(haystack[start:], needle)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(needle)
		beforeOK := idx == 0 || !isWordRune(rune(haystack[idx-1]))
		afterOK := end == len(haystack) || !isWordRune(rune(haystack[end]))
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func defaultRiskLexicon() []string {
	return []string{
		"suicide",
		"suicidal",
		"kill myself",
		"end my life",
		"self-harm",
		"self harm",
		"hurt myself",
		"overdose",
		"no reason to live",
		"abuse",
		"abused",
	}
}

// SystemPrompt returns the LLM system instruction for the phase.
func SystemPrompt(p Phase) string {
	const base = "You are a warm, professional intake assistant for a telehealth service. " +
		"You are not a clinician and never diagnose. Keep replies short and spoken-friendly. "
	switch p {
	case PhaseGreeting:
		return base + "Greet the client, introduce yourself, and ask what brings them in today."
	case PhaseExploration:
		return base + "Explore the client's presenting concerns with open, gentle questions."
	case PhaseHistory:
		return base + "Ask about relevant history: duration, prior support, sleep, daily life."
	case PhaseSafetyCheck:
		return base + "The client may be at risk. Respond with care, ask directly about safety, " +
			"and share crisis resources. Encourage them to contact emergency services if in danger."
	case PhaseClosing:
		return base + "Summarize what the client shared and explain that a clinician will follow up."
	default:
		return base
	}
}
