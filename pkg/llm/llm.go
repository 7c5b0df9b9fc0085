// Package llm generates assistant replies through the hosted LLM provider.
// Handlers depend on the Generator interface; the Gemini adapter is the only
// file that touches the provider SDK.
package llm

import "context"

// Role values for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior message of the conversation, oldest first.
type Turn struct {
	Role string
	Text string
}

// Generator produces assistant replies. StreamReply invokes onDelta for each
// text fragment as it arrives and returns the full reply; a non-nil error
// from onDelta aborts the stream.
type Generator interface {
	Reply(ctx context.Context, system string, turns []Turn) (string, error)
	StreamReply(ctx context.Context, system string, turns []Turn, onDelta func(delta string) error) (string, error)
}
