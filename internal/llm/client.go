// Package llm defines the model capability the pipeline consumes, plus the
// Anthropic-backed implementation and the error taxonomy for model calls.
package llm

import "context"

// Message is one role-tagged entry in a model conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the capability object handed to the pipeline. Stream sends the
// messages, invokes onDelta for each response fragment as it arrives (onDelta
// may be nil), and returns the full response text. The fragment sequence is
// finite and not restartable.
type Client interface {
	MaxInputTokens() int
	Stream(ctx context.Context, msgs []Message, onDelta func(string)) (string, error)
}
