// Package llm wraps the chat-completion provider behind a small interface so
// handlers can be exercised with test doubles.
package llm

import (
	"context"
	"errors"
)

var ErrNotConfigured = errors.New("model provider not configured")

// Client generates text from a system prompt and a user prompt.
type Client interface {
	// Configured is false when no provider credential was supplied.
	Configured() bool
	// Stream opens an incremental completion. The caller must Close it.
	Stream(ctx context.Context, systemPrompt, userPrompt string) (TokenStream, error)
	// CompleteJSON returns a single completion constrained to a JSON object.
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// TokenStream yields completion deltas. Recv returns io.EOF once the
// provider has finished.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

type unconfigured struct{}

// Unconfigured is the degraded-mode client used when no credential is set.
func Unconfigured() Client { return unconfigured{} }

func (unconfigured) Configured() bool { return false }

func (unconfigured) Stream(context.Context, string, string) (TokenStream, error) {
	return nil, ErrNotConfigured
}

func (unconfigured) CompleteJSON(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}
