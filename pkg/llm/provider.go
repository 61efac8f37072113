// Package llm abstracts the language-model providers behind a single
// interface so agents never depend on a vendor SDK directly.
package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/qnwis/qnwis/pkg/config"
)

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is one completion request.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// StreamChunk is one streamed piece of a completion.
type StreamChunk struct {
	Content string
	IsFinal bool
}

// Provider produces completions. Implementations must honor context
// cancellation on every call.
type Provider interface {
	// Name identifies the provider for logs.
	Name() string

	// Complete returns the full response text.
	Complete(ctx context.Context, req Request) (string, error)

	// CompleteStream returns a channel of chunks and a channel carrying at
	// most one error. Both channels are closed when the stream ends.
	CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error)
}

// NewProvider constructs the configured provider.
func NewProvider(cfg *config.LLM) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing API key: environment variable %s is empty", cfg.APIKeyEnv)
		}
		return NewOpenAIProvider(key, cfg), nil
	case "null":
		return NewNullProvider(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
