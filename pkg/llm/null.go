package llm

import (
	"context"
	"strings"
	"sync"
)

// NullProvider is a deterministic offline provider for development and
// configuration validation. It echoes a short acknowledgement derived from
// the last user message, or a scripted response when one is queued.
// Safe for concurrent use.
type NullProvider struct {
	mu        sync.Mutex
	responses []string
	next      int
}

// NewNullProvider creates an empty null provider.
func NewNullProvider() *NullProvider {
	return &NullProvider{}
}

// Queue appends scripted responses returned in order by subsequent calls.
// Once scripted responses are exhausted the provider falls back to echoing.
func (p *NullProvider) Queue(responses ...string) *NullProvider {
	p.mu.Lock()
	p.responses = append(p.responses, responses...)
	p.mu.Unlock()
	return p
}

// Name implements Provider.
func (p *NullProvider) Name() string { return "null" }

// Complete implements Provider.
func (p *NullProvider) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next < len(p.responses) {
		resp := p.responses[p.next]
		p.next++
		return resp, nil
	}
	return "No analysis available (null provider). Prompt: " + lastUserLine(req), nil
}

// CompleteStream implements Provider.
func (p *NullProvider) CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk, 8)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		text, err := p.Complete(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		for _, word := range strings.SplitAfter(text, " ") {
			select {
			case chunks <- StreamChunk{Content: word}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		chunks <- StreamChunk{IsFinal: true}
	}()

	return chunks, errs
}

func lastUserLine(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			line := req.Messages[i].Content
			if idx := strings.IndexByte(line, '\n'); idx > 0 {
				line = line[:idx]
			}
			return line
		}
	}
	return ""
}
