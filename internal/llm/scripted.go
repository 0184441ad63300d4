package llm

import (
	"context"
	"sync"

	"conductor/internal/config"
	"conductor/internal/fault"
)

// New selects a Provider from configuration.
func New(cfg config.LLMConfig) Provider {
	if cfg.Provider == "anthropic" {
		return NewAnthropic(cfg)
	}
	return NewOpenAI(cfg)
}

// Scripted is a deterministic Provider for tests. Each Chat call pops the
// next queued reply; an empty queue yields ErrProviderUnavailable, which lets
// tests exercise fallback paths.
type Scripted struct {
	mu      sync.Mutex
	replies []Message
	calls   int
}

// NewScripted queues text replies in order.
func NewScripted(texts ...string) *Scripted {
	s := &Scripted{}
	for _, t := range texts {
		s.replies = append(s.replies, Message{Role: "assistant", Content: t})
	}
	return s
}

// Calls reports how many Chat/ChatStream invocations were made.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Scripted) Chat(ctx context.Context, _ []Message, _ []ToolSchema, _ string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.replies) == 0 {
		return Message{}, fault.ErrProviderUnavailable
	}
	out := s.replies[0]
	s.replies = s.replies[1:]
	return out, nil
}

func (s *Scripted) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error {
	out, err := s.Chat(ctx, msgs, tools, model)
	if err != nil {
		return err
	}
	if out.Content != "" {
		h.OnDelta(out.Content)
	}
	for _, tc := range out.ToolCalls {
		h.OnToolCall(tc)
	}
	return nil
}
