// Package agents is the session-level orchestrator: it classifies each
// query, dispatches to a sub-agent, and streams the composed answer back.
package agents

import (
	"context"

	"conductor/internal/fault"
)

// Tool is an external capability described by data. Invoke is the only
// behavior; dispatch never goes through virtual calls.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Invoke      func(ctx context.Context, args map[string]any) (string, error)
}

// Agent is a value: a name, a system prompt, and the tools it may use.
type Agent struct {
	Name         string
	SystemPrompt string
	Tools        []Tool
}

// Tool returns the named tool and whether it exists.
func (a Agent) Tool(name string) (Tool, bool) {
	for _, t := range a.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Fragment kinds mirror the session envelope types.
const (
	FragmentUser      = "user"
	FragmentAssistant = "assistant"
	FragmentTool      = "tool"
	FragmentError     = "error"
)

// Fragment is one streamed response piece. Tool outputs carry a marker so
// downstream UIs can fence them; errors carry the structured failure.
type Fragment struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Marker string          `json:"marker,omitempty"`
	Err    *fault.Fragment `json:"error,omitempty"`
}

// Emit receives fragments in stream order.
type Emit func(Fragment)
