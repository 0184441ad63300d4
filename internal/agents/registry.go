package agents

import (
	"context"
	"strings"

	"conductor/internal/planner"
	"conductor/internal/rag/retrieve"
)

// Agents describes the sub-agents as values. The session dispatch does not
// look these values up: it switches on the intent kind and calls the Router's
// own handlers. Each Invoke calls the same collaborator as the matching
// handler (the search tool without graph augmentation) and returns the
// collected text, which is what embedding surfaces and tests consume.
func (r *Router) Agents() []Agent {
	return []Agent{
		{
			Name:         "search",
			SystemPrompt: "Answer with retrieved context from the hybrid store.",
			Tools: []Tool{{
				Name:        "hybrid_search",
				Description: "Expand, search, rerank, and fuse across collections.",
				Schema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{"type": "string"},
						"k":     map[string]any{"type": "integer"},
					},
					"required": []string{"query"},
				},
				Invoke: func(ctx context.Context, args map[string]any) (string, error) {
					query, _ := args["query"].(string)
					k := intArg(args, "k", 5)
					results, err := r.Retriever.Search(ctx, query, retrieve.Options{K: k, Hybrid: true})
					if err != nil {
						return "", err
					}
					var lines []string
					for _, res := range results {
						lines = append(lines, res.ID+": "+firstLine(res.Body))
					}
					return strings.Join(lines, "\n"), nil
				},
			}},
		},
		{
			Name:         "planner",
			SystemPrompt: "Fit open tasks into the day's free time around meetings.",
			Tools: []Tool{{
				Name:        "plan_day",
				Description: "Produce the yesterday summary and the day plan.",
				Schema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date": map[string]any{"type": "string"},
					},
				},
				Invoke: func(ctx context.Context, args map[string]any) (string, error) {
					date, _ := args["date"].(string)
					plan, err := r.Planner.Plan(ctx, planner.Inputs{TargetDate: date, Today: r.today()})
					if err != nil {
						return "", err
					}
					return plan.YesterdayMarkdown + "\n" + plan.TomorrowMarkdown, nil
				},
			}},
		},
		{
			Name:         "brainstorm",
			SystemPrompt: "Enrich a task with retrieved context and a structured report.",
			Tools: []Tool{{
				Name:        "build_brainstorm",
				Description: "Build or reuse the persisted brainstorm for a task.",
				Schema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"request": map[string]any{"type": "string"},
					},
					"required": []string{"request"},
				},
				Invoke: func(ctx context.Context, args map[string]any) (string, error) {
					request, _ := args["request"].(string)
					res, err := r.Brainstorm.Process(ctx, request)
					if err != nil {
						return "", err
					}
					return res.Content, nil
				},
			}},
		},
		{
			Name:         "smalltalk",
			SystemPrompt: "You are a concise personal assistant.",
		},
	}
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}
