// Package meetings extracts decisions, action items, and candidate tasks
// from meeting text.
package meetings

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"conductor/internal/documents"
	"conductor/internal/llm"
)

// Analysis is the structured read of one meeting. The caller decides whether
// suggested tasks become real tasks.
type Analysis struct {
	Summary         string
	KeyDecisions    []string
	ActionItems     []string
	NextSteps       []string
	Participants    []string
	SuggestedTasks  []documents.TaskSuggestion
	ConfidenceScore float64
}

// Analyzer is a pure function over its inputs; it never touches a store.
type Analyzer struct {
	LLM   llm.Provider
	Model string
}

const analyzePrompt = `Analyze the meeting notes below. Reply with JSON only:
{"summary":"...","key_decisions":["..."],"action_items":["..."],"next_steps":["..."],
"participants":["..."],
"suggested_tasks":[{"title":"...","description":"...","priority":"low|medium|high",
"deadline":"YYYY-MM-DD or empty","assignee":"","category":"","confidence":0.0,"context":"..."}],
"confidence_score":0.0}

`

type analysisPayload struct {
	Summary        string   `json:"summary"`
	KeyDecisions   []string `json:"key_decisions"`
	ActionItems    []string `json:"action_items"`
	NextSteps      []string `json:"next_steps"`
	Participants   []string `json:"participants"`
	SuggestedTasks []struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Priority    string  `json:"priority"`
		Deadline    string  `json:"deadline"`
		Assignee    string  `json:"assignee"`
		Category    string  `json:"category"`
		Confidence  float64 `json:"confidence"`
		Context     string  `json:"context"`
	} `json:"suggested_tasks"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Analyze reads the meeting text. On LLM failure a rule-based pass still
// produces action items and participants, with a low confidence score.
func (a *Analyzer) Analyze(ctx context.Context, meetingText string, date documents.Date, title string) (Analysis, error) {
	if a.LLM != nil {
		var header strings.Builder
		if title != "" {
			header.WriteString("Title: " + title + "\n")
		}
		if !date.IsZero() {
			header.WriteString("Date: " + date.String() + "\n")
		}
		resp, err := a.LLM.Chat(ctx, []llm.Message{llm.User(analyzePrompt + header.String() + "\n" + meetingText)}, nil, a.Model)
		if err == nil {
			if analysis, perr := parseAnalysis(resp.Content); perr == nil {
				return analysis, nil
			} else {
				log.Warn().Err(perr).Msg("meeting_analysis_payload_rejected")
			}
		} else {
			log.Warn().Err(err).Msg("meeting_analysis_llm_failed_using_rules")
		}
	}
	return ruleBased(meetingText), nil
}

func parseAnalysis(raw string) (Analysis, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	var payload analysisPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return Analysis{}, err
	}
	out := Analysis{
		Summary:         payload.Summary,
		KeyDecisions:    payload.KeyDecisions,
		ActionItems:     payload.ActionItems,
		NextSteps:       payload.NextSteps,
		Participants:    payload.Participants,
		ConfidenceScore: clamp01(payload.ConfidenceScore),
	}
	for _, s := range payload.SuggestedTasks {
		sg := documents.TaskSuggestion{
			Title:       s.Title,
			Description: s.Description,
			Priority:    s.Priority,
			Assignee:    s.Assignee,
			Category:    s.Category,
			Confidence:  clamp01(s.Confidence),
			Context:     s.Context,
		}
		if s.Deadline != "" {
			if d, err := documents.ParseDate(s.Deadline); err == nil {
				sg.Deadline = &d
			}
		}
		if sg.Title != "" {
			out.SuggestedTasks = append(out.SuggestedTasks, sg)
		}
	}
	return out, nil
}

// ruleBased scans for decision/action markers and an attendee line.
func ruleBased(text string) Analysis {
	out := Analysis{ConfidenceScore: 0.3}
	var firstLines []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*"))
		if trimmed == "" {
			continue
		}
		if len(firstLines) < 2 && !strings.HasPrefix(trimmed, "#") {
			firstLines = append(firstLines, trimmed)
		}
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "decision") || strings.Contains(lower, "decided"):
			out.KeyDecisions = append(out.KeyDecisions, trimmed)
		case strings.HasPrefix(lower, "action") || strings.HasPrefix(lower, "todo") ||
			strings.Contains(lower, "follow up") || strings.Contains(lower, "follow-up"):
			out.ActionItems = append(out.ActionItems, trimmed)
		case strings.HasPrefix(lower, "next:") || strings.HasPrefix(lower, "next steps"):
			out.NextSteps = append(out.NextSteps, trimmed)
		case strings.HasPrefix(lower, "attendees:") || strings.HasPrefix(lower, "participants:"):
			rest := trimmed[strings.Index(trimmed, ":")+1:]
			for _, p := range strings.Split(rest, ",") {
				if p = strings.TrimSpace(p); p != "" {
					out.Participants = append(out.Participants, p)
				}
			}
		}
	}
	out.Summary = strings.Join(firstLines, " ")
	for _, item := range out.ActionItems {
		out.SuggestedTasks = append(out.SuggestedTasks, documents.TaskSuggestion{
			Title:      item,
			Priority:   documents.PriorityMedium,
			Confidence: 0.3,
			Context:    "rule-based extraction",
		})
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
