// Package intent turns natural-language queries into typed commands.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"conductor/internal/documents"
	"conductor/internal/llm"
	"conductor/internal/observability"
	"conductor/internal/planner"
)

// Kind enumerates the commands a query can resolve to.
type Kind string

const (
	KindAddTask       Kind = "add_task"
	KindUpdateTask    Kind = "update_task"
	KindRemoveTask    Kind = "remove_task"
	KindSearchTasks   Kind = "search_tasks"
	KindAddMeeting    Kind = "add_meeting"
	KindRemoveMeeting Kind = "remove_meeting"
	KindAddLog        Kind = "add_log"
	KindRemoveLog     Kind = "remove_log"
	KindPlanDay       Kind = "plan_day"
	KindBrainstorm    Kind = "brainstorm"
	KindRAGSearch     Kind = "rag_search"
	KindSmallTalk     Kind = "small_talk"
	KindUnknown       Kind = "unknown"
)

// Command is the parsed query. Dispatch is by Kind; only the fields that
// kind uses are populated.
type Command struct {
	Kind Kind
	// Task carries AddTask fields.
	Task *documents.Task
	// TaskID selects Update/Remove targets.
	TaskID string
	// Patch carries UpdateTask changes.
	Patch *documents.TaskPatch
	// Query carries the search text, brainstorm request, or small talk.
	Query string
	// Meeting carries AddMeeting fields.
	Meeting *documents.Meeting
	// MeetingID selects RemoveMeeting.
	MeetingID string
	// Log carries AddLog fields.
	Log *documents.WorkLog
	// LogID selects RemoveLog.
	LogID string
	// PlanDate is the natural-language date for PlanDay.
	PlanDate string
}

// Parser resolves queries through the model and falls back to a
// deterministic pattern table when the model is unreachable.
type Parser struct {
	LLM   llm.Provider
	Model string
}

const parsePrompt = `Classify the user request into exactly one action and extract its data.
Actions: add_task, update_task, remove_task, search_tasks, add_meeting, remove_meeting,
add_log, remove_log, plan_day, brainstorm, rag_search, small_talk.
Reply with JSON only: {"action":"...","data":{...}}
Data fields per action:
 add_task: title, description, priority (low|medium|high), due_date, tags, estimate_hours
 update_task: task_id, status, priority, due_date, title
 remove_task: task_id
 search_tasks / rag_search: query
 add_meeting: title, start, end, participants
 remove_meeting: meeting_id
 add_log: date, description, actual_hours, task_id
 remove_log: log_id
 plan_day: date
 brainstorm: request (the full brainstorm request text)
 small_talk: text
Dates may stay natural language ("tomorrow", "next friday"); do not invent data.

Request: `

type envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Parse resolves text into a Command, normalizing date strings against
// today. An unknown action or empty text resolves to Unknown.
func (p *Parser) Parse(ctx context.Context, text string, today documents.Date) Command {
	text = strings.TrimSpace(text)
	if text == "" {
		return Command{Kind: KindUnknown}
	}
	if p.LLM != nil {
		resp, err := p.LLM.Chat(ctx, []llm.Message{llm.User(parsePrompt + text)}, nil, p.Model)
		if err == nil {
			if cmd, perr := decodeEnvelope(resp.Content, today); perr == nil {
				return cmd
			} else {
				log.Warn().Err(perr).
					Str("payload", string(observability.RedactJSON([]byte(resp.Content)))).
					Msg("intent_payload_rejected")
			}
		} else {
			log.Warn().Err(err).Msg("intent_llm_failed_using_patterns")
		}
	}
	return fallback(text)
}

func decodeEnvelope(raw string, today documents.Date) (Command, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	var env envelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &env); err != nil {
		return Command{}, err
	}

	get := func(out any) error {
		if len(env.Data) == 0 {
			return fmt.Errorf("missing data for %q", env.Action)
		}
		return json.Unmarshal(env.Data, out)
	}

	switch Kind(env.Action) {
	case KindAddTask:
		var d struct {
			Title         string   `json:"title"`
			Description   string   `json:"description"`
			Priority      string   `json:"priority"`
			DueDate       string   `json:"due_date"`
			Tags          []string `json:"tags"`
			EstimateHours float64  `json:"estimate_hours"`
			ID            string   `json:"id"`
		}
		if err := get(&d); err != nil {
			return Command{}, err
		}
		task := documents.Task{
			ID: d.ID, Title: d.Title, Description: d.Description,
			Priority: d.Priority, Tags: d.Tags, EstimateHours: d.EstimateHours,
		}
		if d.DueDate != "" {
			if due, err := planner.ResolveDate(d.DueDate, today); err == nil {
				task.DueDate = &due
			}
		}
		return Command{Kind: KindAddTask, Task: &task}, nil
	case KindUpdateTask:
		var d struct {
			TaskID   string `json:"task_id"`
			Status   string `json:"status"`
			Priority string `json:"priority"`
			DueDate  string `json:"due_date"`
			Title    string `json:"title"`
		}
		if err := get(&d); err != nil {
			return Command{}, err
		}
		patch := documents.TaskPatch{}
		if d.Status != "" {
			patch.Status = &d.Status
		}
		if d.Priority != "" {
			patch.Priority = &d.Priority
		}
		if d.Title != "" {
			patch.Title = &d.Title
		}
		if d.DueDate != "" {
			if due, err := planner.ResolveDate(d.DueDate, today); err == nil {
				patch.DueDate = &due
			}
		}
		return Command{Kind: KindUpdateTask, TaskID: d.TaskID, Patch: &patch}, nil
	case KindRemoveTask:
		var d struct {
			TaskID string `json:"task_id"`
		}
		if err := get(&d); err != nil {
			return Command{}, err
		}
		return Command{Kind: KindRemoveTask, TaskID: d.TaskID}, nil
	case KindSearchTasks, KindRAGSearch:
		var d struct {
			Query string `json:"query"`
		}
		if err := get(&d); err != nil {
			return Command{}, err
		}
		return Command{Kind: Kind(env.Action), Query: d.Query}, nil
	case KindAddMeeting:
		var d struct {
			Title        string   `json:"title"`
			Start        string   `json:"start"`
			End          string   `json:"end"`
			Participants []string `json:"participants"`
		}
		if err := get(&d); err != nil {
			return Command{}, err
		}
		m := documents.Meeting{Title: d.Title, Participants: d.Participants}
		var err error
		if m.Start, err = parseMeetingTime(d.Start, today); err != nil {
			return Command{}, err
		}
		if m.End, err = parseMeetingTime(d.End, today); err != nil {
			return Command{}, err
		}
		return Command{Kind: KindAddMeeting, Meeting: &m}, nil
	case KindRemoveMeeting:
		var d struct {
			MeetingID string `json:"meeting_id"`
		}
		if err := get(&d); err != nil {
			return Command{}, err
		}
		return Command{Kind: KindRemoveMeeting, MeetingID: d.MeetingID}, nil
	case KindAddLog:
		var d struct {
			Date        string  `json:"date"`
			Description string  `json:"description"`
			ActualHours float64 `json:"actual_hours"`
			TaskID      string  `json:"task_id"`
		}
		if err := get(&d); err != nil {
			return Command{}, err
		}
		l := documents.WorkLog{Description: d.Description, ActualHours: d.ActualHours, TaskID: d.TaskID}
		if date, err := planner.ResolveDate(d.Date, today); err == nil {
			l.Date = date
		} else {
			l.Date = today
		}
		return Command{Kind: KindAddLog, Log: &l}, nil
	case KindRemoveLog:
		var d struct {
			LogID string `json:"log_id"`
		}
		if err := get(&d); err != nil {
			return Command{}, err
		}
		return Command{Kind: KindRemoveLog, LogID: d.LogID}, nil
	case KindPlanDay:
		var d struct {
			Date string `json:"date"`
		}
		_ = get(&d) // date is optional
		return Command{Kind: KindPlanDay, PlanDate: d.Date}, nil
	case KindBrainstorm:
		var d struct {
			Request string `json:"request"`
		}
		if err := get(&d); err != nil {
			return Command{}, err
		}
		return Command{Kind: KindBrainstorm, Query: d.Request}, nil
	case KindSmallTalk:
		var d struct {
			Text string `json:"text"`
		}
		_ = get(&d)
		return Command{Kind: KindSmallTalk, Query: d.Text}, nil
	default:
		return Command{Kind: KindUnknown}, nil
	}
}

// parseMeetingTime accepts RFC3339 or a local "YYYY-MM-DDTHH:MM" string.
func parseMeetingTime(s string, today documents.Date) (t time.Time, err error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	// "15:04" alone lands on today
	if clock, cerr := time.Parse("15:04", s); cerr == nil {
		return time.Date(today.Year(), today.Month(), today.Day(), clock.Hour(), clock.Minute(), 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("meeting time %q", s)
}

var (
	addTaskRe    = regexp.MustCompile(`(?i)^(?:add|create|new)\s+(?:a\s+)?task:?\s+(.+)$`)
	removeTaskRe = regexp.MustCompile(`(?i)^(?:remove|delete)\s+task\s+(?:id\s+)?(\S+)`)
	planRe       = regexp.MustCompile(`(?i)^plan(?:\s+my)?(?:\s+day)?\s*(.*)$`)
	searchRe     = regexp.MustCompile(`(?i)^(?:search|find|look up)\s+(?:for\s+)?(.+)$`)
)

// fallback covers the most common commands when the model is unavailable.
func fallback(text string) Command {
	if m := addTaskRe.FindStringSubmatch(text); m != nil {
		return Command{Kind: KindAddTask, Task: &documents.Task{Title: strings.TrimSpace(m[1])}}
	}
	if m := removeTaskRe.FindStringSubmatch(text); m != nil {
		return Command{Kind: KindRemoveTask, TaskID: m[1]}
	}
	if strings.HasPrefix(strings.ToLower(text), "brainstorm") {
		return Command{Kind: KindBrainstorm, Query: text}
	}
	if m := planRe.FindStringSubmatch(text); m != nil {
		return Command{Kind: KindPlanDay, PlanDate: strings.TrimSpace(m[1])}
	}
	if m := searchRe.FindStringSubmatch(text); m != nil {
		return Command{Kind: KindSearchTasks, Query: strings.TrimSpace(m[1])}
	}
	return Command{Kind: KindUnknown}
}
