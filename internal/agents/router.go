package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"conductor/internal/brainstorm"
	"conductor/internal/documents"
	"conductor/internal/fault"
	"conductor/internal/intent"
	"conductor/internal/llm"
	"conductor/internal/planner"
	"conductor/internal/rag/retrieve"
)

// Router owns the sub-agents and dispatches parsed intents to them.
type Router struct {
	Intent     *intent.Parser
	Planner    *planner.Planner
	Brainstorm *brainstorm.Engine
	Retriever  *retrieve.Retriever
	Store      documents.Store
	LLM        llm.Provider
	Model      string

	// Today is swappable for tests; defaults to the wall clock date.
	Today func() documents.Date
}

// Session serializes a client's queries: responses for query n complete
// before query n+1 begins. A failure produces an error fragment and the
// session stays open.
type Session struct {
	router *Router
	mu     sync.Mutex

	// transcript keeps the ordered envelope history for this session.
	transcript []Fragment
}

func (r *Router) NewSession() *Session {
	return &Session{router: r}
}

// Transcript returns a copy of the fragments exchanged so far.
func (s *Session) Transcript() []Fragment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Fragment, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Ask handles one query, streaming fragments to emit in order. Cancelling
// ctx aborts in-flight retrievals and model streams; store mutations either
// complete or roll back at the store layer.
func (s *Session) Ask(ctx context.Context, query string, emit Emit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := func(f Fragment) {
		s.transcript = append(s.transcript, f)
		emit(f)
	}
	record(Fragment{Type: FragmentUser, Text: query})

	if err := s.router.dispatch(ctx, query, record); err != nil {
		frag := fault.Describe(err)
		log.Error().Err(err).Str("correlation_id", frag.CorrelationID).Msg("query_failed")
		record(Fragment{Type: FragmentError, Err: &frag})
	}
}

func (r *Router) today() documents.Date {
	if r.Today != nil {
		return r.Today()
	}
	now := time.Now()
	return documents.NewDate(now.Year(), now.Month(), now.Day())
}

func (r *Router) dispatch(ctx context.Context, query string, emit Emit) error {
	today := r.today()
	targetDate, _ := planner.ExtractDate(query, today)
	cmd := r.Intent.Parse(ctx, query, today)

	switch cmd.Kind {
	case intent.KindRAGSearch, intent.KindSearchTasks:
		return r.search(ctx, cmd, query, emit)
	case intent.KindBrainstorm:
		return r.brainstorm(ctx, cmd, query, emit)
	case intent.KindPlanDay:
		return r.plan(ctx, cmd, targetDate, today, emit)
	case intent.KindAddTask, intent.KindUpdateTask, intent.KindRemoveTask,
		intent.KindAddMeeting, intent.KindRemoveMeeting,
		intent.KindAddLog, intent.KindRemoveLog:
		return r.mutate(ctx, cmd, emit)
	case intent.KindSmallTalk:
		return r.smallTalk(ctx, query, emit)
	default:
		emit(Fragment{Type: FragmentAssistant, Text: "I didn't catch that. Try \"plan tomorrow\", \"add task …\", \"brainstorm task id …\", or a search."})
		return nil
	}
}

func (r *Router) search(ctx context.Context, cmd intent.Command, query string, emit Emit) error {
	q := cmd.Query
	if q == "" {
		q = query
	}
	if cmd.Kind == intent.KindSearchTasks && r.Store != nil {
		tasks, err := r.Store.Tasks(ctx)
		if err != nil {
			return err
		}
		var lines []string
		needle := strings.ToLower(q)
		for _, t := range tasks {
			if strings.Contains(strings.ToLower(t.Title), needle) || containsTag(t.Tags, needle) {
				lines = append(lines, fmt.Sprintf("- [%s] %s (%s, %s)", t.ID, t.Title, t.Status, t.Priority))
			}
		}
		if len(lines) > 0 {
			emit(Fragment{Type: FragmentTool, Marker: "tasks", Text: strings.Join(lines, "\n")})
		}
	}

	results, err := r.Retriever.Search(ctx, q, retrieve.Options{K: 5, Hybrid: true, GraphAugment: true})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		emit(Fragment{Type: FragmentAssistant, Text: "No matches."})
		return nil
	}
	var b strings.Builder
	for _, res := range results {
		fmt.Fprintf(&b, "- %s (score %.3f)\n  %s\n", res.ID, res.Score, firstLine(res.Body))
	}
	emit(Fragment{Type: FragmentTool, Marker: "retrieval", Text: strings.TrimRight(b.String(), "\n")})
	return nil
}

func (r *Router) brainstorm(ctx context.Context, cmd intent.Command, query string, emit Emit) error {
	req := cmd.Query
	if req == "" {
		req = query
	}
	res, err := r.Brainstorm.Process(ctx, req)
	if err != nil {
		return err
	}
	note := "existing brainstorm"
	if res.NewlyGenerated {
		note = fmt.Sprintf("%s brainstorm v%d", res.Type, res.Version)
	}
	emit(Fragment{Type: FragmentAssistant, Text: fmt.Sprintf("Returning %s for %s.", note, res.TaskID)})
	emit(Fragment{Type: FragmentTool, Marker: "brainstorm", Text: res.Content})
	return nil
}

func (r *Router) plan(ctx context.Context, cmd intent.Command, targetDate, today documents.Date, emit Emit) error {
	dateText := cmd.PlanDate
	if dateText == "" && !targetDate.Equal(today.Time) {
		dateText = targetDate.String()
	}
	plan, err := r.Planner.Plan(ctx, planner.Inputs{TargetDate: dateText, Today: today})
	if err != nil {
		return err
	}
	emit(Fragment{Type: FragmentTool, Marker: "plan", Text: plan.YesterdayMarkdown + "\n" + plan.TomorrowMarkdown})
	return nil
}

func (r *Router) mutate(ctx context.Context, cmd intent.Command, emit Emit) error {
	switch cmd.Kind {
	case intent.KindAddTask:
		task, err := r.Store.AddTask(ctx, *cmd.Task)
		if err != nil {
			return err
		}
		emit(Fragment{Type: FragmentAssistant, Text: fmt.Sprintf("Added task %s: %s", task.ID, task.Title)})
	case intent.KindUpdateTask:
		task, err := r.Store.UpdateTask(ctx, cmd.TaskID, *cmd.Patch)
		if err != nil {
			return err
		}
		emit(Fragment{Type: FragmentAssistant, Text: fmt.Sprintf("Updated task %s (%s)", task.ID, task.Status)})
	case intent.KindRemoveTask:
		if err := r.Store.RemoveTask(ctx, cmd.TaskID); err != nil {
			return err
		}
		emit(Fragment{Type: FragmentAssistant, Text: "Removed task " + cmd.TaskID})
	case intent.KindAddMeeting:
		m, err := r.Store.AddMeeting(ctx, *cmd.Meeting)
		if err != nil {
			return err
		}
		emit(Fragment{Type: FragmentAssistant, Text: fmt.Sprintf("Added meeting %s: %s", m.ID, m.Title)})
	case intent.KindRemoveMeeting:
		if err := r.Store.RemoveMeeting(ctx, cmd.MeetingID); err != nil {
			return err
		}
		emit(Fragment{Type: FragmentAssistant, Text: "Removed meeting " + cmd.MeetingID})
	case intent.KindAddLog:
		l, err := r.Store.AddLog(ctx, *cmd.Log)
		if err != nil {
			return err
		}
		emit(Fragment{Type: FragmentAssistant, Text: fmt.Sprintf("Logged %s on %s", l.LogID, l.Date)})
	case intent.KindRemoveLog:
		if err := r.Store.RemoveLog(ctx, cmd.LogID); err != nil {
			return err
		}
		emit(Fragment{Type: FragmentAssistant, Text: "Removed log " + cmd.LogID})
	}
	return nil
}

// smallTalk streams a plain model reply; no tools.
func (r *Router) smallTalk(ctx context.Context, query string, emit Emit) error {
	if r.LLM == nil {
		emit(Fragment{Type: FragmentAssistant, Text: "Hello!"})
		return nil
	}
	h := &streamEmitter{emit: emit}
	err := r.LLM.ChatStream(ctx, []llm.Message{
		llm.System("You are a concise personal assistant."),
		llm.User(query),
	}, nil, r.Model, h)
	if err != nil {
		return err
	}
	return nil
}

type streamEmitter struct {
	emit Emit
}

func (s *streamEmitter) OnDelta(content string) {
	if content != "" {
		s.emit(Fragment{Type: FragmentAssistant, Text: content})
	}
}

func (s *streamEmitter) OnToolCall(llm.ToolCall) {}

func containsTag(tags []string, needle string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 160 {
		s = s[:160] + "…"
	}
	return s
}
