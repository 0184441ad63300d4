// Package planner produces a day's plan from tasks, logs, meetings, and
// recent meeting notes.
package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"conductor/internal/config"
	"conductor/internal/documents"
	"conductor/internal/llm"
)

// Scoring weights and bounds.
const (
	priorityWeight = 0.6
	urgencyWeight  = 0.4
	// urgency assigned when a task has no due date
	urgencyNoDue = 0.25
	// due dates past this horizon contribute zero urgency
	urgencyHorizonDays = 14
	// free windows shorter than this are discarded
	minWindow = 15 * time.Minute
	// tasks without an estimate are assumed to take this long
	defaultEstimate = time.Hour
)

// Planner is stateless between calls; it reads through the document store
// and mutates nothing.
type Planner struct {
	Store documents.Store
	// LLM serves the optional focus mode; nil disables it.
	LLM   llm.Provider
	Model string
	Cfg   config.PlannerConfig
}

// Inputs select the day to plan.
type Inputs struct {
	// TargetDate is a natural-language date resolved against Today; empty
	// means today.
	TargetDate string
	Today      documents.Date
	// UseLLMFocus additionally asks the model for focus statements linking
	// recent meetings to open tasks.
	UseLLMFocus bool
	Feedback    string
}

// Block is one scheduled interval. Partial marks a split placement.
type Block struct {
	TaskID  string
	Title   string
	Start   time.Time
	End     time.Time
	Partial bool
}

// Plan is the rendered result; the planner writes no files.
type Plan struct {
	TargetDate        documents.Date
	YesterdayBullets  []string
	Blocks            []Block
	Unscheduled       []string
	Focus             []string
	YesterdayMarkdown string
	TomorrowMarkdown  string
}

// Plan builds the day's plan. Any load or schema error fails the whole call;
// there is no partial plan.
func (p *Planner) Plan(ctx context.Context, in Inputs) (Plan, error) {
	target, err := ResolveDate(in.TargetDate, in.Today)
	if err != nil {
		return Plan{}, err
	}

	tasks, err := p.Store.Tasks(ctx)
	if err != nil {
		return Plan{}, err
	}
	logs, err := p.Store.Logs(ctx)
	if err != nil {
		return Plan{}, err
	}
	meetings, err := p.Store.Meetings(ctx)
	if err != nil {
		return Plan{}, err
	}
	notes, err := p.Store.MeetingNotes(ctx)
	if err != nil {
		return Plan{}, err
	}

	out := Plan{TargetDate: target}
	out.YesterdayBullets = p.yesterdaySummary(logs, tasks, addDays(target, -1))

	candidates := scoreCandidates(tasks, target)
	windows, err := p.freeWindows(meetings, target)
	if err != nil {
		return Plan{}, err
	}
	out.Blocks, out.Unscheduled = fit(ctx, p.Store, candidates, windows)

	out.Focus = p.focusAreas(ctx, notes, tasks, target, in.UseLLMFocus)

	out.YesterdayMarkdown = renderYesterday(target, out.YesterdayBullets)
	out.TomorrowMarkdown = renderPlan(target, out.Blocks, out.Focus, in.Feedback)
	return out, nil
}

// yesterdaySummary emits one bullet per log of the day, at most 5, each
// description cut to 20 words, plus an hours total; a day with fewer than 3
// logs gets fewer than 3 bullets. Logs referencing unknown tasks are flagged.
func (p *Planner) yesterdaySummary(logs []documents.WorkLog, tasks []documents.Task, day documents.Date) []string {
	known := map[string]bool{}
	for _, t := range tasks {
		known[t.ID] = true
	}
	var bullets []string
	var total float64
	for _, l := range logs {
		if !sameDay(l.Date, day) {
			continue
		}
		total += l.ActualHours
		text := truncateWords(l.Description, 20)
		if l.ActualHours > 0 {
			text = fmt.Sprintf("%s (%.1fh)", text, l.ActualHours)
		}
		if l.TaskID != "" && !known[l.TaskID] {
			text += " [unknown task " + l.TaskID + "]"
		}
		bullets = append(bullets, text)
		if len(bullets) == 5 {
			break
		}
	}
	if len(bullets) > 0 && total > 0 {
		bullets = append(bullets, fmt.Sprintf("Total logged: %.1fh", total))
	}
	return bullets
}

type candidate struct {
	task  documents.Task
	score float64
}

// scoreCandidates keeps open tasks and ranks them by weighted priority and
// urgency. Ties break on earlier due date, then id.
func scoreCandidates(tasks []documents.Task, target documents.Date) []candidate {
	var out []candidate
	for _, t := range tasks {
		if !t.Open() {
			continue
		}
		out = append(out, candidate{task: t, score: scoreTask(t, target)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		di, dj := out[i].task.DueDate, out[j].task.DueDate
		switch {
		case di != nil && dj == nil:
			return true
		case di == nil && dj != nil:
			return false
		case di != nil && dj != nil && !di.Equal(dj.Time):
			return di.Before(dj.Time)
		}
		return out[i].task.ID < out[j].task.ID
	})
	return out
}

func scoreTask(t documents.Task, target documents.Date) float64 {
	priority := 0.0
	switch t.Priority {
	case documents.PriorityMedium:
		priority = 1
	case documents.PriorityHigh:
		priority = 2
	}
	urgency := urgencyNoDue
	if t.DueDate != nil {
		days := t.DueDate.Sub(target.Time).Hours() / 24
		urgency = clamp(1-days/urgencyHorizonDays, 0, 1)
	}
	return priorityWeight*priority + urgencyWeight*urgency
}

type window struct {
	start time.Time
	end   time.Time
}

// freeWindows subtracts the day's meetings from the working hours and drops
// slivers shorter than minWindow.
func (p *Planner) freeWindows(meetings []documents.Meeting, target documents.Date) ([]window, error) {
	start, err := atClock(target, p.Cfg.WorkHoursStart)
	if err != nil {
		return nil, err
	}
	end, err := atClock(target, p.Cfg.WorkHoursEnd)
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, nil
	}

	var busy []window
	for _, m := range meetings {
		if !m.OnDate(target) {
			continue
		}
		busy = append(busy, window{start: m.Start.UTC(), end: m.End.UTC()})
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].start.Before(busy[j].start) })

	free := []window{}
	cursor := start
	for _, b := range busy {
		if b.end.Before(cursor) || !b.start.Before(end) {
			continue
		}
		if b.start.After(cursor) {
			free = append(free, window{start: cursor, end: minTime(b.start, end)})
		}
		if b.end.After(cursor) {
			cursor = b.end
		}
	}
	if cursor.Before(end) {
		free = append(free, window{start: cursor, end: end})
	}

	kept := free[:0]
	for _, w := range free {
		if w.end.Sub(w.start) >= minWindow {
			kept = append(kept, w)
		}
	}
	return kept, nil
}

// fit greedily fills windows in chronological order with the highest-scoring
// tasks that fit. A task may be split across windows only when it carries
// sub-items in its detail record.
func fit(ctx context.Context, store documents.Store, candidates []candidate, windows []window) ([]Block, []string) {
	type open struct {
		candidate
		remaining  time.Duration
		splittable bool
		placed     bool
	}
	pending := make([]*open, 0, len(candidates))
	for _, c := range candidates {
		est := time.Duration(c.task.EstimateHours * float64(time.Hour))
		if est <= 0 {
			est = defaultEstimate
		}
		splittable := false
		if store != nil {
			if detail, ok, err := store.TaskDetail(ctx, c.task.ID); err == nil && ok && len(detail.Tasks) > 0 {
				splittable = true
			}
		}
		pending = append(pending, &open{candidate: c, remaining: est, splittable: splittable})
	}

	var blocks []Block
	for _, w := range windows {
		cursor := w.start
		for cursor.Before(w.end) {
			room := w.end.Sub(cursor)
			var pick *open
			for _, t := range pending {
				if t.remaining <= 0 {
					continue
				}
				if t.remaining <= room || (t.splittable && room >= minWindow) {
					pick = t
					break
				}
			}
			if pick == nil {
				break
			}
			span := pick.remaining
			partial := false
			if span > room {
				span = room
				partial = true
			}
			blocks = append(blocks, Block{
				TaskID:  pick.task.ID,
				Title:   pick.task.Title,
				Start:   cursor,
				End:     cursor.Add(span),
				Partial: partial || pick.placed,
			})
			pick.remaining -= span
			pick.placed = true
			cursor = cursor.Add(span)
		}
	}

	var unscheduled []string
	for _, t := range pending {
		if !t.placed {
			unscheduled = append(unscheduled, t.task.ID)
		}
	}
	return blocks, unscheduled
}

// focusAreas extracts action-flavored bullets and headings from notes dated
// within the three days before the target, optionally merged with LLM focus
// statements.
func (p *Planner) focusAreas(ctx context.Context, notes []documents.MeetingNote, tasks []documents.Task, target documents.Date, useLLM bool) []string {
	var focus []string
	seen := map[string]bool{}
	addFocus := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			return
		}
		seen[strings.ToLower(s)] = true
		focus = append(focus, s)
	}

	windowStart := addDays(target, -3)
	for _, n := range notes {
		if n.Date.IsZero() || n.Date.Before(windowStart.Time) || n.Date.After(target.Time) {
			continue
		}
		for _, line := range strings.Split(n.Body, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, "#") {
				addFocus(strings.TrimSpace(strings.TrimLeft(trimmed, "# ")))
				continue
			}
			lower := strings.ToLower(trimmed)
			if strings.Contains(lower, "action") || strings.Contains(lower, "todo") ||
				strings.Contains(lower, "follow-up") || strings.Contains(lower, "follow up") {
				addFocus(strings.TrimLeft(trimmed, "-* "))
			}
		}
	}

	if useLLM && p.LLM != nil {
		statements, err := p.llmFocus(ctx, notes, tasks, target)
		if err != nil {
			log.Warn().Err(err).Msg("llm_focus_skipped")
		} else {
			for _, s := range statements {
				addFocus(s)
			}
		}
	}
	return focus
}

func (p *Planner) llmFocus(ctx context.Context, notes []documents.MeetingNote, tasks []documents.Task, target documents.Date) ([]string, error) {
	var sb strings.Builder
	sb.WriteString("Recent meeting notes:\n")
	windowStart := addDays(target, -3)
	for _, n := range notes {
		if n.Date.IsZero() || n.Date.Before(windowStart.Time) || n.Date.After(target.Time) {
			continue
		}
		sb.WriteString(truncateWords(n.Body, 200))
		sb.WriteString("\n---\n")
	}
	sb.WriteString("\nOpen tasks:\n")
	for _, t := range tasks {
		if t.Open() {
			fmt.Fprintf(&sb, "- %s (%s)\n", t.Title, t.ID)
		}
	}
	sb.WriteString("\nWrite 2-4 short focus statements linking the meetings to the open tasks, one per line, no numbering.")

	resp, err := p.LLM.Chat(ctx, []llm.Message{llm.User(sb.String())}, nil, p.Model)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-* "))
		if line != "" {
			out = append(out, line)
		}
		if len(out) == 4 {
			break
		}
	}
	return out, nil
}

func renderYesterday(target documents.Date, bullets []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Yesterday (%s)\n\n", addDays(target, -1))
	if len(bullets) == 0 {
		b.WriteString("No work logged.\n")
		return b.String()
	}
	for _, line := range bullets {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	return b.String()
}

func renderPlan(target documents.Date, blocks []Block, focus []string, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Plan for %s\n\n", target)
	if len(blocks) == 0 {
		b.WriteString("Nothing scheduled.\n")
	}
	for _, blk := range blocks {
		marker := ""
		if blk.Partial {
			marker = " (cont.)"
		}
		fmt.Fprintf(&b, "- %s–%s %s (%s)%s\n",
			blk.Start.Format("15:04"), blk.End.Format("15:04"), blk.Title, blk.TaskID, marker)
	}
	if len(focus) > 0 {
		b.WriteString("\n### Focus Areas\n\n")
		for _, f := range focus {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if strings.TrimSpace(feedback) != "" {
		fmt.Fprintf(&b, "\n> %s\n", strings.TrimSpace(feedback))
	}
	return b.String()
}

func atClock(d documents.Date, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("work hours %q: %w", clock, err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}

func sameDay(a, b documents.Date) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "…"
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
