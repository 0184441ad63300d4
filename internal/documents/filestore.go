package documents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"conductor/internal/fault"
)

const (
	tasksFile       = "tasks.yaml"
	taskDetailsFile = "task_details.yaml"
	logsFile        = "daily_logs.yaml"
	meetingsFile    = "meetings.yaml"
	notesDir        = "meeting_notes"
)

// FileStore keeps each record kind in a YAML file under root. Writes go to a
// temp file and rename into place, so readers only ever see complete files.
type FileStore struct {
	root string
	mu   sync.RWMutex

	// now is swappable for tests.
	now func() time.Time
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(root, notesDir), 0o755); err != nil {
		return nil, fmt.Errorf("document store root: %w: %w", fault.ErrStoreUnavailable, err)
	}
	return &FileStore{root: root, now: time.Now}, nil
}

func (s *FileStore) Tasks(ctx context.Context) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readList[Task](s.path(tasksFile))
}

func (s *FileStore) Task(ctx context.Context, id string) (Task, error) {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return Task{}, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return Task{}, fault.NotFound("task", id)
}

func (s *FileStore) TaskByTitle(ctx context.Context, title string) (Task, error) {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return Task{}, err
	}
	want := strings.ToLower(strings.TrimSpace(title))
	for _, t := range tasks {
		if strings.ToLower(t.Title) == want {
			return t, nil
		}
	}
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Title), want) {
			return t, nil
		}
	}
	return Task{}, fault.NotFound("task titled", title)
}

func (s *FileStore) AddTask(ctx context.Context, t Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := readList[Task](s.path(tasksFile))
	if err != nil {
		return Task{}, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	for _, existing := range tasks {
		if existing.ID == t.ID {
			return Task{}, fmt.Errorf("task %q already exists: %w", t.ID, fault.ErrConflict)
		}
	}
	if err := validateTask(&t); err != nil {
		return Task{}, err
	}
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	tasks = append(tasks, t)
	if err := writeList(s.path(tasksFile), tasks); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *FileStore) UpdateTask(ctx context.Context, id string, patch TaskPatch) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := readList[Task](s.path(tasksFile))
	if err != nil {
		return Task{}, err
	}
	for i := range tasks {
		if tasks[i].ID != id {
			continue
		}
		applyPatch(&tasks[i], patch)
		if err := validateTask(&tasks[i]); err != nil {
			return Task{}, err
		}
		tasks[i].UpdatedAt = s.now()
		if err := writeList(s.path(tasksFile), tasks); err != nil {
			return Task{}, err
		}
		return tasks[i], nil
	}
	return Task{}, fault.NotFound("task", id)
}

func (s *FileStore) RemoveTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := readList[Task](s.path(tasksFile))
	if err != nil {
		return err
	}
	kept := tasks[:0]
	found := false
	for _, t := range tasks {
		if t.ID == id {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		return fault.NotFound("task", id)
	}
	if err := writeList(s.path(tasksFile), kept); err != nil {
		return err
	}
	// cascade to the detail record
	details, err := readList[TaskDetail](s.path(taskDetailsFile))
	if err != nil {
		return err
	}
	keptDetails := details[:0]
	for _, d := range details {
		if d.TaskID != id {
			keptDetails = append(keptDetails, d)
		}
	}
	return writeList(s.path(taskDetailsFile), keptDetails)
}

func (s *FileStore) TaskDetail(ctx context.Context, taskID string) (TaskDetail, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	details, err := readList[TaskDetail](s.path(taskDetailsFile))
	if err != nil {
		return TaskDetail{}, false, err
	}
	for _, d := range details {
		if d.TaskID == taskID {
			return d, true, nil
		}
	}
	return TaskDetail{}, false, nil
}

func (s *FileStore) PutTaskDetail(ctx context.Context, d TaskDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	details, err := readList[TaskDetail](s.path(taskDetailsFile))
	if err != nil {
		return err
	}
	replaced := false
	for i := range details {
		if details[i].TaskID == d.TaskID {
			details[i] = d
			replaced = true
			break
		}
	}
	if !replaced {
		details = append(details, d)
	}
	return writeList(s.path(taskDetailsFile), details)
}

func (s *FileStore) Logs(ctx context.Context) ([]WorkLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs, err := readList[WorkLog](s.path(logsFile))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Date.Before(logs[j].Date.Time) })
	return logs, nil
}

func (s *FileStore) AddLog(ctx context.Context, l WorkLog) (WorkLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs, err := readList[WorkLog](s.path(logsFile))
	if err != nil {
		return WorkLog{}, err
	}
	if l.LogID == "" {
		l.LogID = uuid.NewString()
	}
	if l.Date.IsZero() {
		l.Date = Date{s.now().UTC().Truncate(24 * time.Hour)}
	}
	logs = append(logs, l)
	if err := writeList(s.path(logsFile), logs); err != nil {
		return WorkLog{}, err
	}
	return l, nil
}

func (s *FileStore) RemoveLog(ctx context.Context, logID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs, err := readList[WorkLog](s.path(logsFile))
	if err != nil {
		return err
	}
	kept := logs[:0]
	found := false
	for _, l := range logs {
		if l.LogID == logID {
			found = true
			continue
		}
		kept = append(kept, l)
	}
	if !found {
		return fault.NotFound("log", logID)
	}
	return writeList(s.path(logsFile), kept)
}

func (s *FileStore) Meetings(ctx context.Context) ([]Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readList[Meeting](s.path(meetingsFile))
}

func (s *FileStore) AddMeeting(ctx context.Context, m Meeting) (Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !m.Start.Before(m.End) {
		return Meeting{}, fault.Input("meeting %q start must precede end", m.Title)
	}
	meetings, err := readList[Meeting](s.path(meetingsFile))
	if err != nil {
		return Meeting{}, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	meetings = append(meetings, m)
	if err := writeList(s.path(meetingsFile), meetings); err != nil {
		return Meeting{}, err
	}
	return m, nil
}

func (s *FileStore) RemoveMeeting(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meetings, err := readList[Meeting](s.path(meetingsFile))
	if err != nil {
		return err
	}
	kept := meetings[:0]
	found := false
	for _, m := range meetings {
		if m.ID == id {
			found = true
			continue
		}
		kept = append(kept, m)
	}
	if !found {
		return fault.NotFound("meeting", id)
	}
	return writeList(s.path(meetingsFile), kept)
}

var noteDateRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)

func (s *FileStore) MeetingNotes(ctx context.Context) ([]MeetingNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir := filepath.Join(s.root, notesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("meeting notes: %w: %w", fault.ErrStoreUnavailable, err)
	}
	var notes []MeetingNote
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("meeting note %s: %w: %w", e.Name(), fault.ErrStoreUnavailable, err)
		}
		note := MeetingNote{Path: path, Body: string(raw)}
		// date from filename first, then from the body
		if m := noteDateRe.FindString(e.Name()); m != "" {
			note.Date, _ = ParseDate(m)
		} else if m := noteDateRe.FindString(note.Body); m != "" {
			note.Date, _ = ParseDate(m)
		}
		notes = append(notes, note)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Path < notes[j].Path })
	return notes, nil
}

func (s *FileStore) CreateTaskFromSuggestion(ctx context.Context, sg TaskSuggestion) (Task, error) {
	priority := sg.Priority
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		priority = PriorityMedium
	}
	t := Task{
		Title:       sg.Title,
		Description: strings.TrimSpace(sg.Description + "\n\n" + sg.Context),
		Status:      StatusPending,
		Priority:    priority,
		DueDate:     sg.Deadline,
	}
	if sg.Category != "" {
		t.Tags = []string{sg.Category}
	}
	return s.AddTask(ctx, t)
}

func (s *FileStore) path(name string) string { return filepath.Join(s.root, name) }

func validateTask(t *Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return fault.Input("task %q needs a title", t.ID)
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	switch t.Status {
	case StatusPending, StatusInProgress, StatusDone, StatusCancelled:
	default:
		return fault.Input("task %q status %q", t.ID, t.Status)
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	switch t.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return fault.Input("task %q priority %q", t.ID, t.Priority)
	}
	return nil
}

func applyPatch(t *Task, p TaskPatch) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		t.DueDate = p.DueDate
	}
	if p.Tags != nil {
		t.Tags = *p.Tags
	}
	if p.EstimateHours != nil {
		t.EstimateHours = *p.EstimateHours
	}
	if p.Todo != nil {
		t.Todo = *p.Todo
	}
}

func readList[T any](path string) ([]T, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w: %w", filepath.Base(path), fault.ErrStoreUnavailable, err)
	}
	var out []T
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w: %w", filepath.Base(path), fault.ErrSchema, err)
	}
	return out, nil
}

// writeList writes to a temp file in the same directory and renames it into
// place.
func writeList[T any](path string, list []T) error {
	raw, err := yaml.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode %s: %w: %w", filepath.Base(path), fault.ErrInternal, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w: %w", filepath.Base(path), fault.ErrStoreUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w: %w", filepath.Base(path), fault.ErrStoreUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w: %w", filepath.Base(path), fault.ErrStoreUnavailable, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w: %w", filepath.Base(path), fault.ErrStoreUnavailable, err)
	}
	return nil
}
