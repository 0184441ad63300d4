// Package documents is the typed store of tasks, work logs, meetings, and
// meeting notes.
package documents

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Task statuses and priorities.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusCancelled  = "cancelled"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Date is a calendar day serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format("2006-01-02") }

func (d Date) MarshalYAML() (any, error) {
	if d.IsZero() {
		return "", nil
	}
	return d.String(), nil
}

func (d *Date) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("date %q: %w", s, err)
	}
	*d = parsed
	return nil
}

// Task is one unit of planned work. IDs may be user-supplied; duplicates are
// rejected by the store.
type Task struct {
	ID            string    `yaml:"id"`
	Title         string    `yaml:"title"`
	Description   string    `yaml:"description,omitempty"`
	Status        string    `yaml:"status"`
	Priority      string    `yaml:"priority"`
	DueDate       *Date     `yaml:"due_date,omitempty"`
	Tags          []string  `yaml:"tags,omitempty"`
	EstimateHours float64   `yaml:"estimate_hours,omitempty"`
	Todo          string    `yaml:"todo,omitempty"`
	CreatedAt     time.Time `yaml:"created_at,omitempty"`
	UpdatedAt     time.Time `yaml:"updated_at,omitempty"`
}

// Open reports whether the task still competes for schedule time.
func (t Task) Open() bool {
	return t.Status != StatusDone && t.Status != StatusCancelled
}

// TaskPatch is a partial update; nil fields are left alone.
type TaskPatch struct {
	Title         *string
	Description   *string
	Status        *string
	Priority      *string
	DueDate       *Date
	Tags          *[]string
	EstimateHours *float64
	Todo          *string
}

// TaskDetail is the optional one-to-one enrichment of a task. Objective and
// IssueDescription are alternates; Goal returns whichever is set.
type TaskDetail struct {
	TaskID             string   `yaml:"task_id"`
	Objective          string   `yaml:"objective,omitempty"`
	IssueDescription   string   `yaml:"issue_description,omitempty"`
	Tasks              []string `yaml:"tasks,omitempty"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria,omitempty"`
}

func (d TaskDetail) Goal() string {
	if d.Objective != "" {
		return d.Objective
	}
	return d.IssueDescription
}

// WorkLog is an append-only record of time spent on a date.
type WorkLog struct {
	LogID       string  `yaml:"log_id"`
	Date        Date    `yaml:"date"`
	Description string  `yaml:"description"`
	ActualHours float64 `yaml:"actual_hours"`
	TaskID      string  `yaml:"task_id,omitempty"`
}

// Meeting is a scheduled interval; Start < End, both carrying their timezone
// offset.
type Meeting struct {
	ID           string    `yaml:"id"`
	Title        string    `yaml:"title"`
	Start        time.Time `yaml:"start"`
	End          time.Time `yaml:"end"`
	Participants []string  `yaml:"participants,omitempty"`
}

// OnDate reports whether the meeting intersects the given day.
func (m Meeting) OnDate(d Date) bool {
	dayStart := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, m.Start.Location())
	dayEnd := dayStart.Add(24 * time.Hour)
	return m.Start.Before(dayEnd) && m.End.After(dayStart)
}

// MeetingNote is a free-form note with a date extracted from its filename or
// content.
type MeetingNote struct {
	Path string
	Date Date
	Body string
}

// TaskSuggestion is a meeting-analysis candidate task. Confidence is in
// [0,1]; the caller decides whether to convert it.
type TaskSuggestion struct {
	Title       string
	Description string
	Priority    string
	Deadline    *Date
	Assignee    string
	Category    string
	Confidence  float64
	Context     string
}
