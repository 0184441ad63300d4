package documents

import "context"

// Store is the typed document contract. Implementations serialize access
// internally; every method is safe for concurrent use and is a suspension
// point. Missing records come back as fault.ErrNotFound, duplicate ids as
// fault.ErrConflict, malformed files as fault.ErrSchema.
type Store interface {
	Tasks(ctx context.Context) ([]Task, error)
	Task(ctx context.Context, id string) (Task, error)
	AddTask(ctx context.Context, t Task) (Task, error)
	UpdateTask(ctx context.Context, id string, patch TaskPatch) (Task, error)
	RemoveTask(ctx context.Context, id string) error
	// TaskByTitle matches case-insensitively on exact title, then substring.
	TaskByTitle(ctx context.Context, title string) (Task, error)

	TaskDetail(ctx context.Context, taskID string) (TaskDetail, bool, error)
	PutTaskDetail(ctx context.Context, d TaskDetail) error

	Logs(ctx context.Context) ([]WorkLog, error)
	AddLog(ctx context.Context, l WorkLog) (WorkLog, error)
	RemoveLog(ctx context.Context, logID string) error

	Meetings(ctx context.Context) ([]Meeting, error)
	AddMeeting(ctx context.Context, m Meeting) (Meeting, error)
	RemoveMeeting(ctx context.Context, id string) error

	MeetingNotes(ctx context.Context) ([]MeetingNote, error)

	// CreateTaskFromSuggestion converts a meeting-analysis suggestion into a
	// pending task.
	CreateTaskFromSuggestion(ctx context.Context, s TaskSuggestion) (Task, error)
}
