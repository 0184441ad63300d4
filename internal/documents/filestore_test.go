package documents

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/fault"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestAddTaskRejectsDuplicateID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.AddTask(ctx, Task{ID: "T1", Title: "Write spec"})
	require.NoError(t, err)
	_, err = s.AddTask(ctx, Task{ID: "T1", Title: "Other"})
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrConflict)
}

func TestTaskRoundTripThroughYAML(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	due := NewDate(2025, time.June, 20)
	added, err := s.AddTask(ctx, Task{
		ID: "T1", Title: "Write spec", Priority: PriorityHigh,
		DueDate: &due, Tags: []string{"docs"}, EstimateHours: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, added.Status)

	got, err := s.Task(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "Write spec", got.Title)
	require.NotNil(t, got.DueDate)
	assert.Equal(t, "2025-06-20", got.DueDate.String())
	assert.Equal(t, []string{"docs"}, got.Tags)
}

func TestUpdateTaskPatchesFields(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.AddTask(ctx, Task{ID: "T1", Title: "Write spec"})
	require.NoError(t, err)

	status := StatusDone
	got, err := s.UpdateTask(ctx, "T1", TaskPatch{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
	assert.Equal(t, "Write spec", got.Title, "unpatched fields untouched")

	_, err = s.UpdateTask(ctx, "missing", TaskPatch{Status: &status})
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestRemoveTaskCascadesToDetail(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.AddTask(ctx, Task{ID: "T1", Title: "Write spec"})
	require.NoError(t, err)
	require.NoError(t, s.PutTaskDetail(ctx, TaskDetail{TaskID: "T1", Objective: "done right"}))

	require.NoError(t, s.RemoveTask(ctx, "T1"))
	_, ok, err := s.TaskDetail(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTaskByTitle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.AddTask(ctx, Task{ID: "T1", Title: "Refactor the retriever"})
	require.NoError(t, err)

	got, err := s.TaskByTitle(ctx, "refactor the retriever")
	require.NoError(t, err)
	assert.Equal(t, "T1", got.ID)

	got, err = s.TaskByTitle(ctx, "retriever")
	require.NoError(t, err)
	assert.Equal(t, "T1", got.ID)

	_, err = s.TaskByTitle(ctx, "nonexistent")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestLogsSortedByDate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.AddLog(ctx, WorkLog{LogID: "L2", Date: NewDate(2025, time.June, 11), Description: "later"})
	require.NoError(t, err)
	_, err = s.AddLog(ctx, WorkLog{LogID: "L1", Date: NewDate(2025, time.June, 10), Description: "earlier"})
	require.NoError(t, err)

	logs, err := s.Logs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "L1", logs[0].LogID)
}

func TestAddMeetingValidatesInterval(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	start := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	_, err := s.AddMeeting(ctx, Meeting{Title: "standup", Start: start, End: start})
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrInput)

	m, err := s.AddMeeting(ctx, Meeting{Title: "standup", Start: start, End: start.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
}

func TestMeetingNotesDateExtraction(t *testing.T) {
	s := newStore(t)
	dir := filepath.Join(s.root, notesDir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2025-06-09-sync.md"), []byte("# Sync\n- action: follow up"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "retro.md"), []byte("Date: 2025-06-08\n\nnotes"), 0o644))

	notes, err := s.MeetingNotes(context.Background())
	require.NoError(t, err)
	require.Len(t, notes, 2)
	byName := map[string]MeetingNote{}
	for _, n := range notes {
		byName[filepath.Base(n.Path)] = n
	}
	assert.Equal(t, "2025-06-09", byName["2025-06-09-sync.md"].Date.String())
	assert.Equal(t, "2025-06-08", byName["retro.md"].Date.String())
}

func TestSchemaErrorOnMalformedYAML(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.path(tasksFile), []byte("{not: [valid"), 0o644))
	_, err := s.Tasks(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrSchema)
}

func TestCreateTaskFromSuggestion(t *testing.T) {
	s := newStore(t)
	due := NewDate(2025, time.June, 30)
	task, err := s.CreateTaskFromSuggestion(context.Background(), TaskSuggestion{
		Title: "Ship the reranker", Description: "from meeting", Priority: "bogus",
		Deadline: &due, Category: "retrieval", Confidence: 0.8, Context: "decided in standup",
	})
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, task.Priority, "unknown priority defaults")
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, []string{"retrieval"}, task.Tags)
	assert.Contains(t, task.Description, "decided in standup")
}
