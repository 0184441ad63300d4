package intent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/documents"
	"conductor/internal/llm"
)

var today = documents.NewDate(2025, time.June, 10)

func TestParseAddTaskFromLLM(t *testing.T) {
	p := &Parser{LLM: llm.NewScripted(`{"action":"add_task","data":{"title":"Ship reranker","priority":"high","due_date":"tomorrow","tags":["retrieval"]}}`), Model: "m"}
	cmd := p.Parse(context.Background(), "please add a task to ship the reranker by tomorrow", today)
	require.Equal(t, KindAddTask, cmd.Kind)
	require.NotNil(t, cmd.Task)
	assert.Equal(t, "Ship reranker", cmd.Task.Title)
	require.NotNil(t, cmd.Task.DueDate)
	assert.Equal(t, "2025-06-11", cmd.Task.DueDate.String(), "dates normalized against today")
}

func TestParsePlanDay(t *testing.T) {
	p := &Parser{LLM: llm.NewScripted(`{"action":"plan_day","data":{"date":"tomorrow"}}`), Model: "m"}
	cmd := p.Parse(context.Background(), "plan tomorrow", today)
	assert.Equal(t, KindPlanDay, cmd.Kind)
	assert.Equal(t, "tomorrow", cmd.PlanDate)
}

func TestParseUpdateTaskPatch(t *testing.T) {
	p := &Parser{LLM: llm.NewScripted(`{"action":"update_task","data":{"task_id":"T1","status":"done"}}`), Model: "m"}
	cmd := p.Parse(context.Background(), "mark T1 done", today)
	require.Equal(t, KindUpdateTask, cmd.Kind)
	assert.Equal(t, "T1", cmd.TaskID)
	require.NotNil(t, cmd.Patch)
	require.NotNil(t, cmd.Patch.Status)
	assert.Equal(t, "done", *cmd.Patch.Status)
	assert.Nil(t, cmd.Patch.Priority)
}

func TestParseAddMeetingTimes(t *testing.T) {
	p := &Parser{LLM: llm.NewScripted(`{"action":"add_meeting","data":{"title":"standup","start":"2025-06-10T10:00","end":"2025-06-10T10:30","participants":["alice"]}}`), Model: "m"}
	cmd := p.Parse(context.Background(), "standup at ten", today)
	require.Equal(t, KindAddMeeting, cmd.Kind)
	require.NotNil(t, cmd.Meeting)
	assert.True(t, cmd.Meeting.Start.Before(cmd.Meeting.End))
}

func TestUnknownActionMapsToUnknown(t *testing.T) {
	p := &Parser{LLM: llm.NewScripted(`{"action":"launch_rockets","data":{}}`), Model: "m"}
	cmd := p.Parse(context.Background(), "launch the rockets", today)
	assert.Equal(t, KindUnknown, cmd.Kind)
}

func TestFallbackPatternsWhenLLMDown(t *testing.T) {
	p := &Parser{LLM: llm.NewScripted(), Model: "m"} // provider unavailable

	cmd := p.Parse(context.Background(), "add task write the chunker docs", today)
	require.Equal(t, KindAddTask, cmd.Kind)
	assert.Equal(t, "write the chunker docs", cmd.Task.Title)

	cmd = p.Parse(context.Background(), "remove task id T9", today)
	assert.Equal(t, KindRemoveTask, cmd.Kind)
	assert.Equal(t, "T9", cmd.TaskID)

	cmd = p.Parse(context.Background(), "plan tomorrow", today)
	assert.Equal(t, KindPlanDay, cmd.Kind)
	assert.Equal(t, "tomorrow", cmd.PlanDate)

	cmd = p.Parse(context.Background(), "search for pgvector notes", today)
	assert.Equal(t, KindSearchTasks, cmd.Kind)
	assert.Equal(t, "pgvector notes", cmd.Query)

	cmd = p.Parse(context.Background(), "brainstorm task id T1", today)
	assert.Equal(t, KindBrainstorm, cmd.Kind)

	cmd = p.Parse(context.Background(), "how's the weather", today)
	assert.Equal(t, KindUnknown, cmd.Kind)
}

func TestMalformedPayloadFallsBack(t *testing.T) {
	p := &Parser{LLM: llm.NewScripted(`not json at all`), Model: "m"}
	cmd := p.Parse(context.Background(), "add task tidy up", today)
	assert.Equal(t, KindAddTask, cmd.Kind)
}
