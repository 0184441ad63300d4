package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/brainstorm"
	"conductor/internal/config"
	"conductor/internal/documents"
	"conductor/internal/embeddings"
	"conductor/internal/intent"
	"conductor/internal/llm"
	"conductor/internal/planner"
	"conductor/internal/rag/cache"
	"conductor/internal/rag/rerank"
	"conductor/internal/rag/retrieve"
	"conductor/internal/rag/vectorstore"
)

var today = documents.NewDate(2025, time.June, 10)

func newRouter(t *testing.T, provider llm.Provider) (*Router, *documents.FileStore) {
	t.Helper()
	dir := t.TempDir()
	store, err := documents.NewFileStore(dir)
	require.NoError(t, err)

	det := embeddings.NewDeterministic(64, 0)
	mem := vectorstore.NewMemory(det)
	require.NoError(t, mem.Upsert(context.Background(), "knowledge", []vectorstore.Row{
		{ID: "knowledge::abc::chunk_0", Body: "pgvector hybrid retrieval notes", Meta: vectorstore.Metadata{SourceKind: "knowledge", DocumentID: "d1", Total: 1}},
	}))
	retriever := retrieve.New(mem, det, cache.NewLRU(20, time.Minute), rerank.New([4]float64{0.5, 0.2, 0.3, 0}), config.RetrievalConfig{
		RRFK: 60, MaxConcurrency: 2, VectorWeight: 0.7, KeywordWeight: 0.3, DedupSimilarity: 0.7, MaxBrainstormQuery: 5,
	})

	p := &planner.Planner{Store: store, Cfg: config.PlannerConfig{WorkHoursStart: "09:00", WorkHoursEnd: "17:00"}}
	bs := brainstorm.New(store, retriever, provider, "m", dir, 5)
	bs.RetryBackoff = time.Millisecond

	r := &Router{
		Intent:     &intent.Parser{LLM: llm.NewScripted(), Model: "m"}, // pattern fallback
		Planner:    p,
		Brainstorm: bs,
		Retriever:  retriever,
		Store:      store,
		LLM:        provider,
		Model:      "m",
		Today:      func() documents.Date { return today },
	}
	return r, store
}

func collect(t *testing.T, s *Session, query string) []Fragment {
	t.Helper()
	var out []Fragment
	s.Ask(context.Background(), query, func(f Fragment) { out = append(out, f) })
	return out
}

func kinds(frags []Fragment) []string {
	var out []string
	for _, f := range frags {
		out = append(out, f.Type)
	}
	return out
}

func TestSessionAddTaskThenPlan(t *testing.T) {
	r, store := newRouter(t, llm.NewScripted())
	s := r.NewSession()

	frags := collect(t, s, "add task write the chunker docs")
	require.Equal(t, []string{FragmentUser, FragmentAssistant}, kinds(frags))
	tasks, err := store.Tasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	frags = collect(t, s, "plan tomorrow")
	require.Equal(t, []string{FragmentUser, FragmentTool}, kinds(frags))
	assert.Equal(t, "plan", frags[1].Marker)
	assert.Contains(t, frags[1].Text, "2025-06-11")
}

func TestSessionSearchEmitsFencedToolOutput(t *testing.T) {
	r, _ := newRouter(t, llm.NewScripted())
	s := r.NewSession()
	frags := collect(t, s, "search for pgvector notes")
	require.NotEmpty(t, frags)
	last := frags[len(frags)-1]
	assert.Equal(t, FragmentTool, last.Type)
	assert.Equal(t, "retrieval", last.Marker)
	assert.Contains(t, last.Text, "knowledge::abc::chunk_0")
}

func TestSessionErrorFragmentKeepsSessionOpen(t *testing.T) {
	r, _ := newRouter(t, llm.NewScripted())
	s := r.NewSession()

	frags := collect(t, s, "remove task id missing")
	last := frags[len(frags)-1]
	require.Equal(t, FragmentError, last.Type)
	require.NotNil(t, last.Err)
	assert.Equal(t, "not_found", last.Err.Kind)
	assert.NotEmpty(t, last.Err.CorrelationID)

	// session still answers
	frags = collect(t, s, "search for pgvector notes")
	assert.Equal(t, FragmentTool, frags[len(frags)-1].Type)
}

func TestSessionUnknownQueryAsksForClarification(t *testing.T) {
	r, _ := newRouter(t, llm.NewScripted())
	s := r.NewSession()
	frags := collect(t, s, "zzzz qqqq")
	last := frags[len(frags)-1]
	assert.Equal(t, FragmentAssistant, last.Type)
	assert.Contains(t, last.Text, "didn't catch")
}

func TestSessionTranscriptOrdered(t *testing.T) {
	r, _ := newRouter(t, llm.NewScripted())
	s := r.NewSession()
	collect(t, s, "add task one")
	collect(t, s, "add task two")
	tr := s.Transcript()
	require.GreaterOrEqual(t, len(tr), 4)
	assert.Equal(t, FragmentUser, tr[0].Type)
	assert.Contains(t, tr[0].Text, "one")
	// responses for query n complete before query n+1 begins
	assert.Contains(t, tr[2].Text, "two")
}

func TestAgentsRegistryInvokesSearchTool(t *testing.T) {
	r, _ := newRouter(t, llm.NewScripted())
	var search Agent
	for _, a := range r.Agents() {
		if a.Name == "search" {
			search = a
		}
	}
	tool, ok := search.Tool("hybrid_search")
	require.True(t, ok)
	out, err := tool.Invoke(context.Background(), map[string]any{"query": "pgvector notes"})
	require.NoError(t, err)
	assert.Contains(t, out, "knowledge::abc::chunk_0")
}

func TestCancellationAbortsQuery(t *testing.T) {
	r, _ := newRouter(t, llm.NewScripted())
	s := r.NewSession()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out []Fragment
	s.Ask(ctx, "search for pgvector notes", func(f Fragment) { out = append(out, f) })
	last := out[len(out)-1]
	assert.Equal(t, FragmentError, last.Type)
}
