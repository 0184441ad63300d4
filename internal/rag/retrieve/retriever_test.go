package retrieve

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/config"
	"conductor/internal/embeddings"
	"conductor/internal/fault"
	"conductor/internal/rag/cache"
	"conductor/internal/rag/rerank"
	"conductor/internal/rag/vectorstore"
)

type countingEmbedder struct {
	embeddings.Provider
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	return c.Provider.Embed(ctx, texts)
}

type countingStore struct {
	vectorstore.Store
	searches atomic.Int64
	failWith error
}

func (c *countingStore) VectorSearch(ctx context.Context, col string, q []float32, k int, f vectorstore.Filter) ([]vectorstore.Result, error) {
	c.searches.Add(1)
	if c.failWith != nil {
		return nil, c.failWith
	}
	return c.Store.VectorSearch(ctx, col, q, k, f)
}

func (c *countingStore) KeywordSearch(ctx context.Context, col, q string, k int, f vectorstore.Filter) ([]vectorstore.Result, error) {
	c.searches.Add(1)
	if c.failWith != nil {
		return nil, c.failWith
	}
	return c.Store.KeywordSearch(ctx, col, q, k, f)
}

func testConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		RRFK:               60,
		RerankWeights:      [4]float64{0.5, 0.2, 0.3, 0.0},
		MaxBrainstormQuery: 5,
		MaxConcurrency:     4,
		VectorWeight:       0.7,
		KeywordWeight:      0.3,
		DedupSimilarity:    0.7,
	}
}

func newRetriever(t *testing.T) (*Retriever, *countingEmbedder, *countingStore) {
	t.Helper()
	det := embeddings.NewDeterministic(64, 0)
	emb := &countingEmbedder{Provider: det}
	mem := vectorstore.NewMemory(det)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	rows := []vectorstore.Row{
		{ID: "knowledge::aaa::chunk_0", Body: "chromadb usage patterns and examples", Meta: vectorstore.Metadata{SourceKind: "knowledge", DocumentID: "d1", Total: 1, IndexedAt: now}},
		{ID: "knowledge::bbb::chunk_0", Body: "postgres pgvector hybrid retrieval", Meta: vectorstore.Metadata{SourceKind: "knowledge", DocumentID: "d2", Total: 1, IndexedAt: now}},
		{ID: "knowledge::ccc::chunk_0", Body: "meeting planning around free windows", Meta: vectorstore.Metadata{SourceKind: "knowledge", DocumentID: "d3", Total: 1, IndexedAt: now}},
	}
	require.NoError(t, mem.Upsert(context.Background(), "knowledge", rows))
	store := &countingStore{Store: mem}

	qc := cache.NewLRU(50, time.Minute)
	rr := rerank.New([4]float64{0.5, 0.2, 0.3, 0.0})
	rr.Now = func() time.Time { return now }
	r := New(store, emb, qc, rr, testConfig())
	mem.OnWrite = qc.Invalidate
	return r, emb, store
}

func opts() Options {
	return Options{K: 5, Collections: []string{"knowledge"}}
}

func TestSearchReturnsRankedResults(t *testing.T) {
	r, _, _ := newRetriever(t)
	res, err := r.Search(context.Background(), "chromadb usage", opts())
	require.NoError(t, err)
	require.NotEmpty(t, res)
	for i := 1; i < len(res); i++ {
		assert.LessOrEqual(t, res[i].Score, res[i-1].Score)
	}
}

func TestSecondCallServedEntirelyFromCache(t *testing.T) {
	r, emb, store := newRetriever(t)
	first, err := r.Search(context.Background(), "chromadb usage", opts())
	require.NoError(t, err)

	embBefore := emb.calls.Load()
	storeBefore := store.searches.Load()
	second, err := r.Search(context.Background(), "chromadb usage", opts())
	require.NoError(t, err)

	assert.Equal(t, embBefore, emb.calls.Load(), "cache hit must not embed")
	assert.Equal(t, storeBefore, store.searches.Load(), "cache hit must not touch the store")
	assert.Equal(t, first, second)
}

func TestUpsertInvalidatesCache(t *testing.T) {
	r, _, store := newRetriever(t)
	_, err := r.Search(context.Background(), "chromadb usage", opts())
	require.NoError(t, err)

	mem := store.Store.(*vectorstore.Memory)
	require.NoError(t, mem.Upsert(context.Background(), "knowledge", []vectorstore.Row{
		{ID: "knowledge::ddd::chunk_0", Body: "fresh chromadb usage content", Meta: vectorstore.Metadata{SourceKind: "knowledge", DocumentID: "d4", Total: 1}},
	}))

	before := store.searches.Load()
	_, err = r.Search(context.Background(), "chromadb usage", opts())
	require.NoError(t, err)
	assert.Greater(t, store.searches.Load(), before, "invalidated cache must search again")
}

func TestSearchDeterministicAcrossCalls(t *testing.T) {
	r, _, _ := newRetriever(t)
	a, err := r.Search(context.Background(), "pgvector retrieval", opts())
	require.NoError(t, err)
	r.Cache.Invalidate("knowledge")
	b, err := r.Search(context.Background(), "pgvector retrieval", opts())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTimeoutVariantContributesNothing(t *testing.T) {
	r, _, store := newRetriever(t)
	store.failWith = fmt.Errorf("slow backend: %w", fault.ErrTimeout)
	res, err := r.Search(context.Background(), "chromadb usage", opts())
	require.NoError(t, err, "timeouts degrade, they do not fail the call")
	assert.Empty(t, res)
}

func TestStoreErrorSurfaces(t *testing.T) {
	r, _, store := newRetriever(t)
	store.failWith = fmt.Errorf("broken: %w", fault.ErrStoreUnavailable)
	_, err := r.Search(context.Background(), "chromadb usage", opts())
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrStoreUnavailable)
}

func TestCancellationReturnsNoPartialResults(t *testing.T) {
	r, _, _ := newRetriever(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Search(ctx, "chromadb usage", opts())
	require.Error(t, err)
}

func TestHybridModeIssuesKeywordSearches(t *testing.T) {
	r, _, _ := newRetriever(t)
	o := opts()
	o.Hybrid = true
	res, err := r.Search(context.Background(), "hybrid retrieval", o)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Greater(t, r.Stats().KeywordSearches, int64(0))
}

func TestDedupDropsNearDuplicates(t *testing.T) {
	in := []Result{
		{ID: "a", Score: 0.9, Body: "the quick brown fox jumps over the lazy dog"},
		{ID: "b", Score: 0.8, Body: "the quick brown fox jumps over the lazy dog!"},
		{ID: "c", Score: 0.5, Body: "completely different body about planners"},
	}
	out := Dedup(in, 0.7)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID, "higher-scoring duplicate survives")
	assert.Equal(t, "c", out[1].ID)
}

func TestSimilarityBounds(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("same", "same"), 1e-9)
	assert.InDelta(t, 0.0, Similarity("abc", "xyz"), 1e-9)
	mid := Similarity("hybrid retrieval engine", "hybrid retrieval")
	assert.Greater(t, mid, 0.7)
	assert.Less(t, mid, 1.0)
}

func TestExpandSeedVariants(t *testing.T) {
	seed := TaskSeed{
		Title:     "Write the retrieval spec",
		Tags:      []string{"docs", "rag"},
		Objective: "Document how the hybrid retriever is wired",
		Subtasks:  []string{"outline sections", "collect examples"},
	}
	variants := ExpandSeed(seed, 5)
	require.NotEmpty(t, variants)
	assert.LessOrEqual(t, len(variants), 5)
	assert.Equal(t, "Write the retrieval spec", variants[0])
	// deterministic
	assert.Equal(t, variants, ExpandSeed(seed, 5))
}

func TestExpandQueryRemovesStopwords(t *testing.T) {
	variants := ExpandQuery("What is the plan for the day", 5)
	require.Len(t, variants, 2)
	assert.Equal(t, "plan day", variants[1])
}
