package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/embeddings"
	"conductor/internal/rag/chunker"
)

func newMem() *Memory {
	return NewMemory(embeddings.NewDeterministic(64, 0))
}

func seed(t *testing.T, m *Memory) {
	t.Helper()
	rows := []Row{
		{ID: "knowledge::aaa::chunk_0", Body: "pgvector cosine similarity search", Meta: Metadata{SourceKind: "knowledge", DocumentID: "d1", Total: 1}},
		{ID: "knowledge::bbb::chunk_0", Body: "daily planning and meetings", Meta: Metadata{SourceKind: "knowledge", DocumentID: "d2", Total: 1}},
		{ID: "knowledge::ccc::chunk_0", Body: "reciprocal rank fusion combines lists", Meta: Metadata{SourceKind: "knowledge", DocumentID: "d3", Total: 1, OwnerID: "u1"}},
	}
	require.NoError(t, m.Upsert(context.Background(), "knowledge", rows))
}

func TestUpsertIdempotentOnID(t *testing.T) {
	m := newMem()
	seed(t, m)
	before := m.Len("knowledge")
	seed(t, m)
	assert.Equal(t, before, m.Len("knowledge"), "second upsert must not change row count")
}

func TestVectorSearchScoresNonIncreasing(t *testing.T) {
	m := newMem()
	seed(t, m)
	vecs, err := m.embedder.Embed(context.Background(), []string{"cosine similarity"})
	require.NoError(t, err)
	res, err := m.VectorSearch(context.Background(), "knowledge", vecs[0], 10, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, res)
	for i := 1; i < len(res); i++ {
		assert.LessOrEqual(t, res[i].Score, res[i-1].Score)
	}
}

func TestSearchHonorsFilter(t *testing.T) {
	m := newMem()
	seed(t, m)
	res, err := m.KeywordSearch(context.Background(), "knowledge", "fusion lists", 10, Filter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "knowledge::ccc::chunk_0", res[0].ID)

	res, err = m.KeywordSearch(context.Background(), "knowledge", "fusion lists", 10, Filter{OwnerID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestDeleteCascadesByDocument(t *testing.T) {
	m := newMem()
	seed(t, m)
	n, err := m.Delete(context.Background(), "knowledge", Filter{DocumentID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, m.Len("knowledge"))
}

func TestOnWriteFires(t *testing.T) {
	m := newMem()
	var invalidated []string
	m.OnWrite = func(c string) { invalidated = append(invalidated, c) }
	seed(t, m)
	_, err := m.Delete(context.Background(), "knowledge", Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"knowledge", "knowledge"}, invalidated)
}

func TestFuseRRFWeightsAndTies(t *testing.T) {
	vec := []Result{{ID: "A", Score: 0.9}, {ID: "B", Score: 0.8}}
	kw := []Result{{ID: "B", Score: 3}, {ID: "C", Score: 1}}
	out := FuseRRF(vec, kw, 10, 60, 0.7, 0.3)
	require.Len(t, out, 3)
	// B appears in both lists and must outrank A and C
	assert.Equal(t, "B", out[0].ID)
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i].Score, out[i-1].Score)
	}
}

func TestFuseRRFCapsAtK(t *testing.T) {
	vec := []Result{{ID: "A"}, {ID: "B"}, {ID: "C"}}
	out := FuseRRF(vec, nil, 2, 60, 1, 0)
	assert.Len(t, out, 2)
}

func TestBuildRowsStampsMetadata(t *testing.T) {
	chunks := []chunker.Chunk{{
		ID: "website::abc::chunk_0", DocumentID: "d9", SourceKind: "website",
		Ordinal: 0, Total: 2, Body: "raw window", ContextHeader: "header", HasContext: true,
	}}
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	rows := BuildRows(chunks, chunker.DocumentMeta{OwnerID: "u1", URI: "https://example.test", Title: "T"}, now)
	require.Len(t, rows, 1)
	assert.Equal(t, "raw window", rows[0].Body)
	assert.Equal(t, "header\n\nraw window", rows[0].EmbedText)
	assert.Equal(t, "u1", rows[0].Meta.OwnerID)
	assert.Equal(t, now, rows[0].Meta.IndexedAt)
	assert.True(t, rows[0].Meta.HasContext)
}
