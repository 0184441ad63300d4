package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/embeddings"
	"conductor/internal/llm"
)

const episodePayload = `{"entities":[
	{"name":"Alice","type":"Person","summary":"Backend engineer on the retrieval project"},
	{"name":"Retrieval Project","type":"Project","summary":"Hybrid search effort"},
	{"name":"pgvector","type":"Technology","summary":"Vector extension for Postgres"}],
"relationships":[
	{"source":"Alice","target":"Retrieval Project","kind":"WORKS_ON","fact":"Alice leads the retrieval project"},
	{"source":"Retrieval Project","target":"pgvector","kind":"USES","fact":"The retrieval project stores vectors in pgvector"}]}`

func newGraph(replies ...string) *Memory {
	return NewMemory(embeddings.NewDeterministic(64, 0), llm.NewScripted(replies...), "test-model")
}

func ingest(t *testing.T, m *Memory, episode string) {
	t.Helper()
	require.NoError(t, m.IngestEpisode(context.Background(), episode, "meeting notes", EpisodeMeta{SourceKind: "meeting_note"}))
}

func TestIngestMergesOnNormalizedName(t *testing.T) {
	m := newGraph(episodePayload,
		`{"entities":[{"name":"alice","type":"Person","summary":"Updated summary"}],"relationships":[]}`)
	ingest(t, m, "ep-1")
	ingest(t, m, "ep-2")

	h, err := m.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), h.EntityCount, "re-ingesting alice must merge, not duplicate")

	hits, err := m.EntitySearch(context.Background(), "Alice", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestIngestAttachesEpisodeToRelationships(t *testing.T) {
	m := newGraph(episodePayload, episodePayload)
	ingest(t, m, "ep-1")
	ingest(t, m, "ep-2")

	hits, err := m.FactSearch(context.Background(), "retrieval project", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		if strings.Contains(h.Relationship.Fact, "leads") {
			assert.ElementsMatch(t, []string{"ep-1", "ep-2"}, h.Relationship.Episodes)
		}
	}
}

func TestEntitySearchFallbackSubstring(t *testing.T) {
	m := newGraph(episodePayload)
	ingest(t, m, "ep-1")
	m.VectorIndices = false

	hits, err := m.EntitySearch(context.Background(), "ALICE", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Alice", hits[0].Entity.Name)

	h, err := m.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, h.VectorIndicesPresent)
}

func TestNeighborsBoundedTraversal(t *testing.T) {
	m := newGraph(episodePayload)
	ingest(t, m, "ep-1")

	hits, err := m.EntitySearch(context.Background(), "Alice", 1)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	alice := hits[0].Entity

	one, err := m.Neighbors(context.Background(), alice.UUID, 1)
	require.NoError(t, err)
	assert.Len(t, one.Entities, 1) // only the project at depth 1

	two, err := m.Neighbors(context.Background(), alice.UUID, 2)
	require.NoError(t, err)
	assert.Len(t, two.Entities, 2) // project and pgvector

	capped, err := m.Neighbors(context.Background(), alice.UUID, 9)
	require.NoError(t, err)
	assert.Len(t, capped.Entities, 2, "depth caps at 3")
}

func TestHealthCoverage(t *testing.T) {
	m := newGraph(episodePayload)
	ingest(t, m, "ep-1")
	h, err := m.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, h.NameEmbeddingCoverage, 1e-9)
	assert.InDelta(t, 1.0, h.FactEmbeddingCoverage, 1e-9)
	assert.True(t, h.VectorIndicesPresent)
}

func TestExtractionParsesFencedJSON(t *testing.T) {
	provider := llm.NewScripted("```json\n" + episodePayload + "\n```")
	ex, err := extractEpisode(context.Background(), provider, "m", "text")
	require.NoError(t, err)
	assert.Len(t, ex.Entities, 3)
	assert.Len(t, ex.Relationships, 2)
}

func TestSplitForExtraction(t *testing.T) {
	small := splitForExtraction("short text")
	assert.Len(t, small, 1)

	big := strings.Repeat(strings.Repeat("p", 2000)+"\n\n", 10)
	parts := splitForExtraction(big)
	assert.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), maxExtractionInput+2)
	}
}
