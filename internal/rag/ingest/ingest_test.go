package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/embeddings"
	"conductor/internal/llm"
	"conductor/internal/rag/chunker"
	"conductor/internal/rag/graph"
	"conductor/internal/rag/vectorstore"
)

func newIngestor(t *testing.T) (*Ingestor, *vectorstore.Memory, *graph.Memory) {
	t.Helper()
	det := embeddings.NewDeterministic(64, 0)
	mem := vectorstore.NewMemory(det)
	g := graph.NewMemory(det, llm.NewScripted(`{"entities":[{"name":"Conductor","type":"Project","summary":"runtime"}],"relationships":[]}`), "m")
	return &Ingestor{
		Chunker: chunker.New(chunker.HeaderTemplate, nil, ""),
		Store:   mem,
		Graph:   g,
		Now:     func() time.Time { return time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC) },
	}, mem, g
}

func doc(kind, body string) Document {
	return Document{
		Meta: chunker.DocumentMeta{ID: "doc-1", SourceKind: kind, Title: "Notes", URI: "notes.md"},
		Body: body,
	}
}

func TestIngestWritesChunksAndEpisode(t *testing.T) {
	ing, mem, g := newIngestor(t)
	body := strings.Repeat("Conductor routes queries to sub-agents. ", 60)
	chunks, err := ing.Ingest(context.Background(), doc("knowledge", body))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, len(chunks), mem.Len("knowledge"))
	for _, c := range chunks {
		assert.True(t, strings.HasPrefix(c.ID, "knowledge::"))
	}
	h, err := g.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.EntityCount)
}

func TestIngestCollectionFromSourceKind(t *testing.T) {
	ing, mem, _ := newIngestor(t)
	_, err := ing.Ingest(context.Background(), doc("conversation", "a short exchange"))
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Len("conversations"))
}

func TestReingestSameDocumentIsIdempotent(t *testing.T) {
	ing, mem, _ := newIngestor(t)
	body := strings.Repeat("stable content ", 40)
	_, err := ing.Ingest(context.Background(), doc("knowledge", body))
	require.NoError(t, err)
	before := mem.Len("knowledge")
	_, err = ing.Ingest(context.Background(), doc("knowledge", body))
	require.NoError(t, err)
	assert.Equal(t, before, mem.Len("knowledge"))
}

func TestDeleteCascades(t *testing.T) {
	ing, mem, _ := newIngestor(t)
	_, err := ing.Ingest(context.Background(), doc("knowledge", strings.Repeat("to be removed ", 40)))
	require.NoError(t, err)
	n, err := ing.Delete(context.Background(), "knowledge", "doc-1")
	require.NoError(t, err)
	assert.Greater(t, n, int64(0))
	assert.Equal(t, 0, mem.Len("knowledge"))
}

func TestIngestRejectsUnknownCollection(t *testing.T) {
	ing, _, _ := newIngestor(t)
	d := doc("knowledge", "body")
	d.Collection = "nope"
	_, err := ing.Ingest(context.Background(), d)
	require.Error(t, err)
}
