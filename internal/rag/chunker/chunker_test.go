package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/llm"
)

func meta() DocumentMeta {
	return DocumentMeta{ID: "doc-1", SourceKind: "knowledge", Title: "Retrieval Notes", URI: "notes/retrieval.md"}
}

func TestChunkShortBodySingleChunk(t *testing.T) {
	c := New(HeaderTemplate, nil, "")
	out, err := c.Chunk(context.Background(), "short body", Knowledge, meta())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].Ordinal)
	assert.Equal(t, 1, out[0].Total)
	assert.Equal(t, "short body", out[0].Body)
	assert.False(t, out[0].HasContext)
}

func TestChunkBodyEqualToSizeSingleChunk(t *testing.T) {
	body := strings.Repeat("a", Knowledge.ChunkSize)
	c := New(HeaderTemplate, nil, "")
	out, err := c.Chunk(context.Background(), body, Knowledge, meta())
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestChunkIDsAndOrdinals(t *testing.T) {
	body := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 120)
	c := New(HeaderTemplate, nil, "")
	out, err := c.Chunk(context.Background(), body, Conversations, meta2("conversation"))
	require.NoError(t, err)
	require.Greater(t, len(out), 1)
	for i, ch := range out {
		assert.Equal(t, i, ch.Ordinal)
		assert.Equal(t, len(out), ch.Total)
		assert.True(t, strings.HasPrefix(ch.ID, "conversation::"), ch.ID)
		assert.Contains(t, ch.ID, "::chunk_")
		// invariant: 0 <= ordinal < total
		assert.GreaterOrEqual(t, ch.Ordinal, 0)
		assert.Less(t, ch.Ordinal, ch.Total)
	}
}

func TestChunkNeverCutsMidWord(t *testing.T) {
	body := strings.Repeat("boundary preserving words everywhere ", 100)
	c := New(HeaderTemplate, nil, "")
	out, err := c.Chunk(context.Background(), body, Conversations, meta())
	require.NoError(t, err)
	for _, ch := range out {
		for _, w := range strings.Fields(ch.Body) {
			assert.Contains(t, []string{"boundary", "preserving", "words", "everywhere"}, w)
		}
	}
}

func TestTemplateHeaderDeterministic(t *testing.T) {
	c := New(HeaderTemplate, nil, "")
	a, err := c.Chunk(context.Background(), "body text here", Knowledge, meta())
	require.NoError(t, err)
	b, err := c.Chunk(context.Background(), "body text here", Knowledge, meta())
	require.NoError(t, err)
	assert.Equal(t, a[0].ContextHeader, b[0].ContextHeader)
	assert.Contains(t, a[0].ContextHeader, "Retrieval Notes")
	assert.Contains(t, a[0].EmbeddableText(), "body text here")
}

func TestLLMHeaderCachedPerDocumentAndOrdinal(t *testing.T) {
	provider := llm.NewScripted("Situates the chunk.", "Should not be needed.")
	c := New(HeaderLLM, provider, "test-model")

	out, err := c.Chunk(context.Background(), "needs an llm header", Knowledge, meta())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].HasContext)
	assert.Equal(t, "Situates the chunk.", out[0].ContextHeader)

	// second chunking of the same document hits the header cache
	out2, err := c.Chunk(context.Background(), "needs an llm header", Knowledge, meta())
	require.NoError(t, err)
	assert.Equal(t, out[0].ContextHeader, out2[0].ContextHeader)
	assert.Equal(t, 1, provider.Calls())
}

func TestLLMHeaderFallsBackToTemplate(t *testing.T) {
	provider := llm.NewScripted() // empty queue -> provider unavailable
	c := New(HeaderLLM, provider, "test-model")
	out, err := c.Chunk(context.Background(), "fallback body", Knowledge, meta())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].HasContext)
	assert.Contains(t, out[0].ContextHeader, "part 1 of 1")
}

func meta2(kind string) DocumentMeta {
	m := meta()
	m.SourceKind = kind
	return m
}
