package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicStable(t *testing.T) {
	e := NewDeterministic(64, 0)
	a, err := e.Embed(context.Background(), []string{"hybrid retrieval"})
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), []string{"hybrid retrieval"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a[0], 64)
}

func TestDeterministicOrderPreserved(t *testing.T) {
	e := NewDeterministic(32, 7)
	texts := []string{"alpha", "beta", "gamma"}
	vecs, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	single, err := e.Embed(context.Background(), []string{"beta"})
	require.NoError(t, err)
	assert.Equal(t, single[0], vecs[1])
}

func TestDeterministicNormalized(t *testing.T) {
	e := NewDeterministic(64, 0)
	vecs, err := e.Embed(context.Background(), []string{"some nontrivial text"})
	require.NoError(t, err)
	var sum float64
	for _, x := range vecs[0] {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestSplitRespectsTokenBudget(t *testing.T) {
	e := &openAIEmbedder{model: "text-embedding-3-small"}
	// nil encoder falls back to the chars/4 heuristic
	long := make([]byte, batchTokenLimit*4)
	for i := range long {
		long[i] = 'a'
	}
	batches := e.split([]string{string(long), "tail"})
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"tail"}, batches[1])
}
