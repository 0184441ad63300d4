package rerank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/rag/vectorstore"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestReranker() *Reranker {
	r := New([4]float64{0.5, 0.2, 0.3, 0.0})
	r.Now = func() time.Time { return now }
	return r
}

func TestYoungVerifiedBeatsStaleHigherBase(t *testing.T) {
	// default weights 0.5/0.2/0.3/0.0 with cross disabled: the candidate with
	// the lower base score but fresh indexed_at and verified=true must win
	candidates := []vectorstore.Result{
		{ID: "old", Score: 0.8, Meta: vectorstore.Metadata{IndexedAt: now.Add(-90 * 24 * time.Hour)}},
		{ID: "young", Score: 0.7, Meta: vectorstore.Metadata{IndexedAt: now.Add(-24 * time.Hour), Verified: true}},
	}
	out := newTestReranker().Rerank(context.Background(), "q", candidates)
	require.Len(t, out, 2)
	assert.Equal(t, "young", out[0].ID)
}

func TestDeterministicWithoutOptionalScorers(t *testing.T) {
	candidates := []vectorstore.Result{
		{ID: "b", Score: 0.5, Meta: vectorstore.Metadata{SourceKind: "knowledge", IndexedAt: now}},
		{ID: "a", Score: 0.5, Meta: vectorstore.Metadata{SourceKind: "knowledge", IndexedAt: now}},
		{ID: "c", Score: 0.9, Meta: vectorstore.Metadata{SourceKind: "knowledge", IndexedAt: now}},
	}
	r := newTestReranker()
	first := r.Rerank(context.Background(), "q", candidates)
	second := r.Rerank(context.Background(), "q", candidates)
	assert.Equal(t, first, second)
	// equal-score tie breaks on id
	assert.Equal(t, "c", first[0].ID)
	assert.Equal(t, "a", first[1].ID)
	assert.Equal(t, "b", first[2].ID)
}

func TestTieBreakPrefersNewerIndexedAt(t *testing.T) {
	candidates := []vectorstore.Result{
		{ID: "a", Score: 0.5, Meta: vectorstore.Metadata{SourceKind: "knowledge", IndexedAt: now.Add(-time.Hour)}},
		{ID: "b", Score: 0.5, Meta: vectorstore.Metadata{SourceKind: "knowledge", IndexedAt: now}},
	}
	out := newTestReranker().Rerank(context.Background(), "q", candidates)
	assert.Equal(t, "b", out[0].ID)
}

func TestSourceQualityOrdering(t *testing.T) {
	candidates := []vectorstore.Result{
		{ID: "web", Score: 0.5, Meta: vectorstore.Metadata{SourceKind: "website", IndexedAt: now}},
		{ID: "know", Score: 0.5, Meta: vectorstore.Metadata{SourceKind: "knowledge", IndexedAt: now}},
	}
	out := newTestReranker().Rerank(context.Background(), "q", candidates)
	assert.Equal(t, "know", out[0].ID)
}

type fixedCross struct{ scores []float64 }

func (f fixedCross) Score(_ context.Context, _ string, _ []string) ([]float64, error) {
	return f.scores, nil
}

func TestCrossEncoderWeightApplies(t *testing.T) {
	r := newTestReranker()
	r.Cross = fixedCross{scores: []float64{0.0, 1.0}}
	candidates := []vectorstore.Result{
		{ID: "a", Score: 0.6, Meta: vectorstore.Metadata{SourceKind: "knowledge", IndexedAt: now}},
		{ID: "b", Score: 0.55, Meta: vectorstore.Metadata{SourceKind: "knowledge", IndexedAt: now}},
	}
	out := r.Rerank(context.Background(), "q", candidates)
	assert.Equal(t, "b", out[0].ID, "cross score 1.0 at weight 0.3 outweighs the base gap")
}

func TestRRFCombinesLists(t *testing.T) {
	a := []vectorstore.Result{{ID: "x"}, {ID: "y"}}
	b := []vectorstore.Result{{ID: "y"}, {ID: "z"}}
	out := RRF([][]vectorstore.Result{a, b}, 60)
	require.Len(t, out, 3)
	assert.Equal(t, "y", out[0].ID)
	assert.InDelta(t, 1.0/62+1.0/61, out[0].Score, 1e-12)
}

func TestRerankScoresNonIncreasing(t *testing.T) {
	candidates := []vectorstore.Result{
		{ID: "a", Score: 0.1, Meta: vectorstore.Metadata{SourceKind: "website", IndexedAt: now.Add(-300 * 24 * time.Hour)}},
		{ID: "b", Score: 0.9, Meta: vectorstore.Metadata{SourceKind: "knowledge", IndexedAt: now, Verified: true}},
		{ID: "c", Score: 0.4, Meta: vectorstore.Metadata{SourceKind: "conversation", IndexedAt: now.Add(-10 * 24 * time.Hour)}},
	}
	out := newTestReranker().Rerank(context.Background(), "q", candidates)
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i].Score, out[i-1].Score)
	}
}
