// Package rerank orders retrieval candidates by a weighted blend of base
// relevance, metadata-derived signals, and optional model scores.
package rerank

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"conductor/internal/rag/vectorstore"
)

// recencyHalfLife is the exponential-decay half-life applied to indexed_at.
const recencyHalfLife = 30 * 24 * time.Hour

// verifiedBonus is added to the metadata score for verified rows.
const verifiedBonus = 0.1

// sourceQuality scores each source kind; unknown kinds score the website
// baseline.
var sourceQuality = map[string]float64{
	"website":      0.6,
	"conversation": 0.7,
	"knowledge":    0.9,
	"meeting_note": 0.8,
}

// CrossScorer is an optional cross-encoder. Scores come back in input order,
// scaled to [0,1].
type CrossScorer interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// JudgeScorer is an optional LLM-as-judge. Skipped by default.
type JudgeScorer interface {
	Judge(ctx context.Context, query string, docs []string) ([]float64, error)
}

// Reranker combines score components with configured weights. Weights sum to
// 1; when an optional scorer is absent its weight is renormalized across the
// remaining components so the final score stays in [0,1].
type Reranker struct {
	Weights [4]float64 // base, meta, cross, llm
	Cross   CrossScorer
	Judge   JudgeScorer

	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

func New(weights [4]float64) *Reranker {
	return &Reranker{Weights: weights, Now: time.Now}
}

// Rerank orders candidates by the composed score, descending. Ties break on
// higher indexed_at, then lexicographic id. With optional scorers disabled
// the result is fully deterministic.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []vectorstore.Result) []vectorstore.Result {
	if len(candidates) == 0 {
		return candidates
	}
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}

	cross := r.crossScores(ctx, query, candidates)
	judge := r.judgeScores(ctx, query, candidates)

	wBase, wMeta, wCross, wJudge := renormalize(r.Weights, cross != nil, judge != nil)

	maxBase := 0.0
	for _, c := range candidates {
		if c.Score > maxBase {
			maxBase = c.Score
		}
	}

	out := make([]vectorstore.Result, len(candidates))
	copy(out, candidates)
	scores := make(map[string]float64, len(out))
	for i, c := range out {
		base := 0.0
		if maxBase > 0 {
			base = clamp01(c.Score / maxBase)
		}
		score := wBase*base + wMeta*metaScore(c.Meta, now)
		if cross != nil {
			score += wCross * clamp01(cross[i])
		}
		if judge != nil {
			score += wJudge * clamp01(judge[i])
		}
		scores[c.ID] = score
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := scores[out[i].ID], scores[out[j].ID]
		if si != sj {
			return si > sj
		}
		if !out[i].Meta.IndexedAt.Equal(out[j].Meta.IndexedAt) {
			return out[i].Meta.IndexedAt.After(out[j].Meta.IndexedAt)
		}
		return out[i].ID < out[j].ID
	})
	for i := range out {
		out[i].Score = scores[out[i].ID]
	}
	return out
}

// metaScore averages recency and source quality, then applies the verified
// bonus, clamped to [0,1].
func metaScore(m vectorstore.Metadata, now time.Time) float64 {
	recency := 0.0
	if !m.IndexedAt.IsZero() {
		age := now.Sub(m.IndexedAt)
		if age < 0 {
			age = 0
		}
		recency = math.Exp(-math.Ln2 * age.Hours() / recencyHalfLife.Hours())
	}
	quality, ok := sourceQuality[m.SourceKind]
	if !ok {
		quality = sourceQuality["website"]
	}
	score := (recency + quality) / 2
	if m.Verified {
		score += verifiedBonus
	}
	return clamp01(score)
}

func (r *Reranker) crossScores(ctx context.Context, query string, candidates []vectorstore.Result) []float64 {
	if r.Cross == nil {
		return nil
	}
	scores, err := r.Cross.Score(ctx, query, bodies(candidates))
	if err != nil || len(scores) != len(candidates) {
		log.Warn().Err(err).Msg("cross_encoder_skipped")
		return nil
	}
	return scores
}

func (r *Reranker) judgeScores(ctx context.Context, query string, candidates []vectorstore.Result) []float64 {
	if r.Judge == nil {
		return nil
	}
	scores, err := r.Judge.Judge(ctx, query, bodies(candidates))
	if err != nil || len(scores) != len(candidates) {
		log.Warn().Err(err).Msg("llm_judge_skipped")
		return nil
	}
	return scores
}

// renormalize spreads the weight of absent components over the present ones.
func renormalize(w [4]float64, haveCross, haveJudge bool) (float64, float64, float64, float64) {
	wBase, wMeta, wCross, wJudge := w[0], w[1], w[2], w[3]
	if !haveCross {
		wCross = 0
	}
	if !haveJudge {
		wJudge = 0
	}
	sum := wBase + wMeta + wCross + wJudge
	if sum <= 0 {
		return 1, 0, 0, 0
	}
	return wBase / sum, wMeta / sum, wCross / sum, wJudge / sum
}

// RRF merges ranked lists: each item scores Σ 1/(k + rank) across the lists
// it appears in. Ties break on higher indexed_at, then id.
func RRF(lists [][]vectorstore.Result, k int) []vectorstore.Result {
	if k <= 0 {
		k = 60
	}
	scores := map[string]float64{}
	byID := map[string]vectorstore.Result{}
	for _, list := range lists {
		for rank, r := range list {
			scores[r.ID] += 1.0 / float64(k+rank+1)
			if _, ok := byID[r.ID]; !ok {
				byID[r.ID] = r
			}
		}
	}
	out := make([]vectorstore.Result, 0, len(byID))
	for id, r := range byID {
		r.Score = scores[id]
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Meta.IndexedAt.Equal(out[j].Meta.IndexedAt) {
			return out[i].Meta.IndexedAt.After(out[j].Meta.IndexedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func bodies(candidates []vectorstore.Result) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Body
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
