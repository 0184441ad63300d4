package vectorstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"conductor/internal/embeddings"
)

// Memory is an in-process Store used by tests and offline runs. Search
// semantics mirror the Postgres implementation: cosine similarity for
// vectors, term-overlap ranking for keywords, weighted RRF for hybrid.
type Memory struct {
	mu       sync.RWMutex
	rows     map[string]map[string]Row // collection -> id -> row
	embedder embeddings.Provider

	OnWrite func(collection string)
}

func NewMemory(embedder embeddings.Provider) *Memory {
	return &Memory{rows: map[string]map[string]Row{}, embedder: embedder}
}

// Len reports the row count of a collection.
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows[collection])
}

func (m *Memory) Upsert(ctx context.Context, collection string, rows []Row) error {
	for i := range rows {
		if len(rows[i].Embedding) == 0 {
			text := rows[i].EmbedText
			if text == "" {
				text = rows[i].Body
			}
			vecs, err := m.embedder.Embed(ctx, []string{text})
			if err != nil {
				return err
			}
			rows[i].Embedding = vecs[0]
		}
	}
	m.mu.Lock()
	if m.rows[collection] == nil {
		m.rows[collection] = map[string]Row{}
	}
	for _, r := range rows {
		m.rows[collection][r.ID] = r
	}
	m.mu.Unlock()
	if m.OnWrite != nil {
		m.OnWrite(collection)
	}
	return nil
}

func (m *Memory) VectorSearch(ctx context.Context, collection string, query []float32, k int, f Filter) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Result
	for _, r := range m.rows[collection] {
		if !f.matches(r.Meta) {
			continue
		}
		out = append(out, Result{ID: r.ID, Score: cosine(query, r.Embedding), Body: r.Body, Meta: r.Meta})
	}
	sortResults(out)
	return clip(out, k), nil
}

func (m *Memory) KeywordSearch(ctx context.Context, collection, query string, k int, f Filter) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Result
	for _, r := range m.rows[collection] {
		if !f.matches(r.Meta) {
			continue
		}
		body := strings.ToLower(r.Body)
		score := 0.0
		for _, t := range terms {
			if strings.Contains(body, t) {
				score++
			}
		}
		if score > 0 {
			out = append(out, Result{ID: r.ID, Score: score / float64(len(terms)), Body: r.Body, Meta: r.Meta})
		}
	}
	sortResults(out)
	return clip(out, k), nil
}

func (m *Memory) HybridSearch(ctx context.Context, collection, query string, k int, vecWeight, kwWeight float64) ([]Result, error) {
	vecs, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	vec, err := m.VectorSearch(ctx, collection, vecs[0], k, Filter{})
	if err != nil {
		return nil, err
	}
	kw, err := m.KeywordSearch(ctx, collection, query, k, Filter{})
	if err != nil {
		return nil, err
	}
	return FuseRRF(vec, kw, k, 0, vecWeight, kwWeight), nil
}

func (m *Memory) Delete(ctx context.Context, collection string, f Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	var n int64
	for id, r := range m.rows[collection] {
		if f.matches(r.Meta) {
			delete(m.rows[collection], id)
			n++
		}
	}
	m.mu.Unlock()
	if m.OnWrite != nil {
		m.OnWrite(collection)
	}
	return n, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func sortResults(out []Result) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
}

func clip(out []Result, k int) []Result {
	if k > 0 && len(out) > k {
		return out[:k]
	}
	return out
}
