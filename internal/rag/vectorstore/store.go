// Package vectorstore is the multi-collection persistent store of chunk rows
// with vector, keyword, and hybrid search.
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"conductor/internal/fault"
	"conductor/internal/rag/chunker"
)

// Metadata is the tagged record interpreted by the store. It is flattened to
// a map only at the persistence boundary.
type Metadata struct {
	SourceKind     string    `json:"source_kind,omitempty"`
	DocumentID     string    `json:"document_id,omitempty"`
	Ordinal        int       `json:"ordinal"`
	Total          int       `json:"total"`
	HasContext     bool      `json:"has_context,omitempty"`
	OwnerID        string    `json:"owner_id,omitempty"`
	IndexedAt      time.Time `json:"indexed_at,omitempty"`
	URL            string    `json:"url,omitempty"`
	FilePath       string    `json:"file_path,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Title          string    `json:"title,omitempty"`
	Verified       bool      `json:"verified,omitempty"`
}

// Row is one stored chunk. EmbedText is what gets embedded when Embedding is
// absent; it is never persisted (the stored content stays the raw Body).
type Row struct {
	ID        string
	Body      string
	EmbedText string
	Embedding []float32
	Meta      Metadata
}

// Result is a search hit. Scores within one result list are monotonically
// non-increasing.
type Result struct {
	ID    string
	Score float64
	Body  string
	Meta  Metadata
}

// Filter narrows searches and deletes. Zero fields match everything.
type Filter struct {
	SourceKind     string
	DocumentID     string
	OwnerID        string
	ConversationID string
}

func (f Filter) matches(m Metadata) bool {
	if f.SourceKind != "" && f.SourceKind != m.SourceKind {
		return false
	}
	if f.DocumentID != "" && f.DocumentID != m.DocumentID {
		return false
	}
	if f.OwnerID != "" && f.OwnerID != m.OwnerID {
		return false
	}
	if f.ConversationID != "" && f.ConversationID != m.ConversationID {
		return false
	}
	return true
}

// Key is a stable serialization used in cache keys.
func (f Filter) Key() string {
	return strings.Join([]string{f.SourceKind, f.DocumentID, f.OwnerID, f.ConversationID}, "\x1f")
}

// Store is the per-collection contract. All methods are suspension points.
// Implementations report unreachable backends as fault.ErrStoreUnavailable.
type Store interface {
	// Upsert writes rows, assigning embeddings where absent. Re-ingesting an
	// id updates the row. A partial batch failure reports the failing subset
	// and leaves succeeded rows durable.
	Upsert(ctx context.Context, collection string, rows []Row) error
	// VectorSearch ranks by cosine similarity to the query embedding.
	VectorSearch(ctx context.Context, collection string, query []float32, k int, f Filter) ([]Result, error)
	// KeywordSearch ranks by full-text relevance; falls back to vector search
	// when the keyword index is unavailable, logging a single warning.
	KeywordSearch(ctx context.Context, collection, query string, k int, f Filter) ([]Result, error)
	// HybridSearch fuses vector and keyword lists by weighted RRF.
	HybridSearch(ctx context.Context, collection, query string, k int, vecWeight, kwWeight float64) ([]Result, error)
	// Delete removes matching rows and reports how many went away.
	Delete(ctx context.Context, collection string, f Filter) (int64, error)
}

// BatchError reports the subset of an upsert batch that failed. Rows outside
// Failed are durable.
type BatchError struct {
	Failed []string
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("upsert failed for %d rows: %v", len(e.Failed), e.Err)
}

func (e *BatchError) Unwrap() error { return fault.ErrStoreUnavailable }

// BuildRows converts chunks into rows, stamping document metadata and the
// index time.
func BuildRows(chunks []chunker.Chunk, meta chunker.DocumentMeta, now time.Time) []Row {
	rows := make([]Row, 0, len(chunks))
	for _, ch := range chunks {
		rows = append(rows, Row{
			ID:        ch.ID,
			Body:      ch.Body,
			EmbedText: ch.EmbeddableText(),
			Meta: Metadata{
				SourceKind: ch.SourceKind,
				DocumentID: ch.DocumentID,
				Ordinal:    ch.Ordinal,
				Total:      ch.Total,
				HasContext: ch.HasContext,
				OwnerID:    meta.OwnerID,
				IndexedAt:  now,
				URL:        meta.URI,
				Title:      meta.Title,
			},
		})
	}
	return rows
}

// FuseRRF combines a vector and a keyword result list by weighted Reciprocal
// Rank Fusion: score = Σ w_l / (k + rank_l). Ranks are 1-based; an absent
// list contributes nothing. Ties break on id.
func FuseRRF(vec, kw []Result, k, rrfK int, vecWeight, kwWeight float64) []Result {
	if rrfK <= 0 {
		rrfK = 60
	}
	type fused struct {
		res   Result
		score float64
	}
	byID := map[string]*fused{}
	order := []string{}
	add := func(list []Result, w float64) {
		for i, r := range list {
			f, ok := byID[r.ID]
			if !ok {
				f = &fused{res: r}
				byID[r.ID] = f
				order = append(order, r.ID)
			}
			f.score += w / float64(rrfK+i+1)
		}
	}
	add(vec, vecWeight)
	add(kw, kwWeight)

	out := make([]Result, 0, len(order))
	for _, id := range order {
		f := byID[id]
		f.res.Score = f.score
		out = append(out, f.res)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
