package graph

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"conductor/internal/embeddings"
	"conductor/internal/llm"
)

// Memory is an in-process Store used by tests and offline runs. Setting
// VectorIndices to false exercises the substring fallback path.
type Memory struct {
	mu            sync.RWMutex
	entities      map[string]*Entity // keyed by normalized name
	relationships map[string]*Relationship
	embedder      embeddings.Provider
	llm           llm.Provider
	model         string

	// VectorIndices mirrors whether vector search is available.
	VectorIndices bool

	fallbackOnce sync.Once
}

func NewMemory(embedder embeddings.Provider, provider llm.Provider, model string) *Memory {
	return &Memory{
		entities:      map[string]*Entity{},
		relationships: map[string]*Relationship{},
		embedder:      embedder,
		llm:           provider,
		model:         model,
		VectorIndices: true,
	}
}

func (m *Memory) IngestEpisode(ctx context.Context, episodeUUID, text string, _ EpisodeMeta) error {
	ex, err := extractEpisode(ctx, m.llm, m.model, text)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range ex.Entities {
		norm := NormalizeName(e.Name)
		cur, ok := m.entities[norm]
		if !ok {
			cur = &Entity{UUID: uuid.NewString(), Name: e.Name, CreatedAt: time.Now().UTC()}
			m.entities[norm] = cur
		}
		cur.Type = entityType(e.Type)
		cur.Summary = e.Summary
		if m.embedder != nil {
			if vecs, err := m.embedder.Embed(ctx, []string{e.Name}); err == nil {
				cur.NameEmbedding = vecs[0]
			}
		}
	}
	for _, r := range ex.Relationships {
		src, okS := m.entities[NormalizeName(r.Source)]
		dst, okD := m.entities[NormalizeName(r.Target)]
		if !okS || !okD {
			continue
		}
		key := src.UUID + "\x00" + dst.UUID + "\x00" + r.Kind + "\x00" + r.Fact
		cur, ok := m.relationships[key]
		if !ok {
			cur = &Relationship{
				UUID:       uuid.NewString(),
				SourceUUID: src.UUID,
				TargetUUID: dst.UUID,
				Kind:       r.Kind,
				Fact:       r.Fact,
				ValidFrom:  time.Now().UTC(),
			}
			m.relationships[key] = cur
		}
		attached := false
		for _, ep := range cur.Episodes {
			if ep == episodeUUID {
				attached = true
				break
			}
		}
		if !attached {
			cur.Episodes = append(cur.Episodes, episodeUUID)
		}
		if m.embedder != nil {
			if vecs, err := m.embedder.Embed(ctx, []string{r.Fact}); err == nil {
				cur.FactEmbedding = vecs[0]
			}
		}
	}
	return nil
}

func (m *Memory) EntitySearch(ctx context.Context, query string, k int) ([]EntityHit, error) {
	if !m.VectorIndices {
		m.fallbackOnce.Do(func() {
			log.Warn().Msg("graph_vector_index_unavailable_falling_back_to_substring")
		})
		return m.entitySubstring(query, k), nil
	}
	vecs, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []EntityHit
	for _, e := range m.entities {
		if len(e.NameEmbedding) == 0 {
			continue
		}
		hits = append(hits, EntityHit{Entity: *e, Score: cosine32(vecs[0], e.NameEmbedding)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entity.UUID < hits[j].Entity.UUID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *Memory) FactSearch(ctx context.Context, query string, k int) ([]FactHit, error) {
	if !m.VectorIndices {
		m.fallbackOnce.Do(func() {
			log.Warn().Msg("graph_vector_index_unavailable_falling_back_to_substring")
		})
		return m.factSubstring(query, k), nil
	}
	vecs, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []FactHit
	for _, r := range m.relationships {
		if len(r.FactEmbedding) == 0 {
			continue
		}
		hits = append(hits, FactHit{Relationship: *r, Score: cosine32(vecs[0], r.FactEmbedding)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Relationship.UUID < hits[j].Relationship.UUID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *Memory) Neighbors(_ context.Context, entityUUID string, depth int) (Subgraph, error) {
	if depth <= 0 {
		depth = 1
	}
	if depth > MaxDepth {
		depth = MaxDepth
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	frontier := map[string]bool{entityUUID: true}
	visited := map[string]bool{entityUUID: true}
	out := Subgraph{}
	seenRel := map[string]bool{}
	for hop := 0; hop < depth; hop++ {
		next := map[string]bool{}
		for _, r := range m.relationships {
			var other string
			switch {
			case frontier[r.SourceUUID]:
				other = r.TargetUUID
			case frontier[r.TargetUUID]:
				other = r.SourceUUID
			default:
				continue
			}
			if !seenRel[r.UUID] {
				seenRel[r.UUID] = true
				out.Relationships = append(out.Relationships, *r)
			}
			if !visited[other] {
				visited[other] = true
				next[other] = true
				if e := m.byUUID(other); e != nil {
					out.Entities = append(out.Entities, *e)
				}
			}
		}
		frontier = next
	}
	sort.Slice(out.Entities, func(i, j int) bool { return out.Entities[i].UUID < out.Entities[j].UUID })
	sort.Slice(out.Relationships, func(i, j int) bool { return out.Relationships[i].UUID < out.Relationships[j].UUID })
	return out, nil
}

func (m *Memory) HealthCheck(context.Context) (Health, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := Health{
		EntityCount:          int64(len(m.entities)),
		RelationshipCount:    int64(len(m.relationships)),
		VectorIndicesPresent: m.VectorIndices,
	}
	var namesEmbedded, factsEmbedded int
	for _, e := range m.entities {
		if len(e.NameEmbedding) > 0 {
			namesEmbedded++
		}
	}
	for _, r := range m.relationships {
		if len(r.FactEmbedding) > 0 {
			factsEmbedded++
		}
	}
	if h.EntityCount > 0 {
		h.NameEmbeddingCoverage = float64(namesEmbedded) / float64(h.EntityCount)
	}
	if h.RelationshipCount > 0 {
		h.FactEmbeddingCoverage = float64(factsEmbedded) / float64(h.RelationshipCount)
	}
	return h, nil
}

func (m *Memory) entitySubstring(query string, k int) []EntityHit {
	q := strings.ToLower(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []EntityHit
	for _, e := range m.entities {
		if strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.Summary), q) {
			hits = append(hits, EntityHit{Entity: *e, Score: 1})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Entity.UUID < hits[j].Entity.UUID })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (m *Memory) factSubstring(query string, k int) []FactHit {
	q := strings.ToLower(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []FactHit
	for _, r := range m.relationships {
		if strings.Contains(strings.ToLower(r.Fact), q) {
			hits = append(hits, FactHit{Relationship: *r, Score: 1})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Relationship.UUID < hits[j].Relationship.UUID })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (m *Memory) byUUID(id string) *Entity {
	for _, e := range m.entities {
		if e.UUID == id {
			return e
		}
	}
	return nil
}

func cosine32(a, b []float32) float64 {
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
