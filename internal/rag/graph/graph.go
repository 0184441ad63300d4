// Package graph stores entities and typed relationships with name- and
// fact-level vector indices, degrading to substring matching when the
// indices are unavailable.
package graph

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"conductor/internal/fault"
	"conductor/internal/llm"
)

// Recognized entity types.
var EntityTypes = []string{
	"Person", "Project", "Technology", "Organization",
	"Topic", "Date", "Email", "Document",
}

// Index names required for vector search, cosine similarity, dimension 1536.
const (
	EntityNameIndex       = "entity_name_embedding_index"
	RelationshipFactIndex = "relationship_fact_embedding_index"
)

// Entity is a graph node. Uniqueness is enforced by the ingest step, which
// merges on the normalized name, not by schema.
type Entity struct {
	UUID          string
	Name          string
	Type          string
	Summary       string
	NameEmbedding []float32
	CreatedAt     time.Time
}

// Relationship is a typed edge carrying the fact that produced it. Episodes
// reference documents by uuid only; a relationship may become invalid but is
// never physically deleted.
type Relationship struct {
	UUID          string
	SourceUUID    string
	TargetUUID    string
	Kind          string
	Fact          string
	FactEmbedding []float32
	Episodes      []string
	ValidFrom     time.Time
	ValidTo       *time.Time
}

// EntityHit and FactHit are scored search results.
type EntityHit struct {
	Entity Entity
	Score  float64
}

type FactHit struct {
	Relationship Relationship
	Score        float64
}

// Subgraph is the bounded neighborhood of an entity.
type Subgraph struct {
	Entities      []Entity
	Relationships []Relationship
}

// Health reports store counts and index availability.
type Health struct {
	EntityCount       int64
	RelationshipCount int64
	// NameEmbeddingCoverage and FactEmbeddingCoverage are the fractions of
	// entities with a name embedding and relationships with a fact embedding.
	NameEmbeddingCoverage float64
	FactEmbeddingCoverage float64
	VectorIndicesPresent  bool
}

// EpisodeMeta tags an ingested episode.
type EpisodeMeta struct {
	SourceKind string
	Title      string
	OccurredAt time.Time
}

// Store is the graph contract. All methods are suspension points.
type Store interface {
	// IngestEpisode extracts entities and relationships from text, merges
	// them by normalized name, and attaches the episode uuid to any
	// relationships it produced.
	IngestEpisode(ctx context.Context, episodeUUID, text string, meta EpisodeMeta) error
	// EntitySearch ranks over name embeddings, falling back to substring
	// matching over name and summary when the index is unavailable.
	EntitySearch(ctx context.Context, query string, k int) ([]EntityHit, error)
	// FactSearch ranks over fact embeddings with the same fallback.
	FactSearch(ctx context.Context, query string, k int) ([]FactHit, error)
	// Neighbors traverses up to depth hops (capped at 3).
	Neighbors(ctx context.Context, entityUUID string, depth int) (Subgraph, error)
	HealthCheck(ctx context.Context) (Health, error)
}

// NormalizeName is the merge key for entities.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// MaxDepth bounds Neighbors traversal.
const MaxDepth = 3

// extraction is the JSON envelope the extraction prompt asks for.
type extraction struct {
	Entities []struct {
		Name    string `json:"name"`
		Type    string `json:"type"`
		Summary string `json:"summary"`
	} `json:"entities"`
	Relationships []struct {
		Source string `json:"source"`
		Target string `json:"target"`
		Kind   string `json:"kind"`
		Fact   string `json:"fact"`
	} `json:"relationships"`
}

const extractionPrompt = `Extract entities and relationships from the text below.
Entity types: Person, Project, Technology, Organization, Topic, Date, Email, Document.
Reply with JSON only:
{"entities":[{"name":"...","type":"...","summary":"..."}],"relationships":[{"source":"...","target":"...","kind":"...","fact":"..."}]}

Text:
`

// extractEpisode runs the extraction prompt and parses the envelope.
func extractEpisode(ctx context.Context, provider llm.Provider, model, text string) (extraction, error) {
	var ex extraction
	if provider == nil {
		return ex, fault.ErrProviderUnavailable
	}
	resp, err := provider.Chat(ctx, []llm.Message{llm.User(extractionPrompt + text)}, nil, model)
	if err != nil {
		return ex, err
	}
	raw := strings.TrimSpace(resp.Content)
	// tolerate fenced replies
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &ex); err != nil {
		return ex, fault.Input("extraction payload: %v", err)
	}
	return ex, nil
}
