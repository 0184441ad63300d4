package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog/log"

	"conductor/internal/config"
	"conductor/internal/embeddings"
	"conductor/internal/fault"
	"conductor/internal/llm"
)

// Episodes past this size are split on paragraph boundaries before the
// extraction prompt sees them.
const maxExtractionInput = 8 * 1024

// Neo4jStore implements Store on Neo4j. Relationships use a single RELATES
// type with a kind property so the fact vector index covers all of them.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	embedder embeddings.Provider
	llm      llm.Provider
	model    string

	fallbackOnce sync.Once
	mu           sync.Mutex
	vectorBroken bool
}

// ConnectNeo4j opens the driver and verifies connectivity.
func ConnectNeo4j(ctx context.Context, cfg config.GraphConfig, embedder embeddings.Provider, provider llm.Provider, model string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w: %w", fault.ErrStoreUnavailable, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connect: %w: %w", fault.ErrStoreUnavailable, err)
	}
	return &Neo4jStore{driver: driver, embedder: embedder, llm: provider, model: model}, nil
}

func (s *Neo4jStore) Close(ctx context.Context) error { return s.driver.Close(ctx) }

// EnsureIndexes creates the uuid constraint and both vector indices.
func (s *Neo4jStore) EnsureIndexes(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT entity_uuid IF NOT EXISTS FOR (e:Entity) REQUIRE e.uuid IS UNIQUE`,
		fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
			FOR (e:Entity) ON (e.name_embedding)
			OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: 1536, `+"`vector.similarity_function`"+`: 'cosine'}}`, EntityNameIndex),
		fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
			FOR ()-[r:RELATES]-() ON (r.fact_embedding)
			OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: 1536, `+"`vector.similarity_function`"+`: 'cosine'}}`, RelationshipFactIndex),
	}
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure graph indexes: %w: %w", fault.ErrSchema, err)
		}
	}
	return nil
}

func (s *Neo4jStore) IngestEpisode(ctx context.Context, episodeUUID, text string, meta EpisodeMeta) error {
	var merged extraction
	for _, part := range splitForExtraction(text) {
		ex, err := extractEpisode(ctx, s.llm, s.model, part)
		if err != nil {
			return fmt.Errorf("episode %s: %w", episodeUUID, err)
		}
		merged.Entities = append(merged.Entities, ex.Entities...)
		merged.Relationships = append(merged.Relationships, ex.Relationships...)
	}
	if len(merged.Entities) == 0 {
		return nil
	}

	names := make([]string, len(merged.Entities))
	for i, e := range merged.Entities {
		names[i] = e.Name
	}
	nameVecs, err := s.embedder.Embed(ctx, names)
	if err != nil {
		return err
	}
	var factVecs [][]float32
	if len(merged.Relationships) > 0 {
		facts := make([]string, len(merged.Relationships))
		for i, r := range merged.Relationships {
			facts[i] = r.Fact
		}
		if factVecs, err = s.embedder.Embed(ctx, facts); err != nil {
			return err
		}
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for i, e := range merged.Entities {
			_, err := tx.Run(ctx, `
				MERGE (e:Entity {normalized_name: $norm})
				ON CREATE SET e.uuid = $uuid, e.name = $name, e.created_at = $created
				SET e.type = $type, e.summary = $summary, e.name_embedding = $embedding`,
				map[string]any{
					"norm":      NormalizeName(e.Name),
					"uuid":      uuid.NewString(),
					"name":      e.Name,
					"type":      entityType(e.Type),
					"summary":   e.Summary,
					"created":   time.Now().UTC().Format(time.RFC3339),
					"embedding": toFloat64(nameVecs[i]),
				})
			if err != nil {
				return nil, err
			}
		}
		for i, r := range merged.Relationships {
			_, err := tx.Run(ctx, `
				MATCH (a:Entity {normalized_name: $src}), (b:Entity {normalized_name: $dst})
				MERGE (a)-[rel:RELATES {kind: $kind, fact: $fact}]->(b)
				ON CREATE SET rel.uuid = $uuid, rel.valid_from = $from, rel.episodes = [$episode]
				ON MATCH SET rel.episodes = CASE
					WHEN $episode IN rel.episodes THEN rel.episodes
					ELSE rel.episodes + $episode END
				SET rel.fact_embedding = $embedding`,
				map[string]any{
					"src":       NormalizeName(r.Source),
					"dst":       NormalizeName(r.Target),
					"kind":      r.Kind,
					"fact":      r.Fact,
					"uuid":      uuid.NewString(),
					"from":      time.Now().UTC().Format(time.RFC3339),
					"episode":   episodeUUID,
					"embedding": toFloat64(factVecs[i]),
				})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("ingest episode %s: %w: %w", episodeUUID, fault.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Neo4jStore) EntitySearch(ctx context.Context, query string, k int) ([]EntityHit, error) {
	vec, err := s.embedQuery(ctx, query)
	if err == nil {
		hits, qerr := s.entityVectorSearch(ctx, vec, k)
		if qerr == nil {
			return hits, nil
		}
		if !indexUnavailable(qerr) {
			return nil, fmt.Errorf("entity search: %w: %w", fault.ErrStoreUnavailable, qerr)
		}
		s.noteFallback(qerr)
	}
	return s.entitySubstringSearch(ctx, query, k)
}

func (s *Neo4jStore) FactSearch(ctx context.Context, query string, k int) ([]FactHit, error) {
	vec, err := s.embedQuery(ctx, query)
	if err == nil {
		hits, qerr := s.factVectorSearch(ctx, vec, k)
		if qerr == nil {
			return hits, nil
		}
		if !indexUnavailable(qerr) {
			return nil, fmt.Errorf("fact search: %w: %w", fault.ErrStoreUnavailable, qerr)
		}
		s.noteFallback(qerr)
	}
	return s.factSubstringSearch(ctx, query, k)
}

func (s *Neo4jStore) Neighbors(ctx context.Context, entityUUID string, depth int) (Subgraph, error) {
	if depth <= 0 {
		depth = 1
	}
	if depth > MaxDepth {
		depth = MaxDepth
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	// depth cannot be parameterized in a variable-length pattern; it is an
	// int bounded above, never user text
	query := fmt.Sprintf(`
		MATCH (a:Entity {uuid: $uuid})-[rels:RELATES*1..%d]-(b:Entity)
		RETURN DISTINCT b.uuid AS uuid, b.name AS name, b.type AS type, b.summary AS summary,
			[r IN rels | {uuid: r.uuid, kind: r.kind, fact: r.fact, episodes: r.episodes}] AS path_rels`, depth)

	out := Subgraph{}
	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"uuid": entityUUID})
		if err != nil {
			return nil, err
		}
		seenRel := map[string]bool{}
		for result.Next(ctx) {
			rec := result.Record()
			out.Entities = append(out.Entities, Entity{
				UUID:    stringValue(rec, "uuid"),
				Name:    stringValue(rec, "name"),
				Type:    stringValue(rec, "type"),
				Summary: stringValue(rec, "summary"),
			})
			if rels, ok := rec.Get("path_rels"); ok {
				for _, rv := range asList(rels) {
					m, ok := rv.(map[string]any)
					if !ok {
						continue
					}
					id, _ := m["uuid"].(string)
					if id == "" || seenRel[id] {
						continue
					}
					seenRel[id] = true
					rel := Relationship{UUID: id}
					rel.Kind, _ = m["kind"].(string)
					rel.Fact, _ = m["fact"].(string)
					for _, ep := range asList(m["episodes"]) {
						if sEp, ok := ep.(string); ok {
							rel.Episodes = append(rel.Episodes, sEp)
						}
					}
					out.Relationships = append(out.Relationships, rel)
				}
			}
		}
		return nil, result.Err()
	})
	if err != nil {
		return Subgraph{}, fmt.Errorf("neighbors of %s: %w: %w", entityUUID, fault.ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *Neo4jStore) HealthCheck(ctx context.Context) (Health, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	h := Health{}
	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity)
			RETURN count(e) AS total, count(e.name_embedding) AS embedded`, nil)
		if err != nil {
			return nil, err
		}
		if result.Next(ctx) {
			rec := result.Record()
			h.EntityCount = intValue(rec, "total")
			if h.EntityCount > 0 {
				h.NameEmbeddingCoverage = float64(intValue(rec, "embedded")) / float64(h.EntityCount)
			}
		}
		result, err = tx.Run(ctx, `
			MATCH ()-[r:RELATES]->()
			RETURN count(r) AS total, count(r.fact_embedding) AS embedded`, nil)
		if err != nil {
			return nil, err
		}
		if result.Next(ctx) {
			rec := result.Record()
			h.RelationshipCount = intValue(rec, "total")
			if h.RelationshipCount > 0 {
				h.FactEmbeddingCoverage = float64(intValue(rec, "embedded")) / float64(h.RelationshipCount)
			}
		}
		return nil, result.Err()
	})
	if err != nil {
		return Health{}, fmt.Errorf("graph health: %w: %w", fault.ErrStoreUnavailable, err)
	}

	// SHOW commands need their own implicit transaction
	result, err := session.Run(ctx, `SHOW VECTOR INDEXES YIELD name RETURN collect(name) AS names`, nil)
	if err != nil {
		return Health{}, fmt.Errorf("graph health: %w: %w", fault.ErrStoreUnavailable, err)
	}
	if result.Next(ctx) {
		names := map[string]bool{}
		for _, v := range asList(firstValue(result.Record(), "names")) {
			if n, ok := v.(string); ok {
				names[n] = true
			}
		}
		h.VectorIndicesPresent = names[EntityNameIndex] && names[RelationshipFactIndex]
	}
	s.mu.Lock()
	if s.vectorBroken {
		h.VectorIndicesPresent = false
	}
	s.mu.Unlock()
	return h, nil
}

func (s *Neo4jStore) entityVectorSearch(ctx context.Context, vec []float64, k int) ([]EntityHit, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	records, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]EntityHit, error) {
		result, err := tx.Run(ctx, fmt.Sprintf(`
			CALL db.index.vector.queryNodes('%s', $k, $embedding)
			YIELD node, score
			RETURN node.uuid AS uuid, node.name AS name, node.type AS type, node.summary AS summary, score`, EntityNameIndex),
			map[string]any{"k": k, "embedding": vec})
		if err != nil {
			return nil, err
		}
		var hits []EntityHit
		for result.Next(ctx) {
			rec := result.Record()
			hits = append(hits, EntityHit{
				Entity: Entity{
					UUID:    stringValue(rec, "uuid"),
					Name:    stringValue(rec, "name"),
					Type:    stringValue(rec, "type"),
					Summary: stringValue(rec, "summary"),
				},
				Score: floatValue(rec, "score"),
			})
		}
		return hits, result.Err()
	})
	return records, err
}

func (s *Neo4jStore) factVectorSearch(ctx context.Context, vec []float64, k int) ([]FactHit, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	return neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]FactHit, error) {
		result, err := tx.Run(ctx, fmt.Sprintf(`
			CALL db.index.vector.queryRelationships('%s', $k, $embedding)
			YIELD relationship, score
			RETURN relationship.uuid AS uuid, relationship.kind AS kind, relationship.fact AS fact,
				relationship.episodes AS episodes, score`, RelationshipFactIndex),
			map[string]any{"k": k, "embedding": vec})
		if err != nil {
			return nil, err
		}
		var hits []FactHit
		for result.Next(ctx) {
			rec := result.Record()
			rel := Relationship{
				UUID: stringValue(rec, "uuid"),
				Kind: stringValue(rec, "kind"),
				Fact: stringValue(rec, "fact"),
			}
			if eps, ok := rec.Get("episodes"); ok {
				for _, ep := range asList(eps) {
					if sEp, ok := ep.(string); ok {
						rel.Episodes = append(rel.Episodes, sEp)
					}
				}
			}
			hits = append(hits, FactHit{Relationship: rel, Score: floatValue(rec, "score")})
		}
		return hits, result.Err()
	})
}

func (s *Neo4jStore) entitySubstringSearch(ctx context.Context, query string, k int) ([]EntityHit, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	hits, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]EntityHit, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity)
			WHERE toLower(e.name) CONTAINS $q OR toLower(e.summary) CONTAINS $q
			RETURN e.uuid AS uuid, e.name AS name, e.type AS type, e.summary AS summary
			LIMIT $k`,
			map[string]any{"q": strings.ToLower(query), "k": k})
		if err != nil {
			return nil, err
		}
		var hits []EntityHit
		for result.Next(ctx) {
			rec := result.Record()
			hits = append(hits, EntityHit{
				Entity: Entity{
					UUID:    stringValue(rec, "uuid"),
					Name:    stringValue(rec, "name"),
					Type:    stringValue(rec, "type"),
					Summary: stringValue(rec, "summary"),
				},
				Score: 1,
			})
		}
		return hits, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("entity substring search: %w: %w", fault.ErrStoreUnavailable, err)
	}
	return hits, nil
}

func (s *Neo4jStore) factSubstringSearch(ctx context.Context, query string, k int) ([]FactHit, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	hits, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]FactHit, error) {
		result, err := tx.Run(ctx, `
			MATCH ()-[r:RELATES]->()
			WHERE toLower(r.fact) CONTAINS $q
			RETURN r.uuid AS uuid, r.kind AS kind, r.fact AS fact, r.episodes AS episodes
			LIMIT $k`,
			map[string]any{"q": strings.ToLower(query), "k": k})
		if err != nil {
			return nil, err
		}
		var hits []FactHit
		for result.Next(ctx) {
			rec := result.Record()
			rel := Relationship{
				UUID: stringValue(rec, "uuid"),
				Kind: stringValue(rec, "kind"),
				Fact: stringValue(rec, "fact"),
			}
			if eps, ok := rec.Get("episodes"); ok {
				for _, ep := range asList(eps) {
					if sEp, ok := ep.(string); ok {
						rel.Episodes = append(rel.Episodes, sEp)
					}
				}
			}
			hits = append(hits, FactHit{Relationship: rel, Score: 1})
		}
		return hits, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("fact substring search: %w: %w", fault.ErrStoreUnavailable, err)
	}
	return hits, nil
}

func (s *Neo4jStore) embedQuery(ctx context.Context, query string) ([]float64, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return toFloat64(vecs[0]), nil
}

func (s *Neo4jStore) noteFallback(err error) {
	s.mu.Lock()
	s.vectorBroken = true
	s.mu.Unlock()
	s.fallbackOnce.Do(func() {
		log.Warn().Err(err).Msg("graph_vector_index_unavailable_falling_back_to_substring")
	})
}

func indexUnavailable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such index") ||
		strings.Contains(msg, "there is no such vector schema index") ||
		strings.Contains(msg, "unknown function") ||
		strings.Contains(msg, "property") && strings.Contains(msg, "not") ||
		strings.Contains(msg, "procedurenotfound")
}

func splitForExtraction(text string) []string {
	if len(text) <= maxExtractionInput {
		return []string{text}
	}
	paras := strings.Split(text, "\n\n")
	var out []string
	var cur strings.Builder
	for _, p := range paras {
		if cur.Len() > 0 && cur.Len()+len(p) > maxExtractionInput {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func entityType(t string) string {
	for _, known := range EntityTypes {
		if strings.EqualFold(t, known) {
			return known
		}
	}
	return "Topic"
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func stringValue(rec *neo4j.Record, key string) string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intValue(rec *neo4j.Record, key string) int64 {
	if v, ok := rec.Get(key); ok {
		if n, ok := v.(int64); ok {
			return n
		}
	}
	return 0
}

func floatValue(rec *neo4j.Record, key string) float64 {
	if v, ok := rec.Get(key); ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}

func firstValue(rec *neo4j.Record, key string) any {
	v, _ := rec.Get(key)
	return v
}

func asList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return nil
}
