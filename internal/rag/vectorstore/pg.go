package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"

	"conductor/internal/config"
	"conductor/internal/embeddings"
	"conductor/internal/fault"
	"conductor/internal/rag/chunker"
)

// PGStore keeps one table per collection in Postgres with pgvector. Keyword
// search uses a generated tsvector column; when that column or its index is
// missing the store degrades to vector search with a single warning.
type PGStore struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider

	// OnWrite, when set, is invoked with the collection name after every
	// successful Upsert or Delete so the query cache can invalidate.
	OnWrite func(collection string)

	kwFallbackOnce sync.Once
}

// Connect opens the pool and verifies connectivity. A separate service key
// overrides the password in the URL (Supabase-style credentials).
func Connect(ctx context.Context, cfg config.VectorStoreConfig, embedder embeddings.Provider) (*PGStore, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("vector store config: %w: %w", fault.ErrStoreUnavailable, err)
	}
	if cfg.Key != "" {
		pc.ConnConfig.Password = cfg.Key
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("vector store config: %w: %w", fault.ErrStoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vector store ping: %w: %w", fault.ErrStoreUnavailable, err)
	}
	return &PGStore{pool: pool, embedder: embedder}, nil
}

func (s *PGStore) Close() { s.pool.Close() }

// EnsureSchema creates the per-collection tables and indices.
func (s *PGStore) EnsureSchema(ctx context.Context, collections []chunker.Collection) error {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create extension: %w: %w", fault.ErrStoreUnavailable, err)
	}
	for _, col := range collections {
		table := tableName(col.Name)
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				content TEXT NOT NULL,
				embedding vector(%d),
				metadata JSONB NOT NULL DEFAULT '{}',
				owner_id TEXT,
				tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
			)`, table, col.EmbeddingDim)
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w: %w", table, fault.ErrStoreUnavailable, err)
		}
		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING ivfflat (embedding vector_cosine_ops)`, table, table)
		if _, err := s.pool.Exec(ctx, idx); err != nil {
			// ivfflat needs rows to train on; an empty table can refuse the
			// index and vector search still works via seq scan
			log.Warn().Err(err).Str("table", table).Msg("vector_index_create_deferred")
		}
		gin := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_tsv_idx ON %s USING gin (tsv)`, table, table)
		if _, err := s.pool.Exec(ctx, gin); err != nil {
			return fmt.Errorf("create fts index on %s: %w: %w", table, fault.ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (s *PGStore) Upsert(ctx context.Context, collection string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.fillEmbeddings(ctx, rows); err != nil {
		return err
	}
	table := tableName(collection)
	var failed []string
	var lastErr error
	for i := range rows {
		r := &rows[i]
		meta, err := json.Marshal(r.Meta)
		if err != nil {
			failed = append(failed, r.ID)
			lastErr = err
			continue
		}
		_, err = s.pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, content, embedding, metadata, owner_id)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''))
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				metadata = EXCLUDED.metadata,
				owner_id = EXCLUDED.owner_id`, table),
			r.ID, r.Body, pgvector.NewVector(r.Embedding), meta, r.Meta.OwnerID)
		if err != nil {
			failed = append(failed, r.ID)
			lastErr = err
		}
	}
	if s.OnWrite != nil && len(failed) < len(rows) {
		s.OnWrite(collection)
	}
	if len(failed) > 0 {
		return &BatchError{Failed: failed, Err: lastErr}
	}
	return nil
}

func (s *PGStore) fillEmbeddings(ctx context.Context, rows []Row) error {
	var texts []string
	var missing []int
	for i, r := range rows {
		if len(r.Embedding) == 0 {
			text := r.EmbedText
			if text == "" {
				text = r.Body
			}
			texts = append(texts, text)
			missing = append(missing, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	for j, i := range missing {
		rows[i].Embedding = vecs[j]
	}
	return nil
}

func (s *PGStore) VectorSearch(ctx context.Context, collection string, query []float32, k int, f Filter) ([]Result, error) {
	table := tableName(collection)
	where, args := filterClause(f, 2)
	sql := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE embedding IS NOT NULL%s
		ORDER BY embedding <=> $1
		LIMIT %d`, table, where, limit(k))
	args = append([]any{pgvector.NewVector(query)}, args...)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search %s: %w: %w", collection, fault.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanResults(rows)
}

func (s *PGStore) KeywordSearch(ctx context.Context, collection, query string, k int, f Filter) ([]Result, error) {
	table := tableName(collection)
	where, args := filterClause(f, 2)
	sql := fmt.Sprintf(`
		SELECT id, content, metadata, ts_rank_cd(tsv, websearch_to_tsquery('english', $1)) AS score
		FROM %s
		WHERE tsv @@ websearch_to_tsquery('english', $1)%s
		ORDER BY score DESC, id
		LIMIT %d`, table, where, limit(k))
	args = append([]any{query}, args...)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		if !keywordIndexMissing(err) {
			return nil, fmt.Errorf("keyword search %s: %w: %w", collection, fault.ErrStoreUnavailable, err)
		}
		s.kwFallbackOnce.Do(func() {
			log.Warn().Str("collection", collection).Err(err).Msg("keyword_index_unavailable_falling_back_to_vector")
		})
		return s.vectorSearchText(ctx, collection, query, k, f)
	}
	defer rows.Close()
	return scanResults(rows)
}

func (s *PGStore) HybridSearch(ctx context.Context, collection, query string, k int, vecWeight, kwWeight float64) ([]Result, error) {
	vec, err := s.vectorSearchText(ctx, collection, query, k, Filter{})
	if err != nil {
		return nil, err
	}
	kw, err := s.KeywordSearch(ctx, collection, query, k, Filter{})
	if err != nil {
		return nil, err
	}
	return FuseRRF(vec, kw, k, 0, vecWeight, kwWeight), nil
}

func (s *PGStore) Delete(ctx context.Context, collection string, f Filter) (int64, error) {
	table := tableName(collection)
	where, args := filterClause(f, 1)
	where = strings.TrimPrefix(where, " AND")
	sql := fmt.Sprintf(`DELETE FROM %s`, table)
	if where != "" {
		sql += " WHERE" + where
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w: %w", collection, fault.ErrStoreUnavailable, err)
	}
	if s.OnWrite != nil {
		s.OnWrite(collection)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) vectorSearchText(ctx context.Context, collection, query string, k int, f Filter) ([]Result, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return s.VectorSearch(ctx, collection, vecs[0], k, f)
}

func scanResults(rows pgx.Rows) ([]Result, error) {
	var out []Result
	for rows.Next() {
		var r Result
		var meta []byte
		if err := rows.Scan(&r.ID, &r.Body, &meta, &r.Score); err != nil {
			return nil, fmt.Errorf("scan row: %w: %w", fault.ErrStoreUnavailable, err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &r.Meta)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w: %w", fault.ErrStoreUnavailable, err)
	}
	return out, nil
}

// filterClause renders the filter as AND conditions with placeholders
// starting at argIndex.
func filterClause(f Filter, argIndex int) (string, []any) {
	var b strings.Builder
	var args []any
	add := func(expr string, v string) {
		if v == "" {
			return
		}
		fmt.Fprintf(&b, " AND %s = $%d", expr, argIndex+len(args))
		args = append(args, v)
	}
	add(`metadata->>'source_kind'`, f.SourceKind)
	add(`metadata->>'document_id'`, f.DocumentID)
	add(`owner_id`, f.OwnerID)
	add(`metadata->>'conversation_id'`, f.ConversationID)
	return b.String(), args
}

func keywordIndexMissing(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tsv") || strings.Contains(msg, "tsvector") ||
		strings.Contains(msg, "websearch_to_tsquery")
}

func tableName(collection string) string {
	// collection names come from the fixed registry, never from user input
	return "rag_" + strings.ReplaceAll(collection, "-", "_")
}

func limit(k int) int {
	if k <= 0 {
		return 10
	}
	return k
}
