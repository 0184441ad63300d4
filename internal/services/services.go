// Package services wires the dependency graph once at startup and threads it
// through the call stack; there are no module-level singletons.
package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"conductor/internal/agents"
	"conductor/internal/brainstorm"
	"conductor/internal/config"
	"conductor/internal/documents"
	"conductor/internal/embeddings"
	"conductor/internal/intent"
	"conductor/internal/llm"
	"conductor/internal/meetings"
	"conductor/internal/planner"
	"conductor/internal/rag/cache"
	"conductor/internal/rag/chunker"
	"conductor/internal/rag/graph"
	"conductor/internal/rag/rerank"
	"conductor/internal/rag/retrieve"
	"conductor/internal/rag/vectorstore"
)

// Services is the explicit handle record passed to everything that needs a
// collaborator.
type Services struct {
	Cfg config.Config

	LLM      llm.Provider
	Embedder embeddings.Provider

	Vectors  vectorstore.Store
	Graph    graph.Store
	Cache    cache.Cache
	Reranker *rerank.Reranker

	Documents documents.Store
	Retriever *retrieve.Retriever

	Planner    *planner.Planner
	Brainstorm *brainstorm.Engine
	Intent     *intent.Parser
	Analyzer   *meetings.Analyzer
	Router     *agents.Router

	closers []func(context.Context)
}

// New builds the full graph. Stores that are not configured degrade to their
// in-process implementations with a warning, so the runtime stays usable
// offline; an unreachable configured store is an error.
func New(ctx context.Context, cfg config.Config) (*Services, error) {
	s := &Services{Cfg: cfg}
	s.LLM = llm.New(cfg.LLM)
	s.Embedder = embeddings.NewOpenAI(cfg.Embeddings)

	if cfg.Cache.RedisAddr != "" {
		redisCache, err := cache.NewRedis(cfg.Cache.RedisAddr, cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		s.Cache = redisCache
	} else {
		s.Cache = cache.NewLRU(cfg.Cache.Size, cfg.Cache.TTL)
	}

	if cfg.VectorStore.URL != "" {
		pg, err := vectorstore.Connect(ctx, cfg.VectorStore, s.Embedder)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx, chunker.All()); err != nil {
			pg.Close()
			return nil, err
		}
		pg.OnWrite = s.Cache.Invalidate
		s.Vectors = pg
		s.closers = append(s.closers, func(context.Context) { pg.Close() })
	} else {
		log.Warn().Msg("VECTOR_STORE_URL unset, using in-memory vector store")
		mem := vectorstore.NewMemory(s.Embedder)
		mem.OnWrite = s.Cache.Invalidate
		s.Vectors = mem
	}

	if cfg.Graph.URI != "" {
		neo, err := graph.ConnectNeo4j(ctx, cfg.Graph, s.Embedder, s.LLM, cfg.LLM.Model)
		if err != nil {
			return nil, err
		}
		if err := neo.EnsureIndexes(ctx); err != nil {
			log.Warn().Err(err).Msg("graph_indexes_unavailable_substring_fallback_active")
		}
		s.Graph = neo
		s.closers = append(s.closers, func(cctx context.Context) { _ = neo.Close(cctx) })
	} else {
		log.Warn().Msg("GRAPH_URI unset, using in-memory graph store")
		s.Graph = graph.NewMemory(s.Embedder, s.LLM, cfg.LLM.Model)
	}

	store, err := documents.NewFileStore(cfg.DataPath)
	if err != nil {
		return nil, err
	}
	s.Documents = store

	s.Reranker = rerank.New(cfg.Retrieval.RerankWeights)
	s.Retriever = retrieve.New(s.Vectors, s.Embedder, s.Cache, s.Reranker, cfg.Retrieval)
	s.Retriever.Graph = s.Graph

	s.Planner = &planner.Planner{Store: s.Documents, LLM: s.LLM, Model: cfg.LLM.Model, Cfg: cfg.Planner}
	s.Brainstorm = brainstorm.New(s.Documents, s.Retriever, s.LLM, cfg.LLM.Model, cfg.DataPath, cfg.Retrieval.MaxBrainstormQuery)
	s.Intent = &intent.Parser{LLM: s.LLM, Model: cfg.LLM.Model}
	s.Analyzer = &meetings.Analyzer{LLM: s.LLM, Model: cfg.LLM.Model}
	s.Router = &agents.Router{
		Intent:     s.Intent,
		Planner:    s.Planner,
		Brainstorm: s.Brainstorm,
		Retriever:  s.Retriever,
		Store:      s.Documents,
		LLM:        s.LLM,
		Model:      cfg.LLM.Model,
	}
	return s, nil
}

// Close releases backend connections.
func (s *Services) Close(ctx context.Context) {
	for _, c := range s.closers {
		c(ctx)
	}
}
