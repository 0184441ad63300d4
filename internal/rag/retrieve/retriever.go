package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"conductor/internal/config"
	"conductor/internal/embeddings"
	"conductor/internal/fault"
	"conductor/internal/rag/cache"
	"conductor/internal/rag/chunker"
	"conductor/internal/rag/graph"
	"conductor/internal/rag/rerank"
	"conductor/internal/rag/vectorstore"
)

// Retriever orchestrates the hybrid retrieval pipeline: expand, cache check,
// bounded parallel search, dedup, rerank, cross-collection fusion, cache
// store.
type Retriever struct {
	Store    vectorstore.Store
	Embedder embeddings.Provider
	Cache    cache.Cache
	Reranker *rerank.Reranker
	// Graph, when set, serves the GraphAugment option.
	Graph graph.Store
	Cfg   config.RetrievalConfig

	statsMu sync.Mutex
	stats   Stats
}

// Stats are the retriever observables.
type Stats struct {
	CacheHits       int64
	CacheMisses     int64
	VectorSearches  int64
	KeywordSearches int64
	LastSearch      time.Duration
}

func New(store vectorstore.Store, embedder embeddings.Provider, qc cache.Cache, rr *rerank.Reranker, cfg config.RetrievalConfig) *Retriever {
	return &Retriever{Store: store, Embedder: embedder, Cache: qc, Reranker: rr, Cfg: cfg}
}

func (r *Retriever) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

type pair struct {
	collection string
	variant    string
}

// Search runs the full pipeline. Within a single call the output order is
// fully determined by scores; a timed-out variant contributes no candidates
// while the others still do. If ctx is canceled in-flight results are
// discarded and no partial output is returned.
func (r *Retriever) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	start := time.Now()
	defer func() {
		r.statsMu.Lock()
		r.stats.LastSearch = time.Since(start)
		r.statsMu.Unlock()
	}()

	k := opts.K
	if k <= 0 {
		k = 10
	}
	variants := opts.Variants
	if len(variants) == 0 {
		variants = ExpandQuery(query, maxVariants(r.Cfg))
	}
	if len(variants) == 0 {
		return nil, fault.Input("empty query")
	}
	collections := opts.Collections
	if len(collections) == 0 {
		for _, c := range chunker.All() {
			collections = append(collections, c.Name)
		}
	}

	// cache check per (collection, variant)
	cached := map[pair][]Result{}
	var misses []pair
	for _, col := range collections {
		for _, v := range variants {
			p := pair{collection: col, variant: v}
			if hit, ok := r.cacheGet(p, opts.Filter); ok {
				cached[p] = hit
				continue
			}
			misses = append(misses, p)
		}
	}
	if len(misses) == 0 {
		// every variant hit: the cached value is the final list of a prior
		// identical call, so no store or embedding round-trips happen
		first := pair{collection: collections[0], variant: variants[0]}
		return clip(cached[first], k), nil
	}

	// one embedding round-trip for all miss variants
	variantVec, err := r.embedVariants(ctx, misses)
	if err != nil {
		return nil, err
	}

	searched, err := r.fanOut(ctx, misses, variantVec, k, opts)
	if err != nil {
		return nil, err
	}
	for p, res := range cached {
		searched[p] = res
	}

	// per-collection merge across variants, then dedup and rerank
	var lists [][]Result
	for _, col := range collections {
		merged := mergeByID(searched, col)
		if len(merged) == 0 {
			continue
		}
		deduped := Dedup(merged, r.Cfg.DedupSimilarity)
		lists = append(lists, r.Reranker.Rerank(ctx, query, deduped))
	}

	var final []Result
	switch len(lists) {
	case 0:
	case 1:
		final = lists[0]
	default:
		final = rerank.RRF(lists, r.Cfg.RRFK)
	}
	final = clip(final, k)
	final = r.graphAugment(ctx, query, final, k, opts)

	for _, col := range collections {
		for _, v := range variants {
			r.cachePut(pair{collection: col, variant: v}, opts.Filter, final)
		}
	}
	return final, nil
}

func (r *Retriever) embedVariants(ctx context.Context, misses []pair) (map[string][]float32, error) {
	seen := map[string]bool{}
	var texts []string
	for _, p := range misses {
		if !seen[p.variant] {
			seen[p.variant] = true
			texts = append(texts, p.variant)
		}
	}
	vecs, err := r.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(texts))
	for i, t := range texts {
		out[t] = vecs[i]
	}
	return out, nil
}

// fanOut searches all miss pairs in parallel, bounded by the configured
// concurrency. A Timeout from one pair contributes nothing; any other error
// aborts the call.
func (r *Retriever) fanOut(ctx context.Context, misses []pair, variantVec map[string][]float32, k int, opts Options) (map[pair][]Result, error) {
	out := map[pair][]Result{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	limit := r.Cfg.MaxConcurrency
	if limit <= 0 {
		limit = 8
	}
	g.SetLimit(limit)

	for _, p := range misses {
		g.Go(func() error {
			res, err := r.searchPair(gctx, p, variantVec[p.variant], k, opts)
			if err != nil {
				if isTimeout(err) && ctx.Err() == nil {
					log.Warn().Str("collection", p.collection).Str("variant", p.variant).
						Msg("variant_search_timed_out_contributing_nothing")
					return nil
				}
				return err
			}
			mu.Lock()
			out[p] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		// caller canceled: discard in-flight results, return no partials
		return nil, fmt.Errorf("search canceled: %w", err)
	}
	return out, nil
}

func (r *Retriever) searchPair(ctx context.Context, p pair, vec []float32, k int, opts Options) ([]Result, error) {
	vecRes, err := r.Store.VectorSearch(ctx, p.collection, vec, k, opts.Filter)
	if err != nil {
		return nil, err
	}
	r.count(func(s *Stats) { s.VectorSearches++ })
	if !opts.Hybrid {
		return vecRes, nil
	}
	kwRes, err := r.Store.KeywordSearch(ctx, p.collection, p.variant, k, opts.Filter)
	if err != nil {
		return nil, err
	}
	r.count(func(s *Stats) { s.KeywordSearches++ })
	return vectorstore.FuseRRF(vecRes, kwRes, k, r.Cfg.RRFK, r.Cfg.VectorWeight, r.Cfg.KeywordWeight), nil
}

// graphAugment appends top fact hits as extra context; best-effort.
func (r *Retriever) graphAugment(ctx context.Context, query string, final []Result, k int, opts Options) []Result {
	if !opts.GraphAugment || r.Graph == nil {
		return final
	}
	hits, err := r.Graph.FactSearch(ctx, query, 3)
	if err != nil {
		log.Debug().Err(err).Msg("graph_augment_skipped")
		return final
	}
	for _, h := range hits {
		final = append(final, Result{
			ID:    "graph::fact::" + h.Relationship.UUID,
			Score: h.Score,
			Body:  h.Relationship.Fact,
			Meta:  vectorstore.Metadata{SourceKind: "knowledge"},
		})
	}
	return clip(final, k)
}

func (r *Retriever) cacheGet(p pair, f vectorstore.Filter) ([]Result, bool) {
	if r.Cache == nil {
		return nil, false
	}
	res, ok := r.Cache.Get(cache.NewKey(p.collection, p.variant, f))
	r.count(func(s *Stats) {
		if ok {
			s.CacheHits++
		} else {
			s.CacheMisses++
		}
	})
	return res, ok
}

func (r *Retriever) cachePut(p pair, f vectorstore.Filter, value []Result) {
	if r.Cache == nil {
		return
	}
	r.Cache.Put(cache.NewKey(p.collection, p.variant, f), value)
}

func (r *Retriever) count(fn func(*Stats)) {
	r.statsMu.Lock()
	fn(&r.stats)
	r.statsMu.Unlock()
}

func mergeByID(searched map[pair][]Result, collection string) []Result {
	best := map[string]Result{}
	for p, list := range searched {
		if p.collection != collection {
			continue
		}
		for _, res := range list {
			if cur, ok := best[res.ID]; !ok || res.Score > cur.Score {
				best[res.ID] = res
			}
		}
	}
	out := make([]Result, 0, len(best))
	for _, res := range best {
		out = append(out, res)
	}
	return out
}

func isTimeout(err error) bool {
	return errors.Is(err, fault.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func maxVariants(cfg config.RetrievalConfig) int {
	if cfg.MaxBrainstormQuery > 0 && cfg.MaxBrainstormQuery < 5 {
		return cfg.MaxBrainstormQuery
	}
	return 5
}

func clip(results []Result, k int) []Result {
	if k > 0 && len(results) > k {
		return results[:k]
	}
	return results
}
