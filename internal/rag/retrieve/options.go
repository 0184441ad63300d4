// Package retrieve orchestrates query expansion, cached parallel search,
// deduplication, reranking, and cross-collection fusion.
package retrieve

import (
	"conductor/internal/rag/vectorstore"
)

// Options configures one retrieval call.
type Options struct {
	// K is the desired number of results after fusion and reranking.
	K int
	// Collections to search; empty means every recognized collection.
	Collections []string
	// Hybrid adds keyword search next to vector search per variant.
	Hybrid bool
	// Filter applies metadata constraints consistently across stores.
	Filter vectorstore.Filter
	// Variants overrides query expansion (brainstorm mode passes task-seeded
	// variants). When empty, variants derive from the query.
	Variants []string
	// GraphAugment appends fact hits from the graph store as extra context
	// results.
	GraphAugment bool
}

// Result re-exports the store result as the retriever's output unit.
type Result = vectorstore.Result

// TaskSeed carries the task fields brainstorm mode expands queries from.
type TaskSeed struct {
	Title     string
	Tags      []string
	Objective string
	Subtasks  []string
}
