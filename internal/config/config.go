package config

import "time"

// Config is the immutable settings value loaded once at startup and threaded
// through the Services record. Components never read the environment directly.
type Config struct {
	// LLM selects the completion provider and model.
	LLM LLMConfig
	// Embeddings configures the embedding provider.
	Embeddings EmbeddingsConfig
	// VectorStore points at the Supabase/Postgres instance carrying pgvector.
	VectorStore VectorStoreConfig
	// Graph points at the Neo4j instance.
	Graph GraphConfig
	// Cache bounds the query cache.
	Cache CacheConfig
	// Retrieval tunes fusion and fan-out.
	Retrieval RetrievalConfig
	// Planner carries working hours.
	Planner PlannerConfig
	// DataPath is the document store root (tasks, logs, meetings, notes).
	DataPath string
	// LogPath and LogLevel configure zerolog at startup.
	LogPath  string
	LogLevel string
}

type LLMConfig struct {
	Provider string // "openai" (default) or "anthropic"
	Model    string
	APIKey   string
	BaseURL  string
	// AnthropicKey is read separately so both providers can be configured.
	AnthropicKey string
}

type EmbeddingsConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

type VectorStoreConfig struct {
	// URL is a Postgres connection string; Key, when set, overrides the URL
	// password (Supabase-style service key).
	URL string
	Key string
}

type GraphConfig struct {
	URI      string
	User     string
	Password string
}

type CacheConfig struct {
	Size int
	TTL  time.Duration
	// RedisAddr, when set, switches the query cache to the shared Redis
	// backend; empty selects the in-process LRU.
	RedisAddr string
}

type RetrievalConfig struct {
	RRFK                int
	RerankWeights       [4]float64 // base, meta, cross, llm
	MaxBrainstormQuery  int
	MaxConcurrency      int
	VectorWeight        float64
	KeywordWeight       float64
	DedupSimilarity     float64
	VariantCacheResults int
}

type PlannerConfig struct {
	WorkHoursStart string // "HH:MM"
	WorkHoursEnd   string
}
