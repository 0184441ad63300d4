package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"conductor/internal/fault"
)

// Load reads configuration from environment variables (optionally .env).
// Use Overload so .env values override existing OS environment variables;
// repository-local configuration then deterministically controls runtime
// behavior in development unless explicitly changed.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	cfg.LLM.Model = strings.TrimSpace(os.Getenv("LLM_MODEL"))
	cfg.LLM.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.LLM.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	cfg.LLM.AnthropicKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))

	cfg.Embeddings.Model = strings.TrimSpace(os.Getenv("EMBEDDING_MODEL"))
	cfg.Embeddings.APIKey = cfg.LLM.APIKey
	cfg.Embeddings.BaseURL = strings.TrimSpace(os.Getenv("EMBEDDING_BASE_URL"))
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_DIMENSIONS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Embeddings.Dimensions = n
		}
	}

	cfg.VectorStore.URL = strings.TrimSpace(os.Getenv("VECTOR_STORE_URL"))
	cfg.VectorStore.Key = strings.TrimSpace(os.Getenv("VECTOR_STORE_KEY"))

	cfg.Graph.URI = strings.TrimSpace(os.Getenv("GRAPH_URI"))
	cfg.Graph.User = strings.TrimSpace(os.Getenv("GRAPH_USER"))
	cfg.Graph.Password = strings.TrimSpace(os.Getenv("GRAPH_PASSWORD"))

	if v := strings.TrimSpace(os.Getenv("CACHE_SIZE")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Cache.Size = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CACHE_TTL_SECONDS")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Cache.TTL = time.Duration(n) * time.Second
		}
	}
	cfg.Cache.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))

	if v := strings.TrimSpace(os.Getenv("RRF_K")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Retrieval.RRFK = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RERANK_WEIGHTS")); v != "" {
		w, err := parseWeights(v)
		if err != nil {
			return cfg, err
		}
		cfg.Retrieval.RerankWeights = w
	} else {
		cfg.Retrieval.RerankWeights = [4]float64{0.5, 0.2, 0.3, 0.0}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_BRAINSTORM_QUERIES")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Retrieval.MaxBrainstormQuery = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_RETRIEVAL_CONCURRENCY")); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Retrieval.MaxConcurrency = n
		}
	}

	cfg.Planner.WorkHoursStart = strings.TrimSpace(os.Getenv("WORK_HOURS_START"))
	cfg.Planner.WorkHoursEnd = strings.TrimSpace(os.Getenv("WORK_HOURS_END"))

	cfg.DataPath = strings.TrimSpace(os.Getenv("DATA_PATH"))
	cfg.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))
	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.Dimensions <= 0 {
		cfg.Embeddings.Dimensions = 1536
	}
	if cfg.Cache.Size <= 0 {
		cfg.Cache.Size = 200
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 600 * time.Second
	}
	if cfg.Retrieval.RRFK <= 0 {
		cfg.Retrieval.RRFK = 60
	}
	if cfg.Retrieval.MaxBrainstormQuery <= 0 {
		cfg.Retrieval.MaxBrainstormQuery = 5
	}
	if cfg.Retrieval.MaxConcurrency <= 0 {
		cfg.Retrieval.MaxConcurrency = 8
	}
	if cfg.Retrieval.VectorWeight == 0 && cfg.Retrieval.KeywordWeight == 0 {
		cfg.Retrieval.VectorWeight = 0.7
		cfg.Retrieval.KeywordWeight = 0.3
	}
	if cfg.Retrieval.DedupSimilarity == 0 {
		cfg.Retrieval.DedupSimilarity = 0.7
	}
	if cfg.Planner.WorkHoursStart == "" {
		cfg.Planner.WorkHoursStart = "09:00"
	}
	if cfg.Planner.WorkHoursEnd == "" {
		cfg.Planner.WorkHoursEnd = "17:00"
	}
	if cfg.DataPath == "" {
		cfg.DataPath = "data"
	}
}

func validate(cfg Config) error {
	switch cfg.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fault.Input("LLM_PROVIDER %q", cfg.LLM.Provider)
	}
	for _, hm := range []string{cfg.Planner.WorkHoursStart, cfg.Planner.WorkHoursEnd} {
		if _, err := time.Parse("15:04", hm); err != nil {
			return fault.Input("work hours %q", hm)
		}
	}
	var sum float64
	for _, w := range cfg.Retrieval.RerankWeights {
		if w < 0 {
			return fault.Input("RERANK_WEIGHTS component %v negative", w)
		}
		sum += w
	}
	if sum < 0.999 || sum > 1.001 {
		return fault.Input("RERANK_WEIGHTS sum %v, want 1", sum)
	}
	return nil
}

func parseWeights(v string) ([4]float64, error) {
	var w [4]float64
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return w, fault.Input("RERANK_WEIGHTS needs 4 comma-separated values, got %d", len(parts))
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return w, fault.Input("RERANK_WEIGHTS %q", p)
		}
		w[i] = f
	}
	return w, nil
}

func parseInt(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse int %q: %w", v, err)
	}
	return n, nil
}
