package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("RERANK_WEIGHTS", "")
	t.Setenv("WORK_HOURS_START", "")
	t.Setenv("WORK_HOURS_END", "")
	t.Setenv("CACHE_SIZE", "")
	t.Setenv("CACHE_TTL_SECONDS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 1536, cfg.Embeddings.Dimensions)
	assert.Equal(t, 200, cfg.Cache.Size)
	assert.Equal(t, 600*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.Equal(t, [4]float64{0.5, 0.2, 0.3, 0.0}, cfg.Retrieval.RerankWeights)
	assert.Equal(t, "09:00", cfg.Planner.WorkHoursStart)
	assert.Equal(t, 0.7, cfg.Retrieval.VectorWeight)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("CACHE_SIZE", "50")
	t.Setenv("CACHE_TTL_SECONDS", "30")
	t.Setenv("RERANK_WEIGHTS", "0.4,0.3,0.2,0.1")
	t.Setenv("MAX_RETRIEVAL_CONCURRENCY", "3")
	t.Setenv("WORK_HOURS_START", "08:30")
	t.Setenv("WORK_HOURS_END", "16:30")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 50, cfg.Cache.Size)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, [4]float64{0.4, 0.3, 0.2, 0.1}, cfg.Retrieval.RerankWeights)
	assert.Equal(t, 3, cfg.Retrieval.MaxConcurrency)
	assert.Equal(t, "08:30", cfg.Planner.WorkHoursStart)
}

func TestLoadRejectsBadWeights(t *testing.T) {
	t.Setenv("RERANK_WEIGHTS", "0.9,0.3,0.2,0.1")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("RERANK_WEIGHTS", "0.5,0.5")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadRejectsBadWorkHours(t *testing.T) {
	t.Setenv("RERANK_WEIGHTS", "")
	t.Setenv("WORK_HOURS_START", "9am")
	_, err := Load()
	require.Error(t, err)
}
