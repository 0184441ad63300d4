// Package embeddings converts text to fixed-dimension vectors.
package embeddings

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"conductor/internal/config"
	"conductor/internal/fault"
)

// Provider converts texts to embedding vectors, preserving input order.
// Embed is a suspension point: it honors ctx cancellation and deadlines.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns a model identifier string.
	Name() string
	// Dimension returns the embedding dimensionality.
	Dimension() int
}

// Per-request token budget. The API rejects batches past ~300k tokens; stay
// well under so header/context variance cannot tip a batch over.
const batchTokenLimit = 100_000

// Bounded retry: backoff doubles from 1s, capped at 10s, max 3 attempts.
const (
	maxAttempts = 3
	baseBackoff = time.Second
	maxBackoff  = 10 * time.Second
)

type openAIEmbedder struct {
	sdk   sdk.Client
	model string
	dim   int
	enc   *tiktoken.Tiktoken
}

// NewOpenAI constructs an embedder over the OpenAI embeddings endpoint.
// Token counting for batch splitting uses tiktoken; when the model's encoding
// is unknown the cl100k_base encoding is used, and only when no encoding can
// be loaded at all does a 4-chars-per-token heuristic apply.
func NewOpenAI(cfg config.EmbeddingsConfig) Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	enc, err := tiktoken.EncodingForModel(cfg.Model)
	if err != nil {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	}
	return &openAIEmbedder{sdk: sdk.NewClient(opts...), model: cfg.Model, dim: cfg.Dimensions, enc: enc}
}

func (e *openAIEmbedder) Name() string   { return e.model }
func (e *openAIEmbedder) Dimension() int { return e.dim }

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, batch := range e.split(texts) {
		vecs, err := e.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// split groups texts into contiguous batches under the token budget. A single
// over-budget text still goes out alone; the provider enforces its own cap.
func (e *openAIEmbedder) split(texts []string) [][]string {
	var batches [][]string
	var cur []string
	tokens := 0
	for _, t := range texts {
		n := e.countTokens(t)
		if len(cur) > 0 && tokens+n > batchTokenLimit {
			batches = append(batches, cur)
			cur = nil
			tokens = 0
		}
		cur = append(cur, t)
		tokens += n
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

func (e *openAIEmbedder) countTokens(t string) int {
	if e.enc != nil {
		return len(e.enc.Encode(t, nil, nil))
	}
	return len(t) / 4
}

func (e *openAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := baseBackoff << (attempt - 1)
			if delay > maxBackoff {
				delay = maxBackoff
			}
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("embed: %w: %w", fault.ErrTimeout, ctx.Err())
			case <-time.After(delay):
			}
		}
		resp, err := e.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
			Model: sdk.EmbeddingModel(e.model),
			Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		})
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt+1).Msg("embedding_request_failed")
			continue
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("embed: got %d vectors for %d inputs: %w", len(resp.Data), len(batch), fault.ErrInternal)
		}
		out := make([][]float32, len(batch))
		for _, d := range resp.Data {
			vec := make([]float32, len(d.Embedding))
			for i, f := range d.Embedding {
				vec[i] = float32(f)
			}
			out[d.Index] = vec
		}
		return out, nil
	}
	return nil, fmt.Errorf("embed after %d attempts: %w: %w", maxAttempts, fault.ErrProviderUnavailable, lastErr)
}
