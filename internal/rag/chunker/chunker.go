// Package chunker splits documents into overlapping windows with a prepended
// context header, the atomic unit of retrieval.
package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"conductor/internal/llm"
)

// Collection is value-only chunking configuration shared by many chunks.
// Size and overlap are fixed at collection creation and measured in
// characters, not tokens.
type Collection struct {
	Name         string
	ChunkSize    int
	ChunkOverlap int
	EmbeddingDim int
}

// Recognized collections and their defaults.
var (
	Websites      = Collection{Name: "websites", ChunkSize: 1500, ChunkOverlap: 200, EmbeddingDim: 1536}
	Conversations = Collection{Name: "conversations", ChunkSize: 500, ChunkOverlap: 50, EmbeddingDim: 1536}
	Knowledge     = Collection{Name: "knowledge", ChunkSize: 1000, ChunkOverlap: 100, EmbeddingDim: 1536}
)

// All lists the recognized collections in a stable order.
func All() []Collection {
	return []Collection{Websites, Conversations, Knowledge}
}

// Lookup resolves a collection by name.
func Lookup(name string) (Collection, bool) {
	for _, c := range All() {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// DocumentMeta carries the document fields the chunker needs for ids and
// headers.
type DocumentMeta struct {
	ID         string
	SourceKind string // website | conversation | knowledge | meeting_note
	URI        string
	Title      string
	ModifiedAt time.Time
	OwnerID    string
}

// Chunk is a window of a document plus its context header.
type Chunk struct {
	ID            string
	DocumentID    string
	SourceKind    string
	Ordinal       int
	Total         int
	Body          string
	ContextHeader string
	HasContext    bool
}

// EmbeddableText is what gets embedded; the stored Body stays the raw window.
func (c Chunk) EmbeddableText() string {
	if c.ContextHeader == "" {
		return c.Body
	}
	return c.ContextHeader + "\n\n" + c.Body
}

// HeaderStrategy selects how context headers are produced.
type HeaderStrategy int

const (
	// HeaderTemplate derives a deterministic prose header from document meta.
	HeaderTemplate HeaderStrategy = iota
	// HeaderLLM asks the model for a 1-3 sentence header situating the chunk.
	HeaderLLM
)

// Chunker splits documents per collection parameters. LLM headers are cached
// keyed by (document id, ordinal) so re-chunking a document is cheap.
type Chunker struct {
	Strategy HeaderStrategy
	LLM      llm.Provider
	Model    string

	headerMu    sync.Mutex
	headerCache map[string]string
}

func New(strategy HeaderStrategy, provider llm.Provider, model string) *Chunker {
	return &Chunker{
		Strategy:    strategy,
		LLM:         provider,
		Model:       model,
		headerCache: map[string]string{},
	}
}

// Chunk splits body into overlapping windows, preferring boundaries at
// paragraph, then sentence, then word, never mid-word. A body shorter than
// the collection chunk size yields exactly one chunk.
func (c *Chunker) Chunk(ctx context.Context, body string, col Collection, meta DocumentMeta) ([]Chunk, error) {
	windows := splitWindows(body, col.ChunkSize, col.ChunkOverlap)
	hash := documentHash(body)
	total := len(windows)

	out := make([]Chunk, 0, total)
	for i, w := range windows {
		ch := Chunk{
			ID:         fmt.Sprintf("%s::%s::chunk_%d", meta.SourceKind, hash, i),
			DocumentID: meta.ID,
			SourceKind: meta.SourceKind,
			Ordinal:    i,
			Total:      total,
			Body:       w,
		}
		header, fromLLM := c.header(ctx, meta, i, total, w)
		ch.ContextHeader = header
		ch.HasContext = fromLLM
		out = append(out, ch)
	}
	return out, nil
}

func (c *Chunker) header(ctx context.Context, meta DocumentMeta, ordinal, total int, window string) (string, bool) {
	if c.Strategy == HeaderLLM && c.LLM != nil {
		key := fmt.Sprintf("%s\x00%d", meta.ID, ordinal)
		c.headerMu.Lock()
		cached, ok := c.headerCache[key]
		c.headerMu.Unlock()
		if ok {
			return cached, true
		}
		header, err := c.llmHeader(ctx, meta, ordinal, total, window)
		if err == nil {
			c.headerMu.Lock()
			c.headerCache[key] = header
			c.headerMu.Unlock()
			return header, true
		}
		log.Warn().Err(err).Str("document", meta.ID).Msg("llm_header_failed_using_template")
	}
	return templateHeader(meta, ordinal, total), false
}

func (c *Chunker) llmHeader(ctx context.Context, meta DocumentMeta, ordinal, total int, window string) (string, error) {
	prompt := fmt.Sprintf(
		"Document title: %s\nThis is part %d of %d.\n\nChunk:\n%s\n\n"+
			"Write 1-3 short sentences situating this chunk within the document. Reply with the sentences only.",
		meta.Title, ordinal+1, total, window)
	resp, err := c.LLM.Chat(ctx, []llm.Message{llm.User(prompt)}, nil, c.Model)
	if err != nil {
		return "", err
	}
	header := strings.TrimSpace(resp.Content)
	if header == "" {
		return "", fmt.Errorf("empty header for %s part %d", meta.ID, ordinal)
	}
	return header, nil
}

func templateHeader(meta DocumentMeta, ordinal, total int) string {
	title := meta.Title
	if title == "" {
		title = meta.ID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "This chunk is from %q (part %d of %d).", title, ordinal+1, total)
	if meta.URI != "" {
		fmt.Fprintf(&b, " Source: %s.", meta.URI)
	}
	return b.String()
}

func documentHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])[:12]
}
