// Package ingest commits documents into the retrieval stores: chunk, embed,
// upsert, and optionally feed the graph an episode.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"conductor/internal/fault"
	"conductor/internal/rag/chunker"
	"conductor/internal/rag/graph"
	"conductor/internal/rag/vectorstore"
)

// Document is one unit to ingest. Documents are immutable once committed;
// re-ingesting the same content updates the same rows.
type Document struct {
	Meta chunker.DocumentMeta
	Body string
	// Collection picks chunking parameters; empty derives from SourceKind.
	Collection string
	OwnerID    string
}

// Ingestor wires the chunker to the stores.
type Ingestor struct {
	Chunker *chunker.Chunker
	Store   vectorstore.Store
	// Graph, when set, receives an episode per document.
	Graph graph.Store

	// Now is swappable for tests.
	Now func() time.Time
}

// Ingest chunks the document and upserts the rows. The graph episode is
// best-effort: retrieval stays usable when entity extraction fails.
func (i *Ingestor) Ingest(ctx context.Context, doc Document) ([]chunker.Chunk, error) {
	col, err := i.collection(doc)
	if err != nil {
		return nil, err
	}
	chunks, err := i.Chunker.Chunk(ctx, doc.Body, col, doc.Meta)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	now := time.Now()
	if i.Now != nil {
		now = i.Now()
	}
	meta := doc.Meta
	if doc.OwnerID != "" {
		meta.OwnerID = doc.OwnerID
	}
	rows := vectorstore.BuildRows(chunks, meta, now)
	if err := i.Store.Upsert(ctx, col.Name, rows); err != nil {
		return nil, err
	}

	if i.Graph != nil {
		episode := uuid.NewString()
		if err := i.Graph.IngestEpisode(ctx, episode, doc.Body, graph.EpisodeMeta{
			SourceKind: doc.Meta.SourceKind,
			Title:      doc.Meta.Title,
			OccurredAt: doc.Meta.ModifiedAt,
		}); err != nil {
			log.Warn().Err(err).Str("document", doc.Meta.ID).Msg("graph_episode_skipped")
		}
	}
	return chunks, nil
}

// Delete removes every chunk of a document from its collection.
func (i *Ingestor) Delete(ctx context.Context, collection, documentID string) (int64, error) {
	return i.Store.Delete(ctx, collection, vectorstore.Filter{DocumentID: documentID})
}

func (i *Ingestor) collection(doc Document) (chunker.Collection, error) {
	name := doc.Collection
	if name == "" {
		switch doc.Meta.SourceKind {
		case "website":
			name = chunker.Websites.Name
		case "conversation":
			name = chunker.Conversations.Name
		default:
			name = chunker.Knowledge.Name
		}
	}
	col, ok := chunker.Lookup(name)
	if !ok {
		return chunker.Collection{}, fmt.Errorf("collection %q: %w", name, fault.ErrInput)
	}
	return col, nil
}
