// ragctl ingests files into the retrieval stores and runs ad-hoc searches.
//
//	ragctl ingest <dir> [collection]
//	ragctl search <query...>
//	ragctl health
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"conductor/internal/config"
	"conductor/internal/fault"
	"conductor/internal/observability"
	"conductor/internal/rag/chunker"
	"conductor/internal/rag/ingest"
	"conductor/internal/rag/retrieve"
	"conductor/internal/services"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ragctl ingest <dir> [collection] | search <query...> | health")
		return 1
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx := context.Background()
	svc, err := services.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		if errors.Is(err, fault.ErrStoreUnavailable) {
			return 2
		}
		return 3
	}
	defer svc.Close(context.Background())

	switch os.Args[1] {
	case "ingest":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: ragctl ingest <dir> [collection]")
			return 1
		}
		collection := ""
		if len(os.Args) > 3 {
			collection = os.Args[3]
		}
		if err := ingestDir(ctx, svc, os.Args[2], collection); err != nil {
			log.Error().Err(err).Msg("ingest failed")
			return 2
		}
	case "search":
		query := strings.Join(os.Args[2:], " ")
		results, err := svc.Retriever.Search(ctx, query, retrieve.Options{K: 10, Hybrid: true})
		if err != nil {
			log.Error().Err(err).Msg("search failed")
			return 2
		}
		for _, r := range results {
			fmt.Printf("%.4f  %s\n      %s\n", r.Score, r.ID, firstLine(r.Body))
		}
	case "health":
		h, err := svc.Graph.HealthCheck(ctx)
		if err != nil {
			log.Error().Err(err).Msg("health failed")
			return 2
		}
		fmt.Printf("entities=%d relationships=%d name_coverage=%.2f fact_coverage=%.2f vector_indices=%v\n",
			h.EntityCount, h.RelationshipCount, h.NameEmbeddingCoverage, h.FactEmbeddingCoverage, h.VectorIndicesPresent)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		return 1
	}
	return 0
}

func ingestDir(ctx context.Context, svc *services.Services, dir, collection string) error {
	ing := &ingest.Ingestor{
		Chunker: chunker.New(chunker.HeaderTemplate, svc.LLM, svc.Cfg.LLM.Model),
		Store:   svc.Vectors,
		Graph:   svc.Graph,
	}
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		doc := ingest.Document{
			Meta: chunker.DocumentMeta{
				ID:         path,
				SourceKind: "knowledge",
				URI:        path,
				Title:      filepath.Base(path),
				ModifiedAt: info.ModTime(),
			},
			Body:       string(raw),
			Collection: collection,
		}
		chunks, err := ing.Ingest(ctx, doc)
		if err != nil {
			return err
		}
		log.Info().Str("file", path).Int("chunks", len(chunks)).Msg("ingested")
		return nil
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}
