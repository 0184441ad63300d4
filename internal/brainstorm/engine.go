// Package brainstorm enriches a task with retrieved context and an LLM
// report, persisting at most one build per (task, action) at a time.
package brainstorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"conductor/internal/documents"
	"conductor/internal/fault"
	"conductor/internal/llm"
	"conductor/internal/rag/retrieve"
)

// Result sources.
const (
	SourceGenerated = "generated"
	SourceExisting  = "existing"
)

// ragContextSize is how many retrieved snippets feed the report.
const ragContextSize = 5

// Result is the outcome of one Process call.
type Result struct {
	TaskID         string
	Content        string
	Type           string
	Source         string
	NewlyGenerated bool
	Version        int
	RAGContext     []string
	Sources        []string
}

// Engine drives the build pipeline:
// parsing -> locating_task -> retrieving -> generating -> persisting -> done.
type Engine struct {
	Store     documents.Store
	Retriever *retrieve.Retriever
	LLM       llm.Provider
	Model     string
	// Root is the directory holding the brainstorm artifacts.
	Root string
	// MaxQueries caps the retrieval variants per build.
	MaxQueries int
	// RetryBackoff is the base delay between model retries.
	RetryBackoff time.Duration

	mu       sync.Mutex
	inflight map[string]*build
}

type build struct {
	action string
	done   chan struct{}
	result Result
	err    error
}

func New(store documents.Store, retriever *retrieve.Retriever, provider llm.Provider, model, root string, maxQueries int) *Engine {
	if maxQueries <= 0 {
		maxQueries = 5
	}
	return &Engine{
		Store:        store,
		Retriever:    retriever,
		LLM:          provider,
		Model:        model,
		Root:         root,
		MaxQueries:   maxQueries,
		RetryBackoff: time.Second,
		inflight:     map[string]*build{},
	}
}

// Process parses the request, locates the task, and builds or reuses the
// brainstorm. A second request for a task with a build already running joins
// it when the action matches and is rejected with a conflict otherwise.
func (e *Engine) Process(ctx context.Context, query string) (Result, error) {
	req, err := ParseRequest(query)
	if err != nil {
		return Result{}, err
	}

	var task documents.Task
	if req.TaskID != "" {
		task, err = e.Store.Task(ctx, req.TaskID)
	} else {
		task, err = e.Store.TaskByTitle(ctx, req.Title)
	}
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	if running, ok := e.inflight[task.ID]; ok {
		e.mu.Unlock()
		if running.action != req.Action {
			return Result{}, fmt.Errorf("task %q busy with %q build: %w", task.ID, running.action, fault.ErrConflict)
		}
		select {
		case <-running.done:
			return running.result, running.err
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	b := &build{action: req.Action, done: make(chan struct{})}
	e.inflight[task.ID] = b
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, task.ID)
		e.mu.Unlock()
		close(b.done)
	}()

	b.result, b.err = e.run(ctx, req, task)
	return b.result, b.err
}

func (e *Engine) run(ctx context.Context, req Request, task documents.Task) (Result, error) {
	p := persister{root: e.Root}
	existing, hasExisting, err := p.load(task.ID)
	if err != nil {
		return Result{}, err
	}
	// action=new reuses a present file without calling the LLM
	if req.Action == ActionNew && hasExisting {
		return Result{
			TaskID:  task.ID,
			Content: existing.Content,
			Type:    existing.Type,
			Source:  SourceExisting,
			Version: existing.Version,
		}, nil
	}

	ragContext, sources, retrievalOK := e.retrieveContext(ctx, task)

	content, generated := e.generate(ctx, task, ragContext, sources)
	if !generated {
		if !retrievalOK {
			return Result{}, fmt.Errorf("brainstorm for %q: model and retrieval both failed: %w", task.ID, fault.ErrProviderUnavailable)
		}
		content = fallbackContent(task, ragContext, sources)
	}

	rec := Record{
		TaskID:      task.ID,
		Title:       task.Title,
		Type:        recordType(req.Action),
		GeneratedAt: time.Now().UTC(),
		Version:     existing.Version + 1,
		Content:     content,
	}
	var previous *Record
	if hasExisting && (req.Action == ActionImprove || req.Action == ActionUpdate) {
		previous = &existing
	}
	if err := p.write(rec, previous); err != nil {
		return Result{}, err
	}
	return Result{
		TaskID:         task.ID,
		Content:        rec.Content,
		Type:           rec.Type,
		Source:         SourceGenerated,
		NewlyGenerated: true,
		Version:        rec.Version,
		RAGContext:     ragContext,
		Sources:        sources,
	}, nil
}

// retrieveContext fans the task out as query variants and keeps the top
// snippets after rerank and dedup.
func (e *Engine) retrieveContext(ctx context.Context, task documents.Task) ([]string, []string, bool) {
	if e.Retriever == nil {
		return nil, nil, false
	}
	seed := retrieve.TaskSeed{Title: task.Title, Tags: task.Tags}
	if detail, ok, err := e.Store.TaskDetail(ctx, task.ID); err == nil && ok {
		seed.Objective = detail.Goal()
		seed.Subtasks = detail.Tasks
	}
	variants := retrieve.ExpandSeed(seed, e.MaxQueries)
	results, err := e.Retriever.Search(ctx, task.Title, retrieve.Options{
		K:        ragContextSize,
		Hybrid:   true,
		Variants: variants,
	})
	if err != nil {
		log.Warn().Err(err).Str("task", task.ID).Msg("brainstorm_retrieval_failed")
		return nil, nil, false
	}
	var snippets, sources []string
	for _, r := range results {
		snippets = append(snippets, r.Body)
		src := r.Meta.URL
		if src == "" {
			src = r.ID
		}
		sources = append(sources, src)
	}
	return snippets, sources, true
}

// generate calls the model under bounded retry; transient provider errors
// back off, input errors do not retry.
func (e *Engine) generate(ctx context.Context, task documents.Task, ragContext, sources []string) (string, bool) {
	if e.LLM == nil {
		return "", false
	}
	prompt := buildPrompt(task, ragContext, sources)
	backoff := e.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for attempt := 1; attempt <= 3; attempt++ {
		resp, err := e.LLM.Chat(ctx, []llm.Message{llm.User(prompt)}, nil, e.Model)
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			return ensureSections(resp.Content, ragContext, sources), true
		}
		if err != nil && !transient(err) {
			log.Warn().Err(err).Str("task", task.ID).Msg("brainstorm_llm_rejected")
			return "", false
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("task", task.ID).Msg("brainstorm_llm_retry")
		if attempt < 3 {
			select {
			case <-ctx.Done():
				return "", false
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return "", false
}

func transient(err error) bool {
	return errors.Is(err, fault.ErrProviderUnavailable) || errors.Is(err, fault.ErrTimeout)
}

func buildPrompt(task documents.Task, ragContext, sources []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a brainstorm report for the task below using exactly these markdown sections, in order: %s.\n\n", strings.Join(sectionOrder, ", "))
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	if len(task.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(task.Tags, ", "))
	}
	if len(ragContext) > 0 {
		b.WriteString("\nRetrieved context:\n")
		for i, c := range ragContext {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, c)
		}
	}
	if len(sources) > 0 {
		fmt.Fprintf(&b, "\nSources: %s\n", strings.Join(sources, ", "))
	}
	return b.String()
}

// ensureSections appends any section the model skipped so the artifact
// always carries the full fixed template.
func ensureSections(content string, ragContext, sources []string) string {
	out := strings.TrimSpace(content)
	for _, section := range sectionOrder {
		if strings.Contains(out, "### "+section) || strings.Contains(out, "## "+section) {
			continue
		}
		out += "\n\n### " + section + "\n"
		switch section {
		case "RAG Context Used":
			out += contextList(ragContext)
		case "Sources":
			out += contextList(sources)
		default:
			out += "_Not provided._"
		}
	}
	return out
}

// fallbackContent renders the template when the model is unavailable.
func fallbackContent(task documents.Task, ragContext, sources []string) string {
	var b strings.Builder
	b.WriteString("> LLM unavailable — template-rendered report.\n")
	for _, section := range sectionOrder {
		b.WriteString("\n### " + section + "\n")
		switch section {
		case "Overview":
			fmt.Fprintf(&b, "%s", task.Title)
			if task.Description != "" {
				fmt.Fprintf(&b, ": %s", task.Description)
			}
		case "RAG Context Used":
			b.WriteString(contextList(ragContext))
		case "Sources":
			b.WriteString(contextList(sources))
		default:
			b.WriteString("_Not provided._")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func contextList(items []string) string {
	if len(items) == 0 {
		return "_None._"
	}
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(item))
	}
	return strings.TrimRight(b.String(), "\n")
}

func recordType(action string) string {
	switch action {
	case ActionImprove:
		return "improved"
	case ActionUpdate:
		return "updated"
	default:
		return "initial"
	}
}
