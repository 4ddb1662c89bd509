// Package search implements hybrid retrieval: a dense vector leg and a
// sparse keyword leg run concurrently, their ranked outputs merge by
// reciprocal rank fusion, and fused child hits expand to their full parent
// sections for generation context.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/sync/errgroup"

	"github.com/mecanio/mecanio/internal/config"
	"github.com/mecanio/mecanio/internal/keyword"
	"github.com/mecanio/mecanio/internal/knowledge"
	"github.com/mecanio/mecanio/internal/log"
)

// ErrNoResults indicates both retrieval legs came back empty.
var ErrNoResults = errors.New("search: no results")

// Hit is a fused child-level result, best first.
type Hit struct {
	ID       string
	ParentID string
	Kind     string
	Title    string
	Content  string
	Page     int
	Score    float64
}

// ChunkStore is the knowledge store surface the engine reads.
type ChunkStore interface {
	VectorSearch(ctx context.Context, embedding []float32, k int) ([]knowledge.VectorHit, error)
	ChunksByID(ctx context.Context, ids []string) (map[string]knowledge.Chunk, error)
}

// KeywordIndex is the sparse leg. *keyword.Index satisfies it.
type KeywordIndex interface {
	Search(query string, topK int) []keyword.Result
}

// Engine runs hybrid child-level retrieval.
type Engine struct {
	store    ChunkStore
	index    KeywordIndex
	embedder ai.Embedder
	cfg      config.RetrievalConfig
	logger   log.Logger
}

// NewEngine creates a hybrid retrieval engine.
func NewEngine(store ChunkStore, index KeywordIndex, embedder ai.Embedder, cfg config.RetrievalConfig, logger log.Logger) *Engine {
	return &Engine{
		store:    store,
		index:    index,
		embedder: embedder,
		cfg:      cfg,
		logger:   log.NopIfNil(logger),
	}
}

// Search runs both legs concurrently and fuses their rankings, returning up
// to ChildK hits. A single failing leg degrades to the other leg's ranking
// with a warning; the search only errors when no leg produced anything.
func (e *Engine) Search(ctx context.Context, query string) ([]Hit, error) {
	var (
		vectorHits []knowledge.VectorHit
		keywordRes []keyword.Result
		vectorErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		embedding, err := knowledge.EmbedText(gctx, e.embedder, query)
		if err != nil {
			vectorErr = fmt.Errorf("embed query: %w", err)
			return nil
		}
		vectorHits, err = e.store.VectorSearch(gctx, embedding, e.cfg.VectorK)
		if err != nil {
			vectorErr = fmt.Errorf("vector leg: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		keywordRes = e.index.Search(query, e.cfg.KeywordK)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if vectorErr != nil {
		e.logger.Warn("vector leg failed, degrading to keyword only", "error", vectorErr)
		if len(keywordRes) == 0 {
			return nil, vectorErr
		}
	}
	if len(vectorHits) == 0 && len(keywordRes) == 0 {
		return nil, ErrNoResults
	}

	vectorRanked := make([]rankedID, len(vectorHits))
	byID := make(map[string]knowledge.Chunk, len(vectorHits))
	for i, h := range vectorHits {
		vectorRanked[i] = rankedID{id: h.ID, rank: i}
		byID[h.ID] = knowledge.Chunk{
			ID: h.ID, ParentID: h.ParentID, Kind: h.Kind,
			Title: h.Title, Content: h.Content, Page: h.Page,
		}
	}
	keywordRanked := make([]rankedID, len(keywordRes))
	for i, r := range keywordRes {
		keywordRanked[i] = rankedID{id: r.ID, rank: i}
	}

	fused := fuse(vectorRanked, keywordRanked)
	if len(fused) > e.cfg.ChildK {
		fused = fused[:e.cfg.ChildK]
	}

	// Keyword-only hits carry no row data; hydrate them in one query.
	var missing []string
	for _, f := range fused {
		if _, ok := byID[f.id]; !ok {
			missing = append(missing, f.id)
		}
	}
	if len(missing) > 0 {
		hydrated, err := e.store.ChunksByID(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("hydrate keyword hits: %w", err)
		}
		for id, c := range hydrated {
			byID[id] = c
		}
	}

	hits := make([]Hit, 0, len(fused))
	for _, f := range fused {
		c, ok := byID[f.id]
		if !ok {
			// Index entry with no backing row, typically a chunk removed
			// after the snapshot was taken.
			e.logger.Warn("dropping stale index hit", "id", f.id)
			continue
		}
		hits = append(hits, Hit{
			ID:       c.ID,
			ParentID: c.ParentID,
			Kind:     c.Kind,
			Title:    c.Title,
			Content:  c.Content,
			Page:     c.Page,
			Score:    f.score,
		})
	}

	e.logger.Debug("hybrid search complete",
		"query_len", len(query),
		"vector_hits", len(vectorHits),
		"keyword_hits", len(keywordRes),
		"fused", len(hits))
	return hits, nil
}
