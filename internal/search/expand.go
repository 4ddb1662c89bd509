package search

import (
	"context"
	"fmt"

	"github.com/mecanio/mecanio/internal/knowledge"
	"github.com/mecanio/mecanio/internal/log"
)

// Context is a generation-ready context unit: a full parent section reached
// through one or more of its children, or a caption standing alone.
type Context struct {
	ID      string // parent ID, or the caption chunk's own ID
	Kind    string
	Title   string
	Content string
	Page    int
	Score   float64 // fused score of the best contributing hit
	Best    Hit     // highest-ranked hit that led here
}

// ParentStore fetches parent sections. *knowledge.Store satisfies it.
type ParentStore interface {
	ParentsByID(ctx context.Context, ids []string) (map[string]knowledge.Parent, error)
}

// Expander swaps child hits for their full parent sections.
type Expander struct {
	parents ParentStore
	logger  log.Logger
}

// NewExpander creates an Expander.
func NewExpander(parents ParentStore, logger log.Logger) *Expander {
	return &Expander{parents: parents, logger: log.NopIfNil(logger)}
}

// Expand maps fused child hits to deduplicated parent contexts, preserving
// fused order: a parent ranks where its best child ranked. Caption hits have
// no parent section and expand to themselves. Hits whose parent row is
// missing are logged and skipped rather than failing the whole search.
func (x *Expander) Expand(ctx context.Context, hits []Hit) ([]Context, error) {
	type slot struct {
		kind string
		best Hit
	}
	var order []string
	seen := make(map[string]slot, len(hits))
	var parentIDs []string

	for _, h := range hits {
		key := h.ParentID
		if h.Kind == knowledge.KindCaption {
			key = h.ID
		}
		if _, ok := seen[key]; ok {
			continue // a better-ranked sibling already claimed this parent
		}
		seen[key] = slot{kind: h.Kind, best: h}
		order = append(order, key)
		if h.Kind != knowledge.KindCaption {
			parentIDs = append(parentIDs, key)
		}
	}

	parents, err := x.parents.ParentsByID(ctx, parentIDs)
	if err != nil {
		return nil, fmt.Errorf("expand parents: %w", err)
	}

	contexts := make([]Context, 0, len(order))
	for _, key := range order {
		s := seen[key]
		if s.kind == knowledge.KindCaption {
			contexts = append(contexts, Context{
				ID:      key,
				Kind:    knowledge.KindCaption,
				Title:   s.best.Title,
				Content: s.best.Content,
				Page:    s.best.Page,
				Score:   s.best.Score,
				Best:    s.best,
			})
			continue
		}
		p, ok := parents[key]
		if !ok {
			x.logger.Warn("child hit references missing parent", "parent_id", key, "child_id", s.best.ID)
			continue
		}
		contexts = append(contexts, Context{
			ID:      p.ID,
			Kind:    knowledge.KindChild,
			Title:   p.Title,
			Content: p.Content,
			Page:    s.best.Page,
			Score:   s.best.Score,
			Best:    s.best,
		})
	}
	return contexts, nil
}
