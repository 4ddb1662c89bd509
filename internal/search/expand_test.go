package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mecanio/mecanio/internal/knowledge"
	"github.com/mecanio/mecanio/internal/log"
)

type fakeParents struct {
	parents map[string]knowledge.Parent
	err     error
}

func (f *fakeParents) ParentsByID(_ context.Context, ids []string) (map[string]knowledge.Parent, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]knowledge.Parent{}
	for _, id := range ids {
		if p, ok := f.parents[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func TestExpander_DeduplicatesSiblings(t *testing.T) {
	store := &fakeParents{parents: map[string]knowledge.Parent{
		"p0": {ID: "p0", Title: "LUBRICATION SYSTEM", Content: "full section text"},
		"p1": {ID: "p1", Title: "COOLING SYSTEM", Content: "other section"},
	}}
	x := NewExpander(store, log.NewNop())

	hits := []Hit{
		{ID: "p0_child_1", ParentID: "p0", Kind: knowledge.KindChild, Score: 0.9, Page: 12},
		{ID: "p1_child_0", ParentID: "p1", Kind: knowledge.KindChild, Score: 0.8},
		{ID: "p0_child_3", ParentID: "p0", Kind: knowledge.KindChild, Score: 0.7},
	}

	contexts, err := x.Expand(context.Background(), hits)
	require.NoError(t, err)
	require.Len(t, contexts, 2, "two children of p0 collapse into one context")

	assert.Equal(t, "p0", contexts[0].ID)
	assert.Equal(t, "full section text", contexts[0].Content)
	assert.Equal(t, "p0_child_1", contexts[0].Best.ID, "best-ranked child wins")
	assert.Equal(t, 0.9, contexts[0].Score)
	assert.Equal(t, 12, contexts[0].Page)
	assert.Equal(t, "p1", contexts[1].ID)
}

func TestExpander_CaptionsExpandToThemselves(t *testing.T) {
	x := NewExpander(&fakeParents{}, log.NewNop())

	hits := []Hit{
		{ID: "doc_image_3_0", ParentID: "doc_image_3_0", Kind: knowledge.KindCaption,
			Title: "manual.pdf p.3", Content: "exploded view of the oil pump", Page: 3, Score: 0.5},
	}

	contexts, err := x.Expand(context.Background(), hits)
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, knowledge.KindCaption, contexts[0].Kind)
	assert.Equal(t, "exploded view of the oil pump", contexts[0].Content)
}

func TestExpander_SkipsMissingParents(t *testing.T) {
	store := &fakeParents{parents: map[string]knowledge.Parent{
		"p1": {ID: "p1", Content: "present"},
	}}
	x := NewExpander(store, log.NewNop())

	contexts, err := x.Expand(context.Background(), []Hit{
		{ID: "gone_child_0", ParentID: "gone", Kind: knowledge.KindChild},
		{ID: "p1_child_0", ParentID: "p1", Kind: knowledge.KindChild},
	})
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, "p1", contexts[0].ID)
}

func TestExpander_StoreError(t *testing.T) {
	x := NewExpander(&fakeParents{err: errors.New("timeout")}, log.NewNop())
	_, err := x.Expand(context.Background(), []Hit{{ID: "c", ParentID: "p", Kind: knowledge.KindChild}})
	assert.Error(t, err)
}

func TestExpander_Empty(t *testing.T) {
	x := NewExpander(&fakeParents{}, log.NewNop())
	contexts, err := x.Expand(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, contexts)
}
