package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ranked(ids ...string) []rankedID {
	out := make([]rankedID, len(ids))
	for i, id := range ids {
		out[i] = rankedID{id: id, rank: i}
	}
	return out
}

func TestFuse_BothLegsOutrankOne(t *testing.T) {
	// "b" appears in both legs at rank 1; "a" and "c" each top one leg.
	fused := fuse(ranked("a", "b"), ranked("c", "b"))
	require.Len(t, fused, 3)
	assert.Equal(t, "b", fused[0].id, "double appearance accumulates both contributions")
}

func TestFuse_PreservesSingleLegOrder(t *testing.T) {
	fused := fuse(ranked("a", "b", "c"), nil)
	require.Len(t, fused, 3)
	assert.Equal(t, "a", fused[0].id)
	assert.Equal(t, "b", fused[1].id)
	assert.Equal(t, "c", fused[2].id)
}

func TestFuse_TieBreaksOnID(t *testing.T) {
	// Same rank in opposite legs: identical scores.
	fused := fuse(ranked("zzz"), ranked("aaa"))
	require.Len(t, fused, 2)
	assert.Equal(t, fused[0].score, fused[1].score)
	assert.Equal(t, "aaa", fused[0].id)
}

func TestFuse_ScoreFormula(t *testing.T) {
	fused := fuse(ranked("a"), nil)
	require.Len(t, fused, 1)
	assert.InDelta(t, 0.5/61.0, fused[0].score, 1e-12)

	both := fuse(ranked("a"), ranked("a"))
	require.Len(t, both, 1)
	assert.InDelta(t, 1.0/61.0, both[0].score, 1e-12)
}

func TestFuse_Empty(t *testing.T) {
	assert.Empty(t, fuse(nil, nil))
}
