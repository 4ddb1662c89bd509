package search

import "sort"

// Reciprocal rank fusion constants. The damping constant 60 is the standard
// value from the RRF literature; both legs weigh equally.
const (
	rrfK          = 60
	vectorWeight  = 0.5
	keywordWeight = 0.5
)

// rankedID is one entry of a single retrieval leg's ranked output.
type rankedID struct {
	id   string
	rank int // 0-based
}

// fuse merges the two legs' ranked ID lists by reciprocal rank fusion.
// Each appearance contributes weight/(rrfK+rank+1); IDs found by both legs
// accumulate both contributions and rise. Ties break on ascending ID so
// fusion is deterministic.
func fuse(vector, keyword []rankedID) []fusedID {
	scores := make(map[string]float64, len(vector)+len(keyword))
	for _, r := range vector {
		scores[r.id] += vectorWeight / float64(rrfK+r.rank+1)
	}
	for _, r := range keyword {
		scores[r.id] += keywordWeight / float64(rrfK+r.rank+1)
	}

	fused := make([]fusedID, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, fusedID{id: id, score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].id < fused[j].id
	})
	return fused
}

type fusedID struct {
	id    string
	score float64
}
