// Package keyword implements the sparse half of hybrid retrieval: an
// in-memory BM25 index over child chunks and captions.
//
// The index lives in process memory and is rebuilt from the knowledge store
// on startup when no usable snapshot exists. Exact part codes and fault
// numbers that embeddings blur ("DF025", "P0420") rank highly here, which is
// why fusion consumes both halves.
package keyword

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// BM25 shape parameters. Standard Okapi values.
const (
	k1 = 1.2
	b  = 0.75
)

// Result is a scored index hit.
type Result struct {
	ID    string
	Score float64
}

// Source streams indexable chunks out of persistent storage for rebuilds.
type Source interface {
	EachChunk(ctx context.Context, fn func(id, text string) error) error
}

// Index is a thread-safe in-memory BM25 index keyed by chunk ID.
type Index struct {
	mu         sync.RWMutex
	termFreqs  map[string]map[string]int // chunk ID -> term -> freq
	docFreqs   map[string]int            // term -> chunk count
	docLengths map[string]int
	avgDocLen  float64
	totalDocs  int
}

// New returns an empty index.
func New() *Index {
	idx := &Index{}
	idx.reset()
	return idx
}

func (idx *Index) reset() {
	idx.termFreqs = make(map[string]map[string]int)
	idx.docFreqs = make(map[string]int)
	idx.docLengths = make(map[string]int)
	idx.avgDocLen = 0
	idx.totalDocs = 0
}

// Add indexes a chunk. Re-adding an existing ID replaces its terms.
func (idx *Index) Add(id, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(id)

	terms := Tokenize(text)
	freqs := make(map[string]int, len(terms))
	for _, term := range terms {
		freqs[term]++
	}
	for term := range freqs {
		idx.docFreqs[term]++
	}

	idx.termFreqs[id] = freqs
	idx.docLengths[id] = len(terms)
	idx.totalDocs++
	idx.recalcAvgLen()
}

// Remove drops a chunk from the index. Unknown IDs are a no-op.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
	idx.recalcAvgLen()
}

// RemoveByPrefix drops every chunk whose ID starts with prefix. Used when a
// document is withdrawn, since all of a document's chunk IDs share its
// fingerprint prefix.
func (idx *Index) RemoveByPrefix(prefix string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var ids []string
	for id := range idx.termFreqs {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		idx.removeLocked(id)
	}
	idx.recalcAvgLen()
	return len(ids)
}

func (idx *Index) removeLocked(id string) {
	freqs, ok := idx.termFreqs[id]
	if !ok {
		return
	}
	for term := range freqs {
		idx.docFreqs[term]--
		if idx.docFreqs[term] <= 0 {
			delete(idx.docFreqs, term)
		}
	}
	delete(idx.termFreqs, id)
	delete(idx.docLengths, id)
	idx.totalDocs--
}

// Clear empties the index.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.reset()
}

// Len returns the number of indexed chunks.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.totalDocs
}

// Search scores the query against the index and returns up to topK results
// ordered by descending score, ties broken by ascending ID so results are
// deterministic. An empty index or a query with no known terms returns nil.
func (idx *Index) Search(query string, topK int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.totalDocs == 0 || topK < 1 {
		return nil
	}

	scores := make(map[string]float64)
	for _, term := range Tokenize(query) {
		df, ok := idx.docFreqs[term]
		if !ok {
			continue
		}
		idf := idx.idf(df)
		for id, freqs := range idx.termFreqs {
			tf, ok := freqs[term]
			if !ok {
				continue
			}
			scores[id] += idf * idx.tfWeight(float64(tf), float64(idx.docLengths[id]))
		}
	}
	if len(scores) == 0 {
		return nil
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, Result{ID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Rebuild replaces the index contents from the given source in one pass.
// On error the index is left cleared rather than half-populated.
func (idx *Index) Rebuild(ctx context.Context, src Source) (int, error) {
	fresh := New()
	err := src.EachChunk(ctx, func(id, text string) error {
		fresh.Add(id, text)
		return nil
	})

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err != nil {
		idx.reset()
		return 0, err
	}
	idx.termFreqs = fresh.termFreqs
	idx.docFreqs = fresh.docFreqs
	idx.docLengths = fresh.docLengths
	idx.avgDocLen = fresh.avgDocLen
	idx.totalDocs = fresh.totalDocs
	return idx.totalDocs, nil
}

func (idx *Index) idf(df int) float64 {
	n := float64(idx.totalDocs)
	x := (n-float64(df)+0.5)/(float64(df)+0.5) + 1
	if x <= 0 {
		return 0
	}
	return math.Log(x)
}

func (idx *Index) tfWeight(tf, docLen float64) float64 {
	denom := tf + k1*(1-b+b*(docLen/idx.avgDocLen))
	if denom == 0 {
		return 0
	}
	return (tf * (k1 + 1)) / denom
}

func (idx *Index) recalcAvgLen() {
	if idx.totalDocs == 0 {
		idx.avgDocLen = 0
		return
	}
	total := 0
	for _, n := range idx.docLengths {
		total += n
	}
	idx.avgDocLen = float64(total) / float64(idx.totalDocs)
}

// Tokenize lower-cases, splits on whitespace, and strips surrounding
// punctuation. Hyphenated codes keep interior hyphens so "DF025-2" stays one
// token.
func Tokenize(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		cleaned := strings.Trim(w, ".,!?;:\"'()[]{}#$%&*+-/<>=@\\^_`|~")
		if cleaned != "" {
			tokens = append(tokens, cleaned)
		}
	}
	return tokens
}
