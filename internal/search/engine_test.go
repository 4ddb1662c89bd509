package search

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mecanio/mecanio/internal/config"
	"github.com/mecanio/mecanio/internal/keyword"
	"github.com/mecanio/mecanio/internal/knowledge"
	"github.com/mecanio/mecanio/internal/log"
)

type fakeStore struct {
	vectorHits []knowledge.VectorHit
	vectorErr  error
	chunks     map[string]knowledge.Chunk
	chunksErr  error
}

func (f *fakeStore) VectorSearch(context.Context, []float32, int) ([]knowledge.VectorHit, error) {
	return f.vectorHits, f.vectorErr
}

func (f *fakeStore) ChunksByID(_ context.Context, ids []string) (map[string]knowledge.Chunk, error) {
	if f.chunksErr != nil {
		return nil, f.chunksErr
	}
	out := map[string]knowledge.Chunk{}
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

type fakeIndex struct {
	results []keyword.Result
}

func (f *fakeIndex) Search(string, int) []keyword.Result { return f.results }

type stubEmbedder struct {
	err error
}

func (stubEmbedder) Name() string          { return "stub-embedder" }
func (stubEmbedder) Register(api.Registry) {}
func (s stubEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i := range req.Input {
		embeddings[i] = &ai.Embedding{Embedding: []float32{0.1, 0.2, 0.3}}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		ChunkSize:    config.DefaultChunkSize,
		ChunkOverlap: config.DefaultChunkOverlap,
		VectorK:      10,
		KeywordK:     10,
		ChildK:       5,
		TopK:         3,
	}
}

func vh(id, parentID string) knowledge.VectorHit {
	return knowledge.VectorHit{ID: id, ParentID: parentID, Kind: knowledge.KindChild, Content: "text " + id}
}

func TestEngine_Search_FusesBothLegs(t *testing.T) {
	store := &fakeStore{
		vectorHits: []knowledge.VectorHit{vh("p0_child_0", "p0"), vh("p1_child_0", "p1")},
		chunks: map[string]knowledge.Chunk{
			"p2_child_0": {ID: "p2_child_0", ParentID: "p2", Kind: knowledge.KindChild, Content: "keyword only"},
		},
	}
	index := &fakeIndex{results: []keyword.Result{
		{ID: "p1_child_0", Score: 9},
		{ID: "p2_child_0", Score: 4},
	}}
	engine := NewEngine(store, index, stubEmbedder{}, testRetrievalConfig(), log.NewNop())

	hits, err := engine.Search(context.Background(), "oil pump")
	require.NoError(t, err)
	require.Len(t, hits, 3)

	// p1_child_0 appears in both legs and must rank first.
	assert.Equal(t, "p1_child_0", hits[0].ID)
	assert.Equal(t, "keyword only", hitByID(t, hits, "p2_child_0").Content, "keyword-only hit hydrated from store")
}

func TestEngine_Search_DegradesWhenVectorFails(t *testing.T) {
	store := &fakeStore{
		vectorErr: errors.New("connection refused"),
		chunks: map[string]knowledge.Chunk{
			"p0_child_0": {ID: "p0_child_0", ParentID: "p0", Kind: knowledge.KindChild, Content: "sparse"},
		},
	}
	index := &fakeIndex{results: []keyword.Result{{ID: "p0_child_0", Score: 2}}}
	engine := NewEngine(store, index, stubEmbedder{}, testRetrievalConfig(), log.NewNop())

	hits, err := engine.Search(context.Background(), "df025")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p0_child_0", hits[0].ID)
}

func TestEngine_Search_DegradesWhenEmbedFails(t *testing.T) {
	store := &fakeStore{
		chunks: map[string]knowledge.Chunk{
			"p0_child_0": {ID: "p0_child_0", ParentID: "p0", Kind: knowledge.KindChild},
		},
	}
	index := &fakeIndex{results: []keyword.Result{{ID: "p0_child_0", Score: 2}}}
	engine := NewEngine(store, index, stubEmbedder{err: errors.New("quota")}, testRetrievalConfig(), log.NewNop())

	hits, err := engine.Search(context.Background(), "df025")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestEngine_Search_ErrorWhenBothLegsFail(t *testing.T) {
	store := &fakeStore{vectorErr: errors.New("down")}
	engine := NewEngine(store, &fakeIndex{}, stubEmbedder{}, testRetrievalConfig(), log.NewNop())

	_, err := engine.Search(context.Background(), "anything")
	assert.Error(t, err)
}

func TestEngine_Search_NoResults(t *testing.T) {
	engine := NewEngine(&fakeStore{}, &fakeIndex{}, stubEmbedder{}, testRetrievalConfig(), log.NewNop())

	_, err := engine.Search(context.Background(), "nothing indexed")
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestEngine_Search_TruncatesToChildK(t *testing.T) {
	var vectorHits []knowledge.VectorHit
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		vectorHits = append(vectorHits, vh("p_"+id, "p"))
	}
	engine := NewEngine(&fakeStore{vectorHits: vectorHits}, &fakeIndex{}, stubEmbedder{},
		testRetrievalConfig(), log.NewNop())

	hits, err := engine.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, hits, 5)
}

func TestEngine_Search_DropsStaleIndexHits(t *testing.T) {
	store := &fakeStore{
		vectorHits: []knowledge.VectorHit{vh("p0_child_0", "p0")},
		chunks:     map[string]knowledge.Chunk{}, // stale keyword id has no row
	}
	index := &fakeIndex{results: []keyword.Result{{ID: "ghost_child_0", Score: 3}}}
	engine := NewEngine(store, index, stubEmbedder{}, testRetrievalConfig(), log.NewNop())

	hits, err := engine.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p0_child_0", hits[0].ID)
}

func hitByID(t *testing.T, hits []Hit, id string) Hit {
	t.Helper()
	for _, h := range hits {
		if h.ID == id {
			return h
		}
	}
	t.Fatalf("hit %q not found", id)
	return Hit{}
}
