package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mecanio/mecanio/internal/config"
	"github.com/mecanio/mecanio/internal/knowledge"
	"github.com/mecanio/mecanio/internal/log"
	"github.com/mecanio/mecanio/internal/pdf"
	"github.com/mecanio/mecanio/internal/vision"
)

type fakeIngestStore struct {
	registered   map[string]bool
	unregistered []string
	savedParents []knowledge.Parent
	savedChunks  []knowledge.Chunk
	saveErr      error
	pageCounts   map[string]int
}

func newFakeIngestStore() *fakeIngestStore {
	return &fakeIngestStore{registered: map[string]bool{}, pageCounts: map[string]int{}}
}

func (f *fakeIngestStore) CheckAndRegister(_ context.Context, doc knowledge.Document) (bool, error) {
	if f.registered[doc.Fingerprint] {
		return false, nil
	}
	f.registered[doc.Fingerprint] = true
	return true, nil
}

func (f *fakeIngestStore) SetPageCount(_ context.Context, fp string, pages int) error {
	f.pageCounts[fp] = pages
	return nil
}

func (f *fakeIngestStore) Unregister(_ context.Context, fp string) error {
	f.unregistered = append(f.unregistered, fp)
	delete(f.registered, fp)
	return nil
}

func (f *fakeIngestStore) SaveSections(_ context.Context, parents []knowledge.Parent, chunks []knowledge.Chunk) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.savedParents = parents
	f.savedChunks = chunks
	return nil
}

type fakeSegmenter struct {
	doc *pdf.Document
	err error
}

func (f *fakeSegmenter) Segment(context.Context, []byte) (*pdf.Document, error) {
	return f.doc, f.err
}

type fakeCaptioner struct {
	captions []vision.Caption
	err      error
}

func (f *fakeCaptioner) CaptionAll(_ context.Context, images []pdf.Image) ([]vision.Caption, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.captions, nil
}

type recordingIndex struct {
	added map[string]string
}

func (r *recordingIndex) Add(id, text string) {
	if r.added == nil {
		r.added = map[string]string{}
	}
	r.added[id] = text
}

type batchEmbedder struct{ err error }

func (batchEmbedder) Name() string          { return "batch-embedder" }
func (batchEmbedder) Register(api.Registry) {}
func (b batchEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if b.err != nil {
		return nil, b.err
	}
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i := range req.Input {
		embeddings[i] = &ai.Embedding{Embedding: []float32{1, 2, 3}}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func manualDoc() *pdf.Document {
	section := "LUBRICATION SYSTEM\n" +
		strings.Repeat("Drain the oil and remove the sump bolts in the order shown. ", 10)
	return &pdf.Document{
		Pages:  []pdf.Page{{Number: 1, Text: section}},
		Images: []pdf.Image{{Page: 1, Index: 0, Data: []byte("img")}},
	}
}

func newPipeline(store Store, seg Segmenter, capt Captioner, idx Indexer) *Pipeline {
	cfg := config.RetrievalConfig{ChunkSize: 200, ChunkOverlap: 40}
	return NewPipeline(store, seg, capt, batchEmbedder{}, idx, cfg, log.NewNop())
}

func TestPipeline_Ingest(t *testing.T) {
	store := newFakeIngestStore()
	idx := &recordingIndex{}
	captions := []vision.Caption{{Page: 1, Index: 0, Fingerprint: "imgfp", Text: "oil pump diagram"}}
	p := newPipeline(store, &fakeSegmenter{doc: manualDoc()}, &fakeCaptioner{captions: captions}, idx)

	result, err := p.Ingest(context.Background(), "manual.pdf", []byte("raw pdf bytes"))
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Pages)
	assert.Equal(t, 1, result.Parents)
	assert.Greater(t, result.Children, 1, "section is larger than one child window")
	assert.Equal(t, 1, result.Captions)
	assert.Len(t, result.Fingerprint, 64)

	require.Len(t, store.savedParents, 1)
	assert.Equal(t, "LUBRICATION SYSTEM", store.savedParents[0].Title)
	assert.Equal(t, result.Children+1, len(store.savedChunks))

	for _, c := range store.savedChunks {
		assert.Equal(t, []float32{1, 2, 3}, c.Embedding)
		assert.Equal(t, result.Fingerprint, c.DocumentFingerprint)
	}

	// The caption row stands alone and carries the source page label.
	captionRow := store.savedChunks[len(store.savedChunks)-1]
	assert.Equal(t, knowledge.KindCaption, captionRow.Kind)
	assert.Equal(t, captionRow.ID, captionRow.ParentID)
	assert.Contains(t, captionRow.Title, "manual.pdf p.1")

	assert.Len(t, idx.added, len(store.savedChunks), "every stored chunk is keyword-indexed")
	assert.Contains(t, idx.added[captionRow.ID], "oil pump diagram")

	assert.Equal(t, 1, store.pageCounts[result.Fingerprint])
}

func TestPipeline_Ingest_DuplicateSkipped(t *testing.T) {
	store := newFakeIngestStore()
	seg := &fakeSegmenter{doc: manualDoc()}
	p := newPipeline(store, seg, &fakeCaptioner{}, &recordingIndex{})

	_, err := p.Ingest(context.Background(), "manual.pdf", []byte("same bytes"))
	require.NoError(t, err)

	result, err := p.Ingest(context.Background(), "renamed.pdf", []byte("same bytes"))
	require.NoError(t, err)
	assert.True(t, result.Skipped, "identical bytes under a new name are still a duplicate")
	assert.Zero(t, result.Parents)
}

func TestPipeline_Ingest_UnreadableRollsBack(t *testing.T) {
	store := newFakeIngestStore()
	p := newPipeline(store, &fakeSegmenter{err: pdf.ErrUnreadable}, &fakeCaptioner{}, &recordingIndex{})

	_, err := p.Ingest(context.Background(), "broken.pdf", []byte("junk"))
	require.ErrorIs(t, err, pdf.ErrUnreadable)
	require.Len(t, store.unregistered, 1, "failed ingest releases the fingerprint")

	// The document can be retried after the rollback.
	p2 := newPipeline(store, &fakeSegmenter{doc: manualDoc()}, &fakeCaptioner{}, &recordingIndex{})
	result, err := p2.Ingest(context.Background(), "broken.pdf", []byte("junk"))
	require.NoError(t, err)
	assert.False(t, result.Skipped)
}

func TestPipeline_Ingest_SaveFailureRollsBack(t *testing.T) {
	store := newFakeIngestStore()
	store.saveErr = errors.New("disk full")
	idx := &recordingIndex{}
	p := newPipeline(store, &fakeSegmenter{doc: manualDoc()}, &fakeCaptioner{}, idx)

	_, err := p.Ingest(context.Background(), "manual.pdf", []byte("raw"))
	require.Error(t, err)
	assert.Len(t, store.unregistered, 1)
	assert.Empty(t, idx.added, "nothing is indexed when storage fails")
}

func TestPipeline_Ingest_EmbedFailureRollsBack(t *testing.T) {
	store := newFakeIngestStore()
	cfg := config.RetrievalConfig{ChunkSize: 200, ChunkOverlap: 40}
	p := NewPipeline(store, &fakeSegmenter{doc: manualDoc()}, &fakeCaptioner{},
		batchEmbedder{err: errors.New("quota")}, &recordingIndex{}, cfg, log.NewNop())

	_, err := p.Ingest(context.Background(), "manual.pdf", []byte("raw"))
	require.Error(t, err)
	assert.Len(t, store.unregistered, 1)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint([]byte("abc")), Fingerprint([]byte("abc")))
	assert.NotEqual(t, Fingerprint([]byte("abc")), Fingerprint([]byte("abd")))
	assert.Len(t, Fingerprint(nil), 64)
}
