// Package ingest runs the document ingestion pipeline: fingerprint and
// dedup, PDF segmentation, structural chunking, image captioning, embedding,
// transactional storage, and keyword indexing.
//
// The pipeline is all-or-nothing per document. Any failure after the
// fingerprint is claimed rolls the registration back so the document can be
// retried; a duplicate upload is detected before any expensive work.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/firebase/genkit/go/ai"

	"github.com/mecanio/mecanio/internal/chunk"
	"github.com/mecanio/mecanio/internal/config"
	"github.com/mecanio/mecanio/internal/knowledge"
	"github.com/mecanio/mecanio/internal/log"
	"github.com/mecanio/mecanio/internal/pdf"
	"github.com/mecanio/mecanio/internal/vision"
)

// Result summarizes one ingestion run.
type Result struct {
	Fingerprint string `json:"fingerprint"`
	Filename    string `json:"filename"`
	Skipped     bool   `json:"skipped"`
	Pages       int    `json:"pages"`
	Parents     int    `json:"parents"`
	Children    int    `json:"children"`
	Images      int    `json:"images"`
	Captions    int    `json:"captions"`
}

// Store is the knowledge store surface the pipeline writes.
type Store interface {
	CheckAndRegister(ctx context.Context, doc knowledge.Document) (bool, error)
	SetPageCount(ctx context.Context, fingerprint string, pages int) error
	Unregister(ctx context.Context, fingerprint string) error
	SaveSections(ctx context.Context, parents []knowledge.Parent, chunks []knowledge.Chunk) error
}

// Segmenter extracts text and images from raw PDF bytes.
type Segmenter interface {
	Segment(ctx context.Context, raw []byte) (*pdf.Document, error)
}

// Captioner captions extracted images.
type Captioner interface {
	CaptionAll(ctx context.Context, images []pdf.Image) ([]vision.Caption, error)
}

// Indexer receives newly ingested chunks. *keyword.Index satisfies it.
type Indexer interface {
	Add(id, text string)
}

// Pipeline ingests documents end to end.
type Pipeline struct {
	store     Store
	segmenter Segmenter
	captioner Captioner
	embedder  ai.Embedder
	index     Indexer
	cfg       config.RetrievalConfig
	logger    log.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(store Store, segmenter Segmenter, captioner Captioner, embedder ai.Embedder, index Indexer, cfg config.RetrievalConfig, logger log.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		segmenter: segmenter,
		captioner: captioner,
		embedder:  embedder,
		index:     index,
		cfg:       cfg,
		logger:    log.NopIfNil(logger),
	}
}

// Fingerprint returns the hex SHA-256 of the document bytes.
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Ingest processes one uploaded document. Re-uploading identical bytes is
// detected by fingerprint before any parsing and returns a Skipped result.
// Unreadable documents fail with an error wrapping pdf.ErrUnreadable.
func (p *Pipeline) Ingest(ctx context.Context, filename string, raw []byte) (Result, error) {
	fingerprint := Fingerprint(raw)
	result := Result{Fingerprint: fingerprint, Filename: filename}

	fresh, err := p.store.CheckAndRegister(ctx, knowledge.Document{
		Fingerprint: fingerprint,
		Filename:    filename,
	})
	if err != nil {
		return Result{}, err
	}
	if !fresh {
		p.logger.Info("document already ingested", "filename", filename, "fingerprint", fingerprint)
		result.Skipped = true
		return result, nil
	}

	result, err = p.process(ctx, fingerprint, filename, raw, result)
	if err != nil {
		// Give the fingerprint back so a retry is possible.
		if unregErr := p.store.Unregister(ctx, fingerprint); unregErr != nil {
			p.logger.Error("rollback failed, document stuck registered",
				"fingerprint", fingerprint, "error", unregErr)
		}
		return Result{}, err
	}
	return result, nil
}

func (p *Pipeline) process(ctx context.Context, fingerprint, filename string, raw []byte, result Result) (Result, error) {
	doc, err := p.segmenter.Segment(ctx, raw)
	if err != nil {
		return Result{}, fmt.Errorf("segment %s: %w", filename, err)
	}
	result.Pages = doc.PageCount()
	result.Images = len(doc.Images)
	if err := p.store.SetPageCount(ctx, fingerprint, doc.PageCount()); err != nil {
		p.logger.Warn("page count update failed", "fingerprint", fingerprint, "error", err)
	}

	sections := chunk.SplitSections(doc.Pages)
	parents := chunk.BuildParents(fingerprint, sections)
	chunkCfg := chunk.Config{ChunkSize: p.cfg.ChunkSize, ChunkOverlap: p.cfg.ChunkOverlap}

	var children []chunk.Child
	childParent := make(map[string]chunk.Parent)
	for _, parent := range parents {
		for _, c := range chunk.SplitChildren(parent, chunkCfg) {
			children = append(children, c)
			childParent[c.ID] = parent
		}
	}
	result.Parents = len(parents)
	result.Children = len(children)

	captions, err := p.captioner.CaptionAll(ctx, doc.Images)
	if err != nil {
		return Result{}, fmt.Errorf("caption images: %w", err)
	}
	result.Captions = len(captions)

	rows, err := p.buildRows(ctx, fingerprint, filename, children, childParent, captions)
	if err != nil {
		return Result{}, err
	}

	if err := p.store.SaveSections(ctx, toKnowledgeParents(fingerprint, parents), rows); err != nil {
		return Result{}, err
	}

	// Index only after the transaction committed; searches must never rank
	// chunks that storage does not hold.
	for _, row := range rows {
		p.index.Add(row.ID, knowledge.IndexText(row.Title, row.Content))
	}

	p.logger.Info("document ingested",
		"filename", filename,
		"pages", result.Pages,
		"parents", result.Parents,
		"children", result.Children,
		"captions", result.Captions)
	return result, nil
}

// buildRows embeds all indexable texts in one batched pass and assembles the
// chunk rows for storage.
func (p *Pipeline) buildRows(ctx context.Context, fingerprint, filename string, children []chunk.Child, childParent map[string]chunk.Parent, captions []vision.Caption) ([]knowledge.Chunk, error) {
	fp8 := fingerprint
	if len(fp8) > 8 {
		fp8 = fp8[:8]
	}

	rows := make([]knowledge.Chunk, 0, len(children)+len(captions))
	texts := make([]string, 0, cap(rows))

	for _, c := range children {
		parent := childParent[c.ID]
		page := 0
		if len(parent.Pages) > 0 {
			page = parent.Pages[0]
		}
		rows = append(rows, knowledge.Chunk{
			ID:                  c.ID,
			ParentID:            c.ParentID,
			DocumentFingerprint: fingerprint,
			Kind:                knowledge.KindChild,
			Title:               parent.Title,
			Content:             c.Text,
			Page:                page,
		})
		texts = append(texts, knowledge.IndexText(parent.Title, c.Text))
	}

	for _, caption := range captions {
		id := fmt.Sprintf("%s_image_%d_%d", fp8, caption.Page, caption.Index)
		title := fmt.Sprintf("%s p.%d", filename, caption.Page)
		rows = append(rows, knowledge.Chunk{
			ID:                  id,
			ParentID:            id, // captions stand alone
			DocumentFingerprint: fingerprint,
			Kind:                knowledge.KindCaption,
			Title:               title,
			Content:             caption.Text,
			Page:                caption.Page,
		})
		texts = append(texts, knowledge.IndexText(title, caption.Text))
	}

	if len(rows) == 0 {
		return rows, nil
	}

	embeddings, err := knowledge.EmbedTexts(ctx, p.embedder, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	for i := range rows {
		rows[i].Embedding = embeddings[i]
	}
	return rows, nil
}

func toKnowledgeParents(fingerprint string, parents []chunk.Parent) []knowledge.Parent {
	out := make([]knowledge.Parent, 0, len(parents))
	for _, p := range parents {
		out = append(out, knowledge.Parent{
			ID:                  p.ID,
			DocumentFingerprint: fingerprint,
			Title:               p.Title,
			Content:             p.Text,
			CharCount:           len([]rune(p.Text)),
		})
	}
	return out
}
