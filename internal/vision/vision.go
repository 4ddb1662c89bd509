// Package vision turns manual diagrams into searchable text. Extracted
// images are captioned by a multimodal model, cached by content fingerprint
// so the same diagram is never captioned twice, and indexed alongside text
// chunks.
package vision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mecanio/mecanio/internal/knowledge"
	"github.com/mecanio/mecanio/internal/log"
	"github.com/mecanio/mecanio/internal/pdf"
)

// captionWorkers bounds concurrent model calls during ingestion.
const captionWorkers = 4

// captionPrompt keeps captions short and retrieval-oriented: part names and
// codes matter, atmosphere does not.
const captionPrompt = `This image comes from an automotive workshop manual. ` +
	`Describe it in two or three sentences for a search index: name the component or ` +
	`assembly shown, any visible part numbers, callout labels, or torque values, and ` +
	`what procedure the illustration supports. Reply with the description only.`

// Describer produces a caption for one image. Implemented against the
// configured multimodal model; faked in tests.
type Describer interface {
	Describe(ctx context.Context, mediaType string, data []byte) (string, error)
}

// Cache is the persistent caption cache keyed by image fingerprint.
// *knowledge.Store satisfies it.
type Cache interface {
	CaptionFor(ctx context.Context, imageFingerprint string) (string, error)
	SaveCaption(ctx context.Context, imageFingerprint, caption string) error
}

// Caption is one captioned image.
type Caption struct {
	Page        int
	Index       int
	Fingerprint string
	Text        string
	FromCache   bool
}

// Captioner captions extracted images with caching and bounded concurrency.
type Captioner struct {
	describer Describer
	cache     Cache
	limiter   *rate.Limiter
	logger    log.Logger
}

// NewCaptioner creates a Captioner. The rate limiter smooths bursts of model
// calls when a manual carries hundreds of diagrams; vision endpoints
// throttle aggressively.
func NewCaptioner(describer Describer, cache Cache, logger log.Logger) *Captioner {
	return &Captioner{
		describer: describer,
		cache:     cache,
		limiter:   rate.NewLimiter(rate.Limit(2), captionWorkers),
		logger:    log.NopIfNil(logger),
	}
}

// Fingerprint returns the hex SHA-256 of the image bytes. The cache key is
// content-derived so identical diagrams across documents share one caption.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CaptionOne captions a single image, consulting the cache first.
func (c *Captioner) CaptionOne(ctx context.Context, img pdf.Image) (Caption, error) {
	fp := Fingerprint(img.Data)

	cached, err := c.cache.CaptionFor(ctx, fp)
	if err == nil {
		return Caption{Page: img.Page, Index: img.Index, Fingerprint: fp, Text: cached, FromCache: true}, nil
	}
	if !errors.Is(err, knowledge.ErrNotFound) {
		c.logger.Warn("caption cache lookup failed", "fingerprint", fp, "error", err)
	}

	mediaType := http.DetectContentType(img.Data)
	if !strings.HasPrefix(mediaType, "image/") {
		return Caption{}, fmt.Errorf("vision: unsupported content type %s for page %d image %d",
			mediaType, img.Page, img.Index)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Caption{}, err
	}
	text, err := c.describer.Describe(ctx, mediaType, img.Data)
	if err != nil {
		return Caption{}, fmt.Errorf("vision: caption page %d image %d: %w", img.Page, img.Index, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Caption{}, fmt.Errorf("vision: empty caption for page %d image %d", img.Page, img.Index)
	}

	if err := c.cache.SaveCaption(ctx, fp, text); err != nil {
		c.logger.Warn("caption cache write failed", "fingerprint", fp, "error", err)
	}
	return Caption{Page: img.Page, Index: img.Index, Fingerprint: fp, Text: text}, nil
}

// CaptionAll captions a batch of images with a bounded worker pool. A
// failing image is logged and skipped; a manual with one unreadable diagram
// still ingests. Results preserve the input order of the images that
// succeeded. The error returns only when the context is cancelled.
func (c *Captioner) CaptionAll(ctx context.Context, images []pdf.Image) ([]Caption, error) {
	if len(images) == 0 {
		return nil, nil
	}

	results := make([]*Caption, len(images))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(captionWorkers)
	for i, img := range images {
		g.Go(func() error {
			caption, err := c.CaptionOne(gctx, img)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Warn("skipping image", "page", img.Page, "index", img.Index, "error", err)
				return nil
			}
			mu.Lock()
			results[i] = &caption
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	captions := make([]Caption, 0, len(images))
	for _, r := range results {
		if r != nil {
			captions = append(captions, *r)
		}
	}
	c.logger.Debug("captioned images", "total", len(images), "captioned", len(captions))
	return captions, nil
}
