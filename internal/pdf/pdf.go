// Package pdf extracts per-page text and embedded images from PDF documents.
//
// Extraction shells out to the poppler utilities (pdfinfo, pdftotext,
// pdfimages) through a Runner seam, keeping the package testable without
// poppler installed and keeping CGo out of the build.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mecanio/mecanio/internal/log"
)

// ErrUnreadable indicates the input could not be parsed as a PDF document.
var ErrUnreadable = errors.New("unreadable document")

// minImageBytes filters out decorative fragments (bullets, rules, icons).
const minImageBytes = 5 * 1024

// Page holds the extracted text of one page.
type Page struct {
	Number int // 1-based
	Text   string
}

// Image holds one embedded image extracted from the document.
type Image struct {
	Page  int // 1-based page the image appeared on
	Index int // extraction order within the document
	Data  []byte
}

// Document is the segmenter output: ordered pages plus embedded images.
type Document struct {
	Pages  []Page
	Images []Image
}

// PageCount returns the number of extracted pages.
func (d *Document) PageCount() int { return len(d.Pages) }

// Runner executes an external command and returns its combined stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Segmenter extracts text pages and images from raw PDF bytes.
type Segmenter struct {
	runner Runner
	logger log.Logger
}

// NewSegmenter creates a Segmenter. A nil runner uses ExecRunner.
func NewSegmenter(runner Runner, logger log.Logger) *Segmenter {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Segmenter{runner: runner, logger: log.NopIfNil(logger)}
}

// pagesRe matches the page count line of pdfinfo output.
var pagesRe = regexp.MustCompile(`(?m)^Pages:\s+(\d+)\s*$`)

// imageNameRe matches pdfimages -p output filenames: <prefix>-PPP-NNN.<ext>
var imageNameRe = regexp.MustCompile(`-(\d+)-(\d+)\.[a-z]+$`)

// Segment extracts all pages and embedded images from raw PDF bytes.
// Returns ErrUnreadable when the bytes are not a parseable PDF or contain
// no extractable text at all. Image extraction failures are logged and
// tolerated: text-only extraction still succeeds.
func (s *Segmenter) Segment(ctx context.Context, raw []byte) (*Document, error) {
	tmpDir, err := os.MkdirTemp("", "mecanio-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			s.logger.Warn("removing temp dir", "dir", tmpDir, "error", rmErr)
		}
	}()

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, raw, 0o600); err != nil {
		return nil, fmt.Errorf("writing temp pdf: %w", err)
	}

	pageCount, err := s.pageCount(ctx, pdfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	doc := &Document{Pages: make([]Page, 0, pageCount)}
	empty := true
	for n := 1; n <= pageCount; n++ {
		text, err := s.pageText(ctx, pdfPath, n)
		if err != nil {
			return nil, fmt.Errorf("%w: extracting page %d: %w", ErrUnreadable, n, err)
		}
		if strings.TrimSpace(text) != "" {
			empty = false
		}
		doc.Pages = append(doc.Pages, Page{Number: n, Text: text})
	}
	if empty {
		return nil, fmt.Errorf("%w: no text extracted from %d pages", ErrUnreadable, pageCount)
	}

	images, err := s.extractImages(ctx, pdfPath, tmpDir)
	if err != nil {
		// Text extraction succeeded; a broken image stream must not abort
		// the document.
		s.logger.Warn("image extraction failed, continuing without images", "error", err)
	} else {
		doc.Images = images
	}

	return doc, nil
}

func (s *Segmenter) pageCount(ctx context.Context, pdfPath string) (int, error) {
	out, err := s.runner.Run(ctx, "pdfinfo", pdfPath)
	if err != nil {
		return 0, err
	}
	m := pagesRe.FindSubmatch(out)
	if m == nil {
		return 0, errors.New("pdfinfo output missing page count")
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid page count %q", m[1])
	}
	return n, nil
}

func (s *Segmenter) pageText(ctx context.Context, pdfPath string, page int) (string, error) {
	p := strconv.Itoa(page)
	// -layout preserves column structure, which matters for parts tables.
	out, err := s.runner.Run(ctx, "pdftotext", "-f", p, "-l", p, "-layout", pdfPath, "-")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *Segmenter) extractImages(ctx context.Context, pdfPath, tmpDir string) ([]Image, error) {
	prefix := filepath.Join(tmpDir, "img")
	// -p embeds the page number in the output filename.
	if _, err := s.runner.Run(ctx, "pdfimages", "-p", "-all", pdfPath, prefix); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("reading image dir: %w", err)
	}

	var images []Image
	skipped := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "img-") {
			continue
		}
		m := imageNameRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		page, _ := strconv.Atoi(m[1])
		index, _ := strconv.Atoi(m[2])

		data, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			s.logger.Warn("reading extracted image", "file", name, "error", err)
			continue
		}
		if len(data) < minImageBytes {
			skipped++
			continue
		}
		images = append(images, Image{Page: page, Index: index, Data: data})
	}

	s.logger.Debug("extracted images", "kept", len(images), "skipped_small", skipped)
	return images, nil
}
