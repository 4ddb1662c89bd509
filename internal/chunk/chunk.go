// Package chunk builds the parent/child chunk hierarchy from extracted page
// text.
//
// Parents are contiguous structural sections cut at detected header lines;
// children are fixed-size overlapping windows over a parent, sized for search
// precision. Children never cross a parent boundary, and reassembling a
// parent's children in order (dropping the fixed overlap) reproduces the
// parent text exactly.
package chunk

import (
	"fmt"
	"strings"

	"github.com/mecanio/mecanio/internal/pdf"
)

// PreambleTitle names the implicit section covering text before the first
// detected header.
const PreambleTitle = "General"

// minSectionRunes folds runt sections (stray header followed by almost no
// body) into the preceding section instead of dropping them, preserving the
// union invariant between a document and its parents.
const minSectionRunes = 100

// Config controls child window sizing.
type Config struct {
	// ChunkSize is the child window length in runes.
	ChunkSize int

	// ChunkOverlap is the fixed rune overlap between consecutive children.
	// Must be smaller than ChunkSize.
	ChunkOverlap int
}

// Section is a detected structural section of a document.
type Section struct {
	Title string // detected header text; PreambleTitle when implicit
	Text  string
	Pages []int // source pages contributing to the section, ascending
}

// Parent is a persisted parent chunk.
type Parent struct {
	ID       string
	Title    string
	Text     string
	Document string // source document fingerprint
	Pages    []int
}

// Child is a fixed-window slice of a parent.
type Child struct {
	ID       string
	ParentID string
	Index    int
	Text     string
}

// SplitSections scans page text line by line and cuts a new section at every
// detected header. Text before the first header forms an implicit preamble
// section. A document with no detected headers yields exactly one section
// spanning the whole document. Pure page-number lines are dropped.
func SplitSections(pages []pdf.Page) []Section {
	var sections []Section
	current := Section{Title: PreambleTitle}
	var lines []string
	pageSet := map[int]bool{}

	flush := func() {
		if len(lines) == 0 {
			return
		}
		current.Text = strings.Join(lines, "\n")
		current.Pages = sortedPages(pageSet)
		sections = append(sections, current)
		lines = nil
		pageSet = map[int]bool{}
	}

	for _, page := range pages {
		for _, line := range strings.Split(page.Text, "\n") {
			trimmed := strings.TrimSpace(line)
			if isPageNumber(trimmed) {
				continue
			}
			if IsHeader(trimmed) {
				flush()
				current = Section{Title: trimmed}
			}
			if trimmed == "" && len(lines) == 0 {
				// Skip leading blank lines of a section.
				continue
			}
			lines = append(lines, line)
			pageSet[page.Number] = true
		}
	}
	flush()

	return foldShortSections(sections)
}

// foldShortSections merges sections below the minimum length into their
// predecessor (or successor for a short leading section) so no text is lost.
func foldShortSections(sections []Section) []Section {
	if len(sections) <= 1 {
		return sections
	}

	out := make([]Section, 0, len(sections))
	for _, s := range sections {
		if len(out) > 0 && len([]rune(s.Text)) < minSectionRunes {
			prev := &out[len(out)-1]
			prev.Text = prev.Text + "\n" + s.Text
			prev.Pages = mergePages(prev.Pages, s.Pages)
			continue
		}
		out = append(out, s)
	}

	// A short leading section folds forward instead.
	if len(out) > 1 && len([]rune(out[0].Text)) < minSectionRunes {
		out[1].Text = out[0].Text + "\n" + out[1].Text
		out[1].Pages = mergePages(out[0].Pages, out[1].Pages)
		out = out[1:]
	}
	return out
}

// BuildParents assigns stable identifiers to sections. Parent IDs follow the
// scheme <fp8>_parent_<n> where fp8 is the first 8 hex chars of the document
// fingerprint; the scheme keeps ids lexicographically comparable, which the
// fusion tie-break relies on.
func BuildParents(fingerprint string, sections []Section) []Parent {
	fp8 := fingerprint
	if len(fp8) > 8 {
		fp8 = fp8[:8]
	}
	parents := make([]Parent, 0, len(sections))
	for i, s := range sections {
		parents = append(parents, Parent{
			ID:       fmt.Sprintf("%s_parent_%d", fp8, i),
			Title:    s.Title,
			Text:     s.Text,
			Document: fingerprint,
			Pages:    s.Pages,
		})
	}
	return parents
}

// SplitChildren slices a parent into fixed windows of cfg.ChunkSize runes
// with cfg.ChunkOverlap overlap. The last window may be shorter; windows
// never cross the parent boundary. An empty parent yields no children.
func SplitChildren(p Parent, cfg Config) []Child {
	runes := []rune(p.Text)
	if len(runes) == 0 {
		return nil
	}

	stride := cfg.ChunkSize - cfg.ChunkOverlap
	if stride < 1 {
		stride = 1
	}

	var children []Child
	for start, idx := 0, 0; start < len(runes); start, idx = start+stride, idx+1 {
		end := min(start+cfg.ChunkSize, len(runes))
		children = append(children, Child{
			ID:       fmt.Sprintf("%s_child_%d", p.ID, idx),
			ParentID: p.ID,
			Index:    idx,
			Text:     string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return children
}

// Reassemble reconstructs the parent text from its children in order,
// removing the fixed overlap prefix from every child after the first.
// It is the inverse of SplitChildren for any valid Config.
func Reassemble(children []Child, overlap int) string {
	var b strings.Builder
	for i, c := range children {
		runes := []rune(c.Text)
		if i > 0 {
			if overlap >= len(runes) {
				continue // fully contained in the previous window
			}
			runes = runes[overlap:]
		}
		b.WriteString(string(runes))
	}
	return b.String()
}

// ChildOffset returns the rune offset of child index idx within its parent.
// Used by the reranker's centered truncation policy.
func ChildOffset(idx int, cfg Config) int {
	stride := cfg.ChunkSize - cfg.ChunkOverlap
	if stride < 1 {
		stride = 1
	}
	return idx * stride
}

func isPageNumber(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func sortedPages(set map[int]bool) []int {
	pages := make([]int, 0, len(set))
	for p := range set {
		pages = append(pages, p)
	}
	// Small slices; insertion sort keeps it allocation-free.
	for i := 1; i < len(pages); i++ {
		for j := i; j > 0 && pages[j] < pages[j-1]; j-- {
			pages[j], pages[j-1] = pages[j-1], pages[j]
		}
	}
	return pages
}

func mergePages(a, b []int) []int {
	set := map[int]bool{}
	for _, p := range a {
		set[p] = true
	}
	for _, p := range b {
		set[p] = true
	}
	return sortedPages(set)
}
