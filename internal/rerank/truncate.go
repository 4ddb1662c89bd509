package rerank

import (
	"strings"

	"github.com/mecanio/mecanio/internal/search"
)

// candidateText builds the text scored by the cross-encoder: the section
// title plus the content, truncated to maxChars runes. Cross-encoders have
// short input windows, so a parent section several times the budget must be
// cut down to the region that actually matched; the window is centered on
// the child hit that brought the parent in.
func candidateText(cx search.Context, maxChars int) string {
	text := cx.Content
	if cx.Title != "" {
		text = cx.Title + "\n" + cx.Content
	}

	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}

	center := len(runes) / 2
	if cx.Best.Content != "" {
		if at := strings.Index(text, cx.Best.Content); at >= 0 {
			prefix := []rune(text[:at])
			childLen := len([]rune(cx.Best.Content))
			center = len(prefix) + childLen/2
		}
	}

	start := center - maxChars/2
	if start < 0 {
		start = 0
	}
	end := start + maxChars
	if end > len(runes) {
		end = len(runes)
		start = end - maxChars
	}
	return string(runes[start:end])
}
