package chunk

import (
	"regexp"
	"strings"
	"unicode"
)

// Header detection is a line-level heuristic tuned for the layout-preserving
// text that pdftotext produces from service manuals. A line qualifies as a
// header when it is short, carries at least one letter, does not end like a
// sentence, and matches one of three shapes:
//
//   - numbered:   "10A ENGINE", "5.45 Faults", "3 Lubrication"
//   - upper-case: "LUBRICATION SYSTEM", "TORQUE SPECIFICATIONS"
//   - title-case: "Cooling System Overview" (every significant word capitalized)

var (
	numberedHeaderRe = regexp.MustCompile(`^\d{1,2}[A-Z]?(\.\d{1,2})?[ .]\s*[A-Z]`)
	titleWordRe      = regexp.MustCompile(`^[A-Z][a-zA-Z\-&]*$`)
)

// IsHeader reports whether a trimmed line looks like a section header.
func IsHeader(trimmed string) bool {
	runes := []rune(trimmed)
	if len(runes) < 4 || len(runes) > 60 {
		return false
	}
	if !containsLetter(trimmed) {
		return false
	}
	if strings.ContainsRune(".,;:!?", runes[len(runes)-1]) {
		return false
	}

	if numberedHeaderRe.MatchString(trimmed) {
		return true
	}
	if isUpperCase(trimmed) {
		return true
	}
	return isTitleCase(trimmed)
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// isUpperCase requires at least two letters and no lower-case letter.
func isUpperCase(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 2
}

// isTitleCase accepts short runs of words where every word longer than three
// characters starts with a capital. Short connectives ("the", "of", "and")
// may stay lower-case. Ordinary prose sentences fail the capitalization
// requirement on their longer words.
func isTitleCase(s string) bool {
	words := strings.Fields(s)
	if len(words) < 1 || len(words) > 6 {
		return false
	}
	if !titleWordRe.MatchString(words[0]) {
		return false
	}
	for _, w := range words[1:] {
		if len([]rune(w)) > 3 && !titleWordRe.MatchString(w) {
			return false
		}
	}
	return true
}
