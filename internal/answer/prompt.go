package answer

import (
	"fmt"
	"strings"

	"github.com/mecanio/mecanio/internal/conversation"
	"github.com/mecanio/mecanio/internal/knowledge"
	"github.com/mecanio/mecanio/internal/search"
)

const groundedSystemPrompt = `You are a workshop assistant for vehicle repair and maintenance. ` +
	`Answer strictly from the provided manual excerpts. Cite the sources you use inline as ` +
	`[Source N]. Give torque values, capacities, and part references exactly as written in ` +
	`the excerpts. If the excerpts do not cover the question, say so instead of guessing.`

const directSystemPrompt = `You are a workshop assistant for vehicle repair and maintenance. ` +
	`Answer from general automotive knowledge, concisely. For model-specific figures such as ` +
	`torque values or capacities, recommend checking the workshop manual.`

// groundedPrompt lays out numbered source blocks, the recent conversation,
// and the question. Source numbering matches the transport's source list so
// [Source N] citations resolve client-side.
func groundedPrompt(query string, history []conversation.Message, contexts []search.Context) string {
	var b strings.Builder

	b.WriteString("Manual excerpts:\n\n")
	for i, cx := range contexts {
		fmt.Fprintf(&b, "[Source %d: %s]\n%s\n\n", i+1, sourceLabel(cx), cx.Content)
	}

	writeHistory(&b, history)

	fmt.Fprintf(&b, "Question: %s\n", query)
	return b.String()
}

func directPrompt(query string, history []conversation.Message) string {
	var b strings.Builder
	writeHistory(&b, history)
	fmt.Fprintf(&b, "Question: %s\n", query)
	return b.String()
}

func clarificationPrompt(query string) string {
	return fmt.Sprintf(`The user asked: %q

This is too vague to act on. In one or two sentences, ask for the specifics needed to help: vehicle model, the symptom or fault, and what they are trying to do.`, query)
}

// sourceLabel names a source block for citation: section title plus page,
// with diagrams marked as such.
func sourceLabel(cx search.Context) string {
	title := cx.Title
	if title == "" {
		title = "Untitled section"
	}
	label := title
	if cx.Page > 0 {
		label = fmt.Sprintf("%s, p.%d", title, cx.Page)
	}
	if cx.Kind == knowledge.KindCaption {
		label += " (diagram)"
	}
	return label
}

func writeHistory(b *strings.Builder, history []conversation.Message) {
	if len(history) == 0 {
		return
	}
	b.WriteString("Recent conversation:\n")
	for _, m := range history {
		role := "Assistant"
		if m.Role == conversation.RoleUser {
			role = "User"
		}
		fmt.Fprintf(b, "%s: %s\n", role, m.Content)
	}
	b.WriteString("\n")
}
