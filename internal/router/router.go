// Package router classifies incoming questions before any retrieval work.
// A small model call decides whether a question needs a manual lookup, can
// be answered from general knowledge, is too vague, or is off-topic.
//
// Classification fails closed: a malformed or unrecognized reply routes to
// retrieval, the most expensive but most useful path. An unreachable
// classifier is a hard failure instead, since generation would fail the
// same way moments later.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mecanio/mecanio/internal/log"
)

// ErrUnavailable indicates the classifier model could not be reached.
var ErrUnavailable = errors.New("router: classifier unavailable")

// Decision is the routing outcome for one question.
type Decision string

const (
	// RAGNeeded routes through hybrid retrieval over the ingested manuals.
	RAGNeeded Decision = "RAG_NEEDED"

	// DirectAnswer answers from general automotive knowledge, no retrieval.
	DirectAnswer Decision = "DIRECT_ANSWER"

	// ClarificationNeeded asks the user to be more specific.
	ClarificationNeeded Decision = "CLARIFICATION_NEEDED"

	// OutOfScope declines questions unrelated to vehicles.
	OutOfScope Decision = "OUT_OF_SCOPE"
)

// Valid reports whether d is one of the four known decisions.
func (d Decision) Valid() bool {
	switch d {
	case RAGNeeded, DirectAnswer, ClarificationNeeded, OutOfScope:
		return true
	}
	return false
}

// Route is a classified question.
type Route struct {
	Decision          Decision `json:"decision"`
	Reasoning         string   `json:"reasoning"`
	ReformulatedQuery string   `json:"reformulated_query"`
}

// Turn is one prior conversation turn shown to the classifier.
type Turn struct {
	Role    string
	Content string
}

// Generator produces one completion for one prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// History formatting limits: the classifier sees a short tail of the
// conversation, each turn clipped hard.
const (
	historyTurns   = 4
	historyTurnMax = 100
)

// Router classifies questions.
type Router struct {
	gen    Generator
	logger log.Logger
}

// New creates a Router.
func New(gen Generator, logger log.Logger) *Router {
	return &Router{gen: gen, logger: log.NopIfNil(logger)}
}

// Route classifies the query. Unparseable or unrecognized replies fall
// back to a RAGNeeded route carrying the original query; a model transport
// failure returns ErrUnavailable.
func (r *Router) Route(ctx context.Context, query string, history []Turn) (Route, error) {
	raw, err := r.gen.Generate(ctx, classifyPrompt(query, history))
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	route, err := parseRoute(raw)
	if err != nil {
		r.logger.Warn("router reply unparseable, falling back to retrieval", "error", err)
		return Route{Decision: RAGNeeded, Reasoning: "unparseable classification", ReformulatedQuery: query}, nil
	}
	if !route.Decision.Valid() {
		r.logger.Warn("router returned unknown decision, falling back to retrieval",
			"decision", string(route.Decision))
		route.Decision = RAGNeeded
	}
	if strings.TrimSpace(route.ReformulatedQuery) == "" {
		route.ReformulatedQuery = query
	}

	r.logger.Debug("routed query", "decision", string(route.Decision))
	return route, nil
}

func classifyPrompt(query string, history []Turn) string {
	var b strings.Builder
	b.WriteString("You are a routing agent for a vehicle workshop assistant.\n")
	b.WriteString(formatHistory(history))
	fmt.Fprintf(&b, "USER QUERY: %q\n\n", query)
	b.WriteString(`Choose ONE option:
1. RAG_NEEDED - Needs workshop manual lookup (repairs, specs, troubleshooting)
2. DIRECT_ANSWER - General automotive knowledge (basic concepts)
3. CLARIFICATION_NEEDED - Too vague ("fix it", "help", single words)
4. OUT_OF_SCOPE - Unrelated to vehicles (weather, recipes, etc.)

Respond with JSON only:
{"decision": "RAG_NEEDED|DIRECT_ANSWER|CLARIFICATION_NEEDED|OUT_OF_SCOPE", "reasoning": "brief", "reformulated_query": "clearer version"}`)
	return b.String()
}

func formatHistory(history []Turn) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}

	var b strings.Builder
	b.WriteString("\nRecent conversation:\n")
	for _, t := range history {
		role := "Assistant"
		if t.Role == "user" {
			role = "User"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, clip(t.Content, historyTurnMax))
	}
	b.WriteString("\n")
	return b.String()
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// parseRoute extracts the JSON route from a model reply. Models that were
// told "JSON only" still love markdown fences, so those are stripped first.
func parseRoute(raw string) (Route, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))

	var route Route
	if err := json.Unmarshal([]byte(cleaned), &route); err != nil {
		return Route{}, fmt.Errorf("parse route json: %w", err)
	}
	return route, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	parts := strings.SplitN(s, "```", 3)
	if len(parts) < 2 {
		return s
	}
	inner := parts[1]
	inner = strings.TrimPrefix(inner, "json")
	return strings.TrimSpace(inner)
}
