// Package ask orchestrates one question end to end: conversation bookkeeping,
// routing, hybrid retrieval with parent expansion and reranking, and streamed
// answer generation.
package ask

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mecanio/mecanio/internal/answer"
	"github.com/mecanio/mecanio/internal/config"
	"github.com/mecanio/mecanio/internal/conversation"
	"github.com/mecanio/mecanio/internal/log"
	"github.com/mecanio/mecanio/internal/router"
	"github.com/mecanio/mecanio/internal/search"
)

// Route labels reported to clients.
const (
	RouteRAG           = "rag"
	RouteDirect        = "direct"
	RouteClarification = "clarification"
	RouteOutOfScope    = "out_of_scope"
)

const (
	// NoResultsReply is sent when retrieval finds nothing at all.
	NoResultsReply = "No relevant information found in the manuals."

	snippetRunes = 200
)

// Queries containing these force retrieval even when the router would answer
// directly: captions are only reachable through the index.
var visualKeywords = []string{
	"show", "diagram", "picture", "image", "photo",
	"location", "look like", "see", "where is",
}

// EventType discriminates stream events.
type EventType string

const (
	EventMetadata EventType = "metadata"
	EventToken    EventType = "token"
)

// Source is one citation attached to a grounded answer.
type Source struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Kind    string  `json:"kind"`
	Page    int     `json:"page,omitempty"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

// Metadata is the first event of every answer stream.
type Metadata struct {
	ConversationID string   `json:"conversation_id"`
	Route          string   `json:"route"`
	NumSources     int      `json:"num_sources"`
	Sources        []Source `json:"sources,omitempty"`
}

// Event is one element of the answer stream. Exactly one payload field is
// set, according to Type.
type Event struct {
	Type     EventType
	Metadata *Metadata
	Token    string
}

// EventCallback receives stream events in order. Returning an error stops
// the stream.
type EventCallback func(ctx context.Context, ev Event) error

// Input is one question.
type Input struct {
	ConversationID string
	Query          string
}

// Output summarizes a completed answer.
type Output struct {
	ConversationID string   `json:"conversation_id"`
	Route          string   `json:"route"`
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources,omitempty"`
}

// Conversations is the memory surface the service uses.
type Conversations interface {
	GetOrCreate(ctx context.Context, id string) (string, bool, error)
	Append(ctx context.Context, id, role, content string) error
	History(ctx context.Context, id string) ([]conversation.Message, error)
}

// Router classifies the query. *router.Router satisfies it.
type Router interface {
	Route(ctx context.Context, query string, history []router.Turn) (router.Route, error)
}

// Searcher runs the hybrid child search. *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Hit, error)
}

// Expander swaps child hits for their parent sections. *search.Expander
// satisfies it.
type Expander interface {
	Expand(ctx context.Context, hits []search.Hit) ([]search.Context, error)
}

// Reranker reorders expanded contexts. *rerank.Client satisfies it.
type Reranker interface {
	Enabled() bool
	Rerank(ctx context.Context, query string, contexts []search.Context, topK int) ([]search.Context, error)
}

// Answerer generates the reply. *answer.Generator satisfies it.
type Answerer interface {
	StreamGrounded(ctx context.Context, query string, history []conversation.Message, contexts []search.Context, cb answer.StreamCallback) (string, error)
	StreamDirect(ctx context.Context, query string, history []conversation.Message, cb answer.StreamCallback) (string, error)
	StreamClarification(ctx context.Context, query string, cb answer.StreamCallback) (string, error)
	StreamOutOfScope(ctx context.Context, cb answer.StreamCallback) (string, error)
}

// Service answers questions.
type Service struct {
	conversations Conversations
	router        Router
	searcher      Searcher
	expander      Expander
	reranker      Reranker
	answerer      Answerer
	cfg           config.RetrievalConfig
	logger        log.Logger
}

// NewService wires the orchestration service.
func NewService(conversations Conversations, rt Router, searcher Searcher, expander Expander, reranker Reranker, answerer Answerer, cfg config.RetrievalConfig, logger log.Logger) *Service {
	return &Service{
		conversations: conversations,
		router:        rt,
		searcher:      searcher,
		expander:      expander,
		reranker:      reranker,
		answerer:      answerer,
		cfg:           cfg,
		logger:        log.NopIfNil(logger),
	}
}

// Ask answers one question, emitting a metadata event followed by token
// events through cb. The assistant turn is recorded only after generation
// completes in full.
func (s *Service) Ask(ctx context.Context, in Input, cb EventCallback) (*Output, error) {
	convID, created, err := s.conversations.GetOrCreate(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("conversation started", "conversation_id", convID)
	}

	history, err := s.conversations.History(ctx, convID)
	if err != nil {
		s.logger.Warn("history unavailable, answering without it",
			"conversation_id", convID, "error", err)
		history = nil
	}

	// Memory is best effort: a failed write must not block the answer.
	if err := s.conversations.Append(ctx, convID, conversation.RoleUser, in.Query); err != nil {
		s.logger.Warn("recording user turn failed", "conversation_id", convID, "error", err)
	}

	route, err := s.router.Route(ctx, in.Query, toTurns(history))
	if err != nil {
		return nil, fmt.Errorf("classifying query: %w", err)
	}
	decision := route.Decision
	if decision == router.DirectAnswer && isVisualQuery(in.Query) {
		s.logger.Info("visual intent detected, forcing retrieval", "query", in.Query)
		decision = router.RAGNeeded
	}

	switch decision {
	case router.DirectAnswer:
		return s.respond(ctx, convID, RouteDirect, cb, func(tokens answer.StreamCallback) (string, error) {
			return s.answerer.StreamDirect(ctx, in.Query, history, tokens)
		})
	case router.ClarificationNeeded:
		return s.respond(ctx, convID, RouteClarification, cb, func(tokens answer.StreamCallback) (string, error) {
			return s.answerer.StreamClarification(ctx, in.Query, tokens)
		})
	case router.OutOfScope:
		return s.respond(ctx, convID, RouteOutOfScope, cb, func(tokens answer.StreamCallback) (string, error) {
			return s.answerer.StreamOutOfScope(ctx, tokens)
		})
	default:
		return s.answerGrounded(ctx, convID, in.Query, route.ReformulatedQuery, history, cb)
	}
}

// respond handles the three retrieval-free routes, which differ only in the
// route label and the generator call.
func (s *Service) respond(ctx context.Context, convID, routeName string, cb EventCallback, generate func(answer.StreamCallback) (string, error)) (*Output, error) {
	if err := cb(ctx, Event{Type: EventMetadata, Metadata: &Metadata{
		ConversationID: convID,
		Route:          routeName,
	}}); err != nil {
		return nil, err
	}

	text, err := generate(forwardTokens(cb))
	if err != nil {
		return nil, err
	}
	s.recordAssistant(ctx, convID, text)

	return &Output{ConversationID: convID, Route: routeName, Answer: text}, nil
}

func (s *Service) answerGrounded(ctx context.Context, convID, query, reformulated string, history []conversation.Message, cb EventCallback) (*Output, error) {
	if reformulated == "" {
		reformulated = query
	}

	hits, err := s.searcher.Search(ctx, reformulated)
	if errors.Is(err, search.ErrNoResults) {
		// Nothing indexed matches. Tell the user so instead of letting the
		// model improvise.
		if err := cb(ctx, Event{Type: EventMetadata, Metadata: &Metadata{
			ConversationID: convID,
			Route:          RouteRAG,
		}}); err != nil {
			return nil, err
		}
		if err := cb(ctx, Event{Type: EventToken, Token: NoResultsReply}); err != nil {
			return nil, err
		}
		return &Output{ConversationID: convID, Route: RouteRAG, Answer: NoResultsReply}, nil
	}
	if err != nil {
		return nil, err
	}

	contexts, err := s.expander.Expand(ctx, hits)
	if err != nil {
		return nil, err
	}
	contexts = s.rerank(ctx, reformulated, contexts)

	sources := toSources(contexts)
	if err := cb(ctx, Event{Type: EventMetadata, Metadata: &Metadata{
		ConversationID: convID,
		Route:          RouteRAG,
		NumSources:     len(sources),
		Sources:        sources,
	}}); err != nil {
		return nil, err
	}

	// Retrieval used the reformulated query; generation sees the user's own
	// words so the reply addresses what was actually asked.
	text, err := s.answerer.StreamGrounded(ctx, query, history, contexts, forwardTokens(cb))
	if err != nil {
		return nil, err
	}
	s.recordAssistant(ctx, convID, text)

	return &Output{ConversationID: convID, Route: RouteRAG, Answer: text, Sources: sources}, nil
}

// rerank applies the cross-encoder when configured, falling back to fused
// order on any failure.
func (s *Service) rerank(ctx context.Context, query string, contexts []search.Context) []search.Context {
	topK := s.cfg.TopK
	if s.reranker != nil && s.reranker.Enabled() {
		reranked, err := s.reranker.Rerank(ctx, query, contexts, topK)
		if err == nil {
			return reranked
		}
		s.logger.Warn("reranker failed, keeping fusion order", "error", err)
	}
	if len(contexts) > topK {
		contexts = contexts[:topK]
	}
	return contexts
}

func (s *Service) recordAssistant(ctx context.Context, convID, text string) {
	if err := s.conversations.Append(ctx, convID, conversation.RoleAssistant, text); err != nil {
		s.logger.Warn("recording assistant turn failed", "conversation_id", convID, "error", err)
	}
}

func forwardTokens(cb EventCallback) answer.StreamCallback {
	return func(ctx context.Context, chunk string) error {
		return cb(ctx, Event{Type: EventToken, Token: chunk})
	}
}

func toTurns(history []conversation.Message) []router.Turn {
	if len(history) == 0 {
		return nil
	}
	turns := make([]router.Turn, len(history))
	for i, m := range history {
		turns[i] = router.Turn{Role: m.Role, Content: m.Content}
	}
	return turns
}

func toSources(contexts []search.Context) []Source {
	sources := make([]Source, len(contexts))
	for i, cx := range contexts {
		sources[i] = Source{
			ID:      cx.ID,
			Title:   cx.Title,
			Kind:    cx.Kind,
			Page:    cx.Page,
			Score:   cx.Score,
			Snippet: snippet(cx.Content),
		}
	}
	return sources
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetRunes {
		return text
	}
	return string(runes[:snippetRunes])
}

func isVisualQuery(query string) bool {
	lowered := strings.ToLower(query)
	for _, kw := range visualKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
