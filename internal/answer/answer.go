// Package answer generates the assistant's replies. Grounded answers cite
// the retrieved manual sections they draw from; direct and clarification
// replies skip retrieval entirely. All model output streams token by token
// through a callback so transports can forward it live.
package answer

import (
	"context"
	"errors"
	"fmt"

	"github.com/mecanio/mecanio/internal/conversation"
	"github.com/mecanio/mecanio/internal/log"
	"github.com/mecanio/mecanio/internal/search"
)

// ErrGeneration marks model failures during answer generation. Transports
// treat it as terminal for the current turn.
var ErrGeneration = errors.New("answer: generation failed")

// OutOfScopeReply is the fixed reply for questions unrelated to vehicles.
// No model call is spent on declining.
const OutOfScopeReply = "I specialize in vehicle repair and maintenance based on the workshop " +
	"manuals I have indexed. How can I help with your vehicle?"

// StreamCallback receives each streamed text chunk. Returning an error
// aborts the stream.
type StreamCallback func(ctx context.Context, chunk string) error

// Streamer runs one streaming completion. Implemented over Genkit in
// production; faked in tests.
type Streamer interface {
	Stream(ctx context.Context, system, prompt string, cb StreamCallback) (string, error)
}

// Generator produces replies for every routing outcome.
type Generator struct {
	streamer Streamer
	logger   log.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(streamer Streamer, logger log.Logger) *Generator {
	return &Generator{streamer: streamer, logger: log.NopIfNil(logger)}
}

// StreamGrounded answers from retrieved manual context, streaming chunks to
// cb and returning the complete reply text.
func (g *Generator) StreamGrounded(ctx context.Context, query string, history []conversation.Message, contexts []search.Context, cb StreamCallback) (string, error) {
	full, err := g.streamer.Stream(ctx, groundedSystemPrompt, groundedPrompt(query, history, contexts), cb)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return full, nil
}

// StreamDirect answers from general automotive knowledge without retrieval.
func (g *Generator) StreamDirect(ctx context.Context, query string, history []conversation.Message, cb StreamCallback) (string, error) {
	full, err := g.streamer.Stream(ctx, directSystemPrompt, directPrompt(query, history), cb)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return full, nil
}

// StreamClarification asks the user to make a vague question answerable.
func (g *Generator) StreamClarification(ctx context.Context, query string, cb StreamCallback) (string, error) {
	full, err := g.streamer.Stream(ctx, "", clarificationPrompt(query), cb)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return full, nil
}

// StreamOutOfScope emits the fixed out-of-scope reply through the callback
// so every route streams the same way from the transport's point of view.
func (g *Generator) StreamOutOfScope(ctx context.Context, cb StreamCallback) (string, error) {
	if cb != nil {
		if err := cb(ctx, OutOfScopeReply); err != nil {
			return "", err
		}
	}
	return OutOfScopeReply, nil
}
