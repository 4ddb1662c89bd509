package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mecanio/mecanio/internal/answer"
	"github.com/mecanio/mecanio/internal/ask"
	"github.com/mecanio/mecanio/internal/conversation"
	"github.com/mecanio/mecanio/internal/log"
	"github.com/mecanio/mecanio/internal/router"
	"github.com/mecanio/mecanio/internal/search"
)

// maxChatBody bounds chat request bodies.
const maxChatBody = 1 << 20

// SSE event types for chat streaming.
const (
	EventMetadata = "metadata" // Conversation id, route, and sources
	EventToken    = "token"    // Partial response text
	EventDone     = "done"     // Stream completed successfully
	EventError    = "error"    // Error occurred during streaming
)

// Asker answers questions. *ask.Service satisfies it.
type Asker interface {
	Ask(ctx context.Context, in ask.Input, cb ask.EventCallback) (*ask.Output, error)
}

// chatRequest is the body of POST /api/chat and /api/chat/stream.
type chatRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// TokenPayload is the SSE data payload for streaming text tokens.
type TokenPayload struct {
	Text string `json:"text"`
}

// DonePayload is the SSE data payload when streaming completes successfully.
type DonePayload struct {
	ConversationID string `json:"conversation_id"`
}

// ErrorPayload is the SSE data payload when an error occurs.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type chatHandler struct {
	asker  Asker
	logger log.Logger
}

// send handles synchronous chat requests. The full answer is generated
// before the response is written.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	discard := func(context.Context, ask.Event) error { return nil }
	out, err := h.asker.Ask(r.Context(), ask.Input{
		ConversationID: req.ConversationID,
		Query:          req.Query,
	}, discard)
	if err != nil {
		status, code := classifyAskError(err)
		WriteError(w, status, code, err.Error(), h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, out, h.logger)
}

// stream handles SSE streaming chat requests.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{
			Code:    "INVALID_REQUEST",
			Message: "invalid request body",
		})
		return
	}
	if req.Query == "" {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{
			Code:    "MISSING_QUERY",
			Message: "query is required",
		})
		return
	}

	ctx := r.Context()
	h.logger.Debug("SSE stream started", "conversation_id", req.ConversationID)

	forward := func(_ context.Context, ev ask.Event) error {
		switch ev.Type {
		case ask.EventMetadata:
			return writeEvent(w, flusher, EventMetadata, ev.Metadata)
		case ask.EventToken:
			return writeEvent(w, flusher, EventToken, TokenPayload{Text: ev.Token})
		default:
			return nil
		}
	}

	out, err := h.asker.Ask(ctx, ask.Input{
		ConversationID: req.ConversationID,
		Query:          req.Query,
	}, forward)
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "conversation_id", req.ConversationID)
			return
		}
		h.streamError(w, flusher, err)
		return
	}

	_ = writeEvent(w, flusher, EventDone, DonePayload{ConversationID: out.ConversationID})
	h.logger.Info("SSE stream completed",
		"conversation_id", out.ConversationID, "route", out.Route)
}

func (h *chatHandler) parseRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return chatRequest{}, false
	}
	if req.Query == "" {
		WriteError(w, http.StatusBadRequest, "missing_query", "query is required", h.logger)
		return chatRequest{}, false
	}
	return req, true
}

// streamError maps service errors to SSE error events.
func (h *chatHandler) streamError(w io.Writer, f http.Flusher, err error) {
	code := "STREAM_ERROR"

	switch {
	case errors.Is(err, conversation.ErrInvalidID):
		code = "INVALID_CONVERSATION_ID"
	case errors.Is(err, answer.ErrGeneration):
		code = "GENERATION_FAILED"
	case errors.Is(err, router.ErrUnavailable):
		code = "CLASSIFIER_UNAVAILABLE"
	case errors.Is(err, search.ErrNoResults):
		code = "NO_RESULTS"
	}

	h.logger.Error("chat stream failed", "code", code, "error", err)
	_ = writeEvent(w, f, EventError, ErrorPayload{
		Code:    code,
		Message: err.Error(),
	})
}

func classifyAskError(err error) (status int, code string) {
	switch {
	case errors.Is(err, conversation.ErrInvalidID):
		return http.StatusBadRequest, "invalid_conversation_id"
	case errors.Is(err, answer.ErrGeneration):
		return http.StatusBadGateway, "generation_failed"
	case errors.Is(err, router.ErrUnavailable):
		return http.StatusServiceUnavailable, "classifier_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
