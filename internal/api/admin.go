package api

import (
	"context"
	"net/http"

	"github.com/mecanio/mecanio/internal/knowledge"
	"github.com/mecanio/mecanio/internal/log"
)

// Resetter wipes the indexed corpus. *app.App satisfies it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Librarian reads corpus metadata. *knowledge.Store satisfies it.
type Librarian interface {
	Stats(ctx context.Context) (knowledge.Stats, error)
	Documents(ctx context.Context) ([]knowledge.Document, error)
}

type adminHandler struct {
	resetter  Resetter
	librarian Librarian
	logger    log.Logger
}

// reset drops all indexed documents, chunks, captions, and the keyword
// index. Conversations are kept.
func (h *adminHandler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.resetter.Reset(r.Context()); err != nil {
		h.logger.Error("reset failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "reset_failed", err.Error(), h.logger)
		return
	}
	h.logger.Info("knowledge base reset")
	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"}, h.logger)
}

func (h *adminHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.librarian.Stats(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "stats_failed", err.Error(), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, stats, h.logger)
}

func (h *adminHandler) documents(w http.ResponseWriter, r *http.Request) {
	docs, err := h.librarian.Documents(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "documents_failed", err.Error(), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)}, h.logger)
}
