package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/mecanio/mecanio/internal/ingest"
	"github.com/mecanio/mecanio/internal/log"
	"github.com/mecanio/mecanio/internal/pdf"
)

// maxUploadBytes bounds PDF uploads. Workshop manuals run large.
const maxUploadBytes = 256 << 20

// Ingester runs the document ingestion pipeline. *app.App satisfies it.
type Ingester interface {
	IngestFile(ctx context.Context, filename string, raw []byte) (ingest.Result, error)
}

type ingestHandler struct {
	ingester Ingester
	logger   log.Logger
}

// upload handles multipart PDF uploads. The file field is named "file".
// Duplicate uploads return 200 with skipped=true; unreadable PDFs 422.
func (h *ingestHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing_file", `multipart field "file" is required`, h.logger)
		return
	}
	defer func() { _ = file.Close() }()

	filename := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		WriteError(w, http.StatusBadRequest, "unsupported_type", "only PDF uploads are supported", h.logger)
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "read_failed", "reading upload failed", h.logger)
		return
	}

	result, err := h.ingester.IngestFile(r.Context(), filename, raw)
	if err != nil {
		if errors.Is(err, pdf.ErrUnreadable) {
			WriteError(w, http.StatusUnprocessableEntity, "unreadable_document",
				"no extractable text in document", h.logger)
			return
		}
		h.logger.Error("ingest failed", "filename", filename, "error", err)
		WriteError(w, http.StatusInternalServerError, "ingest_failed", err.Error(), h.logger)
		return
	}

	status := http.StatusCreated
	if result.Skipped {
		status = http.StatusOK
	}
	WriteJSON(w, status, result, h.logger)
}
