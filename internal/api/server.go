// Package api exposes the retrieval service over HTTP: PDF ingestion,
// synchronous and SSE chat, and corpus administration. Health probes bypass
// the middleware stack.
package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mecanio/mecanio/internal/log"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger     log.Logger
	Asker      Asker         // Required
	Ingester   Ingester      // Required
	Resetter   Resetter      // Required
	Librarian  Librarian     // Required
	Pool       *pgxpool.Pool // Optional: nil disables pool stats in /ready
	TrustProxy bool          // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst  int           // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Asker == nil {
		return nil, errors.New("asker is required")
	}
	if cfg.Ingester == nil {
		return nil, errors.New("ingester is required")
	}
	if cfg.Resetter == nil {
		return nil, errors.New("resetter is required")
	}
	if cfg.Librarian == nil {
		return nil, errors.New("librarian is required")
	}

	logger := log.NopIfNil(cfg.Logger)

	ch := &chatHandler{asker: cfg.Asker, logger: logger}
	ih := &ingestHandler{ingester: cfg.Ingester, logger: logger}
	ah := &adminHandler{resetter: cfg.Resetter, librarian: cfg.Librarian, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", ch.send)
	mux.HandleFunc("POST /api/chat/stream", ch.stream)
	mux.HandleFunc("POST /api/ingest", ih.upload)
	mux.HandleFunc("POST /api/reset", ah.reset)
	mux.HandleFunc("GET /api/stats", ah.stats)
	mux.HandleFunc("GET /api/documents", ah.documents)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → Logging → RateLimit → Routes
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Top-level mux keeps health probes out of the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
