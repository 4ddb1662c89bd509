// Package app provides application initialization and dependency wiring.
//
// App is the container that connects configuration, the database pool, the
// Genkit AI provider, the knowledge and conversation stores, the keyword
// index, and the retrieval and answering services. Entry points (CLI
// commands, the HTTP server) call Setup once and work through the App.
package app

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mecanio/mecanio/internal/answer"
	"github.com/mecanio/mecanio/internal/ask"
	"github.com/mecanio/mecanio/internal/config"
	"github.com/mecanio/mecanio/internal/conversation"
	"github.com/mecanio/mecanio/internal/ingest"
	"github.com/mecanio/mecanio/internal/keyword"
	"github.com/mecanio/mecanio/internal/knowledge"
	"github.com/mecanio/mecanio/internal/log"
	"github.com/mecanio/mecanio/internal/rerank"
	"github.com/mecanio/mecanio/internal/router"
	"github.com/mecanio/mecanio/internal/search"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// AI surface
	Genkit      *genkit.Genkit
	Embedder    ai.Embedder
	ChatModel   ai.Model
	VisionModel ai.Model

	// Storage
	DBPool        *pgxpool.Pool
	Knowledge     *knowledge.Store
	Conversations *conversation.Store
	Keyword       *keyword.Index

	// Services
	Engine   *search.Engine
	Expander *search.Expander
	Reranker *rerank.Client
	Router   *router.Router
	Answerer *answer.Generator
	Pipeline *ingest.Pipeline
	Ask      *ask.Service

	otelCleanup func()
	dbCleanup   func()
}

// KeywordSnapshotPath is where the BM25 index is persisted between runs.
func (a *App) KeywordSnapshotPath() string {
	return filepath.Join(a.Config.DataDir, "keyword.gob")
}

// SaveKeywordIndex persists the in-memory keyword index. Called after
// successful ingests and on shutdown.
func (a *App) SaveKeywordIndex() error {
	return a.Keyword.Save(a.KeywordSnapshotPath())
}

// RebuildKeywordIndex repopulates the keyword index from the chunk store
// and persists the result. Used after a reset and when no snapshot exists.
func (a *App) RebuildKeywordIndex(ctx context.Context) (int, error) {
	n, err := a.Keyword.Rebuild(ctx, a.Knowledge)
	if err != nil {
		return 0, err
	}
	if err := a.SaveKeywordIndex(); err != nil {
		a.Logger.Warn("persisting keyword index failed", "error", err)
	}
	return n, nil
}

// IngestFile runs the ingestion pipeline and persists the keyword index
// when new chunks were added.
func (a *App) IngestFile(ctx context.Context, filename string, raw []byte) (ingest.Result, error) {
	result, err := a.Pipeline.Ingest(ctx, filename, raw)
	if err != nil {
		return ingest.Result{}, err
	}
	if !result.Skipped {
		if err := a.SaveKeywordIndex(); err != nil {
			a.Logger.Warn("persisting keyword index failed", "error", err)
		}
	}
	return result, nil
}

// Reset wipes documents, sections, chunks, and the caption cache, then
// clears and persists the keyword index. Conversations are kept.
func (a *App) Reset(ctx context.Context) error {
	if err := a.Knowledge.Reset(ctx); err != nil {
		return err
	}
	a.Keyword.Clear()
	if err := a.SaveKeywordIndex(); err != nil {
		a.Logger.Warn("persisting keyword index failed", "error", err)
	}
	return nil
}

// Close gracefully shuts down all resources in reverse setup order.
func (a *App) Close() error {
	a.Logger.Info("shutting down")

	var errs []error
	if a.Keyword != nil {
		if err := a.SaveKeywordIndex(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return errors.Join(errs...)
}
