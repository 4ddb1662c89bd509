package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/genai"

	"github.com/mecanio/mecanio/db"
	"github.com/mecanio/mecanio/internal/answer"
	"github.com/mecanio/mecanio/internal/ask"
	"github.com/mecanio/mecanio/internal/config"
	"github.com/mecanio/mecanio/internal/conversation"
	"github.com/mecanio/mecanio/internal/ingest"
	"github.com/mecanio/mecanio/internal/keyword"
	"github.com/mecanio/mecanio/internal/knowledge"
	"github.com/mecanio/mecanio/internal/log"
	"github.com/mecanio/mecanio/internal/pdf"
	"github.com/mecanio/mecanio/internal/rerank"
	"github.com/mecanio/mecanio/internal/router"
	"github.com/mecanio/mecanio/internal/search"
	"github.com/mecanio/mecanio/internal/vision"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup. Call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	logger = log.NopIfNil(logger)
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	a.Embedder = provideEmbedder(g, cfg)
	if a.Embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	a.ChatModel = genkit.LookupModel(g, cfg.FullModelName())
	if a.ChatModel == nil {
		return nil, fmt.Errorf("model %q not found for provider %q", cfg.ModelName, cfg.Provider)
	}
	a.VisionModel = genkit.LookupModel(g, cfg.FullVisionModelName())
	if a.VisionModel == nil {
		return nil, fmt.Errorf("vision model %q not found for provider %q", cfg.VisionModel, cfg.Provider)
	}

	a.Knowledge = knowledge.NewStore(pool, logger)
	a.Conversations = conversation.NewStore(pool, cfg.HistoryWindow, logger)

	a.Keyword = keyword.New()
	loadKeywordIndex(ctx, a)

	a.Engine = search.NewEngine(a.Knowledge, a.Keyword, a.Embedder, cfg.Retrieval, logger)
	a.Expander = search.NewExpander(a.Knowledge, logger)
	a.Reranker = rerank.NewClient(cfg.Reranker, logger)
	a.Router = router.New(router.NewGenkitGenerator(g, a.ChatModel), logger)
	a.Answerer = answer.NewGenerator(answer.NewGenkitStreamer(g, a.ChatModel, float64(cfg.Temperature)), logger)

	captioner := vision.NewCaptioner(vision.NewGenkitDescriber(g, a.VisionModel), a.Knowledge, logger)
	segmenter := pdf.NewSegmenter(nil, logger)
	a.Pipeline = ingest.NewPipeline(a.Knowledge, segmenter, captioner, a.Embedder, a.Keyword, cfg.Retrieval, logger)

	a.Ask = ask.NewService(a.Conversations, a.Router, a.Engine, a.Expander, a.Reranker, a.Answerer, cfg.Retrieval, logger)

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit initialization
// so the TracerProvider is ready when spans start. Traces go to a local
// collector over OTLP HTTP; the collector handles auth and forwarding.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if !cfg.OTLP.Enabled {
		return func() {}
	}

	// SAFETY: os.Setenv is not concurrent-safe, but this runs exactly once
	// during startup, before any goroutines are spawned.
	if cfg.OTLP.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.OTLP.ServiceName)
	}
	if cfg.OTLP.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.OTLP.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLP.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("OTLP tracing enabled",
		"endpoint", cfg.OTLP.Endpoint,
		"service", cfg.OTLP.ServiceName,
		"environment", cfg.OTLP.Environment,
	)

	shutdown := tracing.TracerProvider().Shutdown

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), ollama, and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	var g *genkit.Genkit

	switch provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		if cfg.VisionModel != cfg.ModelName {
			ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
				Name: cfg.VisionModel,
				Type: "chat",
			}, nil)
		}
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default:
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName), wrapped to truncate output
//     to the pgvector schema width
//   - ollama: registered in provideGenkit, keyed by server address
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	switch provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
		if embedder == nil {
			return nil
		}
		return &dimensionedEmbedder{Embedder: embedder}
	}
}

// dimensionedEmbedder forces Gemini embeddings down to the schema width.
// gemini-embedding-001 outputs 3072 dimensions by default; the chunks table
// stores vectors of knowledge.VectorDimension.
type dimensionedEmbedder struct {
	ai.Embedder
}

func (d *dimensionedEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if req.Options == nil {
		dim := int32(knowledge.VectorDimension)
		req.Options = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}
	return d.Embedder.Embed(ctx, req)
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Fail fast if the database is unreachable.
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// loadKeywordIndex restores the BM25 snapshot, falling back to a rebuild
// from the chunk store when no usable snapshot exists.
func loadKeywordIndex(ctx context.Context, a *App) {
	path := a.KeywordSnapshotPath()

	err := a.Keyword.Load(path)
	if err == nil {
		a.Logger.Info("keyword index restored", "path", path, "chunks", a.Keyword.Len())
		return
	}
	if errors.Is(err, keyword.ErrNoSnapshot) {
		a.Logger.Info("no keyword snapshot, rebuilding from store")
	} else {
		a.Logger.Warn("keyword snapshot unusable, rebuilding from store", "error", err)
	}

	n, err := a.RebuildKeywordIndex(ctx)
	if err != nil {
		// Vector search still works; keyword recall is degraded until the
		// next ingest or restart.
		a.Logger.Error("keyword index rebuild failed", "error", err)
		return
	}
	a.Logger.Info("keyword index rebuilt", "chunks", n)
}
