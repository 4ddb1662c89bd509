// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.mecanio/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: provider, chat model, embedder model, vision model
//   - Storage: PostgreSQL connection (see storage.go)
//   - Retrieval: chunking and search tuning (see retrieval.go)
//   - Reranker: cross-encoder endpoint (see retrieval.go)
//   - Observability: OTLP trace export
//
// Security: Sensitive data (passwords) are never logged; config directory uses 0750 permissions.
// Validation: Range checks in validation.go with sentinel errors for errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidVisionModel indicates the vision model is invalid.
	ErrInvalidVisionModel = errors.New("invalid vision model")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidChunking indicates the chunk size/overlap combination is invalid.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidSearchLimits indicates a retrieval candidate limit is out of range.
	ErrInvalidSearchLimits = errors.New("invalid search limits")

	// ErrInvalidRerankerURL indicates the reranker endpoint URL is invalid.
	ErrInvalidRerankerURL = errors.New("invalid reranker URL")

	// ErrInvalidHistoryWindow indicates the conversation history window is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// DefaultGeminiEmbedderModel is the default Gemini embedder model.
// gemini-embedding-001 outputs 3072 dimensions by default, but supports
// truncation to 768 via OutputDimensionality; the pgvector schema uses 768,
// see knowledge.VectorDimension.
const DefaultGeminiEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in LogValue().
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"` // "gemini" (default), "ollama", "openai"
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	VisionModel   string  `mapstructure:"vision_model" json:"vision_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Retrieval tuning (see retrieval.go)
	Retrieval RetrievalConfig `mapstructure:"retrieval" json:"retrieval"`

	// Cross-encoder reranker endpoint (see retrieval.go)
	Reranker RerankerConfig `mapstructure:"reranker" json:"reranker"`

	// Conversation memory
	HistoryWindow int `mapstructure:"history_window" json:"history_window"`

	// HTTP server
	ServeAddr  string `mapstructure:"serve_addr" json:"serve_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"`

	// Data directory for local state (BM25 snapshot)
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	// Observability
	OTLP OTLPConfig `mapstructure:"otlp" json:"otlp"`
}

// OTLPConfig configures OTLP HTTP trace export.
type OTLPConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".mecanio")

	// Ensure directory exists (0750 for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults(configDir)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Fail fast on invalid configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("vision_model", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.2)

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "mecanio")
	viper.SetDefault("postgres_password", "mecanio_dev_password")
	viper.SetDefault("postgres_db_name", "mecanio")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Retrieval defaults (see retrieval.go for the field semantics)
	viper.SetDefault("retrieval.chunk_size", DefaultChunkSize)
	viper.SetDefault("retrieval.chunk_overlap", DefaultChunkOverlap)
	viper.SetDefault("retrieval.vector_k", DefaultVectorK)
	viper.SetDefault("retrieval.keyword_k", DefaultKeywordK)
	viper.SetDefault("retrieval.child_k", DefaultChildK)
	viper.SetDefault("retrieval.top_k", DefaultTopK)

	// Reranker defaults (TEI-style /rerank endpoint; empty URL disables reranking)
	viper.SetDefault("reranker.url", "")
	viper.SetDefault("reranker.model", "cross-encoder/ms-marco-MiniLM-L-6-v2")
	viper.SetDefault("reranker.max_chars", DefaultRerankMaxChars)

	// Conversation defaults
	viper.SetDefault("history_window", 20)

	// Server defaults
	viper.SetDefault("serve_addr", "127.0.0.1:3400")
	viper.SetDefault("trust_proxy", false)

	// Local state
	viper.SetDefault("data_dir", filepath.Join(configDir, "data"))

	// Observability defaults
	viper.SetDefault("otlp.enabled", false)
	viper.SetDefault("otlp.endpoint", "localhost:4318")
	viper.SetDefault("otlp.service_name", "mecanio")
	viper.SetDefault("otlp.environment", "dev")
}

// bindEnvVariables binds sensitive environment variables explicitly.
// Secrets never live in the config file:
//   - GEMINI_API_KEY is read by the provider plugin itself
//   - DATABASE_URL is handled in parseDatabaseURL
//   - MECANIO_POSTGRES_PASSWORD overrides the password individually
func bindEnvVariables() {
	viper.SetEnvPrefix("MECANIO")
	_ = viper.BindEnv("postgres_password")
	_ = viper.BindEnv("provider")
	_ = viper.BindEnv("model_name")
	_ = viper.BindEnv("embedder_model")
	_ = viper.BindEnv("vision_model")
	_ = viper.BindEnv("ollama_host")
	_ = viper.BindEnv("serve_addr")
	_ = viper.BindEnv("reranker.url", "MECANIO_RERANKER_URL")
	_ = viper.BindEnv("data_dir")
}

// FullModelName returns the provider-qualified chat model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.2", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	return c.qualify(c.ModelName)
}

// FullVisionModelName returns the provider-qualified vision model name.
func (c *Config) FullVisionModelName() string {
	return c.qualify(c.VisionModel)
}

func (c *Config) qualify(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + name
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + name
	default:
		return "googleai/" + name
	}
}

// LogValue implements slog.LogValuer, masking sensitive fields.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", c.Provider),
		slog.String("model_name", c.ModelName),
		slog.String("embedder_model", c.EmbedderModel),
		slog.String("vision_model", c.VisionModel),
		slog.String("postgres_host", c.PostgresHost),
		slog.Int("postgres_port", c.PostgresPort),
		slog.String("postgres_db_name", c.PostgresDBName),
		slog.String("postgres_password", "***"),
		slog.String("serve_addr", c.ServeAddr),
	)
}
