package config

import (
	"fmt"
	"net/url"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	// 1. Provider and model configuration
	validProviders := []string{ProviderGemini, ProviderOllama, ProviderOpenAI}
	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: must be one of %v, got %q", ErrInvalidProvider, validProviders, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if c.VisionModel == "" {
		return fmt.Errorf("%w: vision_model cannot be empty", ErrInvalidVisionModel)
	}

	if c.Provider == ProviderOllama && c.OllamaHost == "" {
		return fmt.Errorf("%w: ollama_host cannot be empty when provider is ollama", ErrInvalidOllamaHost)
	}

	// 2. PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: must be one of %v, got %q",
			ErrInvalidPostgresSSLMode, validSSLModes, c.PostgresSSLMode)
	}

	// 3. Chunking: overlap must leave forward progress in the sliding window,
	// otherwise child splitting never terminates.
	r := c.Retrieval
	if r.ChunkSize < 200 || r.ChunkSize > 20000 {
		return fmt.Errorf("%w: chunk_size must be between 200 and 20000, got %d", ErrInvalidChunking, r.ChunkSize)
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d", ErrInvalidChunking, r.ChunkOverlap)
	}

	// 4. Search limits
	for name, v := range map[string]int{
		"vector_k":  r.VectorK,
		"keyword_k": r.KeywordK,
		"child_k":   r.ChildK,
		"top_k":     r.TopK,
	} {
		if v < 1 || v > 1000 {
			return fmt.Errorf("%w: %s must be between 1 and 1000, got %d", ErrInvalidSearchLimits, name, v)
		}
	}
	if r.TopK > r.ChildK {
		return fmt.Errorf("%w: top_k (%d) cannot exceed child_k (%d)", ErrInvalidSearchLimits, r.TopK, r.ChildK)
	}

	// 5. Reranker endpoint (optional; empty disables reranking)
	if c.Reranker.URL != "" {
		u, err := url.Parse(c.Reranker.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidRerankerURL, c.Reranker.URL)
		}
		if c.Reranker.MaxChars < 200 {
			return fmt.Errorf("%w: reranker.max_chars must be at least 200, got %d",
				ErrInvalidRerankerURL, c.Reranker.MaxChars)
		}
	}

	// 6. Conversation memory window
	if c.HistoryWindow < 1 || c.HistoryWindow > 1000 {
		return fmt.Errorf("%w: must be between 1 and 1000, got %d", ErrInvalidHistoryWindow, c.HistoryWindow)
	}

	return nil
}
