// Package cmd provides the mecanio CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - ingest: index PDF workshop manuals from the command line
//   - ask: one-shot question answering in the terminal
//   - reset: wipe the indexed corpus
//   - version: build and configuration info
//
// All long-running commands handle SIGINT/SIGTERM via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mecanio/mecanio/internal/config"
	"github.com/mecanio/mecanio/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "mecanio",
	Short: "Workshop manual retrieval and repair assistant",
	Long: `Mecanio indexes PDF workshop manuals into a hybrid search corpus
(pgvector + BM25) and answers repair questions grounded in the manuals,
citing the sections and diagrams it used.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG env enables debug level;
// --json switches to JSON output for log collectors.
func newLogger(json bool) log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: json})
}

// loadConfig loads and validates configuration, with a friendly hint when
// the provider API key is missing.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Provider == config.ProviderGemini && os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "Warning: GEMINI_API_KEY is not set; model calls will fail.")
		fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
	}
	return cfg, nil
}
