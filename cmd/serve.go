package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mecanio/mecanio/internal/api"
	"github.com/mecanio/mecanio/internal/app"
	"github.com/mecanio/mecanio/internal/log"
)

const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	// Write timeout must cover a full streamed answer, not a single write.
	writeTimeout    = 2 * time.Minute
	idleTimeout     = 2 * time.Minute
	shutdownTimeout = 30 * time.Second
)

var serveJSONLogs bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveJSONLogs, "json", false, "log in JSON format")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	logger := newLogger(serveJSONLogs)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setting up application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	srv, err := api.NewServer(api.ServerConfig{
		Logger:     logger,
		Asker:      a.Ask,
		Ingester:   a,
		Resetter:   a,
		Librarian:  a.Knowledge,
		Pool:       a.DBPool,
		TrustProxy: cfg.TrustProxy,
		RateBurst:  rateBurstFromEnv(logger),
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.ServeAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ServeAddr, "provider", cfg.Provider)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// rateBurstFromEnv reads MECANIO_RATE_BURST, falling back to the server
// default when unset or invalid.
func rateBurstFromEnv(logger log.Logger) int {
	raw := os.Getenv("MECANIO_RATE_BURST")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		logger.Warn("invalid MECANIO_RATE_BURST, using default", "value", raw)
		return 0
	}
	return n
}
