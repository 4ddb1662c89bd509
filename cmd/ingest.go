package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mecanio/mecanio/internal/app"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf> [file.pdf ...]",
	Short: "Index PDF workshop manuals",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(parent context.Context, paths []string) error {
	logger := newLogger(false)

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

	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		res, err := a.IngestFile(ctx, filepath.Base(path), raw)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}

		if res.Skipped {
			fmt.Printf("%s: already indexed (fingerprint %s)\n", res.Filename, res.Fingerprint[:8])
			continue
		}
		fmt.Printf("%s: %d pages, %d sections, %d chunks, %d/%d images captioned\n",
			res.Filename, res.Pages, res.Parents, res.Children, res.Captions, res.Images)
	}
	return nil
}
