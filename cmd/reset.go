package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mecanio/mecanio/internal/app"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all indexed documents and chunks",
	Long: `Reset deletes every indexed document, section and chunk and clears
the keyword index. Conversations are kept.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runReset(cmd.Context())
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "skip confirmation")
	rootCmd.AddCommand(resetCmd)
}

func runReset(parent context.Context) error {
	if !resetForce {
		fmt.Print("This deletes the entire indexed corpus. Continue? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

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

	if err := a.Reset(ctx); err != nil {
		return fmt.Errorf("resetting corpus: %w", err)
	}
	fmt.Println("Corpus reset.")
	return nil
}
