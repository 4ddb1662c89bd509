package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mecanio/mecanio/internal/app"
	"github.com/mecanio/mecanio/internal/ask"
)

var askConversationID string

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question against the indexed manuals",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVarP(&askConversationID, "conversation", "c", "", "continue an existing conversation")
	rootCmd.AddCommand(askCmd)
}

func runAsk(parent context.Context, query string) error {
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

	out, err := a.Ask.Ask(ctx, ask.Input{ConversationID: askConversationID, Query: query},
		func(_ context.Context, ev ask.Event) error {
			if ev.Type == ask.EventToken {
				fmt.Print(ev.Token)
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}
	fmt.Println()

	if len(out.Sources) > 0 {
		fmt.Fprintln(os.Stderr, "\nSources:")
		for _, src := range out.Sources {
			fmt.Fprintf(os.Stderr, "  [%s p.%d] %s\n", src.Kind, src.Page, src.Title)
		}
	}
	fmt.Fprintf(os.Stderr, "\nConversation: %s\n", out.ConversationID)
	return nil
}
