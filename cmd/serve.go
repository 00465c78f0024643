package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caseywylie/y2g/internal/config"
	"github.com/caseywylie/y2g/internal/orchestrator"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mailbox watchers and retry worker (default action)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}

		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevelFromString(cfg.LogLevel)})
		log := slog.New(handler)
		slog.SetDefault(log)
		log.Info("startup", "event", "startup", "config", config.Summary(cfg))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return orchestrator.Run(ctx, cfg, log)
	},
}
