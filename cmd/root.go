package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "y2g",
	Short: "Forward Yahoo mail to Gmail via the Gmail API",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogger()
	},
	// serve is the default action when no subcommand is given.
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(oauthCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setupLogger installs the default JSON slog handler at INFO. serveCmd
// replaces it with one at the LOG_LEVEL that config.Load resolves; this is
// the sane default for everything logged before that.
func setupLogger() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))
}

func logLevelFromString(raw string) slog.Level {
	switch raw {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "warn", "WARNING", "warning":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
