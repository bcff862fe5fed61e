package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "lifestream",
		Short: "Self-supervised representation learning over event sequences",
		Long: "lifestream trains sequence encoders on event histories (transactions,\n" +
			"clickstreams) with contrastive (CoLES) and predictive (CPC) objectives,\n" +
			"and exports the learned per-client embeddings.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level",
		os.Getenv("LIFESTREAM_LOG_LEVEL"), "Log level: debug|info|warn|error")

	rootCmd.AddCommand(newTrainCmd())
	rootCmd.AddCommand(newEmbeddingsCmd())
	rootCmd.AddCommand(newDatasetCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
