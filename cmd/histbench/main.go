package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	logLevel string
	cfgFile  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "histbench",
	Short:   "histbench: version-control history query benchmark",
	Long:    "Times concurrent history queries against a version-control service under four client-allocation strategies.",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml); HISTBENCH_* env vars and .env also apply")

	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
