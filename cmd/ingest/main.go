// Package main provides the feedingest CLI: one-shot and scheduled ingestion
// runs over the configured RSS sources, source inspection and schema
// migrations.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/research-feed-service/internal/config"
	"github.com/helixir/research-feed-service/internal/observability"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "feedingest",
	Short: "Medical literature and clinical trial feed ingestion",
	Long: `feedingest reads the configured RSS sources, normalizes and enriches
their entries, and upserts articles and clinical trials into PostgreSQL.

Example usage:
  feedingest run                    # one ingestion pass
  feedingest run --interval 1h      # repeat every hour, serving /metrics
  feedingest run --dry-run          # run against an in-memory store
  feedingest sources                # list sources and their processors
  feedingest migrate up             # apply pending schema migrations`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newSourcesCmd())
	rootCmd.AddCommand(newMigrateCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and applies persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
}
