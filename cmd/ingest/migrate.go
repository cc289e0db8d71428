package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/research-feed-service/internal/config"
	"github.com/helixir/research-feed-service/internal/database"
	"github.com/helixir/research-feed-service/migrations"
)

const migrateConnectTimeout = 30 * time.Second

func newMigrateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect schema migrations",
		Long: `Migrations are read from the files embedded in the binary, or from
--path (or database.migration_path) when set.`,
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "read migrations from this directory")

	withMigrator := func(fn func(m *database.Migrator, logger zerolog.Logger) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if path != "" {
				cfg.Database.MigrationPath = path
			}
			logger := newLogger(cfg).With().Str("component", "migrate").Logger()

			ctx, cancel := context.WithTimeout(cmd.Context(), migrateConnectTimeout)
			defer cancel()
			db, err := database.New(ctx, &cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer db.Close()

			m, err := newMigrator(db, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := m.Close(); err != nil {
					logger.Error().Err(err).Msg("failed to close migrator")
				}
			}()

			if err := fn(m, logger); err != nil {
				return err
			}
			logVersion(m, logger)
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(m *database.Migrator, _ zerolog.Logger) error {
				return m.Up()
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(m *database.Migrator, _ zerolog.Logger) error {
				return m.Down()
			}),
		},
		&cobra.Command{
			Use:   "steps N",
			Short: "Apply N migrations (negative rolls back)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n == 0 {
					return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
				}
				return withMigrator(func(m *database.Migrator, _ zerolog.Logger) error {
					return m.Steps(n)
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current migration version",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(*database.Migrator, zerolog.Logger) error {
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the migration version without running migrations",
			Long:  "force clears the dirty flag after a failed migration was repaired by hand.",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 0 {
					return fmt.Errorf("version must be a non-negative integer, got %q", args[0])
				}
				return withMigrator(func(m *database.Migrator, _ zerolog.Logger) error {
					return m.Force(v)
				})(cmd, args)
			},
		},
	)
	return cmd
}

// newMigrator reads from database.migration_path when set, otherwise from
// the embedded files.
func newMigrator(db *database.DB, cfg *config.Config, logger zerolog.Logger) (*database.Migrator, error) {
	var (
		m   *database.Migrator
		err error
	)
	if cfg.Database.MigrationPath != "" {
		m, err = database.NewMigrator(db, cfg.Database.MigrationPath, logger)
	} else {
		m, err = database.NewEmbeddedMigrator(db, migrations.FS, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func logVersion(m *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := m.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
