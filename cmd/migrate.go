package cmd

import (
	"context"
	"time"

	"example.com/blocktix/config"
	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/repositories"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Creates or updates the PostgreSQL schema, or the MongoDB indexes,
for the configured storage driver. Useful for CI/CD pipelines or initial setup.`,
	RunE: runMigration,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigration(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}
	configureLogging(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		log.Info().Msg("Running database migrations...")
		db, readOnlyDB, err := initDatabase(cfg)
		if err != nil {
			return err
		}
		if err := repositories.NewGormStore(db, readOnlyDB, nil).Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	case config.StorageMongo:
		log.Info().Msg("Creating MongoDB indexes...")
		store, err := repositories.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, clock.NewSystem())
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureIndexes(ctx); err != nil {
			return err
		}
	default:
		return errors.Errorf("storage driver %q has nothing to migrate", cfg.Storage.Driver)
	}

	log.Info().Msg("Migrations completed successfully")
	return nil
}
