package cmd

import (
	"context"
	"os"
	"strings"

	"example.com/blocktix/config"
	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/models"
	"example.com/blocktix/internal/repositories"
	"example.com/blocktix/internal/search"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// configureLogging applies the configured level and output format
func configureLogging(cfg config.Config) {
	if cfg.Logging.Format != "json" || cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil || cfg.Logging.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// openStore connects the configured storage adapter
func openStore(ctx context.Context, cfg config.Config, clk clock.Clock) (repositories.Store, error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, readOnlyDB, err := initDatabase(cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Bool("read_replica", readOnlyDB != nil).Msg("Using PostgreSQL storage")
		return repositories.NewGormStore(db, readOnlyDB, clk), nil
	case config.StorageMongo:
		store, err := repositories.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, clk)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		log.Info().Str("database", cfg.Mongo.Database).Msg("Using MongoDB storage")
		return store, nil
	case config.StorageMemory, "":
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		return repositories.NewMemoryStore(clk), nil
	}
	return nil, errors.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// initDatabase opens the primary database, migrates it and, when configured,
// opens the read replica
func initDatabase(cfg config.Config) (*gorm.DB, *gorm.DB, error) {
	db, err := openPostgres(cfg.DB.DSN, cfg.DB)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to database")
	}

	if err := models.SetupModels(db); err != nil {
		return nil, nil, errors.Wrap(err, "failed to migrate database")
	}

	if cfg.DB.ReadOnlyDSN == "" {
		return db, nil, nil
	}
	readOnlyDB, err := openPostgres(cfg.DB.ReadOnlyDSN, cfg.DB)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to read replica, continuing with the primary only")
		return db, nil, nil
	}
	return db, readOnlyDB, nil
}

func openPostgres(dsn string, cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Get the underlying SQL DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// openSearch returns nil when Elasticsearch is not configured
func openSearch(cfg config.Config) *search.ElasticClient {
	if cfg.Elastic.URL == "" {
		log.Info().Msg("Elasticsearch URL not set, ledger search disabled")
		return nil
	}
	client, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		return nil
	}
	return client
}
