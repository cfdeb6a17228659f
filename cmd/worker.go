package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/blocktix/config"
	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/messaging"
	"example.com/blocktix/internal/metrics"
	"example.com/blocktix/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	reindexInterval time.Duration
	reindexLimit    int
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long: `Start the background worker that consumes ledger events from Azure
Service Bus into Elasticsearch and periodically re-indexes recent entries`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().DurationVar(&reindexInterval, "reindex-interval", 5*time.Minute, "how often recent ledger entries are re-indexed")
	workerCmd.Flags().IntVar(&reindexLimit, "reindex-limit", 500, "number of newest ledger entries re-indexed per run")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}
	configureLogging(cfg)

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	elasticClient := openSearch(cfg)
	if elasticClient == nil {
		return errors.New("worker requires elastic.url to be configured")
	}

	store, err := openStore(ctx, cfg, clock.NewSystem())
	if err != nil {
		return err
	}
	defer store.Close()

	indexer := services.NewLedgerIndexer(store, store, elasticClient, metrics.NewMetrics())

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Azure.QueueConnStr != "" {
		consumer, err := messaging.NewConsumer(cfg.Azure)
		if err != nil {
			return err
		}
		defer consumer.Close()

		g.Go(func() error {
			log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting Azure Service Bus processor")
			return consumer.Run(ctx, messaging.NewProcessor(indexer))
		})
	} else {
		log.Warn().Msg("Azure Service Bus not configured, relying on periodic re-index only")
	}

	// Start the re-index cron job
	g.Go(func() error {
		log.Info().Dur("interval", reindexInterval).Msg("Starting ledger re-index cron job")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(reindexInterval),
			gocron.NewTask(func() {
				n, err := indexer.Reindex(ctx, reindexLimit)
				if err != nil {
					log.Error().Err(err).Msg("Failed to re-index ledger")
					return
				}
				log.Debug().Int("indexed", n).Msg("Ledger re-indexed")
			}),
			gocron.WithStartAt(gocron.WithStartImmediately()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
