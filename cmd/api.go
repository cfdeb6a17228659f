package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/blocktix/config"
	"example.com/blocktix/internal/api"
	"example.com/blocktix/internal/api/handlers"
	"example.com/blocktix/internal/cache"
	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/messaging"
	"example.com/blocktix/internal/metrics"
	"example.com/blocktix/internal/notify"
	"example.com/blocktix/internal/seed"
	"example.com/blocktix/internal/services"
	"example.com/blocktix/internal/tracing"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server for the catalogue, ledger, admin and auth routes`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	clk := clock.NewSystem()
	m := metrics.NewMetrics()

	// Initialize storage
	store, err := openStore(ctx, cfg, clk)
	if err != nil {
		return err
	}
	defer store.Close()

	healthChecks := map[string]handlers.Pinger{"storage": store}

	// Initialize OTP cache
	otpStore := cache.OTPStore(cache.NewMemoryOTPStore(clk))
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing with in-process OTP storage")
	} else if redisCache.Enabled() {
		defer redisCache.Close()
		otpStore = cache.NewOTPStore(redisCache, clk)
		healthChecks["redis"] = redisCache
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = tracing.NewNoopTracer()
	}
	defer tracer.Close()

	// Initialize ledger fan-out
	var publisher messaging.LedgerPublisher = messaging.NoopPublisher{}
	if cfg.Azure.QueueConnStr != "" {
		busPublisher, err := messaging.NewLedgerPublisher(cfg.Azure)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Azure Service Bus, continuing without ledger fan-out")
		} else {
			publisher = busPublisher
		}
	}
	defer publisher.Close()

	notifier := notify.NewNotifier(cfg.SMTP)
	if !notifier.Configured() {
		log.Warn().Msg("SMTP not configured, OTP and receipt emails are disabled")
	}

	// Initialize services
	access := services.NewAccessFilter(store, clk)
	rules := services.NewRuleEvaluator(store, clk)
	eventService := services.NewEventService(store, rules, clk)

	var searcher services.LedgerSearcher
	if elasticClient := openSearch(cfg); elasticClient != nil {
		searcher = elasticClient
		healthChecks["elasticsearch"] = elasticClient
	}

	svc := api.Services{
		Events:       eventService,
		Ledger:       services.NewLedgerService(store, store, access, rules, notifier, publisher, m, clk),
		Access:       access,
		Analytics:    services.NewAnalyticsService(store, store, searcher),
		Auth:         services.NewAuthService(otpStore, store, notifier, cfg.Auth, m, clk),
		Contact:      services.NewContactService(store, clk),
		HealthChecks: healthChecks,
	}

	if cfg.Storage.SeedOnStart {
		seedOnStart(ctx, eventService)
	}

	// Initialize and start the server
	server := api.NewServer(cfg, svc, m, tracer)

	// Start the server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Shutdown the server
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

func seedOnStart(ctx context.Context, events *services.EventService) {
	samples, err := seed.Defaults()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load sample events")
		return
	}
	seeded, err := events.SeedSamples(ctx, samples)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to seed sample events")
		return
	}
	log.Info().Int("count", len(seeded)).Msg("Sample events seeded")
}
