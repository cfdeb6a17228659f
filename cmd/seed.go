package cmd

import (
	"context"

	"example.com/blocktix/config"
	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/seed"
	"example.com/blocktix/internal/services"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert sample events",
	Long: `Upserts sample events into the configured store, matching existing
events by title and date. Uses the bundled samples unless --file is given.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML file of sample events")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}
	configureLogging(cfg)

	samples, err := loadSamples()
	if err != nil {
		return err
	}

	ctx := context.Background()
	clk := clock.NewSystem()
	store, err := openStore(ctx, cfg, clk)
	if err != nil {
		return err
	}
	defer store.Close()

	events := services.NewEventService(store, services.NewRuleEvaluator(store, clk), clk)
	seeded, err := events.SeedSamples(ctx, samples)
	if err != nil {
		return err
	}

	for _, ev := range seeded {
		log.Info().Str("id", ev.ID).Str("title", ev.Title).Bool("updated", ev.Updated).Msg("Seeded event")
	}
	return nil
}

func loadSamples() ([]seed.Sample, error) {
	if seedFile != "" {
		return seed.LoadFile(seedFile)
	}
	return seed.Defaults()
}
