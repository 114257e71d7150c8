package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/spf13/cobra"

	"github.com/vantage-sec/vantage/internal/catalog"
	"github.com/vantage-sec/vantage/internal/graph"
	"github.com/vantage-sec/vantage/internal/settings"
	"github.com/vantage-sec/vantage/internal/stats"
)

// NewStatsCommand creates the dashboard-metrics emitter command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Run the dashboard metrics emitter loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts)
		},
	}
}

func runStats(opts *RootOptions) error {
	s, err := settings.Load()
	if err != nil {
		return err
	}
	log := setupLogging(s, opts)

	if s.StatsdHost == "" {
		return fmt.Errorf("STATSD_HOST is required for the stats command")
	}

	cat, err := catalog.LoadFile(s.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load catalogue %s: %w", s.ConfigFile, err)
	}

	client, err := statsd.New(
		fmt.Sprintf("%s:%d", s.StatsdHost, s.StatsdPort),
		statsd.WithTags(s.StatsdConstantTags),
	)
	if err != nil {
		return fmt.Errorf("failed to create statsd client: %w", err)
	}
	defer client.Close()

	db := graph.NewClient(s)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()
	defer db.Close(ctx)

	emitter := stats.New(cat, db, client, s.DashboardStatsMaxResults, s.DashboardStatsFrequency, log)
	return emitter.Run(ctx)
}
