package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vantage-sec/vantage/internal/actions"
	"github.com/vantage-sec/vantage/internal/catalog"
	"github.com/vantage-sec/vantage/internal/graph"
	"github.com/vantage-sec/vantage/internal/settings"
	"github.com/vantage-sec/vantage/internal/worker"
)

// NewWorkerCommand creates the scheduled-query worker command.
func NewWorkerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the scheduled query worker loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(opts)
		},
	}
}

func runWorker(opts *RootOptions) error {
	s, err := settings.Load()
	if err != nil {
		return err
	}
	log := setupLogging(s, opts)

	if !s.EnableScheduledQueries {
		log.Info("scheduled queries are disabled, exiting")
		return nil
	}

	cat, err := catalog.LoadFile(s.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load catalogue %s: %w", s.ConfigFile, err)
	}

	registry, err := actions.FromSettings(s, log)
	if err != nil {
		return err
	}
	if err := cat.ValidateActions(registry.Names()); err != nil {
		// Queries referencing unconfigured actions still run; the worker
		// skips the unknown actions at dispatch time.
		log.Warn("catalogue references unconfigured action types", "error", err)
	}

	client := graph.NewClient(s)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()
	defer client.Close(ctx)

	scheduler := graph.NewScheduler(client, log)
	w := worker.New(cat, client, scheduler, registry, s.ScheduledQueryFrequency, log)
	return w.Run(ctx)
}
