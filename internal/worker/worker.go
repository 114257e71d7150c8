// Package worker runs the scheduled-query tick loop: claim eligible queries,
// execute them, and dispatch results to the configured actions.
package worker

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vantage-sec/vantage/internal/actions"
	"github.com/vantage-sec/vantage/internal/catalog"
	"github.com/vantage-sec/vantage/internal/graph"
)

// Locker claims run eligibility for scheduled queries and maintains their
// failure counters.
type Locker interface {
	LockScheduledQuery(ctx context.Context, queryID string, sq catalog.ScheduledQuery) bool
	IncrFailCount(ctx context.Context, queryID string) error
	ResetFailCount(ctx context.Context, queryID string) error
}

// QueryRunner executes read queries against the graph database.
type QueryRunner interface {
	RunWithRetry(ctx context.Context, cypher string, params map[string]any) ([]graph.Row, error)
}

// Worker owns one scheduled-query loop. Multiple workers may run against the
// same catalogue; the locker arbitrates which one executes each query.
type Worker struct {
	cat      *catalog.Catalog
	runner   QueryRunner
	locker   Locker
	registry *actions.Registry
	tick     time.Duration
	log      *slog.Logger
}

// New creates a worker over the given catalogue and collaborators.
func New(cat *catalog.Catalog, runner QueryRunner, locker Locker, registry *actions.Registry, tick time.Duration, log *slog.Logger) *Worker {
	return &Worker{
		cat:      cat,
		runner:   runner,
		locker:   locker,
		registry: registry,
		tick:     tick,
		log:      log,
	}
}

// Run sets up the action handlers and loops until the context is cancelled.
// A setup failure aborts startup; from then on the loop keeps going through
// individual query failures.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.registry.Setup(ctx, w.cat); err != nil {
		return err
	}

	w.log.Info("starting scheduled query worker",
		"tick", w.tick.String(),
		"scheduled_query_count", len(w.cat.ScheduledQueries))

	for {
		if err := ctx.Err(); err != nil {
			w.log.Info("scheduled query worker stopping")
			return nil
		}
		w.Tick(ctx)
		select {
		case <-ctx.Done():
			w.log.Info("scheduled query worker stopping")
			return nil
		case <-time.After(w.tick):
		}
	}
}

// Tick walks the catalogue once in stable order, attempting each query.
func (w *Worker) Tick(ctx context.Context) {
	ids := make([]string, 0, len(w.cat.ScheduledQueries))
	for id := range w.cat.ScheduledQueries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		w.scheduleQuery(ctx, id, w.cat.ScheduledQueries[id])
	}
}

// scheduleQuery attempts one query: claim it, execute it, dispatch the
// results. The fail counter moves at most once per claimed run.
func (w *Worker) scheduleQuery(ctx context.Context, queryID string, sq catalog.ScheduledQuery) {
	log := w.log.With("scheduled_query_id", queryID)

	if !sq.IsEnabled() {
		log.Debug("skipping disabled scheduled query")
		return
	}

	if !w.locker.LockScheduledQuery(ctx, queryID, sq) {
		return
	}

	runID := uuid.NewString()
	log = log.With("run_id", runID)
	log.Info("executing scheduled query")

	cypher, ok := w.cat.Queries[sq.Cypher]
	if !ok {
		// Validation rejects this before the worker starts; a miss here
		// means the catalogue changed underneath us.
		log.Error("scheduled query references unknown query template",
			"cypher", sq.Cypher)
		w.incrFailCount(ctx, queryID, log)
		return
	}

	rows, err := w.runner.RunWithRetry(ctx, cypher, sq.ParamMap())
	if err != nil {
		log.Error("scheduled query failed", "error", err)
		w.incrFailCount(ctx, queryID, log)
		return
	}

	failed := false
	for _, action := range sq.Actions {
		handler, ok := w.registry.Get(action.ActionType)
		if !ok {
			// Unconfigured action types are skipped without counting as a
			// failure.
			log.Error("no handler registered for action type",
				"action_type", action.ActionType)
			continue
		}
		if err := handler.HandleResults(ctx, queryID, action, rows); err != nil {
			log.Error("action handler failed",
				"action_type", action.ActionType,
				"error", err)
			failed = true
		}
	}

	if failed {
		w.incrFailCount(ctx, queryID, log)
		return
	}
	if err := w.locker.ResetFailCount(ctx, queryID); err != nil {
		log.Error("failed to reset fail count", "error", err)
	}
}

func (w *Worker) incrFailCount(ctx context.Context, queryID string, log *slog.Logger) {
	if err := w.locker.IncrFailCount(ctx, queryID); err != nil {
		log.Error("failed to increment fail count", "error", err)
	}
}
