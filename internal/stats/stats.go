// Package stats gauges dashboard and report panel metrics to statsd.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vantage-sec/vantage/internal/catalog"
	"github.com/vantage-sec/vantage/internal/graph"
)

// Gauger is the slice of the statsd client the emitter uses; tests substitute
// a fake.
type Gauger interface {
	Gauge(name string, value float64, tags []string, rate float64) error
}

// QueryRunner executes read queries against the graph database.
type QueryRunner interface {
	RunWithRetry(ctx context.Context, cypher string, params map[string]any) ([]graph.Row, error)
}

// Emitter periodically gauges count and progress panels that declare a
// metric. Query failures log and move on; the loop never aborts.
type Emitter struct {
	cat             *catalog.Catalog
	runner          QueryRunner
	statsd          Gauger
	maxInputResults int
	interval        time.Duration
	log             *slog.Logger
}

// New creates an emitter over the given catalogue and collaborators.
func New(cat *catalog.Catalog, runner QueryRunner, statsd Gauger, maxInputResults int, interval time.Duration, log *slog.Logger) *Emitter {
	return &Emitter{
		cat:             cat,
		runner:          runner,
		statsd:          statsd,
		maxInputResults: maxInputResults,
		interval:        interval,
		log:             log,
	}
}

// Run loops EmitOnce until the context is cancelled.
func (e *Emitter) Run(ctx context.Context) error {
	e.log.Info("starting dashboard stats emitter", "interval", e.interval.String())
	for {
		if err := ctx.Err(); err != nil {
			e.log.Info("dashboard stats emitter stopping")
			return nil
		}
		e.EmitOnce(ctx)
		select {
		case <-ctx.Done():
			e.log.Info("dashboard stats emitter stopping")
			return nil
		case <-time.After(e.interval):
		}
	}
}

// EmitOnce walks every dashboard and report panel once.
func (e *Emitter) EmitOnce(ctx context.Context) {
	for _, row := range e.cat.Dashboard.Rows {
		for _, panel := range row.Panels {
			e.sendStatsForPanel(ctx, panel, nil)
		}
	}
	for _, report := range e.cat.Reports {
		for _, row := range report.Rows {
			for _, panel := range row.Panels {
				e.sendStatsForPanel(ctx, panel, report.Inputs)
			}
		}
	}
}

// sendStatsForPanel gauges one panel. Literal params become name:value tags;
// a single input-backed param expands over the input query's value rows.
func (e *Emitter) sendStatsForPanel(ctx context.Context, panel catalog.Panel, panelInputs []catalog.Input) {
	if panel.Type != "progress" && panel.Type != "count" {
		return
	}
	if panel.Metric == "" || panel.Cypher == "" {
		return
	}
	cypher, ok := e.cat.Queries[panel.Cypher]
	if !ok {
		e.log.Error("panel references unknown query template",
			"metric", panel.Metric,
			"cypher", panel.Cypher)
		return
	}
	log := e.log.With("metric", panel.Metric)

	var tags []string
	params := map[string]any{}
	var inputParams []catalog.PanelParam
	for _, p := range panel.Params {
		switch {
		case p.Value != nil:
			params[p.Name] = p.Value
			tags = append(tags, fmt.Sprintf("%s:%v", p.Name, p.Value))
		case p.InputID != "":
			inputParams = append(inputParams, p)
		}
	}

	switch len(inputParams) {
	case 0:
		e.gaugeResults(ctx, log, panel, cypher, params, tags)
	case 1:
		e.gaugePerInputValue(ctx, log, panel, cypher, params, tags, inputParams[0], panelInputs)
	default:
		// More than one input would make the tag cardinality explode.
		log.Warn("skipped metric with multiple input-backed params")
	}
}

func (e *Emitter) gaugePerInputValue(ctx context.Context, log *slog.Logger, panel catalog.Panel, cypher string, params map[string]any, tags []string, ref catalog.PanelParam, panelInputs []catalog.Input) {
	var input *catalog.Input
	for i := range panelInputs {
		if panelInputs[i].InputID == ref.InputID {
			input = &panelInputs[i]
		}
	}
	if input == nil || input.Cypher == "" {
		return
	}

	inputRows, err := e.runner.RunWithRetry(ctx, input.Cypher, map[string]any{})
	if err != nil {
		log.Error("failed to record metric", "error", err)
		return
	}
	if len(inputRows) > e.maxInputResults {
		log.Warn("skipped metric with too many input values",
			"input_values", len(inputRows))
		return
	}

	for _, inputRow := range inputRows {
		value := inputRow["value"]
		perParams := map[string]any{ref.Name: value}
		for k, v := range params {
			perParams[k] = v
		}
		perTags := append([]string{fmt.Sprintf("%s:%v", ref.Name, value)}, tags...)
		e.gaugeResults(ctx, log, panel, cypher, perParams, perTags)
	}
}

func (e *Emitter) gaugeResults(ctx context.Context, log *slog.Logger, panel catalog.Panel, cypher string, params map[string]any, tags []string) {
	rows, err := e.runner.RunWithRetry(ctx, cypher, params)
	if err != nil {
		log.Error("failed to record metric", "error", err, "tags", tags)
		return
	}
	for _, row := range rows {
		switch panel.Type {
		case "progress":
			e.gauge(log, panel.Metric+".numerator", row["numerator"], tags)
			e.gauge(log, panel.Metric+".denominator", row["denominator"], tags)
		case "count":
			e.gauge(log, panel.Metric+".total", row["total"], tags)
		}
	}
}

func (e *Emitter) gauge(log *slog.Logger, name string, value any, tags []string) {
	if err := e.statsd.Gauge(name, asFloat(value), tags, 1); err != nil {
		log.Error("failed to gauge metric", "gauge", name, "error", err)
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
