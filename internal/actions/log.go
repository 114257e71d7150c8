package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vantage-sec/vantage/internal/catalog"
	"github.com/vantage-sec/vantage/internal/graph"
)

// LogHandler emits each result row as a structured log record, projected to
// the keys listed in log_attrs.
type LogHandler struct {
	log *slog.Logger
}

// NewLogHandler creates the log action handler.
func NewLogHandler(log *slog.Logger) *LogHandler {
	return &LogHandler{log: log}
}

func (h *LogHandler) ActionName() string { return "log" }

func (h *LogHandler) Setup(context.Context, *catalog.Catalog) error { return nil }

func (h *LogHandler) HandleResults(ctx context.Context, queryID string, action catalog.Action, rows []graph.Row) error {
	if len(rows) == 0 {
		return nil
	}

	attr := returnAttr(action)
	message := action.Str("message", fmt.Sprintf("Result for %s", queryID))
	level := parseLevel(action.Str("level", "info"))
	logAttrs := action.StrList("log_attrs")
	if len(logAttrs) == 0 {
		h.log.Error("scheduled query is missing log_attrs in action_config",
			"scheduled_query_id", queryID)
		return nil
	}

	h.log.Info("sending results for query",
		"result_count", len(rows),
		"scheduled_query_id", queryID)

	for _, row := range rows {
		details, ok := rowDetails(row, attr)
		if !ok {
			// Rows without the configured attribute are skipped.
			continue
		}
		args := make([]any, 0, len(logAttrs)*2)
		for _, key := range logAttrs {
			if v, present := details[key]; present {
				args = append(args, key, v)
			}
		}
		h.log.Log(ctx, level, message, args...)
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
