package actions

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/slack-go/slack"

	"github.com/vantage-sec/vantage/internal/catalog"
	"github.com/vantage-sec/vantage/internal/graph"
	"github.com/vantage-sec/vantage/internal/settings"
)

// slackAPI is the slice of the Slack client the handler uses; tests
// substitute a fake.
type slackAPI interface {
	JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

// SlackHandler uploads the result set as a CSV snippet to the configured
// channels.
type SlackHandler struct {
	log   *slog.Logger
	token string

	mu  sync.Mutex
	api slackAPI
}

// NewSlackHandler creates the slack action handler. The client is created
// lazily on first use.
func NewSlackHandler(s *settings.Settings, log *slog.Logger) *SlackHandler {
	return &SlackHandler{log: log, token: s.SlackBotToken}
}

func (h *SlackHandler) ActionName() string { return "slack" }

func (h *SlackHandler) Setup(context.Context, *catalog.Catalog) error { return nil }

func (h *SlackHandler) getAPI() slackAPI {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.api == nil {
		h.api = slack.New(h.token)
	}
	return h.api
}

func (h *SlackHandler) HandleResults(ctx context.Context, queryID string, action catalog.Action, rows []graph.Row) error {
	if len(rows) == 0 {
		return nil
	}

	api := h.getAPI()
	attr := returnAttr(action)

	h.log.Info("sending results for query",
		"result_count", len(rows),
		"scheduled_query_id", queryID)

	// Misconfiguration is logged but does not abort the upload attempt.
	for _, key := range []string{"channels", "initial_comment", "title"} {
		missing := action.Str(key, "") == ""
		if key == "channels" {
			missing = len(action.StrList(key)) == 0
		}
		if missing {
			h.log.Error("skipping misconfigured scheduled query",
				"scheduled_query_id", queryID,
				"action_type", action.ActionType,
				"misconfiguration", "missing "+key)
		}
	}

	content, err := buildCSV(rows, attr)
	if err != nil {
		return err
	}

	channels := action.StrList("channels")
	for _, channel := range channels {
		// Joining an already-joined channel is a no-op on the Slack side.
		if _, _, _, err := api.JoinConversationContext(ctx, channel); err != nil {
			return fmt.Errorf("failed to join channel %s: %w", channel, err)
		}
	}
	for _, channel := range channels {
		if _, err := api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Channel:        channel,
			Content:        content,
			FileSize:       len(content),
			Filename:       attr + ".csv",
			Title:          action.Str("title", ""),
			InitialComment: action.Str("initial_comment", ""),
		}); err != nil {
			return fmt.Errorf("failed to upload results to channel %s: %w", channel, err)
		}
	}
	return nil
}

// buildCSV renders the result set as CSV. The header is derived from the
// first row's payload; every other row is assumed to share its key set.
func buildCSV(rows []graph.Row, attr string) (string, error) {
	first, ok := rowDetails(rows[0], attr)
	if !ok {
		return "", fmt.Errorf("first result row is missing attribute %q", attr)
	}

	header := make([]string, 0, len(first))
	for key := range first {
		header = append(header, key)
	}
	sort.Strings(header)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return "", err
	}
	for _, row := range rows {
		details, _ := rowDetails(row, attr)
		record := make([]string, len(header))
		for i, key := range header {
			if v := details[key]; v != nil {
				record[i] = fmt.Sprint(v)
			}
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}
