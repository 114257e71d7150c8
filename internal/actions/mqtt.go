package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vantage-sec/vantage/internal/catalog"
	"github.com/vantage-sec/vantage/internal/graph"
	"github.com/vantage-sec/vantage/internal/settings"
)

// mqttPublisher is the slice of the MQTT client the handler uses; tests
// substitute a fake.
type mqttPublisher interface {
	Connect() error
	Publish(topic string, payload []byte) error
}

// MQTTHandler publishes each result row as a JSON message on the configured
// topic.
type MQTTHandler struct {
	log       *slog.Logger
	brokerURL string
	clientID  string

	mu        sync.Mutex
	publisher mqttPublisher
	connected bool
}

// NewMQTTHandler creates the mqtt action handler. The broker connection is
// established lazily on first use.
func NewMQTTHandler(s *settings.Settings, log *slog.Logger) *MQTTHandler {
	return &MQTTHandler{
		log:       log,
		brokerURL: s.MQTTURL,
		clientID:  s.EngineName + "-scheduled-queries",
	}
}

func (h *MQTTHandler) ActionName() string { return "mqtt" }

func (h *MQTTHandler) Setup(context.Context, *catalog.Catalog) error { return nil }

func (h *MQTTHandler) getPublisher() (mqttPublisher, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.publisher == nil {
		h.publisher = newMQTTClient(h.brokerURL, h.clientID)
	}
	if !h.connected {
		if err := h.publisher.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to broker %s: %w", h.brokerURL, err)
		}
		h.connected = true
	}
	return h.publisher, nil
}

func (h *MQTTHandler) HandleResults(ctx context.Context, queryID string, action catalog.Action, rows []graph.Row) error {
	if len(rows) == 0 {
		return nil
	}

	topic := action.Str("topic", "")
	if topic == "" {
		h.log.Error("scheduled query is missing topic in action_config",
			"scheduled_query_id", queryID)
		return nil
	}

	pub, err := h.getPublisher()
	if err != nil {
		return err
	}

	attr := returnAttr(action)
	h.log.Info("sending results for query",
		"result_count", len(rows),
		"scheduled_query_id", queryID)

	for _, row := range rows {
		details, ok := rowDetails(row, attr)
		if !ok {
			continue
		}
		payload, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to serialise row for topic %s: %w", topic, err)
		}
		if err := pub.Publish(topic, payload); err != nil {
			return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
		}
	}
	return nil
}
