// Package actions dispatches scheduled-query result sets to external
// destinations through a registry of named handlers.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/vantage-sec/vantage/internal/catalog"
	"github.com/vantage-sec/vantage/internal/graph"
	"github.com/vantage-sec/vantage/internal/settings"
)

// defaultReturnAttribute is the conventional query return name holding the
// row payload handed to handlers.
const defaultReturnAttribute = "details"

// Handler is one action implementation, registered under its ActionName.
type Handler interface {
	// ActionName is the key referenced by action_type in the catalogue.
	ActionName() string

	// Setup is called once at worker start. It must be idempotent and may
	// create remote resources in development mode.
	Setup(ctx context.Context, cat *catalog.Catalog) error

	// HandleResults is called once per successful query execution with the
	// full result list. Handlers return nil for empty result sets.
	HandleResults(ctx context.Context, queryID string, action catalog.Action, rows []graph.Row) error
}

// Registry is an ordered mapping from action name to handler.
type Registry struct {
	names    []string
	handlers map[string]Handler
}

// NewRegistry creates a registry holding the given handlers in order.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds a handler under its action name. Re-registering a name keeps
// the original position.
func (r *Registry) Register(h Handler) {
	name := h.ActionName()
	if _, ok := r.handlers[name]; !ok {
		r.names = append(r.names, name)
	}
	r.handlers[name] = h
}

// Names returns the registered action names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Get looks up a handler by action name.
func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Setup invokes Setup on every handler in registration order. The first
// failure aborts worker startup.
func (r *Registry) Setup(ctx context.Context, cat *catalog.Catalog) error {
	for _, name := range r.names {
		if err := r.handlers[name].Setup(ctx, cat); err != nil {
			return fmt.Errorf("failed to set up action handler %s: %w", name, err)
		}
	}
	return nil
}

// FromSettings builds the registry from the configured module list. An
// unknown module name is a startup configuration error.
func FromSettings(s *settings.Settings, log *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, name := range s.ScheduledQueryModules {
		switch name {
		case "log":
			r.Register(NewLogHandler(log))
		case "sqs":
			r.Register(NewSQSHandler(s, log))
		case "slack":
			r.Register(NewSlackHandler(s, log))
		case "mqtt":
			r.Register(NewMQTTHandler(s, log))
		case "postgres":
			r.Register(NewPostgresHandler(log))
		default:
			return nil, fmt.Errorf("unknown scheduled query module %q", name)
		}
	}
	return r, nil
}

// returnAttr resolves the configured query return attribute for an action.
func returnAttr(action catalog.Action) string {
	return action.Str("query_return_attribute", defaultReturnAttribute)
}

// rowDetails extracts the payload mapping at attr from one result row.
func rowDetails(row graph.Row, attr string) (map[string]any, bool) {
	details, ok := row[attr].(map[string]any)
	return details, ok
}
