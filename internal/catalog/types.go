// Package catalog models the declarative reporting catalogue: named graph
// queries, dashboards, parameterised reports, and scheduled queries. The same
// model round-trips between YAML and the JSON-Schema wire format consumed by
// the frontend.
package catalog

// PanelTypes are the panel kinds the frontend can render.
var PanelTypes = []string{
	"table",
	"vertical-table",
	"count",
	"bar",
	"pie",
	"progress",
	"oncall-table",
	"markdown",
}

// InputTypes are the report input kinds the frontend can render.
var InputTypes = []string{"autocomplete", "text"}

// Catalog is the top-level catalogue document.
type Catalog struct {
	// Queries maps a template id to an opaque parameterised query string.
	Queries map[string]string `yaml:"queries,omitempty" json:"queries,omitempty"`

	Dashboard Dashboard `yaml:"dashboard,omitempty" json:"dashboard,omitempty"`

	Reports map[string]Report `yaml:"reports,omitempty" json:"reports,omitempty"`

	ScheduledQueries map[string]ScheduledQuery `yaml:"scheduled_queries,omitempty" json:"scheduled_queries,omitempty"`
}

// Dashboard is the landing dashboard shown by the frontend.
type Dashboard struct {
	Rows []Row `yaml:"rows,omitempty" json:"rows,omitempty"`
}

// Row is a named row of panels.
type Row struct {
	Name   string  `yaml:"name" json:"name"`
	Panels []Panel `yaml:"panels" json:"panels"`
}

// Panel is a single dashboard or report panel.
type Panel struct {
	Type          string            `yaml:"type" json:"type"`
	Cypher        string            `yaml:"cypher,omitempty" json:"cypher,omitempty"`
	DetailsCypher string            `yaml:"details_cypher,omitempty" json:"details_cypher,omitempty"`
	Params        []PanelParam      `yaml:"params,omitempty" json:"params,omitempty"`
	Caption       string            `yaml:"caption,omitempty" json:"caption,omitempty"`
	TableID       string            `yaml:"table_id,omitempty" json:"table_id,omitempty"`
	Markdown      string            `yaml:"markdown,omitempty" json:"markdown,omitempty"`
	Size          float64           `yaml:"size,omitempty" json:"size,omitempty"`
	Threshold     float64           `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	BarSettings   *BarPanelSettings `yaml:"bar_settings,omitempty" json:"bar_settings,omitempty"`
	PieSettings   *PiePanelSettings `yaml:"pie_settings,omitempty" json:"pie_settings,omitempty"`

	// Metric is the statsd metric emitted from the panel data. Only used for
	// count and progress panels.
	Metric string `yaml:"metric,omitempty" json:"metric,omitempty"`
}

// PanelParam binds one query parameter, either to a literal value or to a
// report input.
type PanelParam struct {
	Name    string `yaml:"name" json:"name"`
	InputID string `yaml:"input_id,omitempty" json:"input_id,omitempty"`
	Value   any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// BarPanelSettings holds settings specific to bar panels.
type BarPanelSettings struct {
	Legend string `yaml:"legend,omitempty" json:"legend,omitempty"`
}

// PiePanelSettings holds settings specific to pie panels.
type PiePanelSettings struct {
	Legend string `yaml:"legend,omitempty" json:"legend,omitempty"`
}

// Report is a parameterised report page.
type Report struct {
	Name   string  `yaml:"name" json:"name"`
	Inputs []Input `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Rows   []Row   `yaml:"rows,omitempty" json:"rows,omitempty"`
}

// Input is a report input element feeding panel parameters.
type Input struct {
	InputID string        `yaml:"input_id" json:"input_id"`
	Label   string        `yaml:"label" json:"label"`
	Type    string        `yaml:"type" json:"type"`
	Cypher  string        `yaml:"cypher,omitempty" json:"cypher,omitempty"`
	Default *InputDefault `yaml:"default,omitempty" json:"default,omitempty"`
	Size    float64       `yaml:"size,omitempty" json:"size,omitempty"`
}

// InputDefault is the value an input takes when nothing is selected.
type InputDefault struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// ScheduledQuery expresses intent to periodically run a named graph query and
// dispatch the results through the configured actions.
type ScheduledQuery struct {
	Name string `yaml:"name" json:"name"`

	// Cypher references a query template in the catalogue queries section.
	Cypher string `yaml:"cypher" json:"cypher"`

	Params []QueryParam `yaml:"params,omitempty" json:"params,omitempty"`

	// Frequency is the trigger period in minutes. Mutually exclusive with
	// WatchScans.
	Frequency int `yaml:"frequency,omitempty" json:"frequency,omitempty"`

	// WatchScans trigger the query when matching data-freshness rows have
	// been updated since the last run. Mutually exclusive with Frequency.
	WatchScans []WatchScan `yaml:"watch_scans,omitempty" json:"watch_scans,omitempty"`

	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	Actions []Action `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// IsEnabled reports whether the query should be considered by the worker.
// Unset means enabled.
func (sq ScheduledQuery) IsEnabled() bool {
	return sq.Enabled == nil || *sq.Enabled
}

// ParamMap returns the query parameters as a name to value mapping.
func (sq ScheduledQuery) ParamMap() map[string]any {
	params := make(map[string]any, len(sq.Params))
	for _, p := range sq.Params {
		params[p.Name] = p.Value
	}
	return params
}

// QueryParam is a named literal parameter passed to the query template.
type QueryParam struct {
	Name  string `yaml:"name" json:"name"`
	Value any    `yaml:"value" json:"value"`
}

// WatchScan selects rows of the data-freshness table by regex. Fields default
// to ".*"; regex semantics are those of the graph database.
type WatchScan struct {
	GroupType  string `yaml:"grouptype,omitempty" json:"grouptype,omitempty"`
	SyncedType string `yaml:"syncedtype,omitempty" json:"syncedtype,omitempty"`
	GroupID    string `yaml:"groupid,omitempty" json:"groupid,omitempty"`
}

// Action instructs the worker to dispatch a result set through one handler.
type Action struct {
	ActionType string `yaml:"action_type" json:"action_type"`

	// ActionConfig is handed verbatim to the handler; unknown keys are
	// preserved.
	ActionConfig map[string]any `yaml:"action_config,omitempty" json:"action_config,omitempty"`
}

// Str returns the string at key in the action config, or def when absent or
// not a string.
func (a Action) Str(key, def string) string {
	if v, ok := a.ActionConfig[key].(string); ok && v != "" {
		return v
	}
	return def
}

// StrList returns the string sequence at key in the action config. YAML
// sequences decode as []any, so both forms are accepted.
func (a Action) StrList(key string) []string {
	switch v := a.ActionConfig[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
