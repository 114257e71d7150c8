package catalog

import (
	"fmt"
	"slices"
)

// Validate checks the structural rules of the catalogue. Errors name the
// offending path within the document.
func (c *Catalog) Validate() error {
	for i, row := range c.Dashboard.Rows {
		if err := validateRow(c, row, fmt.Sprintf("dashboard.rows[%d]", i)); err != nil {
			return err
		}
	}

	for id, report := range c.Reports {
		for i, input := range report.Inputs {
			if !slices.Contains(InputTypes, input.Type) {
				return fmt.Errorf(
					"reports.%s.inputs[%d].type: %q is not one of %v",
					id, i, input.Type, InputTypes,
				)
			}
		}
		for i, row := range report.Rows {
			if err := validateRow(c, row, fmt.Sprintf("reports.%s.rows[%d]", id, i)); err != nil {
				return err
			}
		}
	}

	for id, sq := range c.ScheduledQueries {
		if _, ok := c.Queries[sq.Cypher]; !ok {
			return fmt.Errorf(
				"scheduled_queries.%s.cypher: unknown query template %q",
				id, sq.Cypher,
			)
		}
		if sq.Frequency > 0 && len(sq.WatchScans) > 0 {
			return fmt.Errorf(
				"scheduled_queries.%s: frequency and watch_scans are mutually exclusive",
				id,
			)
		}
	}

	return nil
}

func validateRow(c *Catalog, row Row, path string) error {
	for i, panel := range row.Panels {
		panelPath := fmt.Sprintf("%s.panels[%d]", path, i)
		if !slices.Contains(PanelTypes, panel.Type) {
			return fmt.Errorf("%s.type: %q is not one of %v", panelPath, panel.Type, PanelTypes)
		}
		if (panel.Type == "progress" || panel.Type == "count") && panel.Metric != "" && panel.Cypher == "" {
			return fmt.Errorf("%s: metric %q declared without a cypher reference", panelPath, panel.Metric)
		}
		if panel.Cypher != "" {
			if _, ok := c.Queries[panel.Cypher]; !ok {
				return fmt.Errorf("%s.cypher: unknown query template %q", panelPath, panel.Cypher)
			}
		}
		if panel.DetailsCypher != "" {
			if _, ok := c.Queries[panel.DetailsCypher]; !ok {
				return fmt.Errorf("%s.details_cypher: unknown query template %q", panelPath, panel.DetailsCypher)
			}
		}
	}
	return nil
}

// ValidateActions reports any scheduled query action whose action_type is not
// registered for this worker. The worker surfaces this at startup and skips
// the unknown actions at dispatch time.
func (c *Catalog) ValidateActions(knownActions []string) error {
	for id, sq := range c.ScheduledQueries {
		for i, action := range sq.Actions {
			if !slices.Contains(knownActions, action.ActionType) {
				return fmt.Errorf(
					"scheduled_queries.%s.actions[%d].action_type: %q is not a registered action",
					id, i, action.ActionType,
				)
			}
		}
	}
	return nil
}
