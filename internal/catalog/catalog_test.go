package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
queries:
  cves: |-
    MATCH (c:CVE)
    WHERE c.base_severity =~ ($base_severity)
    RETURN {
      cve_id: c.id,
      base_severity: c.base_severity
    } AS details
  cves-by-severity: |-
    MATCH (c:CVE)
    WHERE c.base_severity = $base_severity
    RETURN count(c.id) AS total
dashboard:
  rows:
    - name: CVEs by severity
      panels:
        - type: count
          cypher: cves-by-severity
          params:
            - name: base_severity
              value: CRITICAL
          caption: Critical CVEs
          metric: cves.severity
reports:
  cves:
    name: CVEs
    inputs:
      - input_id: cve_base_severity
        label: Base Severity
        type: autocomplete
        cypher: cves
        default:
          label: (all)
          value: .*
    rows:
      - name: CVEs
        panels:
          - type: table
            cypher: cves
            params:
              - name: base_severity
                input_id: cve_base_severity
            size: 12
scheduled_queries:
  recent-cves:
    name: Recently published CVEs
    cypher: cves
    params:
      - name: base_severity
        value: CRITICAL
    watch_scans:
      - grouptype: CVE
    actions:
      - action_type: slack
        action_config:
          title: Recently published CVEs
          initial_comment: New CVEs
          channels:
            - C0000000000
          custom_key: preserved
`

func TestLoadYAML(t *testing.T) {
	c, err := LoadYAML([]byte(sampleCatalog))
	require.NoError(t, err)

	require.Contains(t, c.ScheduledQueries, "recent-cves")
	sq := c.ScheduledQueries["recent-cves"]
	assert.True(t, sq.IsEnabled())
	assert.Equal(t, map[string]any{"base_severity": "CRITICAL"}, sq.ParamMap())

	// Unknown action_config keys pass through verbatim.
	require.Len(t, sq.Actions, 1)
	assert.Equal(t, "preserved", sq.Actions[0].ActionConfig["custom_key"])
	assert.Equal(t, []string{"C0000000000"}, sq.Actions[0].StrList("channels"))
}

func TestLoadYAML_WatchScanDefaults(t *testing.T) {
	c, err := LoadYAML([]byte(sampleCatalog))
	require.NoError(t, err)

	scans := c.ScheduledQueries["recent-cves"].WatchScans
	require.Len(t, scans, 1)
	assert.Equal(t, "CVE", scans[0].GroupType)
	assert.Equal(t, ".*", scans[0].SyncedType)
	assert.Equal(t, ".*", scans[0].GroupID)
}

func TestLoadYAML_PanelSizeDefault(t *testing.T) {
	c, err := LoadYAML([]byte(sampleCatalog))
	require.NoError(t, err)

	assert.Equal(t, 2.0, c.Dashboard.Rows[0].Panels[0].Size)
	assert.Equal(t, 12.0, c.Reports["cves"].Rows[0].Panels[0].Size)
	assert.Equal(t, 2.0, c.Reports["cves"].Inputs[0].Size)
}

func TestLoadYAML_UnknownTopLevelKey(t *testing.T) {
	_, err := LoadYAML([]byte("queries: {}\nbogus: true\n"))
	assert.Error(t, err)
}

func TestLoadYAML_UnknownNestedKey(t *testing.T) {
	doc := `
queries:
  q: RETURN 1
scheduled_queries:
  sq:
    name: q
    cypher: q
    surprise: true
`
	_, err := LoadYAML([]byte(doc))
	assert.Error(t, err)
}

func TestValidate_UnknownQueryTemplate(t *testing.T) {
	doc := `
queries:
  q: RETURN 1
scheduled_queries:
  sq:
    name: q
    cypher: missing
`
	_, err := LoadYAML([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduled_queries.sq.cypher")
	assert.Contains(t, err.Error(), "missing")
}

func TestValidate_FrequencyAndWatchScansExclusive(t *testing.T) {
	doc := `
queries:
  q: RETURN 1
scheduled_queries:
  sq:
    name: q
    cypher: q
    frequency: 5
    watch_scans:
      - grouptype: CVE
`
	_, err := LoadYAML([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestValidate_BadPanelType(t *testing.T) {
	doc := `
queries:
  q: RETURN 1
dashboard:
  rows:
    - name: r
      panels:
        - type: sparkline
          cypher: q
`
	_, err := LoadYAML([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dashboard.rows[0].panels[0].type")
}

func TestValidate_MetricWithoutCypher(t *testing.T) {
	doc := `
dashboard:
  rows:
    - name: r
      panels:
        - type: count
          metric: cves.count
`
	_, err := LoadYAML([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metric")
}

func TestValidate_BadInputType(t *testing.T) {
	doc := `
queries:
  q: RETURN 1
reports:
  r:
    name: r
    inputs:
      - input_id: i
        label: I
        type: dropdown
`
	_, err := LoadYAML([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reports.r.inputs[0].type")
}

func TestValidateActions(t *testing.T) {
	c, err := LoadYAML([]byte(sampleCatalog))
	require.NoError(t, err)

	assert.NoError(t, c.ValidateActions([]string{"slack", "sqs"}))

	err = c.ValidateActions([]string{"sqs"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduled_queries.recent-cves.actions[0].action_type")
}

func TestRoundTrip(t *testing.T) {
	c, err := LoadYAML([]byte(sampleCatalog))
	require.NoError(t, err)

	out, err := DumpYAML(c)
	require.NoError(t, err)

	c2, err := LoadYAML(out)
	require.NoError(t, err)

	assert.Equal(t, c, c2)
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "schema should expose top-level properties")
	for _, key := range []string{"queries", "dashboard", "reports", "scheduled_queries"} {
		assert.Contains(t, props, key)
	}
}
