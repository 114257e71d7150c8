package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultPanelSize  = 2.0
	defaultScanRegexp = ".*"
)

// Load decodes a catalogue document from r. Unknown keys outside of
// action_config are rejected. Defaults are applied and the structure is
// validated; action types are validated separately by ValidateActions once
// the worker knows its registry.
func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse catalogue: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadYAML decodes a catalogue document from a byte slice.
func LoadYAML(data []byte) (*Catalog, error) {
	return Load(bytes.NewReader(data))
}

// LoadFile decodes a catalogue document from a file path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalogue file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// DumpYAML serialises the catalogue back to YAML. Load(DumpYAML(c)) is the
// identity on every valid catalogue.
func DumpYAML(c *Catalog) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to serialise catalogue: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// applyDefaults materialises the documented defaults so that the rest of the
// engine never needs to special-case absent values.
func (c *Catalog) applyDefaults() {
	for id, sq := range c.ScheduledQueries {
		for i := range sq.WatchScans {
			scan := &sq.WatchScans[i]
			if scan.GroupType == "" {
				scan.GroupType = defaultScanRegexp
			}
			if scan.SyncedType == "" {
				scan.SyncedType = defaultScanRegexp
			}
			if scan.GroupID == "" {
				scan.GroupID = defaultScanRegexp
			}
		}
		c.ScheduledQueries[id] = sq
	}

	for i := range c.Dashboard.Rows {
		applyPanelDefaults(c.Dashboard.Rows[i].Panels)
	}
	for id, report := range c.Reports {
		for i := range report.Rows {
			applyPanelDefaults(report.Rows[i].Panels)
		}
		for i := range report.Inputs {
			if report.Inputs[i].Size == 0 {
				report.Inputs[i].Size = defaultPanelSize
			}
		}
		c.Reports[id] = report
	}
}

func applyPanelDefaults(panels []Panel) {
	for i := range panels {
		if panels[i].Size == 0 {
			panels[i].Size = defaultPanelSize
		}
	}
}
