package catalog

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// JSONSchema renders the catalogue model as a JSON-Schema document. The
// frontend consumes this to drive its form rendering, so the property names
// here must stay in lockstep with the YAML field names.
func JSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: false,
	}
	schema := r.Reflect(&Catalog{})
	return json.MarshalIndent(schema, "", "    ")
}
