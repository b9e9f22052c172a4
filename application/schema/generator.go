// Package schema generates the JSON schema of worker.yaml.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/reglet-dev/reglet-workers/domain/entities"
)

// ManifestSchemaID is the $id of the manifest schema.
const ManifestSchemaID = "https://reglet.dev/schemas/worker.json"

// GenerateSchema creates a JSON schema (Draft 2020-12) from a Go struct.
// Struct definitions are expanded inline.
func GenerateSchema(v any) ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	return marshal(reflector.Reflect(v))
}

// ManifestSchema returns the schema editors use to validate worker.yaml.
func ManifestSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	s := reflector.Reflect(&entities.Manifest{})
	s.ID = ManifestSchemaID
	s.Title = "Worker manifest"
	s.Description = "Declares a worker's compiled module, its environment bindings and its exported classes."
	return marshal(s)
}

func marshal(s *jsonschema.Schema) ([]byte, error) {
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return out, nil
}
