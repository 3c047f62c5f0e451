package suite

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaID identifies the test file schema.
const SchemaID = "https://github.com/softwarewrighter/ui-test/schemas/test-file-v1.json"

// GenerateJSONSchema produces the JSON Schema (Draft 2020-12) for test files
// from the File type.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&File{})
	s.ID = SchemaID
	s.Title = "ui-test test file"
	s.Description = "Schema for ui-test *.test.yaml documents"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
