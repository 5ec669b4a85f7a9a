package thresholds

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/threshold_pack.schema.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	packSchema *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := schemaFS.ReadFile("schema/threshold_pack.schema.json")
		if err != nil {
			schemaErr = fmt.Errorf("thresholds: read embedded schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource("threshold_pack.schema.json", bytes.NewReader(raw)); err != nil {
			schemaErr = fmt.Errorf("thresholds: add schema resource: %w", err)
			return
		}
		packSchema, schemaErr = c.Compile("threshold_pack.schema.json")
	})
	return packSchema, schemaErr
}

// validateDocument checks a YAML pack document against the embedded JSON
// Schema before it is decoded into typed form. The document is bridged
// through JSON so the validator sees JSON-typed values.
func validateDocument(doc []byte) error {
	var node any
	if err := yaml.Unmarshal(doc, &node); err != nil {
		return fmt.Errorf("thresholds: pack document is not valid YAML: %w", err)
	}

	bridge, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("thresholds: pack document is not JSON-representable: %w", err)
	}
	var v any
	if err := json.Unmarshal(bridge, &v); err != nil {
		return fmt.Errorf("thresholds: pack document bridge decode: %w", err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("thresholds: pack document failed schema validation: %w", err)
	}
	return nil
}
