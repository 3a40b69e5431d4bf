package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://dcawatch.schemas.local/contract.schema.json"

const contractSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["dca_configs"],
  "properties": {
    "dca_configs": {
      "type": "object",
      "propertyNames": {"minLength": 1},
      "additionalProperties": {
        "type": "object",
        "required": ["sla_rules"],
        "properties": {
          "sla_rules": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["trigger_status", "max_days_allowed", "required_action", "escalation_level"],
              "additionalProperties": false,
              "properties": {
                "trigger_status": {"type": "string", "minLength": 1},
                "max_days_allowed": {"type": "integer", "minimum": 0},
                "required_action": {"type": "string"},
                "escalation_level": {"type": "integer", "minimum": 0}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(contractSchema)); err != nil {
		panic(fmt.Sprintf("contract schema load failed: %v", err))
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("contract schema compile failed: %v", err))
	}
	return s
}

// validateDocument checks a decoded YAML document against the contract schema.
// The document is re-encoded as JSON so numbers reach the validator as json.Number.
func validateDocument(doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("contract is not representable as JSON: %w", err)
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("re-decode contract: %w", err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
