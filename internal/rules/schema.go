package rules

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// documentSchema validates the shape of a fetched rule-set document before it
// replaces the active set. A document that fails validation is treated as a
// load failure and the caller falls back to the built-in defaults.
const documentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["rules"],
	"properties": {
		"rules": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "type", "severity", "enabled"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"name": {"type": "string"},
					"description": {"type": "string"},
					"type": {"enum": ["form_input", "network", "storage", "clipboard", "script_analysis"]},
					"patterns": {"type": "array", "items": {"type": "string"}},
					"severity": {"enum": ["critical", "high", "medium", "low", "info"]},
					"enabled": {"type": "boolean"},
					"threshold": {"type": "integer", "minimum": 0}
				}
			}
		},
		"ignoreDomains": {"type": "array", "items": {"type": "string"}},
		"ignorePatterns": {"type": "array", "items": {"type": "string"}},
		"severityColors": {"type": "object", "additionalProperties": {"type": "string"}},
		"severityLabels": {"type": "object", "additionalProperties": {"type": "string"}},
		"eventTypes": {"type": "object", "additionalProperties": {"type": "string"}}
	}
}`

// validateDocument checks a parsed document against the schema.
func validateDocument(doc map[string]interface{}) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("rule document invalid: %s", errs[0].String())
		}
		return fmt.Errorf("rule document invalid")
	}
	return nil
}
