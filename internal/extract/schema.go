package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema checks value types only. Ranges and required item fields
// are the extraction service's concern.
const responseSchema = `{
  "$defs": {
    "item": {
      "type": "object",
      "properties": {
        "item_no":     {"type": ["integer", "null"]},
        "component":   {"type": ["string", "null"]},
        "description": {"type": ["string", "null"]},
        "quantity":    {"type": ["number", "null"]},
        "unit":        {"type": ["string", "null"]},
        "rate":        {"type": ["number", "null"]},
        "total":       {"type": ["number", "null"]}
      }
    },
    "items": {"type": "array", "items": {"$ref": "#/$defs/item"}},
    "email_status": {
      "type": ["object", "null"],
      "properties": {
        "success":    {"type": "boolean"},
        "message":    {"type": ["string", "null"]},
        "message_id": {"type": ["string", "null"]}
      }
    }
  },
  "oneOf": [
    {"$ref": "#/$defs/items"},
    {
      "type": "object",
      "required": ["boq"],
      "properties": {
        "boq": {"$ref": "#/$defs/items"},
        "email_status": {"$ref": "#/$defs/email_status"}
      }
    }
  ]
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("process_response.json", bytes.NewReader([]byte(responseSchema))); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("process_response.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// validateShape checks a response body against responseSchema.
func validateShape(body []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	return nil
}
