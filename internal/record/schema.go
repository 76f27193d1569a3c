package record

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// frontMatterSchema constrains the YAML header of a record. Unknown keys are
// allowed so hand-edited records with extra metadata still load.
const frontMatterSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "title"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "title": {"type": "string", "minLength": 1, "maxLength": 500},
    "status": {"enum": ["open", "in_progress", "blocked", "closed", "archived"]},
    "assignee": {"type": "string"},
    "milestone": {"type": "string"},
    "headline": {"type": "string"},
    "labels": {"type": "array", "items": {"type": "string"}},
    "created": {"type": "string"},
    "updated": {"type": "string"},
    "sync_metadata": {
      "type": "object",
      "properties": {
        "last_synced": {"type": "string"},
        "remote_state": {
          "type": "object",
          "required": ["id"],
          "properties": {
            "id": {"type": "string"},
            "title": {"type": "string"},
            "status": {"type": "string"},
            "labels": {"type": "array", "items": {"type": "string"}}
          }
        }
      }
    }
  }
}`

const schemaURL = "roadmap://record-front-matter.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(frontMatterSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parse front matter schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add front matter schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// validateFrontMatter checks decoded YAML against the schema. The value is
// round-tripped through JSON so YAML timestamps become strings and numbers
// get the representation the validator expects.
func validateFrontMatter(raw map[string]any) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("front matter is not JSON-compatible: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	return sch.Validate(inst)
}
