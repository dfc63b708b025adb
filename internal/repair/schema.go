package repair

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/multierr"
)

// ResponseSchema is the schema requested from the generation service for a
// batch of page scripts.
func ResponseSchema() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pageNumber": map[string]any{"type": "integer"},
				"template":   map[string]any{"type": "string"},
				"prompt":     map[string]any{"type": "string"},
			},
			"required":             []any{"pageNumber", "template", "prompt"},
			"additionalProperties": false,
		},
	}
}

// itemSchema is what a recovered item must satisfy. It is looser than
// ResponseSchema: page tokens may be strings and text may be under content.
const itemSchema = `{
	"type": "object",
	"properties": {
		"pageNumber": {"type": ["integer", "string"]},
		"template": {"type": "string"},
		"prompt": {"type": "string"},
		"content": {"type": "string"}
	},
	"required": ["pageNumber"],
	"anyOf": [{"required": ["prompt"]}, {"required": ["content"]}]
}`

// Validator checks recovered items against the item schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the item schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("item.json", bytes.NewReader([]byte(itemSchema))); err != nil {
		return nil, fmt.Errorf("failed to load item schema: %w", err)
	}
	schema, err := compiler.Compile("item.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile item schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Filter returns the items that satisfy the schema. The error aggregates one
// entry per rejected item and is nil when all items pass.
func (v *Validator) Filter(items []Item) ([]Item, error) {
	var (
		valid []Item
		errs  error
	)
	for i, it := range items {
		if err := v.check(it); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("item %d (%q): %w", i, it.Token, err))
			continue
		}
		valid = append(valid, it)
	}
	return valid, errs
}

func (v *Validator) check(it Item) error {
	if it.decodeErr != nil {
		return it.decodeErr
	}
	if it.raw == nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal(it.raw, &doc); err != nil {
		return err
	}
	if err := v.schema.Validate(doc); err != nil {
		return err
	}
	if it.PageNumber == NoPage {
		return fmt.Errorf("unrecognized page token")
	}
	return nil
}
