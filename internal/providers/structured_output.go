package providers

import (
	"fmt"
	"sort"

	"github.com/google/generative-ai-go/genai"
)

// Structured output schemas are written once as plain JSON schema maps and
// adapted per backend here.

// openAIStrictSchema returns a copy of schema that OpenAI strict mode
// accepts: an object root, additionalProperties false on every object, and
// every property required. Array roots are wrapped under "pages".
func openAIStrictSchema(schema map[string]any) map[string]any {
	strict, _ := strictNode(schema).(map[string]any)
	if strict["type"] == "array" {
		return map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"pages": strict},
			"required":             []any{"pages"},
			"additionalProperties": false,
		}
	}
	return strict
}

func strictNode(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = strictNode(v)
		}
		if out["type"] == "object" {
			out["additionalProperties"] = false
			if props, ok := out["properties"].(map[string]any); ok {
				keys := make([]string, 0, len(props))
				for k := range props {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				required := make([]any, len(keys))
				for i, k := range keys {
					required[i] = k
				}
				out["required"] = required
			}
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = strictNode(v)
		}
		return out
	default:
		return node
	}
}

// toGeminiSchema converts a JSON schema map into the SDK schema type.
// Keywords Gemini does not support (additionalProperties, anyOf, bounds)
// are dropped.
func toGeminiSchema(node map[string]any) (*genai.Schema, error) {
	s := &genai.Schema{}

	typeName, nullable := schemaType(node["type"])
	s.Nullable = nullable
	switch typeName {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "string":
		s.Type = genai.TypeString
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		return nil, fmt.Errorf("unsupported schema type %q", typeName)
	}

	if d, ok := node["description"].(string); ok {
		s.Description = d
	}
	s.Enum = stringList(node["enum"])
	s.Required = stringList(node["required"])

	if props, ok := node["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			child, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %q is not a schema object", name)
			}
			converted, err := toGeminiSchema(child)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			s.Properties[name] = converted
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		converted, err := toGeminiSchema(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s.Items = converted
	}
	return s, nil
}

// schemaType returns the first non-null type name and whether null is allowed.
func schemaType(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, false
	case []any:
		name, nullable := "", false
		for _, item := range t {
			s, _ := item.(string)
			if s == "null" {
				nullable = true
			} else if name == "" {
				name = s
			}
		}
		return name, nullable
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return schemaType(items)
	}
	return "", false
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
