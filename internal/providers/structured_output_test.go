package providers

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func pageBatchSchema() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pageNumber": map[string]any{"type": "integer"},
				"template":   map[string]any{"type": "string"},
				"prompt":     map[string]any{"type": []any{"string", "null"}},
			},
			"required":             []any{"pageNumber"},
			"additionalProperties": false,
		},
	}
}

func TestOpenAIStrictSchema_WrapsArrayRoot(t *testing.T) {
	got := openAIStrictSchema(pageBatchSchema())

	if got["type"] != "object" {
		t.Fatalf("root type = %v, want object", got["type"])
	}
	if got["additionalProperties"] != false {
		t.Errorf("root additionalProperties = %v, want false", got["additionalProperties"])
	}
	props := got["properties"].(map[string]any)
	pages := props["pages"].(map[string]any)
	if pages["type"] != "array" {
		t.Fatalf("pages type = %v, want array", pages["type"])
	}

	item := pages["items"].(map[string]any)
	required := item["required"].([]any)
	if len(required) != 3 {
		t.Errorf("item required = %v, want all three properties", required)
	}
}

func TestOpenAIStrictSchema_DoesNotMutateInput(t *testing.T) {
	in := pageBatchSchema()
	_ = openAIStrictSchema(in)
	item := in["items"].(map[string]any)
	if len(item["required"].([]any)) != 1 {
		t.Errorf("input schema was modified: %v", item["required"])
	}
}

func TestToGeminiSchema(t *testing.T) {
	got, err := toGeminiSchema(pageBatchSchema())
	if err != nil {
		t.Fatalf("toGeminiSchema() error = %v", err)
	}
	if got.Type != genai.TypeArray {
		t.Fatalf("Type = %v, want array", got.Type)
	}
	if got.Items == nil || got.Items.Type != genai.TypeObject {
		t.Fatalf("Items = %+v, want object", got.Items)
	}
	if got.Items.Properties["pageNumber"].Type != genai.TypeInteger {
		t.Errorf("pageNumber type = %v", got.Items.Properties["pageNumber"].Type)
	}
	prompt := got.Items.Properties["prompt"]
	if prompt.Type != genai.TypeString || !prompt.Nullable {
		t.Errorf("prompt = %+v, want nullable string", prompt)
	}
	if len(got.Items.Required) != 1 || got.Items.Required[0] != "pageNumber" {
		t.Errorf("Required = %v", got.Items.Required)
	}
}

func TestToGeminiSchema_UnsupportedType(t *testing.T) {
	_, err := toGeminiSchema(map[string]any{"type": "tuple"})
	if err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
