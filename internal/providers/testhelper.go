package providers

import (
	"os"
)

// TestConfig holds provider configurations loaded from environment variables.
// This allows tests to use the same configuration pattern as production.
type TestConfig struct {
	GeminiAPIKey string
	OpenAIAPIKey string
}

// LoadTestConfig loads provider API keys from environment variables.
// Returns a TestConfig with whatever keys are available.
func LoadTestConfig() TestConfig {
	return TestConfig{
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
	}
}

// HasGemini returns true if a Gemini API key is configured.
func (c TestConfig) HasGemini() bool {
	return c.GeminiAPIKey != ""
}

// HasOpenAI returns true if an OpenAI API key is configured.
func (c TestConfig) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// ToRegistryConfig converts test config to a RegistryConfig for the provider registry.
// Only includes providers that have API keys configured; the mock provider
// is always present.
func (c TestConfig) ToRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{
		Providers: map[string]ProviderConfig{
			MockClientName: {Type: MockClientName, Enabled: true},
		},
		Models: map[string]string{"mock-model": MockClientName},
	}

	if c.HasGemini() {
		cfg.Providers[GeminiName] = ProviderConfig{Type: GeminiName, APIKey: c.GeminiAPIKey, Enabled: true}
		cfg.Models[geminiDefaultModel] = GeminiName
	}
	if c.HasOpenAI() {
		cfg.Providers[OpenAIName] = ProviderConfig{Type: OpenAIName, APIKey: c.OpenAIAPIKey, Enabled: true}
		cfg.Models[openAIDefaultModel] = OpenAIName
	}
	return cfg
}
