package config

import (
	"time"

	"github.com/aimikata/storyboard/internal/jobs"
	"github.com/aimikata/storyboard/internal/providers"
	"github.com/aimikata/storyboard/internal/usage"
)

// Config holds storyboard configuration.
// Stored at: ~/.storyboard/config.yaml
type Config struct {
	Providers  map[string]ProviderCfg `mapstructure:"providers" yaml:"providers"`
	Models     []ModelCfg             `mapstructure:"models" yaml:"models"`
	Generation GenerationCfg          `mapstructure:"generation" yaml:"generation"`
	Usage      UsageCfg               `mapstructure:"usage" yaml:"usage"`
}

// ProviderCfg configures a generation backend.
type ProviderCfg struct {
	Type           string `mapstructure:"type" yaml:"type"`                       // "gemini", "openai", "mock"
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`                 // API key (supports ${ENV_VAR} syntax)
	BaseURL        string `mapstructure:"base_url" yaml:"base_url,omitempty"`     // Override endpoint (OpenAI-compatible servers)
	DefaultModel   string `mapstructure:"default_model" yaml:"default_model,omitempty"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds,omitempty"`
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
}

// ModelCfg describes one model identifier. Models are a list rather than a
// map because model names contain dots.
type ModelCfg struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Provider   string `mapstructure:"provider" yaml:"provider"`       // Provider name serving the model
	DailyLimit int    `mapstructure:"daily_limit" yaml:"daily_limit"` // Free-tier requests per day (0 = unlimited)
	RPM        int    `mapstructure:"rpm" yaml:"rpm"`                 // Requests per minute, paces conservative runs
}

// GenerationCfg holds scheduler defaults.
type GenerationCfg struct {
	ImageChain         []string `mapstructure:"image_chain" yaml:"image_chain"`
	ScriptChain        []string `mapstructure:"script_chain" yaml:"script_chain"`
	Concurrency        int      `mapstructure:"concurrency" yaml:"concurrency"`
	Conservative       bool     `mapstructure:"conservative" yaml:"conservative"`
	MaxRetries         int      `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelaySeconds   float64  `mapstructure:"base_delay_seconds" yaml:"base_delay_seconds"`
	MaxDelaySeconds    float64  `mapstructure:"max_delay_seconds" yaml:"max_delay_seconds"`
	MaxJitterSeconds   float64  `mapstructure:"max_jitter_seconds" yaml:"max_jitter_seconds"`
	CallTimeoutSeconds int      `mapstructure:"call_timeout_seconds" yaml:"call_timeout_seconds"`
	ScriptBatchSize    int      `mapstructure:"script_batch_size" yaml:"script_batch_size"`
	LegacyEncoding     string   `mapstructure:"legacy_encoding" yaml:"legacy_encoding"`
	RolePolicy         string   `mapstructure:"role_policy" yaml:"role_policy"`
	BudgetAdmission    string   `mapstructure:"budget_admission" yaml:"budget_admission"` // "projected" or "counter"
}

// UsageCfg selects where the daily usage counter is persisted.
type UsageCfg struct {
	Store string `mapstructure:"store" yaml:"store"` // "file", "sqlite" or "memory"
	Path  string `mapstructure:"path" yaml:"path"`   // Empty uses the home directory
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderCfg{
			providers.GeminiName: {
				Type:    providers.GeminiName,
				APIKey:  "${GEMINI_API_KEY}",
				Enabled: true,
			},
			providers.OpenAIName: {
				Type:           providers.OpenAIName,
				APIKey:         "${OPENAI_API_KEY}",
				TimeoutSeconds: 300,
				Enabled:        true,
			},
		},
		Models: []ModelCfg{
			{Name: "gemini-2.5-flash-image", Provider: providers.GeminiName, DailyLimit: 100, RPM: 10},
			{Name: "gemini-2.5-flash", Provider: providers.GeminiName, DailyLimit: 250, RPM: 10},
			{Name: "gpt-4.1-mini", Provider: providers.OpenAIName, RPM: 500},
		},
		Generation: GenerationCfg{
			ImageChain:         []string{"gemini-2.5-flash-image"},
			ScriptChain:        []string{"gemini-2.5-flash", "gpt-4.1-mini"},
			Concurrency:        3,
			MaxRetries:         3,
			BaseDelaySeconds:   1,
			MaxDelaySeconds:    30,
			MaxJitterSeconds:   1,
			CallTimeoutSeconds: 300,
			ScriptBatchSize:    10,
			LegacyEncoding:     "Shift_JIS",
			RolePolicy:         "story",
			BudgetAdmission:    string(usage.AdmitProjected),
		},
		Usage: UsageCfg{
			Store: usage.StoreFile,
		},
	}
}

// Ceilings returns the daily limit of every model that has one.
func (c *Config) Ceilings() usage.Ceilings {
	out := make(usage.Ceilings)
	for _, m := range c.Models {
		if m.DailyLimit > 0 {
			out[m.Name] = m.DailyLimit
		}
	}
	return out
}

// RPM returns the requests-per-minute ceiling of every model that has one.
func (c *Config) RPM() map[string]int {
	out := make(map[string]int)
	for _, m := range c.Models {
		if m.RPM > 0 {
			out[m.Name] = m.RPM
		}
	}
	return out
}

// Model returns the entry for name.
func (c *Config) Model(name string) (ModelCfg, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelCfg{}, false
}

// Admission parses the budget admission mode.
func (g GenerationCfg) Admission() (usage.Admission, error) {
	return usage.ParseAdmission(g.BudgetAdmission)
}

// RetryPolicy converts the retry settings.
func (g GenerationCfg) RetryPolicy() jobs.RetryPolicy {
	return jobs.RetryPolicy{
		MaxRetries: g.MaxRetries,
		BaseDelay:  seconds(g.BaseDelaySeconds),
		MaxDelay:   seconds(g.MaxDelaySeconds),
		MaxJitter:  seconds(g.MaxJitterSeconds),
	}
}

// BatchOptions returns scheduler options for chain with the configured
// concurrency, retry policy and timeouts.
func (g GenerationCfg) BatchOptions(chain []string) jobs.BatchOptions {
	return jobs.BatchOptions{
		Chain:        chain,
		Concurrency:  g.Concurrency,
		Conservative: g.Conservative,
		Retry:        g.RetryPolicy(),
		CallTimeout:  time.Duration(g.CallTimeoutSeconds) * time.Second,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
