package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

var (
	// ErrInvalidKey is returned when a config key contains invalid characters.
	ErrInvalidKey = errors.New("invalid config key")

	// ErrUnknownKey is returned for keys with no value and no default.
	ErrUnknownKey = errors.New("unknown config key")
)

// Entry is one documented configuration key and its default.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns the scalar configuration keys with their defaults.
// Provider and model tables are maps and are defaulted as a whole from
// DefaultConfig.
func DefaultEntries() []Entry {
	g := DefaultConfig().Generation
	return []Entry{
		// ===================
		// Generation
		// ===================
		{
			Key:         "generation.image_chain",
			Value:       g.ImageChain,
			Description: "Models used for page images, in fallback order",
		},
		{
			Key:         "generation.script_chain",
			Value:       g.ScriptChain,
			Description: "Models used for script batches, in fallback order",
		},
		{
			Key:         "generation.concurrency",
			Value:       g.Concurrency,
			Description: "Maximum requests in flight per batch",
		},
		{
			Key:         "generation.conservative",
			Value:       g.Conservative,
			Description: "Run serially, paced at the model's requests-per-minute ceiling",
		},
		{
			Key:         "generation.max_retries",
			Value:       g.MaxRetries,
			Description: "Retries per model for rate-limited requests",
		},
		{
			Key:         "generation.base_delay_seconds",
			Value:       g.BaseDelaySeconds,
			Description: "First backoff delay; doubled on every retry",
		},
		{
			Key:         "generation.max_delay_seconds",
			Value:       g.MaxDelaySeconds,
			Description: "Upper bound on a single backoff delay",
		},
		{
			Key:         "generation.max_jitter_seconds",
			Value:       g.MaxJitterSeconds,
			Description: "Random jitter added to each backoff delay",
		},
		{
			Key:         "generation.call_timeout_seconds",
			Value:       g.CallTimeoutSeconds,
			Description: "HTTP timeout for a single generation request",
		},
		{
			Key:         "generation.script_batch_size",
			Value:       g.ScriptBatchSize,
			Description: "Pages requested per script call",
		},
		{
			Key:         "generation.legacy_encoding",
			Value:       g.LegacyEncoding,
			Description: "Charset tried for script files that are not UTF-8",
		},
		{
			Key:         "generation.role_policy",
			Value:       g.RolePolicy,
			Description: "Narrative role policy for blueprints (story or explainer)",
		},
		{
			Key:         "generation.budget_admission",
			Value:       g.BudgetAdmission,
			Description: "Budget check before a batch: projected (usage + pending) or counter (usage alone)",
		},

		// ===================
		// Usage
		// ===================
		{
			Key:         "usage.store",
			Value:       "file",
			Description: "Where the daily usage counter is kept: file, sqlite or memory",
		},
		{
			Key:         "usage.path",
			Value:       "",
			Description: "Usage store path; empty uses the home directory",
		},
	}
}

// GetDefault returns the default entry for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// Keys returns the documented keys under prefix, sorted.
func Keys(prefix string) []string {
	var keys []string
	for _, entry := range DefaultEntries() {
		if strings.HasPrefix(entry.Key, prefix) {
			keys = append(keys, entry.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	// Don't allow keys starting or ending with dots
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}
