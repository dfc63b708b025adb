package providers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// Registry holds generators by provider name and routes model identifiers
// to them. It supports config-driven instantiation, hot-reload, and
// provides thread-safe access.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
	configs    map[string]ProviderConfig
	models     map[string]string // model -> provider
	logger     *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		generators: make(map[string]Generator),
		configs:    make(map[string]ProviderConfig),
		models:     make(map[string]string),
		logger:     slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register registers a generator by provider name.
func (r *Registry) Register(name string, gen Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replace(name, gen)
	if r.logger != nil {
		r.logger.Info("registered generator", "name", name)
	}
}

// Unregister removes a generator by provider name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replace(name, nil)
	delete(r.configs, name)
	if r.logger != nil {
		r.logger.Info("unregistered generator", "name", name)
	}
}

// RouteModel sends requests for model to the named provider.
func (r *Registry) RouteModel(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model] = provider
}

// Get returns a generator by provider name.
func (r *Registry) Get(name string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.generators[name]
	if !ok {
		return nil, fmt.Errorf("generator not found: %s", name)
	}
	return gen, nil
}

// ForModel returns the generator serving model.
func (r *Registry) ForModel(model string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.models[model]
	if !ok {
		return nil, fmt.Errorf("no provider configured for model %s", model)
	}
	gen, ok := r.generators[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s for model %s is not available", provider, model)
	}
	return gen, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Models returns the model routing table.
func (r *Registry) Models() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.models))
	for m, p := range r.models {
		out[m] = p
	}
	return out
}

// Has checks if a generator is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.generators[name]
	return ok
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	// Providers maps provider names to their config.
	Providers map[string]ProviderConfig

	// Models maps model identifiers to provider names.
	Models map[string]string
}

// ProviderConfig matches config.ProviderCfg with a resolved API key.
type ProviderConfig struct {
	Type         string // "gemini", "openai", "mock"
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	Enabled      bool
}

func (c ProviderConfig) usable() bool {
	return c.Enabled && (c.APIKey != "" || c.Type == MockClientName)
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Only enabled providers with valid API keys will be registered.
func NewRegistryFromConfig(ctx context.Context, cfg RegistryConfig) (*Registry, error) {
	r := NewRegistry()
	return r, r.Reload(ctx, cfg)
}

// Reload updates the registry based on new configuration.
// Providers that are no longer configured will be unregistered.
// Providers with changed settings will be re-created.
func (r *Registry) Reload(ctx context.Context, cfg RegistryConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	want := make(map[string]bool)

	for name, provCfg := range cfg.Providers {
		if !provCfg.usable() {
			continue
		}
		want[name] = true

		_, hasExisting := r.generators[name]
		if hasExisting && r.configs[name] == provCfg {
			continue
		}
		gen, err := createGenerator(ctx, provCfg)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("provider %s: %w", name, err))
			continue
		}
		r.replace(name, gen)
		r.configs[name] = provCfg
		if r.logger != nil {
			if hasExisting {
				r.logger.Info("updated generator", "name", name, "type", provCfg.Type)
			} else {
				r.logger.Info("registered generator", "name", name, "type", provCfg.Type)
			}
		}
	}

	// Remove providers that are no longer configured
	for name := range r.generators {
		if !want[name] {
			r.replace(name, nil)
			delete(r.configs, name)
			if r.logger != nil {
				r.logger.Info("unregistered generator", "name", name)
			}
		}
	}

	r.models = make(map[string]string, len(cfg.Models))
	for model, provider := range cfg.Models {
		r.models[model] = provider
	}
	return errs
}

// replace swaps the generator under name, closing the old one if it holds
// resources. A nil gen removes the entry. Must be called with lock held.
func (r *Registry) replace(name string, gen Generator) {
	if old, ok := r.generators[name]; ok && old != gen {
		if c, ok := old.(io.Closer); ok {
			if err := c.Close(); err != nil && r.logger != nil {
				r.logger.Warn("failed to close generator", "name", name, "error", err)
			}
		}
	}
	if gen == nil {
		delete(r.generators, name)
		return
	}
	r.generators[name] = gen
}

// createGenerator creates a generator based on provider type.
func createGenerator(ctx context.Context, cfg ProviderConfig) (Generator, error) {
	switch cfg.Type {
	case GeminiName:
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
			Endpoint:     cfg.BaseURL,
		})
	case OpenAIName:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
			BaseURL:      cfg.BaseURL,
			Timeout:      cfg.Timeout,
		}), nil
	case MockClientName:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
