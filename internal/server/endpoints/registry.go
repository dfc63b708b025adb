package endpoints

import (
	"github.com/aimikata/storyboard/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// AllowedOrigins are accepted by the event stream besides same-origin.
	AllowedOrigins []string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Batch endpoints
		&CreateBatchEndpoint{},
		&ListBatchesEndpoint{},
		&GetBatchEndpoint{},
		&CancelBatchEndpoint{},
		&RegeneratePageEndpoint{},
		&PageArtifactEndpoint{},

		// Event stream
		&EventsEndpoint{AllowedOrigins: cfg.AllowedOrigins},

		// Script and blueprint endpoints
		&BlueprintEndpoint{},
		&ParseScriptEndpoint{},
		&GenerateScriptEndpoint{},
		&LinksEndpoint{},

		// Usage endpoints
		&GetUsageEndpoint{},
		&ResetUsageEndpoint{},

		// Settings endpoints
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
	}
}
