package endpoints

import "github.com/maiteclab/sheetgpt/internal/api"

// Config holds dependencies needed by some endpoints.
type Config struct {
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&StatusEndpoint{},

		// Extraction endpoints
		&ColumnsEndpoint{},
		&ParseFormatEndpoint{},
		&ExtractEndpoint{},

		// Settings
		&SettingsEndpoint{},

		// OpenAPI spec
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
	}
}
