package endpoints

import (
	"github.com/jackzampolin/fable/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},

		// Book endpoints
		&GenerateBookEndpoint{},
		&RegenerateBookEndpoint{},
		&CancelBookEndpoint{},
		&ListBooksEndpoint{},
		&GetBookEndpoint{},
		&ProgressEndpoint{},
		&ExportBookEndpoint{},

		// Live progress stream
		&WatchEndpoint{},

		// Embedded frontend (catch-all, must not shadow the routes above)
		&StaticEndpoint{},
	}
}
