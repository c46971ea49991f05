package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TagApp adds an app field to the global logger. Call it after the logging
// profile is applied.
func TagApp(app string) zerolog.Logger {
	log.Logger = log.Logger.With().Str("app", app).Logger()
	return log.Logger
}

// Component returns a child of the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
