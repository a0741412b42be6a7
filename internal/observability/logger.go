package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/pbxmon/internal/logging"
)

// InitLogger configures the global logger for one binary: the runtime
// logging profile (env-overridable) plus an app field on every line.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
