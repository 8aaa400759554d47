// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Construction options shared by the platform-specific reactor
// implementations.

package reactor

import (
	"os"

	"github.com/rs/zerolog"
)

// maxEvents bounds the number of readiness notifications consumed per wake.
const maxEvents = 128

// Option configures a Reactor at construction time.
type Option func(*config)

type config struct {
	logger zerolog.Logger
}

func defaultConfig() config {
	return config{
		logger: zerolog.New(os.Stderr).With().Timestamp().Str("component", "reactor").Logger(),
	}
}

// WithLogger routes the reactor's non-fatal reports (unknown unregister,
// handler panics) to logger instead of the default stderr logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) { c.logger = logger }
}
