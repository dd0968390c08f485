// Package logging bootstraps the process-wide zerolog logger, mirroring the
// teacher CLI's main.go initialization.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init configures the global zerolog logger. In an interactive terminal it
// writes a human-readable console format; otherwise (redirected to a file,
// running under a process supervisor) it writes structured JSON so log
// aggregation can parse it.
func Init(interactive bool, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	if interactive {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(out).With().Timestamp().Logger().Level(level)
	zerolog.DefaultContextLogger = &logger
	return logger
}

// Component returns a child logger tagged with a component name. Nothing in
// this module calls it: cmd/tradeengine passes the untagged base logger to
// every component.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
