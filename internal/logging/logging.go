// Package logging bootstraps the process-wide zerolog logger, grounded
// on the teacher's cmd/cryptorun/main.go bootstrap (RFC3339 timestamps,
// ConsoleWriter for a TTY, plain JSON otherwise).
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Init configures the global zerolog logger. When stderr is a
// terminal it uses a human-readable console writer; otherwise it emits
// structured JSON suitable for log aggregation.
func Init(level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Component returns a logger pre-tagged with a component field, for
// subsystems that want consistent scoping (exchange, market_type, symbol).
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
