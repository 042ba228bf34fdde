// Package logger sets up the zerolog logger used throughout the
// process. A bootstrap logger is created before configuration is
// available (for reporting config-load failures); FromConfig produces
// the logger threaded into the rest of the app once config is loaded.
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000000Z07:00"
}

// New creates the bootstrap logger, level controlled by LOG_LEVEL since
// no config is loaded yet at this point in startup.
func New() zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
}

// FromConfig builds the application logger once config is available.
// `local` selects a human-readable console writer; otherwise JSON lines
// go to stdout, suitable for container log collection.
func FromConfig(local bool, debug bool) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if local {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
