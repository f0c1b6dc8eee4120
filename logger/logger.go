// Package logger builds the zerolog.Logger used across ingestiond.
package logger

import (
	"os"

	"github.com/traveltek-sync/ingestiond/config"
	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger: human-readable
// zerolog.ConsoleWriter output on stderr in development, plain JSON
// lines on stderr in production.
func New(cfg *config.Config) zerolog.Logger {
	var out zerolog.ConsoleWriter
	if !cfg.IsProduction() {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.IsProduction() {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}
