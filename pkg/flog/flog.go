// Package flog provides structured logging for the executor using zerolog.
// It never keeps a package-level global logger: the executor receives all
// resources by handle at construction, so every component logger here is
// built explicitly and threaded through.
package flog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level names a log verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls how New builds the base logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// New builds a base zerolog.Logger per cfg. Component loggers are derived
// from it with WithComponent.
func New(cfg Config) zerolog.Logger {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	base := zerolog.New(output).Level(level).With().Timestamp()
	if cfg.JSONOutput {
		return base.Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Logger()
}

// WithComponent derives a child logger tagged with a component name, e.g.
// "executor", "notifier", "oplog".
func WithComponent(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// WithOperation derives a child logger tagged with an operation id, for use
// inside a single driver cycle.
func WithOperation(base zerolog.Logger, opID string) zerolog.Logger {
	return base.With().Str("operation_id", opID).Logger()
}
