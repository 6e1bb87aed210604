// Package zoelog provides the structured logger shared by every long-running
// component of the scheduler (the scheduler loop, the rebalancer, the
// backend, the cmd entrypoint). It is a thin zerolog wrapper, not a logging
// abstraction.
package zoelog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Component returns child loggers
// derived from it; nothing should write through Logger directly once Init
// has run.
var Logger zerolog.Logger

// Level is the subset of zerolog levels the scheduler configures.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls Init.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init sets up the global logger. Called once from cmd/zoed before any
// component starts.
func Init(cfg Config) {
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
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func init() {
	// Sane default so tests and early-startup code that never call Init
	// still get a usable logger instead of the zerolog no-op default.
	Init(Config{Level: InfoLevel})
}

// Component returns a child logger tagged with the owning component, e.g.
// zoelog.Component("scheduler").
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithExecution tags a logger with an execution id.
func WithExecution(l zerolog.Logger, executionID string) zerolog.Logger {
	return l.With().Str("execution_id", executionID).Logger()
}

// WithNode tags a logger with a node name.
func WithNode(l zerolog.Logger, node string) zerolog.Logger {
	return l.With().Str("node", node).Logger()
}
