package probez

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig contains logger configuration.
type LogConfig struct {
	// Output sets the output writer (defaults to os.Stderr).
	Output io.Writer `yaml:"-"`
	// Level sets the logging level (trace, debug, info, warn, error).
	Level string `yaml:"level" env:"PROBEZ_LOG_LEVEL"`
	// Pretty enables human-readable console output.
	Pretty bool `yaml:"pretty" env:"PROBEZ_LOG_PRETTY"`
}

// NewLogger creates a zerolog logger with the given configuration.
func NewLogger(cfg LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("component", "probez").
		Logger()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
