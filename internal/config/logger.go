package config

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger: human-readable console output in dev,
// plain JSON for log shippers.
func NewLogger(cfg Config) zerolog.Logger {
	if cfg.LogFormat == LogFormatConsole {
		w := zerolog.ConsoleWriter{Out: os.Stdout}
		return zerolog.New(w).Level(cfg.LogLevel).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(os.Stdout).Level(cfg.LogLevel).With().Timestamp().Logger()
}
