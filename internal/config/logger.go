package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger. Logs always go to stderr;
// stdout is reserved for command output such as the king briefing.
func InitLogger(level, format string) {
	zerolog.SetGlobalLevel(parseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	log.Logger = zerolog.New(logWriter(format, os.Stderr)).
		With().
		Timestamp().
		Caller().
		Str("service", "killcore").
		Logger()

	log.Debug().
		Str("level", zerolog.GlobalLevel().String()).
		Str("format", format).
		Msg("Logger initialized")
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func logWriter(format string, out io.Writer) io.Writer {
	if format != "console" {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

// NewLogger returns the global logger tagged with a component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
