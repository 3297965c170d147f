package occmap

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLogLevel maps a config level name to a zerolog level; unknown names mean info
func ParseLogLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "DISABLED", "OFF":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger builds the service logger. pretty selects the console format.
func NewLogger(out io.Writer, level string, pretty bool) zerolog.Logger {
	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(out).
		Level(ParseLogLevel(level)).
		With().Timestamp().
		Logger()
}
