package utils

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// BuildLogger returns the process logger. Logs go to out, stderr when
// nil, so that a table written to stdout stays clean.
func BuildLogger(cfg LogConfig, out io.Writer, component string) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out)

	switch strings.ToLower(strings.TrimSpace(cfg.Level)) {
	case "debug":
		base = base.Level(zerolog.DebugLevel)
	case "warn":
		base = base.Level(zerolog.WarnLevel)
	case "error":
		base = base.Level(zerolog.ErrorLevel)
	default:
		base = base.Level(zerolog.InfoLevel)
	}

	ctx := base.With().Timestamp()
	if len(component) > 0 {
		ctx = ctx.Str("component", component)
	}
	return ctx.Logger()
}
