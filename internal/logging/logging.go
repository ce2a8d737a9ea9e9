// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a logger writing to stderr. format is "console" or "json".
func New(level, format string) zerolog.Logger {
	return NewWriter(os.Stderr, level, format)
}

func NewWriter(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Banner logs each line as a WARNING block so it stands out in startup output.
func Banner(log zerolog.Logger, lines []string) {
	if len(lines) == 0 {
		return
	}
	const rule = "============================================================"
	log.Warn().Msg("WARNING: " + rule)
	for _, l := range lines {
		log.Warn().Msg("WARNING: " + l)
	}
	log.Warn().Msg("WARNING: " + rule)
}
