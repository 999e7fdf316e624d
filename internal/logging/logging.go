// Package logging builds the zerolog loggers used across veil. Components
// derive child loggers tagged with a component field; analyzed text is only
// ever logged as a fingerprint.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

type Options struct {
	Level  string
	Format string
	Out    io.Writer
}

// New returns the root logger. An empty level means info.
func New(opts Options) (zerolog.Logger, error) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	switch strings.ToLower(opts.Format) {
	case "", FormatJSON:
	case FormatConsole:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", opts.Format)
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// Component derives a child logger for a named subsystem.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// TextHash fingerprints analyzed text so log lines and audit records can be
// correlated without storing the text itself.
func TextHash(text string) string {
	return strconv.FormatUint(xxhash.Sum64String(text), 16)
}

// Text attaches the fingerprint and length of text to an event.
func Text(e *zerolog.Event, text string) *zerolog.Event {
	return e.Str("text_hash", TextHash(text)).Int("text_len", len(text))
}
