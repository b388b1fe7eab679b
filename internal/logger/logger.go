// Package logger builds the service's zerolog loggers and carries them
// through request and job contexts.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName is attached to every entry as the "service" field.
const ServiceName = "ledger-mirror"

// Output formats accepted by NewFromConfig.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type ctxKey struct{}

// New returns a human-readable console logger on stdout.
func New() zerolog.Logger {
	return NewWithWriter(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})
}

// NewWithWriter returns a logger emitting JSON entries to w.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().
		Timestamp().
		Str("service", ServiceName).
		Caller().
		Logger()
}

// NewFromConfig builds a logger for the given level ("debug", "info", ...) and
// format ("console" or "json"). Unknown levels fall back to info.
func NewFromConfig(level, format string) zerolog.Logger {
	log := New()
	if strings.EqualFold(format, FormatJSON) {
		log = NewWithWriter(os.Stdout)
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return log.Level(lvl)
}

// WithContext stores log in ctx.
func WithContext(ctx context.Context, log zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger stored in ctx, or a console logger when
// none was stored.
func FromContext(ctx context.Context) zerolog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return log
	}
	return New()
}
