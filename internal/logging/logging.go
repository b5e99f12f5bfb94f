// Package logging builds the daemon's slog logger on top of charmbracelet/log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Options configures New.
type Options struct {
	Level  string // debug|info|warn|error
	Format string // text|json|logfmt
	Prefix string
	Output io.Writer
}

// New returns a slog.Logger whose handler is a charmbracelet logger.
func New(opts Options) (*slog.Logger, error) {
	level := charmlog.InfoLevel
	if opts.Level != "" {
		parsed, err := charmlog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	formatter, err := parseFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handler := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           level,
		Prefix:          opts.Prefix,
		Formatter:       formatter,
	})
	return slog.New(handler), nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDiscard returns l, or a discard logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

func parseFormat(format string) (charmlog.Formatter, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return charmlog.TextFormatter, nil
	case "json":
		return charmlog.JSONFormatter, nil
	case "logfmt":
		return charmlog.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("invalid log format %q (want text, json or logfmt)", format)
	}
}
