// Package logger is the structured logger shared by the host packages. Every
// method is safe on a nil *Logger so components can log unconditionally.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Options describes logger configuration supplied at creation time.
type Options struct {
	// Level is one of trace, debug, info, warn or error. Empty means info.
	Level string
	// HumanReadable selects console output instead of JSON lines.
	HumanReadable bool
	// Writer defaults to stderr.
	Writer io.Writer
	// Component is attached to every entry when set.
	Component string
}

// Logger wraps zerolog to provide a simplified API for the host.
type Logger struct {
	zl zerolog.Logger
}

// New creates a Logger from opts.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Writer
	if out == nil {
		out = os.Stderr
	}
	if opts.HumanReadable {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if opts.Component != "" {
		ctx = ctx.Str("component", opts.Component)
	}
	return &Logger{zl: ctx.Logger()}, nil
}

// ParseLevel maps a configured level name to a zerolog level.
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(name)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// WithFields returns a derived logger that always writes the supplied fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zl: l.zl.With().Fields(fields).Logger()}
}

// With returns a derived logger carrying one extra string field.
func (l *Logger) With(key, value string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *Logger) Debug(msg string) { l.write(zerolog.DebugLevel, nil, msg) }
func (l *Logger) Info(msg string)  { l.write(zerolog.InfoLevel, nil, msg) }
func (l *Logger) Warn(msg string)  { l.write(zerolog.WarnLevel, nil, msg) }

// Error writes an error entry; err may be nil.
func (l *Logger) Error(err error, msg string) { l.write(zerolog.ErrorLevel, err, msg) }

// Errors writes one error entry per error combined into err, so aggregated
// load failures stay searchable one by one.
func (l *Logger) Errors(err error, msg string) {
	for _, e := range multierr.Errors(err) {
		l.write(zerolog.ErrorLevel, e, msg)
	}
}

func (l *Logger) write(level zerolog.Level, err error, msg string) {
	if l == nil {
		return
	}
	event := l.zl.WithLevel(level)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(msg)
}
