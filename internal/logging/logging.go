// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides a component-scoped structured logger used
// throughout the daemon, wrapping charmbracelet/log the same way the rest
// of the tetherd daemon does.
package logging

import (
	"io"
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Config controls the root logger's behavior.
type Config struct {
	Level      string // debug|info|warn|error
	JSON       bool
	ReportTime bool
	Output     io.Writer
}

// DefaultConfig returns the daemon's default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		JSON:       false,
		ReportTime: true,
		Output:     os.Stderr,
	}
}

// Logger is a component-scoped structured logger.
type Logger struct {
	l   *charmlog.Logger
	out io.Writer
}

// New creates a root Logger from the given configuration.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := charmlog.Options{
		ReportTimestamp: cfg.ReportTime,
	}
	if cfg.JSON {
		opts.Formatter = charmlog.JSONFormatter
	}

	l := charmlog.NewWithOptions(out, opts)
	l.SetLevel(parseLevel(cfg.Level))
	return &Logger{l: l, out: out}
}

func parseLevel(level string) charmlog.Level {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return charmlog.InfoLevel
	}
	return lvl
}

var (
	defaultOnce   sync.Once
	defaultLogger *Logger
)

// Default returns the process-wide default logger, created lazily.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(DefaultConfig())
	})
	return defaultLogger
}

// SetDefault replaces the process-wide default logger (used once at
// startup after reading the loaded configuration's level/format).
func SetDefault(l *Logger) {
	defaultLogger = l
}

// WithComponent is a package-level convenience around Default().WithComponent.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}

// WithComponent returns a derived logger tagging every line with component=name.
func (lg *Logger) WithComponent(name string) *Logger {
	return &Logger{l: lg.l.With("component", name), out: lg.out}
}

// WithError returns a derived logger with the error attached for the next call.
func (lg *Logger) WithError(err error) *Logger {
	return &Logger{l: lg.l.With("error", err), out: lg.out}
}

// With returns a derived logger with the given key/value pairs attached.
func (lg *Logger) With(kv ...any) *Logger {
	return &Logger{l: lg.l.With(kv...), out: lg.out}
}

func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debug(msg, kv...) }
func (lg *Logger) Info(msg string, kv ...any)  { lg.l.Info(msg, kv...) }
func (lg *Logger) Warn(msg string, kv ...any)  { lg.l.Warn(msg, kv...) }
func (lg *Logger) Error(msg string, kv ...any) { lg.l.Error(msg, kv...) }

// AddSink attaches an additional io.Writer (e.g. a syslog forwarder) that
// receives every log line in addition to the primary output.
func (lg *Logger) AddSink(w io.Writer) {
	mw := io.MultiWriter(lg.out, w)
	lg.l.SetOutput(mw)
	lg.out = mw
}
