// Package logger provides the zerolog-backed implementation of the
// raft.Logger interface used throughout raftkv.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger so it satisfies raft.Logger's
// Debug/Info/Warn/Error/Fatal (and formatted variants) surface.
type Logger struct {
	zl zerolog.Logger
}

// Option configures a Logger.
type Option func(*config)

type config struct {
	level  zerolog.Level
	writer io.Writer
	fields map[string]string
}

// WithLevel sets the minimum level that will be emitted.
func WithLevel(level string) Option {
	return func(c *config) {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			c.level = parsed
		}
	}
}

// WithWriter sets the destination for log output. Defaults to stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.writer = w
	}
}

// WithField attaches a static key/value pair to every log line, e.g. the
// node ID, so multi-node log aggregation can be filtered by node.
func WithField(key, value string) Option {
	return func(c *config) {
		c.fields[key] = value
	}
}

// New creates a Logger with the given options.
func New(opts ...Option) *Logger {
	cfg := &config{
		level:  zerolog.InfoLevel,
		writer: os.Stderr,
		fields: map[string]string{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := zerolog.New(cfg.writer).With().Timestamp()
	for k, v := range cfg.fields {
		ctx = ctx.Str(k, v)
	}

	return &Logger{zl: ctx.Logger().Level(cfg.level)}
}

func (l *Logger) Debug(args ...interface{})                 { l.zl.Debug().Msg(sprint(args...)) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Info(args ...interface{})                  { l.zl.Info().Msg(sprint(args...)) }
func (l *Logger) Infof(format string, args ...interface{})  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warn(args ...interface{})                  { l.zl.Warn().Msg(sprint(args...)) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Error(args ...interface{})                 { l.zl.Error().Msg(sprint(args...)) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zl.Error().Msgf(format, args...) }

// Fatal logs at fatal level and terminates the process. The raft
// package itself never calls Fatal: it logs persistence failures at
// error level and keeps running.
func (l *Logger) Fatal(args ...interface{}) { l.zl.Fatal().Msg(sprint(args...)) }
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.zl.Fatal().Msgf(format, args...)
}

func sprint(args ...interface{}) string {
	if len(args) == 1 {
		if s, ok := args[0].(string); ok {
			return s
		}
	}
	return fmt.Sprint(args...)
}
