// Package logging provides the planner's structured logger. It replaces the
// teacher's build-tag-gated Debugf with a logrus-backed logger threaded
// through a context value rather than read from package globals, per the
// "global mutable state becomes a context value" design note.
package logging

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

type contextKey struct{}

// New creates a logger writing to w at Info level. verbose raises the level
// to Debug, matching the CLI's -v flag.
func New(w io.Writer, verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// WithLogger returns a new context carrying l.
func WithLogger(ctx context.Context, l *logrus.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stored in ctx, or a discarding logger if
// none was set.
func FromContext(ctx context.Context) *logrus.Logger {
	if l, ok := ctx.Value(contextKey{}).(*logrus.Logger); ok && l != nil {
		return l
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}

// Debugf logs at debug level using the logger stored in ctx.
func Debugf(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Debugf(format, args...)
}

// Infof logs at info level using the logger stored in ctx.
func Infof(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Infof(format, args...)
}

// Warnf logs at warn level using the logger stored in ctx.
func Warnf(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Warnf(format, args...)
}
