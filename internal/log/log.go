// Package log defines the Logger interface passed explicitly through the
// background engine's call graph, the same way terragrunt threads an
// `l log.Logger` parameter through its config and cli packages instead of
// relying on a package-global logger.
package log

import (
	"github.com/sirupsen/logrus"
)

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]any

// Logger is the logging surface every package in this module accepts as an
// explicit parameter rather than importing a global.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	WithField(key string, value any) Logger
	WithFields(fields Fields) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New builds a Logger backed by logrus, writing at Info level by default.
func New() Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// NewQuiet builds a Logger backed by logrus at Warn level, for callers that
// set bgconfig.Options.Quiet.
func NewQuiet() Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// NewNoop builds a Logger that discards everything, for tests that don't
// want log noise but still need to satisfy the interface.
func NewNoop() Logger {
	l := logrus.New()
	l.SetOutput(noopWriter{})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func (l *logrusLogger) Debug(args ...any)                 { l.entry.Debug(args...) }
func (l *logrusLogger) Debugf(format string, args ...any)  { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Info(args ...any)                  { l.entry.Info(args...) }
func (l *logrusLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(args ...any)                  { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(args ...any)                 { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value any) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}
