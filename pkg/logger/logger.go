// Package logger provides structured logging for the client core. It wraps
// logrus so components receive a consistent field-based API without depending
// on the backend directly.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a component-scoped structured logger.
type Logger struct {
	backend *logrus.Logger
	entry   *logrus.Entry
}

// New creates a logger for the given component with an explicit level and
// format ("json" or "text"). Unknown levels fall back to info.
func New(component, level, format string) *Logger {
	backend := logrus.New()
	backend.SetOutput(os.Stderr)

	parsed, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	backend.SetLevel(parsed)

	if strings.EqualFold(format, "json") {
		backend.SetFormatter(&logrus.JSONFormatter{})
	} else {
		backend.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{
		backend: backend,
		entry:   backend.WithField("component", component),
	}
}

// NewDefault creates a text logger at info level for the given component.
func NewDefault(component string) *Logger {
	return New(component, "info", "text")
}

// SetOutput redirects all output of this logger and its derived loggers.
func (l *Logger) SetOutput(w io.Writer) {
	l.backend.SetOutput(w)
}

// SetLevel adjusts the minimum emitted level.
func (l *Logger) SetLevel(level string) {
	parsed, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return
	}
	l.backend.SetLevel(parsed)
}

// WithField returns a logger with an additional field attached.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{backend: l.backend, entry: l.entry.WithField(key, value)}
}

// WithFields returns a logger with multiple additional fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{backend: l.backend, entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError returns a logger with the error attached as a field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{backend: l.backend, entry: l.entry.WithError(err)}
}

// Debug logs at debug level.
func (l *Logger) Debug(args ...interface{}) { l.entry.Debug(args...) }

// Info logs at info level.
func (l *Logger) Info(args ...interface{}) { l.entry.Info(args...) }

// Warn logs at warning level.
func (l *Logger) Warn(args ...interface{}) { l.entry.Warn(args...) }

// Error logs at error level.
func (l *Logger) Error(args ...interface{}) { l.entry.Error(args...) }

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

// Warnf logs a formatted message at warning level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
