package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel adjusts the level of every logger created by this package.
// Unknown names leave the level unchanged.
func SetLevel(level string) {
	if lvl, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
		base.SetLevel(lvl)
	}
}

// Logger provides structured logging for the editor components
type Logger struct {
	prefix string
	entry  *logrus.Entry
}

// NewLogger creates a new logger with a prefix
func NewLogger(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		entry:  base.WithField("component", prefix),
	}
}

// With returns a child logger carrying the given key-value pairs on every line
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{prefix: l.prefix, entry: l.entry.WithFields(fields(keysAndValues))}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Info(msg)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Warn(msg)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Error(msg)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		f[key] = keysAndValues[i+1]
	}
	return f
}
