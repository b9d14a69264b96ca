// Package logging provides structured logging for the tracker on top of logrus.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Logger is a logrus entry plus the logger it writes through.
// Loggers derived with WithField share the output and level of their parent.
type Logger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

// NewLogger creates a logger writing to stdout
func NewLogger(level LogLevel, format LogFormat) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetLevel(level.logrus())
	base.SetFormatter(formatter(format))

	return &Logger{base: base, entry: logrus.NewEntry(base)}
}

func formatter(format LogFormat) logrus.Formatter {
	if format == FormatText {
		return &logrus.TextFormatter{
			FullTimestamp:    true,
			DisableColors:    true,
			QuoteEmptyFields: true,
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	}
}

func (l *Logger) derive(entry *logrus.Entry) *Logger {
	return &Logger{base: l.base, entry: entry}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(l.entry.WithField(key, value))
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.derive(l.entry.WithFields(logrus.Fields(fields)))
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	return l.derive(l.entry.WithError(err))
}

// WithComponent tags every entry with the part of the tracker that wrote it
func (l *Logger) WithComponent(name string) *Logger {
	return l.WithField("component", name)
}

func (l *Logger) Debug(message string) { l.entry.Debug(message) }
func (l *Logger) Info(message string)  { l.entry.Info(message) }
func (l *Logger) Warn(message string)  { l.entry.Warn(message) }
func (l *Logger) Error(message string) { l.entry.Error(message) }

// Fatal logs and exits with status 1
func (l *Logger) Fatal(message string) { l.entry.Fatal(message) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

// SetOutput sets the output writer of the logger and every logger derived from it
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

// SetLevel sets the log level of the logger and every logger derived from it
func (l *Logger) SetLevel(level LogLevel) {
	l.base.SetLevel(level.logrus())
}

func (level LogLevel) logrus() logrus.Level {
	parsed, err := logrus.ParseLevel(string(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitGlobalLogger replaces the process-wide logger
func InitGlobalLogger(level LogLevel, format LogFormat) {
	logger := NewLogger(level, format)
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger returns the process-wide logger, creating an info/json one on first use
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo, FormatJSON)
	}
	return globalLogger
}

type loggerKey struct{}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves a logger from the context, falling back to the global one
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return logger
	}
	return GetGlobalLogger()
}

// Info logs an info message using the global logger
func Info(message string) {
	GetGlobalLogger().Info(message)
}

// Fatalf logs a formatted fatal message and exits using the global logger
func Fatalf(format string, args ...interface{}) {
	GetGlobalLogger().Fatalf(format, args...)
}

// WithField adds a field to the global logger
func WithField(key string, value interface{}) *Logger {
	return GetGlobalLogger().WithField(key, value)
}

// WithFields adds multiple fields to the global logger
func WithFields(fields map[string]interface{}) *Logger {
	return GetGlobalLogger().WithFields(fields)
}

// WithError adds an error to the global logger
func WithError(err error) *Logger {
	return GetGlobalLogger().WithError(err)
}

// ParseLogLevel maps a LOG_LEVEL value to a level. Unknown values mean info.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal", "panic":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// ParseLogFormat maps a LOG_FORMAT value to a format. Anything but "text" means json.
func ParseLogFormat(format string) LogFormat {
	if strings.EqualFold(strings.TrimSpace(format), string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}
