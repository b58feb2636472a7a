package logger

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents log level
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	// FatalLevel logs. After a fatal log, the application will exit
	FatalLevel
)

var (
	level    *zap.AtomicLevel
	levelMux sync.Mutex
)

func atomicLevel() *zap.AtomicLevel {
	levelMux.Lock()
	defer levelMux.Unlock()

	if level == nil {
		newLevel := zap.NewAtomicLevelAt(zapcore.InfoLevel)
		level = &newLevel
	}
	return level
}

// SetLevel changes the log level of the running logger.
func SetLevel(l LogLevel) {
	atomicLevel().SetLevel(l.zapLevel())
	Info("Log level changed", zap.String("new_level", l.String()))
}

// GetLevel gets the current log level
func GetLevel() LogLevel {
	switch atomicLevel().Level() {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.WarnLevel:
		return WarnLevel
	case zapcore.ErrorLevel:
		return ErrorLevel
	case zapcore.FatalLevel:
		return FatalLevel
	default:
		return InfoLevel
	}
}

// ParseLevel parses a level name. An empty name means info.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "INFO"
	}
}

// FieldLogger carries a fixed set of fields into every entry.
type FieldLogger struct {
	fields []zap.Field
}

// NewFieldLogger creates a new field logger
func NewFieldLogger(fields ...zap.Field) *FieldLogger {
	return &FieldLogger{fields: fields}
}

// With creates a child logger with additional fields
func (fl *FieldLogger) With(fields ...zap.Field) *FieldLogger {
	all := make([]zap.Field, 0, len(fl.fields)+len(fields))
	all = append(all, fl.fields...)
	all = append(all, fields...)
	return &FieldLogger{fields: all}
}

func (fl *FieldLogger) merge(fields []zap.Field) []zap.Field {
	all := make([]zap.Field, 0, len(fl.fields)+len(fields))
	all = append(all, fl.fields...)
	return append(all, fields...)
}

// The process logger is resolved per call so that a FieldLogger created
// before Init still writes to the configured sink.

func (fl *FieldLogger) Debug(msg string, fields ...zap.Field) { L().Debug(msg, fl.merge(fields)...) }
func (fl *FieldLogger) Info(msg string, fields ...zap.Field)  { L().Info(msg, fl.merge(fields)...) }
func (fl *FieldLogger) Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fl.merge(fields)...) }
func (fl *FieldLogger) Error(msg string, fields ...zap.Field) { L().Error(msg, fl.merge(fields)...) }

// Module creates a field logger with module name
func Module(name string) *FieldLogger {
	return NewFieldLogger(zap.String("module", name))
}

// Component creates a field logger for component tracking
func Component(name string) *FieldLogger {
	return NewFieldLogger(zap.String("component", name))
}
