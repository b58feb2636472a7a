package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global   *zap.Logger
	globalMu sync.RWMutex
)

// Init builds the process logger. levelName is one of debug, info, warn,
// error or fatal; development switches to the console encoder.
func Init(levelName string, development bool) error {
	lvl, err := ParseLevel(levelName)
	if err != nil {
		return err
	}

	atomic := atomicLevel()
	atomic.SetLevel(lvl.zapLevel())

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = *atomic

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	globalMu.Lock()
	global = l
	globalMu.Unlock()
	return nil
}

// L returns the process logger, or a no-op logger before Init.
func L() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global == nil {
		return zap.NewNop()
	}
	return global
}

// Sync flushes buffered log entries.
func Sync() error {
	return L().Sync()
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }
