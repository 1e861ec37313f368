package logger

import (
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Field struct {
	Key   string
	Value interface{}
}

var base atomic.Pointer[zap.Logger]

func init() {
	base.Store(build(levelFromEnv(os.Getenv("LOG_LEVEL"))))
}

func build(level zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.OutputPaths = []string{"stdout"}
	cfg.Sampling = nil
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func levelFromEnv(v string) zapcore.Level {
	if os.Getenv("DEBUG") == "1" {
		return zapcore.DebugLevel
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(v))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// SetLevel rebuilds the process logger at the given level name.
func SetLevel(level string) {
	Use(build(levelFromEnv(level)))
}

// Use replaces the process logger. Tests pass an observer-backed logger.
func Use(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	base.Store(l)
}

// L returns the underlying zap logger.
func L() *zap.Logger { return base.Load() }

// Sync flushes buffered entries.
func Sync() { _ = L().Sync() }

func zapFields(fields []Field, err error) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		out = append(out, zap.Error(err))
	}
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func Info(msg string, fields ...Field) {
	L().Info(msg, zapFields(fields, nil)...)
}

func Warn(msg string, fields ...Field) {
	L().Warn(msg, zapFields(fields, nil)...)
}

func Error(msg string, err error, fields ...Field) {
	L().Error(msg, zapFields(fields, err)...)
}

func Debug(msg string, fields ...Field) {
	L().Debug(msg, zapFields(fields, nil)...)
}

func FieldKV(key string, value interface{}) Field { return Field{Key: key, Value: value} }
