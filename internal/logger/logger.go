package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// base is the process logger, nil until Init
var base *zap.Logger

// Init builds the process logger. "json" selects the production encoder,
// anything else a console encoder. service, when set, is attached to every
// entry.
func Init(level, format, service string) error {
	zapLevel, err := parseLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewProductionConfig()
	if format != "json" {
		cfg = zap.NewDevelopmentConfig()
		cfg.Encoding = "console"
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	if service != "" {
		cfg.InitialFields = map[string]interface{}{"service": service}
	}

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	base = l
	return nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil || l > zapcore.ErrorLevel {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
	return l, nil
}

// Sync flushes buffered entries
func Sync() error {
	if base == nil {
		return nil
	}
	return base.Sync()
}

// GetZapLogger returns the process logger, or a no-op logger before Init
func GetZapLogger() *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base
}

// Named returns a child logger for a component
func Named(component string) *zap.Logger {
	return GetZapLogger().Named(component)
}
