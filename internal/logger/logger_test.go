package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"fatal", zapcore.InfoLevel, true},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := parseLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestGetZapLogger_BeforeInit(t *testing.T) {
	saved := base
	base = nil
	defer func() { base = saved }()

	if GetZapLogger() == nil || Named("engine") == nil {
		t.Fatal("loggers must be usable before Init")
	}
	if err := Sync(); err != nil {
		t.Errorf("Sync() before Init error = %v", err)
	}
}

func TestInit(t *testing.T) {
	if err := Init("debug", "text", "transferd"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if !GetZapLogger().Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should be enabled")
	}

	if err := Init("warn", "json", ""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if GetZapLogger().Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}

	if err := Init("loud", "json", ""); err == nil {
		t.Error("Init() should reject an unknown level")
	}
}
