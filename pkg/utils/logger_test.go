package utils

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		debug     bool
		wantDebug bool
	}{
		{"debug enables debug level", true, true},
		{"production starts at info", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.debug)
			if err != nil {
				t.Fatalf("NewLogger(%v) error: %v", tt.debug, err)
			}
			defer func() { _ = logger.Sync() }()

			if got := logger.Name(); got != "daisy" {
				t.Errorf("Name() = %q, want daisy", got)
			}
			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if !logger.Core().Enabled(zapcore.InfoLevel) {
				t.Error("info level should be enabled")
			}
		})
	}
}

func TestNewLogger_childNames(t *testing.T) {
	logger, err := NewLogger(false)
	if err != nil {
		t.Fatal(err)
	}
	if got := logger.Named("pipeline").Name(); got != "daisy.pipeline" {
		t.Errorf("child Name() = %q, want daisy.pipeline", got)
	}
}
