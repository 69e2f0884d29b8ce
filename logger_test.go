package xacoord

import (
	"log/slog"
	"os"
	"testing"
)

func TestConfigureLoggingHonorsLevelEnvVar(t *testing.T) {
	old := os.Getenv("XACOORD_LOG_LEVEL")
	defer os.Setenv("XACOORD_LOG_LEVEL", old)

	os.Setenv("XACOORD_LOG_LEVEL", "DEBUG")
	ConfigureLogging()
	if logLevel.Level() != slog.LevelDebug {
		t.Fatalf("logLevel = %v, want DEBUG", logLevel.Level())
	}

	os.Setenv("XACOORD_LOG_LEVEL", "ERROR")
	ConfigureLogging()
	if logLevel.Level() != slog.LevelError {
		t.Fatalf("logLevel = %v, want ERROR", logLevel.Level())
	}
}

func TestSetLogLevelAdjustsLevel(t *testing.T) {
	SetLogLevel(slog.LevelWarn)
	if logLevel.Level() != slog.LevelWarn {
		t.Fatalf("logLevel = %v, want WARN", logLevel.Level())
	}
}
