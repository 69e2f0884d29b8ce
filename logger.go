package xacoord

import (
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging sets up the process-wide default logger with a TextHandler, honoring the
// XACOORD_LOG_LEVEL environment variable (DEBUG, WARN, ERROR; defaults to INFO).
// Call this once at process startup to get the coordinator's default logging configuration.
func ConfigureLogging() {
	logLevel.Set(slog.LevelInfo)

	switch os.Getenv("XACOORD_LOG_LEVEL") {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel adjusts the level of the logger configured by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
