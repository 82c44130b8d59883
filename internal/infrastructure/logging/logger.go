package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/config"
)

// ServiceName is the service field on every log entry.
const ServiceName = "graylogic-nad"

// Logger is a slog.Logger carrying the service and version fields.
type Logger struct {
	*slog.Logger
}

// New builds the daemon logger from the logging section. Output "stderr"
// selects stderr; anything else logs to stdout.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, version, out)
}

// NewWithWriter is New with an explicit destination; cfg.Output is
// ignored. nadctl logs to the command's stderr, tests to a buffer.
func NewWithWriter(cfg config.LoggingConfig, version string, out io.Writer) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}

	return &Logger{slog.New(h).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)}
}

// parseLevel maps debug, info, warn (or warning) and error, in any case.
// Anything else is info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// With returns a child logger with extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

// Component returns a child logger tagged component=name, e.g. "nad",
// "api" or "retention".
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the startup logger used until the configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}
