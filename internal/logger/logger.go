// Package logger provides structured logging with subsystem-specific levels.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const loggerKey contextKey = "logger"

// Subsystem names for per-subsystem logging configuration.
const (
	SubsystemDriver       = "DRIVER"
	SubsystemHymoFS       = "HYMOFS"
	SubsystemScanner      = "SCANNER"
	SubsystemPlanner      = "PLANNER"
	SubsystemStorage      = "STORAGE"
	SubsystemOrchestrator = "ORCHESTRATOR"
	SubsystemOverlay      = "OVERLAY"
	SubsystemState        = "STATE"
	SubsystemStatus       = "STATUS"
	SubsystemCLI          = "CLI"
)

var allSubsystems = []string{
	SubsystemDriver, SubsystemHymoFS, SubsystemScanner, SubsystemPlanner,
	SubsystemStorage, SubsystemOrchestrator, SubsystemOverlay, SubsystemState,
	SubsystemStatus, SubsystemCLI,
}

// Config holds logging configuration.
type Config struct {
	// DefaultLevel is the default log level for all subsystems.
	DefaultLevel slog.Level
	// SubsystemLevels maps subsystem names to their specific log levels.
	// If a subsystem is not in this map, DefaultLevel is used.
	SubsystemLevels map[string]slog.Level
	// AddSource adds source file information to log entries.
	AddSource bool
}

// NewConfig creates a Config from environment variables.
// Reads HYMOUNT_LOG_LEVEL for default level and
// HYMOUNT_LOG_LEVEL_<SUBSYSTEM> for per-subsystem levels.
func NewConfig() Config {
	cfg := Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
		AddSource:       false,
	}

	if levelStr := os.Getenv("HYMOUNT_LOG_LEVEL"); levelStr != "" {
		cfg.DefaultLevel = parseLevel(levelStr)
	}

	for _, subsystem := range allSubsystems {
		envKey := "HYMOUNT_LOG_LEVEL_" + subsystem
		if levelStr := os.Getenv(envKey); levelStr != "" {
			cfg.SubsystemLevels[subsystem] = parseLevel(levelStr)
		}
	}

	if os.Getenv("HYMOUNT_LOG_SOURCE") == "true" {
		cfg.AddSource = true
	}

	return cfg
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFor returns the log level for the given subsystem.
func (c Config) LevelFor(subsystem string) slog.Level {
	if level, ok := c.SubsystemLevels[subsystem]; ok {
		return level
	}
	return c.DefaultLevel
}

// New creates a new slog.Logger with JSON output at the default level.
func New(cfg Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.DefaultLevel,
		AddSource: cfg.AddSource,
	}))
}

// NewSubsystemLogger creates a logger for a specific subsystem with its
// configured level, tagging every record with a "subsystem" attribute.
func NewSubsystemLogger(subsystem string, cfg Config) *slog.Logger {
	level := cfg.LevelFor(subsystem)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	})
	return slog.New(&subsystemHandler{Handler: handler, subsystem: subsystem, level: level})
}

// subsystemHandler wraps a slog.Handler to tag every record with its subsystem.
type subsystemHandler struct {
	slog.Handler
	subsystem string
	level     slog.Level
}

func (h *subsystemHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *subsystemHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.String("subsystem", h.subsystem))
	return h.Handler.Handle(ctx, r)
}

func (h *subsystemHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &subsystemHandler{Handler: h.Handler.WithAttrs(attrs), subsystem: h.subsystem, level: h.level}
}

func (h *subsystemHandler) WithGroup(name string) slog.Handler {
	return &subsystemHandler{Handler: h.Handler.WithGroup(name), subsystem: h.subsystem, level: h.level}
}

// WithContext returns a context carrying the given logger.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or returns the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
