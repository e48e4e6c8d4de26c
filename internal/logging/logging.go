// Package logging centralizes logger setup for the camera HAL. It
// provides a structured JSON logger for machine consumption, a
// human-readable text logger for the console, and rotated file loggers
// for individual services.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log levels beyond the slog defaults.
const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

var (
	mu         sync.RWMutex
	structured *slog.Logger
	human      *slog.Logger
	level      = new(slog.LevelVar)
)

// Init sets up the default loggers: structured JSON to stdout and
// human-readable text to stderr. Safe to call more than once; later
// calls reconfigure the outputs.
func Init() {
	SetOutput(os.Stdout, os.Stderr)
}

// SetOutput redirects the default loggers, mainly for tests.
func SetOutput(structuredOut, humanOut io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	structured = slog.New(slog.NewJSONHandler(structuredOut, handlerOptions()))
	human = slog.New(slog.NewTextHandler(humanOut, handlerOptions()))
}

func handlerOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				lvl := a.Value.Any().(slog.Level)
				if name, ok := levelNames[lvl]; ok {
					a.Value = slog.StringValue(name)
				}
			}
			return a
		},
	}
}

// SetLevel adjusts the global level from a string ("trace", "debug",
// "info", "warn", "error"). Unknown values fall back to info.
func SetLevel(s string) {
	switch strings.ToLower(s) {
	case "trace":
		level.Set(LevelTrace)
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// Structured returns the JSON logger.
func Structured() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if structured == nil {
		mu.RUnlock()
		Init()
		mu.RLock()
	}
	return structured
}

// HumanReadable returns the text logger.
func HumanReadable() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if human == nil {
		mu.RUnlock()
		Init()
		mu.RLock()
	}
	return human
}

// ForService returns the structured logger tagged with a service name.
func ForService(name string) *slog.Logger {
	return Structured().With("service", name)
}

// RotationOptions configures file logger rotation.
type RotationOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultRotation matches the shipped config defaults.
func DefaultRotation() RotationOptions {
	return RotationOptions{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 30}
}

// NewFileLogger creates a JSON logger writing to a rotated file. The
// caller owns the returned closer.
func NewFileLogger(path, service string, rot RotationOptions) (*slog.Logger, io.Closer, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("log file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	}
	logger := slog.New(slog.NewJSONHandler(w, handlerOptions())).
		With("service", service)
	return logger, w, nil
}
