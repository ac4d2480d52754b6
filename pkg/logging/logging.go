// Package logging builds the slog loggers used by the engine, the backends and
// persistctl
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction
type Config struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level" env:"LEVEL"`
	// Format is json or text
	Format string `json:"format" yaml:"format" env:"FORMAT"`
	// File enables size-based rotation into this path instead of stderr
	File      string `json:"file" yaml:"file" env:"FILE"`
	MaxSizeMB int    `json:"max_size_mb" yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxFiles  int    `json:"max_files" yaml:"max_files" env:"MAX_FILES"`
}

// DefaultConfig logs info and above as text to stderr
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "text",
	}
}

// Validate checks if the logging configuration is valid
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	if c.MaxSizeMB < 0 || c.MaxFiles < 0 {
		return fmt.Errorf("log rotation limits must not be negative")
	}
	return nil
}

// ParseLevel converts a level name to a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// New builds a redacting logger. The returned closer releases the log file and
// is a no-op when logging to stderr.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	level, _ := ParseLevel(cfg.Level)

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		writer, err := NewRotatingWriter(RotationConfig{
			File:      cfg.File,
			MaxSizeMB: cfg.MaxSizeMB,
			MaxFiles:  cfg.MaxFiles,
		})
		if err != nil {
			return nil, nil, err
		}
		out = writer
		closer = writer
	}
	return NewWithWriter(out, cfg.Format, level), closer, nil
}

// NewWithWriter builds a redacting logger over w
func NewWithWriter(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var base slog.Handler
	if strings.EqualFold(format, "json") {
		base = slog.NewJSONHandler(w, opts)
	} else {
		base = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewRedactingHandler(base))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// RotationConfig sizes the rotating log file
type RotationConfig struct {
	File      string
	MaxSizeMB int
	MaxFiles  int
}

// NewRotatingWriter opens a size-rotated log file
func NewRotatingWriter(cfg RotationConfig) (*lumberjack.Logger, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("rotation file path must not be empty")
	}

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 5
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		Compress:   true,
	}, nil
}
