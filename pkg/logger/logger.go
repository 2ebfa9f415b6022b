// Package logger builds the zap logger used across tradeguard, with optional
// rolling file output.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls level, encoding and destination.
type Config struct {
	Level      string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `json:"format" yaml:"format"` // json or console
	Output     string `json:"output" yaml:"output"` // stdout, file, both
	FilePath   string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty" yaml:"compress,omitempty"`
}

// Default logs info-level JSON to stdout.
func Default() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		FilePath:   "logs/tradeguard.log",
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
	}
}

// New returns a logger for cfg.
func New(cfg Config) (*zap.Logger, error) {
	var out io.Writer
	switch cfg.Output {
	case "file", "both":
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, err
		}
		file := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = file
		if cfg.Output == "both" {
			out = io.MultiWriter(os.Stdout, file)
		}
	default:
		out = os.Stdout
	}
	return NewWithWriter(cfg, out), nil
}

// NewWithWriter builds a logger writing to w. Used by tests to capture output.
func NewWithWriter(cfg Config, w io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.Format == "console" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), parseLevel(cfg.Level))
	return zap.New(core, zap.AddCaller())
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
