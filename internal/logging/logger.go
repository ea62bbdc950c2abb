// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logging builds the zap loggers used across pdfcore.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Geek0x0/pdfcore/internal/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration options
type Config struct {
	// Format is "json" or "console"
	Format string
	// Level is the minimum level: "debug", "info", "warn", "error"
	Level string
	// Output defaults to os.Stderr
	Output io.Writer
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	return Config{
		Format: "console",
		Level:  "info",
		Output: os.Stderr,
	}
}

// NewLogger creates a zap logger from cfg. Every written entry is counted
// in metrics.LogEntriesTotal.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "console", "text":
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json", "":
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), level)
	return zap.New(&countingCore{Core: core}, zap.AddCaller()), nil
}

// Discard returns a logger that drops everything.
func Discard() *zap.Logger {
	return zap.NewNop()
}

// OrDiscard returns l, or a no-op logger when l is nil.
func OrDiscard(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// ParseLevel converts a level name to a zapcore.Level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

type countingCore struct {
	zapcore.Core
}

//nolint:gocritic // hugeParam: interface requires value receiver
func (c *countingCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

//nolint:gocritic // hugeParam: interface requires value receiver
func (c *countingCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	metrics.LogEntriesTotal.WithLabelValues(entry.Level.String()).Inc()
	return c.Core.Write(entry, fields)
}

func (c *countingCore) With(fields []zapcore.Field) zapcore.Core {
	return &countingCore{Core: c.Core.With(fields)}
}
