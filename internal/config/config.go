// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads pdfcore settings from the environment.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix, e.g. PDFCORE_BROWSER_POOL_SIZE.
const Prefix = "PDFCORE"

// Config validation errors
var (
	ErrInvalidBufferPoolBytes  = errors.New("buffer_pool_bytes must be positive")
	ErrInvalidBrowserPoolSize  = errors.New("browser_pool_size must be positive")
	ErrInvalidRetryInterval    = errors.New("browser_retry_interval must be positive")
	ErrInvalidMaxRetries       = errors.New("browser_max_retries must be at least 1")
	ErrInvalidProtocolTimeout  = errors.New("browser_protocol_timeout must be positive")
	ErrInvalidRebuildScanLimit = errors.New("rebuild_scan_limit must be positive")
	ErrInvalidAggressiveness   = errors.New("aggressiveness must be within [0, 1]")
	ErrInvalidLogFormat        = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel         = errors.New("log_level must be debug, info, warn, or error")
	ErrInvalidWorkers          = errors.New("workers must be positive")
)

// Config holds every tunable of the pools and the document pipeline.
type Config struct {
	BufferPoolBytes        int64         `envconfig:"BUFFER_POOL_BYTES" default:"268435456"`
	BrowserPoolSize        int           `envconfig:"BROWSER_POOL_SIZE" default:"5"`
	BrowserRetryInterval   time.Duration `envconfig:"BROWSER_RETRY_INTERVAL" default:"1s"`
	BrowserMaxRetries      int           `envconfig:"BROWSER_MAX_RETRIES" default:"30"`
	BrowserProtocolTimeout time.Duration `envconfig:"BROWSER_PROTOCOL_TIMEOUT" default:"30s"`
	ChromePath             string        `envconfig:"CHROME_PATH"`
	RebuildScanLimit       int           `envconfig:"REBUILD_SCAN_LIMIT" default:"10485760"`
	Aggressiveness         float64       `envconfig:"AGGRESSIVENESS" default:"0.5"`
	LogFormat              string        `envconfig:"LOG_FORMAT" default:"console"`
	LogLevel               string        `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr            string        `envconfig:"METRICS_ADDR" default:""`
	Workers                int           `envconfig:"WORKERS" default:"4"`
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		BufferPoolBytes:        256 << 20,
		BrowserPoolSize:        5,
		BrowserRetryInterval:   time.Second,
		BrowserMaxRetries:      30,
		BrowserProtocolTimeout: 30 * time.Second,
		RebuildScanLimit:       10 << 20,
		Aggressiveness:         0.5,
		LogFormat:              "console",
		LogLevel:               "info",
		Workers:                4,
	}
}

// Load reads the optional dotenv files, then the PDFCORE_* environment,
// and validates the result. Missing dotenv files are not an error.
func Load(dotenv ...string) (Config, error) {
	for _, f := range dotenv {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate returns the first invalid field as a sentinel error.
func (c *Config) Validate() error {
	if c.BufferPoolBytes <= 0 {
		return ErrInvalidBufferPoolBytes
	}
	if c.BrowserPoolSize <= 0 {
		return ErrInvalidBrowserPoolSize
	}
	if c.BrowserRetryInterval <= 0 {
		return ErrInvalidRetryInterval
	}
	if c.BrowserMaxRetries < 1 {
		return ErrInvalidMaxRetries
	}
	if c.BrowserProtocolTimeout <= 0 {
		return ErrInvalidProtocolTimeout
	}
	if c.RebuildScanLimit <= 0 {
		return ErrInvalidRebuildScanLimit
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > 1 {
		return ErrInvalidAggressiveness
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	return nil
}
