// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Geek0x0/pdfcore"
	"github.com/Geek0x0/pdfcore/internal/config"
	"github.com/Geek0x0/pdfcore/internal/logging"
	"github.com/Geek0x0/pdfcore/render"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app carries the state shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfgFile string
	dotenv  string
	errOut  io.Writer

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	_, root := newApp(out, errOut)
	return root
}

func newApp(out, errOut io.Writer) (*app, *cobra.Command) {
	a := &app{v: viper.New(), errOut: errOut}

	root := &cobra.Command{
		Use:           "pdfcli",
		Short:         "Repair, optimize, inspect and render PDF documents",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Sync()
			}
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	def := config.Default()
	fs := root.PersistentFlags()
	fs.StringVar(&a.cfgFile, "config", "", "config file (default .pdfcore.yaml, or PDFCORE_CONFIG_FILE)")
	fs.StringVar(&a.dotenv, "env-file", ".env", "dotenv file loaded before reading PDFCORE_* variables")
	fs.String("log-level", def.LogLevel, "log level (debug, info, warn, error)")
	fs.String("log-format", def.LogFormat, "log format (console, json)")
	fs.Int64("buffer-pool-bytes", def.BufferPoolBytes, "capacity of the scratch buffer pool in bytes")
	fs.Int("rebuild-scan-limit", def.RebuildScanLimit, "bytes scanned when rebuilding a damaged xref table")
	fs.Int("workers", def.Workers, "documents processed concurrently")
	fs.Int("browser-pool-size", def.BrowserPoolSize, "maximum concurrent browser processes")
	fs.Duration("browser-retry-interval", def.BrowserRetryInterval, "wait between attempts when every browser is busy")
	fs.Int("browser-max-retries", def.BrowserMaxRetries, "attempts before giving up on a busy browser pool")
	fs.Duration("browser-protocol-timeout", def.BrowserProtocolTimeout, "browser startup and DevTools command timeout")
	fs.String("chrome-path", def.ChromePath, "browser executable (default: search PATH)")
	if err := bindFlags(a.v, fs); err != nil {
		panic(err)
	}

	root.AddCommand(
		newInspectCmd(a),
		newRepairCmd(a),
		newOptimizeCmd(a),
		newRenderCmd(a),
		newWatchCmd(a),
	)
	return a, root
}

// bindFlags binds every flag except the file selectors to the viper key of
// the same name.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "env-file" {
			return
		}
		if berr := v.BindPFlag(f.Name, f); berr != nil {
			err = errors.Join(err, berr)
		}
	})
	return err
}

// setup resolves the configuration and builds the logger. Precedence is
// flag, PDFCORE_* environment (including the dotenv file), config file,
// built-in default.
func (a *app) setup(cmd *cobra.Command) error {
	base, err := config.Load(a.dotenv)
	if err != nil {
		return fmt.Errorf("load environment: %w", err)
	}

	switch {
	case a.cfgFile != "":
		a.v.SetConfigFile(a.cfgFile)
	case os.Getenv(config.Prefix+"_CONFIG_FILE") != "":
		a.v.SetConfigFile(os.Getenv(config.Prefix + "_CONFIG_FILE"))
	default:
		a.v.AddConfigPath(".")
		a.v.SetConfigType("yaml")
		a.v.SetConfigName(".pdfcore")
	}
	a.v.SetEnvPrefix(config.Prefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && a.cfgFile != "" {
			return fmt.Errorf("read config: %w", err)
		}
	}

	// Environment values parsed by envconfig become the defaults that the
	// config file and flags override.
	a.v.SetDefault("log-level", base.LogLevel)
	a.v.SetDefault("log-format", base.LogFormat)
	a.v.SetDefault("buffer-pool-bytes", base.BufferPoolBytes)
	a.v.SetDefault("rebuild-scan-limit", base.RebuildScanLimit)
	a.v.SetDefault("workers", base.Workers)
	a.v.SetDefault("browser-pool-size", base.BrowserPoolSize)
	a.v.SetDefault("browser-retry-interval", base.BrowserRetryInterval)
	a.v.SetDefault("browser-max-retries", base.BrowserMaxRetries)
	a.v.SetDefault("browser-protocol-timeout", base.BrowserProtocolTimeout)
	a.v.SetDefault("chrome-path", base.ChromePath)
	a.v.SetDefault("aggressiveness", base.Aggressiveness)
	a.v.SetDefault("metrics-addr", base.MetricsAddr)

	cfg := base
	cfg.LogLevel = a.v.GetString("log-level")
	cfg.LogFormat = a.v.GetString("log-format")
	cfg.BufferPoolBytes = a.v.GetInt64("buffer-pool-bytes")
	cfg.RebuildScanLimit = a.v.GetInt("rebuild-scan-limit")
	cfg.Workers = a.v.GetInt("workers")
	cfg.BrowserPoolSize = a.v.GetInt("browser-pool-size")
	cfg.BrowserRetryInterval = a.v.GetDuration("browser-retry-interval")
	cfg.BrowserMaxRetries = a.v.GetInt("browser-max-retries")
	cfg.BrowserProtocolTimeout = a.v.GetDuration("browser-protocol-timeout")
	cfg.ChromePath = a.v.GetString("chrome-path")
	cfg.Aggressiveness = a.v.GetFloat64("aggressiveness")
	cfg.MetricsAddr = a.v.GetString("metrics-addr")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	logger, err := logging.NewLogger(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Output: a.errOut})
	if err != nil {
		return err
	}
	a.logger = logger.With(zap.String("command", cmd.Name()))
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("using config file", zap.String("path", used))
	}
	return nil
}

func (a *app) processor() *pdfcore.Processor {
	buffers := pdfcore.NewBufferPool(a.cfg.BufferPoolBytes,
		pdfcore.WithBufferPoolName("cli"),
		pdfcore.WithBufferPoolLogger(a.logger))
	return pdfcore.NewProcessor(buffers,
		pdfcore.WithProcessorLogger(a.logger),
		pdfcore.WithRebuildScanLimit(a.cfg.RebuildScanLimit))
}

func (a *app) renderer() *render.Renderer {
	launcher := &render.ChromeLauncher{
		Path:            a.cfg.ChromePath,
		ProtocolTimeout: a.cfg.BrowserProtocolTimeout,
		Logger:          a.logger,
	}
	pool := render.NewPool(launcher,
		render.WithMaxInstances(a.cfg.BrowserPoolSize),
		render.WithRetry(a.cfg.BrowserRetryInterval, a.cfg.BrowserMaxRetries),
		render.WithPoolLogger(a.logger))
	return render.NewRenderer(pool, a.logger)
}
