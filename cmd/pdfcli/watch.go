// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Geek0x0/pdfcore"
	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// settleDelay lets writers finish before a new file is picked up.
const settleDelay = 250 * time.Millisecond

func newWatchCmd(a *app) *cobra.Command {
	var (
		outDir      string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Optimize every PDF written to a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			aggressiveness, err := a.aggressiveness(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = a.cfg.MetricsAddr
			}
			w := &watcher{
				dir:            args[0],
				outDir:         outDir,
				aggressiveness: aggressiveness,
				workers:        a.cfg.Workers,
				proc:           a.processor(),
				logger:         a.logger,
			}
			if w.outDir == "" {
				w.outDir = filepath.Join(w.dir, "optimized")
			}
			return w.run(cmd.Context(), metricsAddr)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "directory for results (default DIR/optimized)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	addAggressivenessFlag(cmd)
	return cmd
}

type watcher struct {
	dir            string
	outDir         string
	aggressiveness float64
	workers        int
	proc           *pdfcore.Processor
	logger         *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func (w *watcher) run(ctx context.Context, metricsAddr string) error {
	if err := os.MkdirAll(w.outDir, 0o755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan string)
	w.pending = make(map[string]*time.Timer)

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			w.logger.Info("serving metrics", zap.String("addr", metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// Each worker owns one scratch buffer in the pool, keyed by its id.
	for i := 0; i < w.workers; i++ {
		jobID := fmt.Sprintf("watch-%d", i)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case path := <-jobs:
					w.process(ctx, jobID, path)
				}
			}
		})
	}

	g.Go(func() error {
		w.logger.Info("watching", zap.String("dir", w.dir), zap.String("out", w.outDir))
		for {
			select {
			case <-ctx.Done():
				w.stopTimers()
				return nil
			case ev, ok := <-fsw.Events:
				if !ok {
					return nil
				}
				if w.wants(ev) {
					w.schedule(ctx, ev.Name, jobs)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return nil
				}
				w.logger.Warn("watch error", zap.Error(err))
			}
		}
	})

	return g.Wait()
}

func (w *watcher) wants(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	if !strings.EqualFold(filepath.Ext(ev.Name), ".pdf") {
		return false
	}
	abs, err := filepath.Abs(filepath.Dir(ev.Name))
	if err != nil {
		return false
	}
	out, err := filepath.Abs(w.outDir)
	return err == nil && abs != out
}

// schedule queues path once it has been quiet for settleDelay.
func (w *watcher) schedule(ctx context.Context, path string, jobs chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(settleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case jobs <- path:
		case <-ctx.Done():
		}
	})
}

func (w *watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *watcher) process(ctx context.Context, jobID, path string) {
	log := w.logger.With(zap.String("file", path))
	in, err := os.ReadFile(path)
	if err != nil {
		log.Warn("read failed", zap.Error(err))
		return
	}
	res, err := w.proc.Optimize(ctx, jobID, in, w.aggressiveness)
	if err != nil {
		log.Error("optimize failed", zap.Error(err))
		return
	}
	out := filepath.Join(w.outDir, filepath.Base(path))
	if err := os.WriteFile(out, res.Data, 0o644); err != nil {
		log.Error("write failed", zap.Error(err))
		return
	}
	log.Info("optimized", zap.String("out", out), zap.Bool("repaired", res.Repaired),
		zap.Int("in", res.InputSize), zap.Int("size", res.Size))
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
