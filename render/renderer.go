// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/Geek0x0/pdfcore/internal/logging"
	"github.com/Geek0x0/pdfcore/internal/metrics"
	"go.uber.org/zap"
)

// Renderer prints pages to PDF on processes borrowed from a Pool.
type Renderer struct {
	pool   *Pool
	logger *zap.Logger
}

// NewRenderer returns a Renderer drawing on pool.
func NewRenderer(pool *Pool, logger *zap.Logger) *Renderer {
	return &Renderer{pool: pool, logger: logging.OrDiscard(logger)}
}

// RenderURL prints url. The process is returned to the pool afterwards
// whether or not printing succeeded; a process that lost its connection is
// torn down on release instead of being reused.
func (r *Renderer) RenderURL(ctx context.Context, url string, opts PrintOptions) (data []byte, err error) {
	start := time.Now()
	proc, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := r.pool.Release(proc); rerr != nil {
			r.logger.Warn("releasing browser failed", zap.Error(rerr))
		}
		metrics.PipelineDurationSeconds.WithLabelValues("render").Observe(time.Since(start).Seconds())
	}()

	printer, ok := proc.(Printer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotPrinter, proc)
	}
	data, err = printer.PrintToPDF(ctx, url, opts)
	if err != nil {
		r.logger.Warn("render failed", zap.String("url", url), zap.Error(err))
		return nil, err
	}
	r.logger.Info("rendered", zap.String("url", url), zap.Int("bytes", len(data)), zap.Duration("took", time.Since(start)))
	return data, nil
}

// RenderHTML prints an HTML document given inline.
func (r *Renderer) RenderHTML(ctx context.Context, html []byte, opts PrintOptions) ([]byte, error) {
	return r.RenderURL(ctx, "data:text/html;base64,"+base64.StdEncoding.EncodeToString(html), opts)
}

// Pool returns the process pool.
func (r *Renderer) Pool() *Pool {
	return r.pool
}
