// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package render manages a bounded pool of headless browser processes and
// renders pages to PDF through them.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Geek0x0/pdfcore/internal/logging"
	"github.com/Geek0x0/pdfcore/internal/metrics"
	"go.uber.org/zap"
)

// Pool defaults.
const (
	DefaultMaxInstances  = 5
	DefaultRetryInterval = time.Second
	DefaultMaxAttempts   = 30
)

// Process is a handle to one external rendering process.
type Process interface {
	// Connected reports whether the process is still usable.
	Connected() bool
	// Close terminates the process.
	Close() error
}

// Launcher starts external rendering processes.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Process, error)

// Launch calls f(ctx).
func (f LauncherFunc) Launch(ctx context.Context) (Process, error) {
	return f(ctx)
}

// PoolStats is a snapshot of a Pool.
type PoolStats struct {
	Idle        int `json:"idle" yaml:"idle"`
	Outstanding int `json:"outstanding" yaml:"outstanding"`
	Max         int `json:"max" yaml:"max"`
}

// Pool hands out exclusive processes, creating at most Max concurrently
// checked-out instances. Idle processes are reused most recently released
// first. The mutex guards only the idle stack and the counter; launching and
// tearing down processes happen outside it.
type Pool struct {
	launcher Launcher

	mu          sync.Mutex
	idle        []Process
	outstanding int
	closed      bool

	max           int
	retryInterval time.Duration
	maxAttempts   int
	name          string
	logger        *zap.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithMaxInstances bounds the number of checked-out processes.
func WithMaxInstances(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.max = n
		}
	}
}

// WithRetry sets the wait between attempts and the total number of attempts,
// the first one included, before Acquire gives up with ErrPoolExhausted.
func WithRetry(interval time.Duration, attempts int) PoolOption {
	return func(p *Pool) {
		if interval > 0 {
			p.retryInterval = interval
		}
		if attempts > 0 {
			p.maxAttempts = attempts
		}
	}
}

// WithPoolName labels the pool's metrics and logs.
func WithPoolName(name string) PoolOption {
	return func(p *Pool) {
		p.name = name
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logging.OrDiscard(l)
	}
}

// NewPool creates an empty pool. Processes are launched on demand.
func NewPool(launcher Launcher, opts ...PoolOption) *Pool {
	p := &Pool{
		launcher:      launcher,
		max:           DefaultMaxInstances,
		retryInterval: DefaultRetryInterval,
		maxAttempts:   DefaultMaxAttempts,
		name:          "browser",
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns a connected idle process, or launches a new one while
// fewer than Max are checked out. Disconnected idle processes are torn down
// and skipped. When the pool is at capacity Acquire waits RetryInterval and
// tries again. After MaxAttempts attempts in total it fails with
// ErrPoolExhausted.
//
// A cancelled ctx abandons the wait; a waiting caller holds no capacity, so
// nothing is released on cancellation.
func (p *Pool) Acquire(ctx context.Context) (Process, error) {
	start := time.Now()
	defer func() {
		metrics.ProcessPoolWaitSeconds.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
	}()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 0; ; attempt++ {
		proc, reserved, stale, err := p.take()
		p.discard(stale, "disconnected")
		if err != nil {
			return nil, err
		}
		if proc != nil {
			metrics.ProcessPoolAcquireTotal.WithLabelValues(p.name, "reused").Inc()
			return proc, nil
		}
		if reserved {
			return p.launch(ctx)
		}

		if attempt+1 >= p.maxAttempts {
			metrics.ProcessPoolAcquireTotal.WithLabelValues(p.name, "exhausted").Inc()
			p.logger.Warn("process pool exhausted",
				zap.String("pool", p.name),
				zap.Int("attempts", attempt+1),
				zap.Duration("waited", time.Since(start)))
			return nil, fmt.Errorf("%w after %d attempts", ErrPoolExhausted, attempt+1)
		}

		p.logger.Debug("process pool at capacity, waiting",
			zap.String("pool", p.name),
			zap.Int("attempt", attempt+1))
		if timer == nil {
			timer = time.NewTimer(p.retryInterval)
		} else {
			timer.Reset(p.retryInterval)
		}
		select {
		case <-ctx.Done():
			metrics.ProcessPoolAcquireTotal.WithLabelValues(p.name, "cancelled").Inc()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// take pops a connected idle process or reserves capacity for a new one.
// Disconnected idle processes are returned in stale for teardown.
func (p *Pool) take() (proc Process, reserved bool, stale []Process, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publish()

	if p.closed {
		return nil, false, nil, ErrPoolClosed
	}
	for len(p.idle) > 0 {
		n := len(p.idle) - 1
		candidate := p.idle[n]
		p.idle[n] = nil
		p.idle = p.idle[:n]
		if candidate.Connected() {
			p.outstanding++
			return candidate, false, stale, nil
		}
		stale = append(stale, candidate)
	}
	if p.outstanding < p.max {
		p.outstanding++
		return nil, true, stale, nil
	}
	return nil, false, stale, nil
}

func (p *Pool) launch(ctx context.Context) (Process, error) {
	proc, err := p.launcher.Launch(ctx)
	if err == nil && proc == nil {
		err = errors.New("launcher returned no process")
	}
	if err != nil {
		p.mu.Lock()
		p.outstanding--
		p.publish()
		p.mu.Unlock()
		metrics.ProcessPoolAcquireTotal.WithLabelValues(p.name, "failed").Inc()
		return nil, &ProcessError{Op: "launch", Err: err}
	}
	metrics.ProcessPoolAcquireTotal.WithLabelValues(p.name, "created").Inc()
	p.logger.Debug("process launched", zap.String("pool", p.name))
	return proc, nil
}

// Release returns proc to the pool. It is kept for reuse when it is still
// connected and the idle stack holds fewer than Max processes; otherwise it
// is closed and the close error, if any, is returned as a *ProcessError.
func (p *Pool) Release(proc Process) error {
	if proc == nil {
		return nil
	}

	p.mu.Lock()
	if p.outstanding > 0 {
		p.outstanding--
	} else {
		p.logger.Warn("release without matching acquire", zap.String("pool", p.name))
	}
	reason := ""
	switch {
	case p.closed:
		reason = "shutdown"
	case len(p.idle) >= p.max:
		reason = "overflow"
	case !proc.Connected():
		reason = "disconnected"
	default:
		p.idle = append(p.idle, proc)
	}
	p.publish()
	p.mu.Unlock()

	if reason == "" {
		return nil
	}
	return p.teardown(proc, reason)
}

// Close tears down every idle process. Checked-out processes are torn down
// when released. Acquire fails with ErrPoolClosed afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.publish()
	p.mu.Unlock()

	var errs []error
	for _, proc := range idle {
		if err := p.teardown(proc, "shutdown"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Idle: len(p.idle), Outstanding: p.outstanding, Max: p.max}
}

func (p *Pool) discard(stale []Process, reason string) {
	for _, proc := range stale {
		if err := p.teardown(proc, reason); err != nil {
			p.logger.Warn("discarding process failed", zap.String("pool", p.name), zap.Error(err))
		}
	}
}

func (p *Pool) teardown(proc Process, reason string) error {
	metrics.ProcessPoolDiscardedTotal.WithLabelValues(p.name, reason).Inc()
	if err := proc.Close(); err != nil {
		return &ProcessError{Op: "close", Err: err}
	}
	p.logger.Debug("process closed", zap.String("pool", p.name), zap.String("reason", reason))
	return nil
}

// publish must be called with mu held.
func (p *Pool) publish() {
	metrics.ProcessPoolIdle.WithLabelValues(p.name).Set(float64(len(p.idle)))
	metrics.ProcessPoolOutstanding.WithLabelValues(p.name).Set(float64(p.outstanding))
}
