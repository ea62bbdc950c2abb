// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Geek0x0/pdfcore/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeProcess struct {
	id        int
	connected atomic.Bool
	closes    atomic.Int32
	closeErr  error
}

func (p *fakeProcess) Connected() bool { return p.connected.Load() }

func (p *fakeProcess) Close() error {
	p.closes.Add(1)
	p.connected.Store(false)
	return p.closeErr
}

type fakeLauncher struct {
	mu       sync.Mutex
	launched []*fakeProcess
	err      error
	closeErr error
}

func (l *fakeLauncher) Launch(ctx context.Context) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	p := &fakeProcess{id: len(l.launched) + 1, closeErr: l.closeErr}
	p.connected.Store(true)
	l.launched = append(l.launched, p)
	return p, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

func newTestPool(t *testing.T, l Launcher, opts ...PoolOption) *Pool {
	t.Helper()
	opts = append([]PoolOption{WithPoolName(t.Name()), WithRetry(time.Millisecond, 3)}, opts...)
	p := NewPool(l, opts...)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPoolAcquireLaunchesOnDemand(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(t, l)

	proc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, proc.Connected())
	assert.Equal(t, 1, l.count())
	assert.Equal(t, PoolStats{Idle: 0, Outstanding: 1, Max: DefaultMaxInstances}, p.Stats())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProcessPoolAcquireTotal.WithLabelValues(t.Name(), "created")))
}

func TestPoolReusesMostRecentlyReleased(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(t, l)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Release(a))
	require.NoError(t, p.Release(b))

	got, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.Equal(t, 2, l.count(), "no new launch on reuse")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProcessPoolAcquireTotal.WithLabelValues(t.Name(), "reused")))
}

func TestPoolDiscardsDisconnectedIdle(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(t, l)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Release(a))
	a.(*fakeProcess).connected.Store(false)

	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.True(t, b.Connected())
	assert.Equal(t, int32(1), a.(*fakeProcess).closes.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProcessPoolDiscardedTotal.WithLabelValues(t.Name(), "disconnected")))
}

func TestPoolReleaseDisconnectedTearsDown(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(t, l)

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	a.(*fakeProcess).connected.Store(false)
	require.NoError(t, p.Release(a))

	assert.Equal(t, int32(1), a.(*fakeProcess).closes.Load())
	assert.Equal(t, PoolStats{Idle: 0, Outstanding: 0, Max: DefaultMaxInstances}, p.Stats())
}

func TestPoolReleaseCloseError(t *testing.T) {
	boom := errors.New("kill failed")
	l := &fakeLauncher{closeErr: boom}
	p := newTestPool(t, l)

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	a.(*fakeProcess).connected.Store(false)

	err = p.Release(a)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessCloseFailed)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrProcessLaunchFailed)
	assert.Equal(t, 0, p.Stats().Outstanding)
}

func TestPoolExhausted(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(t, l, WithMaxInstances(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.Acquire(ctx)
		require.NoError(t, err)
	}
	_, err := p.Acquire(ctx)
	require.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, 2, l.count())
	assert.Equal(t, 2, p.Stats().Outstanding, "failed acquire holds no capacity")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProcessPoolAcquireTotal.WithLabelValues(t.Name(), "exhausted")))
}

func TestPoolExhaustedAfterMaxAttempts(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &fakeLauncher{}
	p := newTestPool(t, l, WithMaxInstances(1), WithRetry(time.Millisecond, 4), WithPoolLogger(zap.New(core)))
	ctx := context.Background()

	_, err := p.Acquire(ctx)
	require.NoError(t, err)
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, ErrPoolExhausted)
	assert.Contains(t, err.Error(), "after 4 attempts")
	// Four attempts leave three waits between them.
	assert.Equal(t, 3, logs.FilterMessage("process pool at capacity, waiting").Len())
}

func TestPoolRetryDefaults(t *testing.T) {
	p := NewPool(&fakeLauncher{}, WithRetry(0, 0))
	assert.Equal(t, DefaultMaxAttempts, p.maxAttempts)
	assert.Equal(t, 30, p.maxAttempts)
	assert.Equal(t, time.Second, p.retryInterval)
}

func TestPoolWaiterGetsReleasedProcess(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(t, l, WithMaxInstances(1), WithRetry(5*time.Millisecond, 200))
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan Process, 1)
	go func() {
		proc, err := p.Acquire(ctx)
		assert.NoError(t, err)
		got <- proc
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Release(a))

	select {
	case proc := <-got:
		assert.Same(t, a, proc)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never received the released process")
	}
	assert.Equal(t, 1, l.count())
}

func TestPoolAcquireCancelled(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(t, l, WithMaxInstances(1), WithRetry(time.Hour, 30))

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.Stats().Outstanding)
}

func TestPoolLaunchFailure(t *testing.T) {
	boom := errors.New("no such file")
	l := &fakeLauncher{err: boom}
	p := newTestPool(t, l, WithMaxInstances(1))

	_, err := p.Acquire(context.Background())
	require.ErrorIs(t, err, ErrProcessLaunchFailed)
	assert.ErrorIs(t, err, boom)

	var perr *ProcessError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "launch", perr.Op)
	assert.Equal(t, 0, p.Stats().Outstanding, "reservation undone")

	l.mu.Lock()
	l.err = nil
	l.mu.Unlock()
	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
}

func TestPoolNilProcessFromLauncher(t *testing.T) {
	p := newTestPool(t, LauncherFunc(func(context.Context) (Process, error) { return nil, nil }))
	_, err := p.Acquire(context.Background())
	require.ErrorIs(t, err, ErrProcessLaunchFailed)
	assert.Equal(t, 0, p.Stats().Outstanding)
}

func TestPoolOverflowOnRelease(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(t, l, WithMaxInstances(1))
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Release(a))

	// A process acquired elsewhere and released here finds the stack full.
	extra := &fakeProcess{}
	extra.connected.Store(true)
	require.NoError(t, p.Release(extra))
	assert.Equal(t, int32(1), extra.closes.Load())
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestPoolClose(t *testing.T) {
	l := &fakeLauncher{}
	p := NewPool(l, WithPoolName(t.Name()))
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Release(a))

	require.NoError(t, p.Close())
	assert.Equal(t, int32(1), a.(*fakeProcess).closes.Load())

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)

	require.NoError(t, p.Release(b))
	assert.Equal(t, int32(1), b.(*fakeProcess).closes.Load(), "released after close is torn down")
	assert.Equal(t, PoolStats{Idle: 0, Outstanding: 0, Max: DefaultMaxInstances}, p.Stats())
	assert.NoError(t, p.Close())
}

func TestPoolReleaseNil(t *testing.T) {
	p := newTestPool(t, &fakeLauncher{})
	assert.NoError(t, p.Release(nil))
}

func TestPoolConcurrentCapacity(t *testing.T) {
	const max = 3
	l := &fakeLauncher{}
	p := newTestPool(t, l, WithMaxInstances(max), WithRetry(time.Millisecond, 10000))

	var (
		inUse atomic.Int32
		peak  atomic.Int32
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				proc, err := p.Acquire(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				n := inUse.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(100 * time.Microsecond)
				inUse.Add(-1)
				assert.NoError(t, p.Release(proc))
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(peak.Load()), max)
	assert.LessOrEqual(t, l.count(), max)
	st := p.Stats()
	assert.Equal(t, 0, st.Outstanding)
	assert.LessOrEqual(t, st.Idle, max)
}

func TestProcessErrorMessage(t *testing.T) {
	err := &ProcessError{Op: "launch", Err: errors.New("exec: not found")}
	assert.Equal(t, "render: launch process: exec: not found", err.Error())
}

func BenchmarkPoolAcquireRelease(b *testing.B) {
	p := NewPool(&fakeLauncher{}, WithPoolName(b.Name()), WithMaxInstances(runtime.GOMAXPROCS(0)))
	defer p.Close()
	ctx := context.Background()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			proc, err := p.Acquire(ctx)
			if err != nil {
				b.Fatal(err)
			}
			p.Release(proc)
		}
	})
}
