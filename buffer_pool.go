// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdfcore

import (
	"sync"
	"time"

	"github.com/Geek0x0/pdfcore/internal/logging"
	"github.com/Geek0x0/pdfcore/internal/metrics"
	"go.uber.org/zap"
)

// DefaultBufferPoolCapacity is the default total size of cached buffers.
const DefaultBufferPoolCapacity = 256 << 20

// bufferEntry is one cached allocation.
type bufferEntry struct {
	buf        []byte
	lastAccess time.Time
	seq        uint64 // access order; strictly increasing
}

// BufferPoolStats is a snapshot of a BufferPool.
type BufferPoolStats struct {
	PoolBytes int64 `json:"pool_bytes" yaml:"pool_bytes"`
	Entries   int   `json:"entries" yaml:"entries"`
	Capacity  int64 `json:"capacity" yaml:"capacity"`
	Hits      int64 `json:"hits" yaml:"hits"`
	Misses    int64 `json:"misses" yaml:"misses"`
	Evictions int64 `json:"evictions" yaml:"evictions"`
}

// BufferPool caches large scratch buffers by caller-chosen id under a fixed
// byte capacity, evicting the least recently accessed entry first.
//
// The map and the running total are updated under one mutex, so the total
// always equals the sum of cached lengths.
type BufferPool struct {
	mu        sync.Mutex
	entries   map[string]*bufferEntry
	poolBytes int64
	capacity  int64
	seq       uint64
	hits      int64
	misses    int64
	evictions int64

	name   string
	now    func() time.Time
	logger *zap.Logger
}

// BufferPoolOption configures a BufferPool.
type BufferPoolOption func(*BufferPool)

// WithBufferPoolName labels the pool's metrics.
func WithBufferPoolName(name string) BufferPoolOption {
	return func(p *BufferPool) {
		p.name = name
	}
}

// WithBufferPoolLogger sets the logger for eviction events.
func WithBufferPoolLogger(l *zap.Logger) BufferPoolOption {
	return func(p *BufferPool) {
		p.logger = logging.OrDiscard(l)
	}
}

// WithBufferPoolClock replaces time.Now for access timestamps.
func WithBufferPoolClock(now func() time.Time) BufferPoolOption {
	return func(p *BufferPool) {
		p.now = now
	}
}

// NewBufferPool creates a pool holding at most capacity bytes. A
// non-positive capacity means DefaultBufferPoolCapacity.
func NewBufferPool(capacity int64, opts ...BufferPoolOption) *BufferPool {
	if capacity <= 0 {
		capacity = DefaultBufferPoolCapacity
	}
	p := &BufferPool{
		entries:  make(map[string]*bufferEntry),
		capacity: capacity,
		name:     "default",
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns the buffer cached under id when it holds at least size
// bytes, refreshing its access time. Otherwise it evicts least recently
// accessed entries until size fits, allocates exactly size bytes and caches
// them under id, replacing any smaller buffer stored there.
//
// A request larger than the capacity empties the pool and is returned
// without being cached. Acquire never fails.
//
// The returned slice is shared with later Acquire calls for the same id;
// callers serialize their use of one id themselves.
func (p *BufferPool) Acquire(size int, id string) []byte {
	if size < 0 {
		size = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[id]; ok {
		if len(e.buf) >= size {
			p.touch(e)
			p.hits++
			metrics.BufferPoolRequestsTotal.WithLabelValues(p.name, "hit").Inc()
			return e.buf
		}
		p.remove(id, e)
	}
	p.misses++
	metrics.BufferPoolRequestsTotal.WithLabelValues(p.name, "miss").Inc()

	need := int64(size)
	for p.poolBytes+need > p.capacity && len(p.entries) > 0 {
		p.evictOldest()
	}

	buf := make([]byte, size)
	if need > p.capacity {
		p.logger.Debug("buffer exceeds pool capacity, not cached",
			zap.String("id", id),
			zap.Int("size", size),
			zap.Int64("capacity", p.capacity))
		p.publish()
		return buf
	}

	e := &bufferEntry{buf: buf}
	p.touch(e)
	p.entries[id] = e
	p.poolBytes += need
	p.publish()
	return buf
}

// Stats returns a snapshot of the pool. It has no side effects.
func (p *BufferPool) Stats() BufferPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return BufferPoolStats{
		PoolBytes: p.poolBytes,
		Entries:   len(p.entries),
		Capacity:  p.capacity,
		Hits:      p.hits,
		Misses:    p.misses,
		Evictions: p.evictions,
	}
}

// LastAccess returns when id was last acquired.
func (p *BufferPool) LastAccess(id string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.lastAccess, true
}

// Contains reports whether id is cached, without touching it.
func (p *BufferPool) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

// Clear drops every cached buffer.
func (p *BufferPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]*bufferEntry)
	p.poolBytes = 0
	p.publish()
}

// touch must be called with mu held.
func (p *BufferPool) touch(e *bufferEntry) {
	p.seq++
	e.seq = p.seq
	e.lastAccess = p.now()
}

// remove must be called with mu held.
func (p *BufferPool) remove(id string, e *bufferEntry) {
	delete(p.entries, id)
	p.poolBytes -= int64(len(e.buf))
}

// evictOldest must be called with mu held.
func (p *BufferPool) evictOldest() {
	var (
		oldestID string
		oldest   *bufferEntry
	)
	for id, e := range p.entries {
		if oldest == nil || e.seq < oldest.seq {
			oldestID, oldest = id, e
		}
	}
	if oldest == nil {
		return
	}
	p.remove(oldestID, oldest)
	p.evictions++
	metrics.BufferPoolEvictionsTotal.WithLabelValues(p.name).Inc()
	p.logger.Debug("buffer evicted",
		zap.String("id", oldestID),
		zap.Int("size", len(oldest.buf)),
		zap.Time("last_access", oldest.lastAccess))
}

// publish must be called with mu held.
func (p *BufferPool) publish() {
	metrics.BufferPoolBytes.WithLabelValues(p.name).Set(float64(p.poolBytes))
	metrics.BufferPoolEntries.WithLabelValues(p.name).Set(float64(len(p.entries)))
}
