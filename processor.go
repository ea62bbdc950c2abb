// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdfcore

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/Geek0x0/pdfcore/internal/logging"
	"github.com/Geek0x0/pdfcore/internal/metrics"
	"go.uber.org/zap"
)

// Result describes one processed document.
type Result struct {
	Data      []byte           `json:"-" yaml:"-"`
	Repaired  bool             `json:"repaired" yaml:"repaired"`
	Version   string           `json:"version" yaml:"version"`
	Pages     int              `json:"pages" yaml:"pages"`
	Objects   int              `json:"objects" yaml:"objects"`
	InputSize int              `json:"input_size" yaml:"input_size"`
	Size      int              `json:"size" yaml:"size"`
	Integrity *IntegrityStatus `json:"integrity" yaml:"integrity"`
	Simplify  *SimplifyReport  `json:"simplify,omitempty" yaml:"simplify,omitempty"`
}

// Processor runs the repair and optimize passes for conversion jobs. It is
// safe for concurrent use as long as concurrent jobs use distinct ids.
type Processor struct {
	buffers   *BufferPool
	scanLimit int
	logger    *zap.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithProcessorLogger sets the logger.
func WithProcessorLogger(l *zap.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logging.OrDiscard(l)
	}
}

// WithRebuildScanLimit sets how many bytes the xref rebuild pre-pass scans.
func WithRebuildScanLimit(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.scanLimit = n
		}
	}
}

// NewProcessor returns a Processor that takes output scratch space from
// buffers. A nil pool gets a private one with the default capacity.
func NewProcessor(buffers *BufferPool, opts ...ProcessorOption) *Processor {
	if buffers == nil {
		buffers = NewBufferPool(DefaultBufferPoolCapacity)
	}
	p := &Processor{
		buffers:   buffers,
		scanLimit: DefaultRebuildScanLimit,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load parses data, running the xref rebuild pre-pass and retrying once when
// the cross-reference structure is damaged. The bool result reports whether
// the rebuild was needed.
func (p *Processor) Load(ctx context.Context, jobID string, data []byte) (*Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	log := p.logger.With(zap.String("job", jobID))

	start := time.Now()
	doc, err := Load(data, WithLoadLogger(log))
	metrics.PipelineDurationSeconds.WithLabelValues("load").Observe(time.Since(start).Seconds())
	if err == nil {
		return doc, false, nil
	}
	if errors.Is(err, ErrNotPDF) {
		return nil, false, wrapJobError("load", jobID, err)
	}
	log.Warn("document damaged, rebuilding xref", zap.Error(err))

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	start = time.Now()
	fixed, rerr := RebuildXrefWithLimit(data, p.scanLimit)
	metrics.PipelineDurationSeconds.WithLabelValues("rebuild").Observe(time.Since(start).Seconds())
	if rerr != nil {
		return nil, false, wrapJobError("repair", jobID, errors.Join(rerr, err))
	}

	doc, err = Load(fixed, WithLoadLogger(log))
	if err != nil {
		return nil, true, wrapJobError("load rebuilt document", jobID, err)
	}
	log.Info("xref rebuilt", zap.Int("objects", doc.ObjectCount()), zap.Int("pages", doc.NumPages()))
	return doc, true, nil
}

// Repair loads data, rebuilding the xref table when needed, and rewrites it
// as a clean file.
func (p *Processor) Repair(ctx context.Context, jobID string, data []byte) (*Result, error) {
	doc, repaired, err := p.Load(ctx, jobID, data)
	if err != nil {
		return nil, err
	}
	return p.finish(ctx, jobID, data, doc, repaired, nil)
}

// Optimize loads data, lowers numeric precision in every page content
// stream and rewrites the file. Streams that cannot be decoded are reported
// in Result.Simplify and never fail the job.
func (p *Processor) Optimize(ctx context.Context, jobID string, data []byte, aggressiveness float64) (*Result, error) {
	doc, repaired, err := p.Load(ctx, jobID, data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	report := SimplifyContent(doc, aggressiveness, WithSimplifyLogger(p.logger.With(zap.String("job", jobID))))
	metrics.PipelineDurationSeconds.WithLabelValues("simplify").Observe(time.Since(start).Seconds())

	return p.finish(ctx, jobID, data, doc, repaired, report)
}

func (p *Processor) finish(ctx context.Context, jobID string, in []byte, doc *Document, repaired bool, report *SimplifyReport) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	scratch := p.buffers.Acquire(len(in)+len(in)/8, jobID)
	out, err := doc.AppendTo(scratch[:0])
	if err != nil {
		return nil, wrapJobError("write", jobID, err)
	}
	// The scratch buffer stays with the pool; the caller gets its own copy.
	data := bytes.Clone(out)
	metrics.PipelineDurationSeconds.WithLabelValues("write").Observe(time.Since(start).Seconds())
	metrics.PipelineBytesTotal.WithLabelValues("in").Add(float64(len(in)))
	metrics.PipelineBytesTotal.WithLabelValues("out").Add(float64(len(data)))

	res := &Result{
		Data:      data,
		Repaired:  repaired,
		Version:   doc.Version(),
		Pages:     doc.NumPages(),
		Objects:   doc.ObjectCount(),
		InputSize: len(in),
		Size:      len(data),
		Integrity: CheckIntegrity(in),
		Simplify:  report,
	}
	p.logger.Debug("job finished",
		zap.String("job", jobID),
		zap.Bool("repaired", repaired),
		zap.Int("in", len(in)),
		zap.Int("out", len(data)))
	return res, nil
}

// Buffers returns the pool used for output scratch space.
func (p *Processor) Buffers() *BufferPool {
	return p.buffers
}
