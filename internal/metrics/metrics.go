// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics holds the Prometheus collectors shared by the pools and
// the document pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BufferPoolBytes is the number of bytes currently cached per buffer pool
	BufferPoolBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pdfcore_buffer_pool_bytes",
			Help: "Bytes currently held by the buffer pool",
		},
		[]string{"pool"},
	)

	// BufferPoolEntries is the number of cached buffers per buffer pool
	BufferPoolEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pdfcore_buffer_pool_entries",
			Help: "Number of buffers currently held by the buffer pool",
		},
		[]string{"pool"},
	)

	// BufferPoolRequestsTotal counts acquire calls by result (hit, miss)
	BufferPoolRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfcore_buffer_pool_requests_total",
			Help: "Total buffer pool acquire calls by result",
		},
		[]string{"pool", "result"},
	)

	// BufferPoolEvictionsTotal counts least-recently-used evictions
	BufferPoolEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfcore_buffer_pool_evictions_total",
			Help: "Total buffers evicted to make room for new allocations",
		},
		[]string{"pool"},
	)

	// ProcessPoolIdle is the number of idle external processes
	ProcessPoolIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pdfcore_process_pool_idle",
			Help: "Idle rendering processes waiting for reuse",
		},
		[]string{"pool"},
	)

	// ProcessPoolOutstanding is the number of checked-out external processes
	ProcessPoolOutstanding = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pdfcore_process_pool_outstanding",
			Help: "Rendering processes currently checked out",
		},
		[]string{"pool"},
	)

	// ProcessPoolAcquireTotal counts acquisitions by result (reused, created, exhausted, cancelled, failed)
	ProcessPoolAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfcore_process_pool_acquire_total",
			Help: "Total process acquisitions by result",
		},
		[]string{"pool", "result"},
	)

	// ProcessPoolWaitSeconds measures how long callers waited for a process
	ProcessPoolWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdfcore_process_pool_wait_seconds",
			Help:    "Time spent waiting in acquire",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"pool"},
	)

	// ProcessPoolDiscardedTotal counts processes torn down by reason (disconnected, overflow, shutdown)
	ProcessPoolDiscardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfcore_process_pool_discarded_total",
			Help: "Total processes torn down by reason",
		},
		[]string{"pool", "reason"},
	)

	// XrefRebuildsTotal counts cross-reference rebuild passes by status
	XrefRebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfcore_xref_rebuilds_total",
			Help: "Total cross-reference rebuild passes by status",
		},
		[]string{"status"},
	)

	// StreamsRewrittenTotal counts content streams by optimizer outcome (rewritten, unchanged, skipped)
	StreamsRewrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfcore_content_streams_total",
			Help: "Content streams visited by the optimizer by outcome",
		},
		[]string{"outcome"},
	)

	// PipelineDurationSeconds measures pipeline stages (load, rebuild, simplify, write)
	PipelineDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdfcore_pipeline_duration_seconds",
			Help:    "Duration of document pipeline stages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// PipelineBytesTotal tracks input and output bytes of the pipeline
	PipelineBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfcore_pipeline_bytes_total",
			Help: "Bytes read and written by the document pipeline",
		},
		[]string{"direction"},
	)

	// LogEntriesTotal counts log entries by level
	LogEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfcore_log_entries_total",
			Help: "Total number of log entries by level",
		},
		[]string{"level"},
	)
)
