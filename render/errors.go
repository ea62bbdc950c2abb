// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted means no process became available within the retry
	// budget. The pool itself is unaffected; callers may retry later.
	ErrPoolExhausted = errors.New("render: process pool exhausted")

	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("render: process pool closed")

	// ErrProcessLaunchFailed matches every *ProcessError from a launch.
	ErrProcessLaunchFailed = errors.New("render: process launch failed")

	// ErrProcessCloseFailed matches every *ProcessError from a teardown.
	ErrProcessCloseFailed = errors.New("render: process close failed")

	// ErrNotPrinter means the pooled process cannot print to PDF.
	ErrNotPrinter = errors.New("render: process does not support printing")
)

// ProcessError carries the error of the external process verbatim.
type ProcessError struct {
	Op  string // "launch" or "close"
	Err error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("render: %s process: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is matches ErrProcessLaunchFailed or ErrProcessCloseFailed by Op.
func (e *ProcessError) Is(target error) bool {
	switch target {
	case ErrProcessLaunchFailed:
		return e.Op == "launch"
	case ErrProcessCloseFailed:
		return e.Op == "close"
	}
	return false
}
