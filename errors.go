// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdfcore

import (
	"errors"
	"fmt"
)

// PDFError represents an error that occurred during PDF processing.
// It includes contextual information about where the error occurred.
type PDFError struct {
	Op   string // Operation that failed (e.g., "load", "rebuild xref")
	Page int    // Page number where error occurred (0 if not page-specific)
	Path string // File path or job id if applicable
	Err  error  // Underlying error
}

func (e *PDFError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("pdf: %s on page %d: %v", e.Op, e.Page, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("pdf: %s (%s): %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("pdf: %s: %v", e.Op, e.Err)
}

func (e *PDFError) Unwrap() error {
	return e.Err
}

// Common errors
var (
	// ErrNoObjectsFound means no "N G obj" marker was found, so the xref
	// table cannot be rebuilt from the raw bytes.
	ErrNoObjectsFound = errors.New("no objects found")

	// ErrNotPDF indicates the %PDF- header is missing
	ErrNotPDF = errors.New("not a PDF file")

	// ErrMissingStartxref indicates no usable startxref marker was found
	ErrMissingStartxref = errors.New("startxref not found")

	// ErrMalformedXref indicates the cross-reference table could not be parsed
	ErrMalformedXref = errors.New("malformed xref table")

	// ErrUnsupportedXref indicates a cross-reference stream, which the loader does not read
	ErrUnsupportedXref = errors.New("unsupported cross-reference stream")

	// ErrMissingRoot indicates the trailer has no usable /Root entry
	ErrMissingRoot = errors.New("trailer missing /Root")

	// ErrObjectNotFound indicates a reference to an object that is not in the xref table
	ErrObjectNotFound = errors.New("object not found")

	// ErrStreamSkipped indicates a content stream was left untouched because
	// its data could not be decoded as text
	ErrStreamSkipped = errors.New("content stream skipped")

	// ErrCorrupted indicates the PDF file structure is corrupted
	ErrCorrupted = errors.New("PDF file is corrupted")
)

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PDFError{Op: op, Err: err}
}

// wrapJobError wraps an error with the job id or path it belongs to
func wrapJobError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &PDFError{Op: op, Path: path, Err: err}
}
