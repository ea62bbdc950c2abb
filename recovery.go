// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Structural checks used to decide whether a file needs repair.

package pdfcore

import (
	"bytes"
	"fmt"
	"strconv"
)

// IntegrityStatus represents the result of a PDF integrity check
type IntegrityStatus struct {
	// IsValid indicates whether the PDF looks complete enough to load
	IsValid bool `json:"is_valid" yaml:"is_valid"`
	// IsTruncated indicates whether the file appears to be truncated
	IsTruncated bool `json:"is_truncated" yaml:"is_truncated"`
	// HasValidHeader indicates whether a %PDF- header was found
	HasValidHeader bool `json:"has_valid_header" yaml:"has_valid_header"`
	// HasValidEOF indicates whether a %%EOF marker was found near the end
	HasValidEOF bool `json:"has_valid_eof" yaml:"has_valid_eof"`
	// HasStartxref indicates whether a startxref marker was found
	HasStartxref bool `json:"has_startxref" yaml:"has_startxref"`
	// HasXref indicates whether an xref table or stream was found
	HasXref bool `json:"has_xref" yaml:"has_xref"`
	// HasTrailer indicates whether a trailer dictionary was found
	HasTrailer bool `json:"has_trailer" yaml:"has_trailer"`
	// EstimatedObjects counts "obj" markers in the first 512KB, extrapolated
	EstimatedObjects int `json:"estimated_objects" yaml:"estimated_objects"`
	// Issues contains descriptions of any problems found
	Issues []string `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// CheckIntegrity performs a quick integrity check on a PDF file
func CheckIntegrity(data []byte) *IntegrityStatus {
	status := &IntegrityStatus{IsValid: true}
	size := len(data)

	if size < 20 {
		status.IsValid = false
		status.Issues = append(status.Issues, "file too small to be a valid PDF")
		return status
	}

	header := data[:min(size, 1024)]
	if idx := bytes.Index(header, []byte("%PDF-")); idx >= 0 {
		status.HasValidHeader = true
		if idx > 0 {
			status.Issues = append(status.Issues, fmt.Sprintf("PDF header found at offset %d", idx))
		}
	} else {
		status.IsValid = false
		status.Issues = append(status.Issues, "missing PDF header")
		return status
	}

	tail := data[size-min(size, 4096):]

	if bytes.Contains(tail, []byte("%%EOF")) {
		status.HasValidEOF = true
	} else {
		status.IsTruncated = true
		status.Issues = append(status.Issues, "missing %%EOF marker (file may be truncated)")
	}

	if _, off := parseStartxref(tail); off >= 0 {
		status.HasStartxref = true
		if off >= int64(size) {
			status.Issues = append(status.Issues, fmt.Sprintf("startxref offset %d beyond end of file", off))
		}
	} else {
		status.Issues = append(status.Issues, "missing startxref marker")
	}

	if bytes.Contains(tail, []byte("xref")) || bytes.Contains(tail, []byte("/Type /XRef")) || bytes.Contains(tail, []byte("/Type/XRef")) {
		status.HasXref = true
	} else {
		status.Issues = append(status.Issues, "xref table/stream not found in expected location")
	}

	if bytes.Contains(tail, []byte("trailer")) || status.HasXref {
		status.HasTrailer = true
	} else {
		status.Issues = append(status.Issues, "trailer not found")
	}

	sample := data[:min(size, 512<<10)]
	objCount := bytes.Count(sample, []byte(" obj"))
	if size > len(sample) {
		objCount = int(float64(objCount) * float64(size) / float64(len(sample)))
	}
	status.EstimatedObjects = objCount

	if !status.HasStartxref && !status.HasXref {
		status.IsValid = false
	}
	return status
}

// parseStartxref finds the last startxref that begins a line and is
// followed by a number. It returns -1, -1 when there is none.
func parseStartxref(buf []byte) (pos int, xrefOffset int64) {
	search := buf
	for {
		idx := bytes.LastIndex(search, []byte("startxref"))
		if idx < 0 {
			return -1, -1
		}
		search = search[:idx]

		if idx > 0 && buf[idx-1] != '\n' && buf[idx-1] != '\r' {
			continue
		}

		numStart := idx + len("startxref")
		for numStart < len(buf) && isSpace(buf[numStart]) {
			numStart++
		}
		numEnd := numStart
		for numEnd < len(buf) && buf[numEnd] >= '0' && buf[numEnd] <= '9' {
			numEnd++
		}
		if numEnd == numStart {
			continue
		}
		off, err := strconv.ParseInt(string(buf[numStart:numEnd]), 10, 64)
		if err != nil {
			continue
		}
		return idx, off
	}
}
