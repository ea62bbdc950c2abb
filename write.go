// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdfcore

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// binaryMarker follows the header so that transfer tools treat the file as binary.
const binaryMarker = "%\xE2\xE3\xCF\xD3\n"

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteTo writes the whole document as a fresh file: every in-use object in
// id order, a single classic xref table and a trailer carrying /Root, /Info,
// /ID and /Encrypt from the original. Objects that can no longer be parsed
// are written as free entries.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriterSize(cw, 64<<10)
	pos := func() int64 { return cw.n + int64(bw.Buffered()) }

	version := d.version
	if version == "" {
		version = "1.7"
	}
	fmt.Fprintf(bw, "%%PDF-%s\n%s", version, binaryMarker)

	offsets := make([]int64, len(d.xref))
	inUse := make([]bool, len(d.xref))
	for id := 1; id < len(d.xref); id++ {
		x := d.xref[id]
		if !x.inUse {
			continue
		}
		obj, err := d.object(x.ptr)
		if err != nil {
			d.logger.Warn("dropping unreadable object", zap.Int("id", id), zap.Error(err))
			continue
		}
		offsets[id] = pos()
		inUse[id] = true
		fmt.Fprintf(bw, "%d %d obj\n", id, x.ptr.gen)
		writeObject(bw, obj)
		bw.WriteString("\nendobj\n")
	}

	xrefOffset := pos()
	fmt.Fprintf(bw, "xref\n0 %d\n", len(d.xref))
	for id := range d.xref {
		switch {
		case id == 0:
			bw.WriteString("0000000000 65535 f \n")
		case inUse[id]:
			fmt.Fprintf(bw, "%010d %05d n \n", offsets[id], d.xref[id].ptr.gen)
		default:
			fmt.Fprintf(bw, "%010d %05d f \n", 0, freeGeneration(d.xref[id]))
		}
	}

	trailer := dict{"Size": int64(len(d.xref))}
	for _, key := range []name{"Root", "Info", "ID", "Encrypt"} {
		if v, ok := d.trailer[key]; ok {
			trailer[key] = v
		}
	}
	bw.WriteString("trailer\n")
	writeObject(bw, trailer)
	fmt.Fprintf(bw, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	if err := bw.Flush(); err != nil {
		return cw.n, wrapError("write", err)
	}
	return cw.n, nil
}

// AppendTo appends the serialized document to dst and returns the extended
// slice. Passing a pooled scratch buffer as dst[:0] avoids reallocation.
func (d *Document) AppendTo(dst []byte) ([]byte, error) {
	buf := bytes.NewBuffer(dst)
	if _, err := d.WriteTo(buf); err != nil {
		return dst, err
	}
	return buf.Bytes(), nil
}

func freeGeneration(x xref) uint16 {
	if x.ptr.gen == 0 && x.ptr.id == 0 {
		return 65535
	}
	return x.ptr.gen
}
