// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdfcore

import (
	"bytes"
	"fmt"
	"sort"
)

// pdfBuilder assembles small documents with exact offsets.
type pdfBuilder struct {
	buf     bytes.Buffer
	offsets map[int]int
}

func newPDFBuilder(version string) *pdfBuilder {
	b := &pdfBuilder{offsets: make(map[int]int)}
	fmt.Fprintf(&b.buf, "%%PDF-%s\n", version)
	return b
}

func (b *pdfBuilder) object(id int, body string) *pdfBuilder {
	b.offsets[id] = b.buf.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", id, body)
	return b
}

// stream adds a stream object; extra is spliced into its dictionary.
func (b *pdfBuilder) stream(id int, extra, data string) *pdfBuilder {
	return b.object(id, fmt.Sprintf("<< /Length %d%s >>\nstream\n%s\nendstream", len(data), extra, data))
}

func (b *pdfBuilder) raw(s string) *pdfBuilder {
	b.buf.WriteString(s)
	return b
}

// table writes an xref section covering ids 0 through the largest id added.
func (b *pdfBuilder) table() int {
	maxID := 0
	for id := range b.offsets {
		maxID = max(maxID, id)
	}
	at := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 %d\n0000000000 65535 f \n", maxID+1)
	for id := 1; id <= maxID; id++ {
		if off, ok := b.offsets[id]; ok {
			fmt.Fprintf(&b.buf, "%010d 00000 n \n", off)
		} else {
			b.buf.WriteString("0000000000 65535 f \n")
		}
	}
	return at
}

// finish writes the xref table, a trailer naming object 1 as /Root plus
// extra entries, and startxref.
func (b *pdfBuilder) finish(extra string) []byte {
	maxID := 0
	for id := range b.offsets {
		maxID = max(maxID, id)
	}
	at := b.table()
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root 1 0 R%s >>\nstartxref\n%d\n%%%%EOF\n", maxID+1, extra, at)
	return bytes.Clone(b.buf.Bytes())
}

// update appends an incremental section for the given ids, chained to prev.
func (b *pdfBuilder) update(prev int, ids ...int) []byte {
	sort.Ints(ids)
	at := b.buf.Len()
	b.buf.WriteString("xref\n")
	for _, id := range ids {
		fmt.Fprintf(&b.buf, "%d 1\n%010d 00000 n \n", id, b.offsets[id])
	}
	maxID := 0
	for id := range b.offsets {
		maxID = max(maxID, id)
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", maxID+1, prev, at)
	return bytes.Clone(b.buf.Bytes())
}

func (b *pdfBuilder) bytes() []byte {
	return bytes.Clone(b.buf.Bytes())
}

// pageTree adds a catalog (1), a page tree (2) and one page per content
// string: page 3+2i with content stream 4+2i.
func (b *pdfBuilder) pageTree(contents ...string) *pdfBuilder {
	var kids bytes.Buffer
	for i := range contents {
		fmt.Fprintf(&kids, "%d 0 R ", 3+2*i)
	}
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", bytes.TrimSpace(kids.Bytes()), len(contents)))
	for i, c := range contents {
		b.object(3+2*i, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R >>", 4+2*i))
		b.stream(4+2*i, "", c)
	}
	return b
}

// samplePDF returns a well-formed document with one page per content string.
func samplePDF(contents ...string) []byte {
	return newPDFBuilder("1.7").pageTree(contents...).finish("")
}

// damagedPDF returns the objects of samplePDF with no xref table or trailer.
func damagedPDF(contents ...string) []byte {
	return newPDFBuilder("1.4").pageTree(contents...).bytes()
}
