// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdfcore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoad(t *testing.T) {
	doc, err := Load(samplePDF("0 0 m 100 100 l S", "BT /F1 12 Tf (hi) Tj ET"), WithLoadLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.Equal(t, "1.7", doc.Version())
	assert.Equal(t, 2, doc.NumPages())
	assert.Equal(t, 6, doc.ObjectCount())

	streams := doc.ContentStreams(1)
	require.Len(t, streams, 1)
	assert.Equal(t, "0 0 m 100 100 l S", string(streams[0].Data))
	assert.Equal(t, uint32(4), streams[0].ID)

	streams = doc.ContentStreams(2)
	require.Len(t, streams, 1)
	assert.Equal(t, "BT /F1 12 Tf (hi) Tj ET", string(streams[0].Data))

	assert.Nil(t, doc.ContentStreams(0))
	assert.Nil(t, doc.ContentStreams(3))

	trailer := doc.Trailer()
	assert.Equal(t, "1 0 R", trailer["Root"])
	assert.Equal(t, "7", trailer["Size"])
}

func TestLoadErrors(t *testing.T) {
	good := samplePDF("0 0 m")

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"not pdf", []byte("hello, world, this is plain text"), ErrNotPDF},
		{"no version", []byte("%PDF-\n1 0 obj\n<<>>\nendobj\n"), ErrNotPDF},
		{"no startxref", damagedPDF("0 0 m"), ErrMissingStartxref},
		{"offset beyond end", []byte(strings.Replace(string(good), "startxref\n", "startxref\n9", 1)), ErrMalformedXref},
		{"wrong offsets", shiftObjects(good), ErrMalformedXref},
		{"no root", noRootPDF(), ErrMissingRoot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var pdfErr *PDFError
			require.True(t, errors.As(err, &pdfErr))
			assert.Equal(t, "load", pdfErr.Op)
		})
	}
}

func noRootPDF() []byte {
	b := newPDFBuilder("1.7").object(1, "<< /Type /Catalog >>")
	at := b.table()
	b.raw(fmt.Sprintf("trailer\n<< /Size 2 >>\nstartxref\n%d\n%%%%EOF\n", at))
	return b.bytes()
}

// shiftObjects inserts padding after the header so every xref offset is off.
func shiftObjects(data []byte) []byte {
	s := string(data)
	i := strings.Index(s, "\n") + 1
	return []byte(s[:i] + "%padding\n" + s[i:])
}

func TestLoadXrefStream(t *testing.T) {
	b := newPDFBuilder("1.5").pageTree("0 0 m")
	at := b.buf.Len()
	b.stream(9, " /Type /XRef /Size 10 /W [1 2 1]", "\x00\x00\x00\x00")
	b.raw("startxref\n" + strconv.Itoa(at) + "\n%%EOF\n")

	_, err := Load(b.bytes())
	assert.ErrorIs(t, err, ErrUnsupportedXref)
}

func TestLoadIncrementalUpdate(t *testing.T) {
	b := newPDFBuilder("1.7").pageTree("1.23456 0 m")
	first := b.finish("")
	_, prev := parseStartxref(first)
	require.Greater(t, prev, int64(0))

	b.stream(4, "", "9 9 m")
	updated := b.update(int(prev), 4)

	doc, err := Load(updated)
	require.NoError(t, err)
	streams := doc.ContentStreams(1)
	require.Len(t, streams, 1)
	assert.Equal(t, "9 9 m", string(streams[0].Data), "newest section wins")
	assert.Equal(t, 4, doc.ObjectCount())
}

func TestLoadPrevCycle(t *testing.T) {
	b := newPDFBuilder("1.7").pageTree("0 0 m")
	at := b.table()
	b.raw(fmt.Sprintf("trailer\n<< /Size 5 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", at, at))

	_, err := Load(b.bytes())
	require.ErrorIs(t, err, ErrMalformedXref)
	assert.Contains(t, err.Error(), "cycle")
}

func TestContentStreamsArray(t *testing.T) {
	b := newPDFBuilder("1.7")
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.object(3, "<< /Type /Page /Parent 2 0 R /Contents [4 0 R 5 0 R 99 0 R] >>")
	b.stream(4, "", "q 1.5 0 0 1.5 0 0 cm")
	b.stream(5, "", "Q")
	doc, err := Load(b.finish(""))
	require.NoError(t, err)

	streams := doc.ContentStreams(1)
	require.Len(t, streams, 2, "unresolvable reference skipped")
	assert.Equal(t, "q 1.5 0 0 1.5 0 0 cm", string(streams[0].Data))
	assert.Equal(t, "Q", string(streams[1].Data))
}

func TestNestedPageTree(t *testing.T) {
	b := newPDFBuilder("1.7")
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, "<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 3 >>")
	b.object(3, "<< /Type /Pages /Kids [5 0 R 6 0 R] /Count 2 >>")
	b.object(4, "<< /Type /Page /Contents 7 0 R >>")
	b.object(5, "<< /Type /Page /Contents 7 0 R >>")
	b.object(6, "<< /Type /Page >>")
	b.stream(7, "", "0 0 m")
	doc, err := Load(b.finish(""))
	require.NoError(t, err)

	assert.Equal(t, 3, doc.NumPages())
	assert.Len(t, doc.ContentStreams(1), 1)
	assert.Empty(t, doc.ContentStreams(2), "page without /Contents")
	assert.Same(t, doc.ContentStreams(1)[0], doc.ContentStreams(3)[0], "shared stream parsed once")
}

func TestPageTreeCycle(t *testing.T) {
	b := newPDFBuilder("1.7")
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, "<< /Type /Pages /Kids [3 0 R 2 0 R] >>")
	b.object(3, "<< /Type /Page >>")
	doc, err := Load(b.finish(""))
	require.NoError(t, err)
	assert.Equal(t, 1, doc.NumPages())
}

func TestIndirectLength(t *testing.T) {
	b := newPDFBuilder("1.7")
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, "<< /Type /Pages /Kids [3 0 R] >>")
	b.object(3, "<< /Type /Page /Contents 4 0 R >>")
	b.object(4, "<< /Length 5 0 R >>\nstream\nendstream inside\nendstream")
	b.object(5, "16")
	doc, err := Load(b.finish(""))
	require.NoError(t, err)

	streams := doc.ContentStreams(1)
	require.Len(t, streams, 1)
	assert.Equal(t, "endstream inside", string(streams[0].Data))
}

func TestWrongLengthFallsBackToEndstream(t *testing.T) {
	b := newPDFBuilder("1.7")
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, "<< /Type /Pages /Kids [3 0 R] >>")
	b.object(3, "<< /Type /Page /Contents 4 0 R >>")
	b.object(4, "<< /Length 3 >>\nstream\n0 0 m 10 10 l\nendstream")
	doc, err := Load(b.finish(""))
	require.NoError(t, err)
	assert.Equal(t, "0 0 m 10 10 l", string(doc.ContentStreams(1)[0].Data))
}
