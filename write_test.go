// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdfcore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteToReloads(t *testing.T) {
	doc, err := Load(samplePDF("0 0 m 12.34567 10 l S", "BT (a\\)b) Tj ET"))
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := doc.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-1.7\n%")))
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("%%EOF\n")))

	again, err := Load(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, doc.NumPages(), again.NumPages())
	assert.Equal(t, doc.ObjectCount(), again.ObjectCount())
	for page := 1; page <= doc.NumPages(); page++ {
		want := doc.ContentStreams(page)
		got := again.ContentStreams(page)
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].Data, got[i].Data)
		}
	}
	assert.Equal(t, "1 0 R", again.Trailer()["Root"])
}

func TestWriteAfterModification(t *testing.T) {
	doc, err := Load(samplePDF("0 0 m 12.34567 10 l S"))
	require.NoError(t, err)

	strm := doc.ContentStreams(1)[0]
	strm.SetData([]byte("0 0 m 12.3 10 l S"))

	out, err := doc.AppendTo(nil)
	require.NoError(t, err)

	again, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, "0 0 m 12.3 10 l S", string(again.ContentStreams(1)[0].Data))
	assert.Contains(t, string(out), "/Length 17")
}

func TestWriteKeepsTrailerEntries(t *testing.T) {
	b := newPDFBuilder("1.4").pageTree("0 0 m")
	b.object(5, "<< /Producer (test) >>")
	data := b.finish(" /Info 5 0 R /ID [<0a0b> <0c0d>]")

	doc, err := Load(data)
	require.NoError(t, err)
	out, err := doc.AppendTo(nil)
	require.NoError(t, err)

	again, err := Load(out)
	require.NoError(t, err)
	tr := again.Trailer()
	assert.Equal(t, "5 0 R", tr["Info"])
	assert.Contains(t, tr, "ID")
	assert.Equal(t, "1.4", again.Version())
}

func TestWriteFreeEntries(t *testing.T) {
	b := newPDFBuilder("1.7")
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.object(4, "(orphan)")
	doc, err := Load(b.finish(""))
	require.NoError(t, err)

	out, err := doc.AppendTo(nil)
	require.NoError(t, err)
	assert.Contains(t, string(out), "xref\n0 5\n0000000000 65535 f \n")

	again, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, 3, again.ObjectCount())
}

func TestAppendToReusesCapacity(t *testing.T) {
	doc, err := Load(samplePDF("0 0 m"))
	require.NoError(t, err)

	scratch := make([]byte, 0, 64<<10)
	out, err := doc.AppendTo(scratch)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Same(t, &scratch[:1][0], &out[0], "no reallocation when capacity suffices")
}

func TestWriteEscapes(t *testing.T) {
	b := newPDFBuilder("1.7")
	b.object(1, "<< /Type /Catalog /Pages 2 0 R /Name#20With#23Hash (paren\\) and \\\\ back) >>")
	b.object(2, "<< /Type /Pages /Kids [] >>")
	doc, err := Load(b.finish(""))
	require.NoError(t, err)

	out, err := doc.AppendTo(nil)
	require.NoError(t, err)
	again, err := Load(out)
	require.NoError(t, err)

	cat, ok := again.resolve(objptr{1, 0}).(dict)
	require.True(t, ok)
	assert.Equal(t, "paren) and \\ back", cat["Name With#Hash"])
}
