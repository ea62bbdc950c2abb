// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdfcore

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/Geek0x0/pdfcore/internal/metrics"
)

// DefaultRebuildScanLimit is how much of the file is scanned for object markers.
const DefaultRebuildScanLimit = 10 << 20

// maxObjectID is the largest object number a conforming reader must accept.
// Larger ids found in damaged bytes are ignored instead of producing a
// multi-gigabyte table.
const maxObjectID = 8_388_607

var (
	objMarkerRE = regexp.MustCompile(`(\d+)\s+(\d+)\s+obj\b`)
	catalogRE   = regexp.MustCompile(`/Type\s*/Catalog\b`)
)

// XRefEntry is one cross-reference entry recovered from raw bytes.
type XRefEntry struct {
	ID         uint32
	Generation uint16
	Offset     int64 // offset into the original buffer
	InUse      bool
}

// String formats the entry as a 20-byte xref table line.
func (e XRefEntry) String() string {
	if !e.InUse {
		return fmt.Sprintf("%010d %05d f \n", e.Offset, e.Generation)
	}
	return fmt.Sprintf("%010d %05d n \n", e.Offset, e.Generation)
}

// RebuildXrefTable scans the first limit bytes of data for "N G obj"
// markers and returns one in-use entry per object id, sorted by id. When an
// id appears more than once the later occurrence wins. A limit <= 0 means
// DefaultRebuildScanLimit.
func RebuildXrefTable(data []byte, limit int) ([]XRefEntry, error) {
	if limit <= 0 {
		limit = DefaultRebuildScanLimit
	}
	scan := data
	if len(scan) > limit {
		scan = scan[:limit]
	}

	found := make(map[uint32]XRefEntry)
	for _, m := range objMarkerRE.FindAllSubmatchIndex(scan, -1) {
		id, err := strconv.ParseUint(string(scan[m[2]:m[3]]), 10, 32)
		if err != nil || id > maxObjectID {
			continue
		}
		gen, err := strconv.ParseUint(string(scan[m[4]:m[5]]), 10, 16)
		if err != nil {
			continue
		}
		found[uint32(id)] = XRefEntry{
			ID:         uint32(id),
			Generation: uint16(gen),
			Offset:     int64(m[0]),
			InUse:      true,
		}
	}
	if len(found) == 0 {
		return nil, ErrNoObjectsFound
	}

	entries := make([]XRefEntry, 0, len(found))
	for _, e := range found {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// RebuildXref appends a synthesized cross-reference table and trailer to
// data, scanning at most DefaultRebuildScanLimit bytes. See
// RebuildXrefWithLimit.
func RebuildXref(data []byte) ([]byte, error) {
	return RebuildXrefWithLimit(data, DefaultRebuildScanLimit)
}

// RebuildXrefWithLimit returns a copy of data followed by a table covering
// ids 0 through the largest id found, a trailer whose /Size is that id plus
// one, and a startxref pointing at the new table. Id 0 and ids with no
// marker are free entries. The trailer also names the /Root catalog when one
// can be located. Offsets refer to the original bytes, which the returned
// slice keeps unchanged as its prefix.
func RebuildXrefWithLimit(data []byte, limit int) ([]byte, error) {
	entries, err := RebuildXrefTable(data, limit)
	if err != nil {
		metrics.XrefRebuildsTotal.WithLabelValues("no_objects").Inc()
		return nil, wrapError("rebuild xref", err)
	}
	maxID := entries[len(entries)-1].ID

	out := make([]byte, 0, len(data)+int(maxID+1)*20+128)
	out = append(out, data...)
	if n := len(out); n > 0 && out[n-1] != '\n' && out[n-1] != '\r' {
		out = append(out, '\n')
	}
	xrefOffset := len(out)

	out = append(out, "xref\n"...)
	out = fmt.Appendf(out, "0 %d\n", maxID+1)
	out = append(out, "0000000000 65535 f \n"...)
	next := 0
	for id := uint32(1); id <= maxID; id++ {
		for next < len(entries) && entries[next].ID < id {
			next++
		}
		if next < len(entries) && entries[next].ID == id {
			out = append(out, entries[next].String()...)
			continue
		}
		out = append(out, "0000000000 65535 f \n"...)
	}

	out = append(out, "trailer\n<< /Size "...)
	out = strconv.AppendUint(out, uint64(maxID+1), 10)
	if root, ok := findCatalog(data, limit, entries); ok {
		out = fmt.Appendf(out, " /Root %d %d R", root.ID, root.Generation)
	}
	out = append(out, " >>\nstartxref\n"...)
	out = strconv.AppendInt(out, int64(xrefOffset), 10)
	out = append(out, "\n%%EOF\n"...)

	metrics.XrefRebuildsTotal.WithLabelValues("ok").Inc()
	return out, nil
}

// findCatalog returns the entry whose object body holds the last
// /Type /Catalog in the scanned range.
func findCatalog(data []byte, limit int, entries []XRefEntry) (XRefEntry, bool) {
	if limit <= 0 {
		limit = DefaultRebuildScanLimit
	}
	scan := data
	if len(scan) > limit {
		scan = scan[:limit]
	}
	locs := catalogRE.FindAllIndex(scan, -1)
	if len(locs) == 0 {
		return XRefEntry{}, false
	}
	at := int64(locs[len(locs)-1][0])

	var best XRefEntry
	ok := false
	for _, e := range entries {
		if e.Offset < at && (!ok || e.Offset > best.Offset) {
			best, ok = e, true
		}
	}
	if !ok {
		return XRefEntry{}, false
	}
	// The catalog must not lie past the end of that object.
	if end := bytes.Index(scan[best.Offset:at], []byte("endobj")); end >= 0 {
		return XRefEntry{}, false
	}
	return best, true
}
