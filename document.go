// Copyright 2014 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pdfcore implements the resource-management and repair passes of a
// PDF conversion pipeline.
//
// # Overview
//
// The package holds four components that must stay correct under memory
// pressure and malformed input:
//
//	BufferPool        capacity-limited cache of large scratch buffers with LRU eviction
//	RebuildXref       synthesizes a cross-reference table for damaged files
//	SimplifyContent   lowers numeric precision in page content streams
//	Document          the in-memory object model both passes operate on
//
// The pool of external rendering processes lives in the render subpackage.
//
// A Document is loaded from bytes with Load. Loading fails with a *PDFError
// wrapping ErrMalformedXref, ErrMissingStartxref or a similar sentinel when the
// cross-reference structure cannot be trusted; the Processor then runs
// RebuildXref as a pre-pass and loads the result again.
package pdfcore

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/Geek0x0/pdfcore/internal/logging"
	"go.uber.org/zap"
)

// xref is one cross-reference entry.
type xref struct {
	ptr    objptr
	offset int64
	inUse  bool
}

// Document is a PDF file held in memory. Objects are parsed lazily and
// cached, so streams returned by ContentStreams can be modified in place and
// written back with WriteTo.
//
// A Document is not safe for concurrent use.
type Document struct {
	data    []byte
	version string
	xref    []xref
	trailer dict
	cache   map[objptr]object
	loading map[objptr]bool
	pages   []dict
	logger  *zap.Logger
}

// LoadOption configures Load.
type LoadOption func(*Document)

// WithLoadLogger sets the logger used for tolerated irregularities.
func WithLoadLogger(l *zap.Logger) LoadOption {
	return func(d *Document) {
		d.logger = logging.OrDiscard(l)
	}
}

// maxPrevChain bounds the number of /Prev sections followed.
const maxPrevChain = 256

// Load parses the header, the last cross-reference table and its trailer,
// and the page tree. Every in-use entry must point at a matching
// "N G obj" header; a table that does not is reported as malformed.
func Load(data []byte, opts ...LoadOption) (*Document, error) {
	d := &Document{
		data:    data,
		cache:   make(map[objptr]object),
		loading: make(map[objptr]bool),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	version, err := parseHeader(data)
	if err != nil {
		return nil, wrapError("load", err)
	}
	d.version = version

	_, xrefOffset := parseStartxref(data)
	if xrefOffset < 0 {
		return nil, wrapError("load", ErrMissingStartxref)
	}
	if xrefOffset >= int64(len(data)) {
		return nil, wrapError("load", fmt.Errorf("%w: startxref offset %d beyond end of file", ErrMalformedXref, xrefOffset))
	}

	if err := d.readXref(xrefOffset); err != nil {
		return nil, wrapError("load", err)
	}
	if err := d.verifyXref(); err != nil {
		return nil, wrapError("load", err)
	}

	root, ok := d.trailer["Root"].(objptr)
	if !ok {
		return nil, wrapError("load", ErrMissingRoot)
	}
	catalog, ok := d.resolve(root).(dict)
	if !ok {
		return nil, wrapError("load", fmt.Errorf("%w: /Root %d %d R is not a dictionary", ErrCorrupted, root.id, root.gen))
	}
	d.pages = d.collectPages(catalog["Pages"])

	return d, nil
}

func parseHeader(data []byte) (string, error) {
	probe := data
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	idx := bytes.Index(probe, []byte("%PDF-"))
	if idx < 0 {
		return "", ErrNotPDF
	}
	v := probe[idx+len("%PDF-"):]
	end := 0
	for end < len(v) && (v[end] == '.' || (v[end] >= '0' && v[end] <= '9')) {
		end++
	}
	if end == 0 {
		return "", fmt.Errorf("%w: missing version", ErrNotPDF)
	}
	return string(v[:end]), nil
}

// readXref reads the table at offset and every older table reachable
// through /Prev. Entries from newer sections take precedence.
func (d *Document) readXref(offset int64) error {
	seen := make(map[int64]bool)
	set := make(map[uint32]bool)
	first := true

	for n := 0; ; n++ {
		if n >= maxPrevChain {
			return fmt.Errorf("%w: /Prev chain longer than %d", ErrMalformedXref, maxPrevChain)
		}
		if seen[offset] {
			return fmt.Errorf("%w: /Prev chain contains cycle at offset %d", ErrMalformedXref, offset)
		}
		seen[offset] = true

		l := newLexer(d.data, offset)
		l.allowStream = false
		switch tok := l.readToken(); tok.(type) {
		case keyword:
			if tok != keyword("xref") {
				return fmt.Errorf("%w: expected xref at offset %d, found %v", ErrMalformedXref, offset, tok)
			}
		case int64:
			return ErrUnsupportedXref
		default:
			return fmt.Errorf("%w: expected xref at offset %d", ErrMalformedXref, offset)
		}

		if err := d.readXrefSections(l, set); err != nil {
			return err
		}
		trailer, ok := l.readObject().(dict)
		if !ok {
			return fmt.Errorf("%w: xref table not followed by trailer dictionary", ErrMalformedXref)
		}
		if first {
			d.trailer = trailer
			first = false
		}

		prev, ok := trailer["Prev"].(int64)
		if !ok {
			break
		}
		if prev < 0 || prev >= int64(len(d.data)) {
			return fmt.Errorf("%w: /Prev offset %d out of range", ErrMalformedXref, prev)
		}
		offset = prev
	}

	if size, ok := d.trailer["Size"].(int64); ok && size >= 0 && size < int64(len(d.xref)) {
		d.xref = d.xref[:size]
	}
	return nil
}

func (d *Document) readXrefSections(l *lexer, set map[uint32]bool) error {
	for {
		tok := l.readToken()
		if tok == keyword("trailer") {
			return nil
		}
		start, ok1 := tok.(int64)
		count, ok2 := l.readToken().(int64)
		if !ok1 || !ok2 || start < 0 || count < 0 || start+count > 1<<24 {
			return ErrMalformedXref
		}
		for i := int64(0); i < count; i++ {
			off, ok1 := l.readToken().(int64)
			gen, ok2 := l.readToken().(int64)
			alloc, ok3 := l.readToken().(keyword)
			if !ok1 || !ok2 || !ok3 || (alloc != "f" && alloc != "n") {
				return ErrMalformedXref
			}
			id := uint32(start + i)
			for int64(len(d.xref)) <= int64(id) {
				d.xref = append(d.xref, xref{})
			}
			if set[id] {
				continue
			}
			set[id] = true
			d.xref[id] = xref{ptr: objptr{id, uint16(gen)}, offset: off, inUse: alloc == "n"}
		}
	}
}

// verifyXref checks that every in-use entry points at its object header.
func (d *Document) verifyXref() error {
	for id, x := range d.xref {
		if !x.inUse {
			continue
		}
		if !d.hasObjectHeader(x) {
			return fmt.Errorf("%w: entry %d points at offset %d without an object header", ErrMalformedXref, id, x.offset)
		}
	}
	return nil
}

func (d *Document) hasObjectHeader(x xref) bool {
	if x.offset < 0 || x.offset >= int64(len(d.data)) {
		return false
	}
	l := newLexer(d.data, x.offset)
	id, ok1 := l.readToken().(int64)
	gen, ok2 := l.readToken().(int64)
	kw := l.readToken()
	return ok1 && ok2 && kw == keyword("obj") && id == int64(x.ptr.id) && gen == int64(x.ptr.gen)
}

// object returns the object with the given reference, parsing it on first use.
func (d *Document) object(ptr objptr) (object, error) {
	if obj, ok := d.cache[ptr]; ok {
		return obj, nil
	}
	if int(ptr.id) >= len(d.xref) || !d.xref[ptr.id].inUse {
		return nil, fmt.Errorf("%w: %d %d R", ErrObjectNotFound, ptr.id, ptr.gen)
	}
	if d.loading[ptr] {
		return nil, fmt.Errorf("%w: object %d %d refers to itself", ErrCorrupted, ptr.id, ptr.gen)
	}
	d.loading[ptr] = true
	defer delete(d.loading, ptr)

	x := d.xref[ptr.id]
	if x.ptr.gen != ptr.gen {
		return nil, fmt.Errorf("%w: %d %d R (xref has generation %d)", ErrObjectNotFound, ptr.id, ptr.gen, x.ptr.gen)
	}

	l := newLexer(d.data, x.offset)
	l.resolveLength = d.resolveLength
	def, ok := l.readObject().(objdef)
	if !ok || def.ptr != ptr {
		return nil, fmt.Errorf("%w: object %d %d at offset %d", ErrCorrupted, ptr.id, ptr.gen, x.offset)
	}
	d.cache[ptr] = def.obj
	return def.obj, nil
}

func (d *Document) resolveLength(ptr objptr) (int64, bool) {
	obj, err := d.object(ptr)
	if err != nil {
		return 0, false
	}
	n, ok := obj.(int64)
	return n, ok
}

// resolve follows references until it reaches a direct object.
// Unresolvable references become null.
func (d *Document) resolve(obj object) object {
	for i := 0; i < 32; i++ {
		ptr, ok := obj.(objptr)
		if !ok {
			return obj
		}
		next, err := d.object(ptr)
		if err != nil {
			d.logger.Debug("unresolved reference", zap.Uint32("id", ptr.id), zap.Error(err))
			return nil
		}
		obj = next
	}
	return nil
}

func (d *Document) collectPages(root object) []dict {
	var pages []dict
	visited := make(map[objptr]bool)

	var walk func(node object, depth int)
	walk = func(node object, depth int) {
		if depth > 64 {
			return
		}
		if ptr, ok := node.(objptr); ok {
			if visited[ptr] {
				d.logger.Warn("page tree cycle", zap.Uint32("id", ptr.id))
				return
			}
			visited[ptr] = true
		}
		n, ok := d.resolve(node).(dict)
		if !ok {
			return
		}
		if kids, ok := d.resolve(n["Kids"]).(array); ok && n["Type"] != name("Page") {
			for _, kid := range kids {
				walk(kid, depth+1)
			}
			return
		}
		pages = append(pages, n)
	}
	walk(root, 0)
	return pages
}

// Version returns the header version, such as "1.7".
func (d *Document) Version() string {
	return d.version
}

// NumPages returns the number of leaf pages in the page tree.
func (d *Document) NumPages() int {
	return len(d.pages)
}

// ObjectCount returns the number of in-use cross-reference entries.
func (d *Document) ObjectCount() int {
	n := 0
	for _, x := range d.xref {
		if x.inUse {
			n++
		}
	}
	return n
}

// ContentStreams returns the content streams of page i (1-based). /Contents
// may hold one stream or an array of them; entries that do not resolve to a
// stream are skipped.
func (d *Document) ContentStreams(i int) []*Stream {
	if i < 1 || i > len(d.pages) {
		return nil
	}
	var out []*Stream
	switch c := d.resolve(d.pages[i-1]["Contents"]).(type) {
	case *Stream:
		out = append(out, c)
	case array:
		for _, x := range c {
			if s, ok := d.resolve(x).(*Stream); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Trailer returns a printable summary of the trailer dictionary.
func (d *Document) Trailer() map[string]string {
	out := make(map[string]string, len(d.trailer))
	for k, v := range d.trailer {
		out[string(k)] = objectString(v)
	}
	return out
}

func objectString(obj object) string {
	switch x := obj.(type) {
	case objptr:
		return strconv.FormatUint(uint64(x.id), 10) + " " + strconv.FormatUint(uint64(x.gen), 10) + " R"
	case name:
		return "/" + string(x)
	default:
		return fmt.Sprint(x)
	}
}
