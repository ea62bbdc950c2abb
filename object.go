// Copyright 2014 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdfcore

import (
	"bufio"
	"sort"
	"strconv"
)

// An object is a PDF syntax object, one of the following Go types:
//
//	bool, a PDF boolean
//	int64, a PDF integer
//	float64, a PDF real
//	string, a PDF string literal
//	name, a PDF name without the leading slash
//	dict, a PDF dictionary
//	array, a PDF array
//	*Stream, a PDF stream
//	objptr, a PDF object reference
//	objdef, a PDF object definition
//
// An object may also be nil, to represent the PDF null.
type object interface{}

type dict map[name]object

type array []object

type objptr struct {
	id  uint32
	gen uint16
}

type objdef struct {
	ptr objptr
	obj object
}

// Stream is a PDF stream: its header dictionary and its raw data exactly as
// stored in the file, still encoded by any /Filter.
type Stream struct {
	hdr  dict
	Data []byte

	// ID and Gen identify the indirect object holding the stream.
	ID  uint32
	Gen uint16
}

// Filters returns the names listed in the stream's /Filter entry.
func (s *Stream) Filters() []string {
	switch f := s.hdr["Filter"].(type) {
	case name:
		return []string{string(f)}
	case array:
		var out []string
		for _, x := range f {
			if n, ok := x.(name); ok {
				out = append(out, string(n))
			}
		}
		return out
	}
	return nil
}

// Filtered reports whether the stream data is encoded.
func (s *Stream) Filtered() bool {
	return s.hdr["Filter"] != nil
}

// SetData replaces the stream data. /Length is recomputed on write.
func (s *Stream) SetData(b []byte) {
	s.Data = b
}

// writeObject serializes obj in PDF syntax.
func writeObject(w *bufio.Writer, obj object) {
	switch x := obj.(type) {
	case nil:
		w.WriteString("null")
	case bool:
		if x {
			w.WriteString("true")
		} else {
			w.WriteString("false")
		}
	case int64:
		w.WriteString(strconv.FormatInt(x, 10))
	case float64:
		w.WriteString(strconv.FormatFloat(x, 'f', -1, 64))
	case string:
		writeLiteralString(w, x)
	case name:
		writeName(w, x)
	case keyword:
		w.WriteString(string(x))
	case objptr:
		w.WriteString(strconv.FormatUint(uint64(x.id), 10))
		w.WriteByte(' ')
		w.WriteString(strconv.FormatUint(uint64(x.gen), 10))
		w.WriteString(" R")
	case array:
		w.WriteByte('[')
		for i, v := range x {
			if i > 0 {
				w.WriteByte(' ')
			}
			writeObject(w, v)
		}
		w.WriteByte(']')
	case dict:
		writeDict(w, x)
	case *Stream:
		hdr := make(dict, len(x.hdr))
		for k, v := range x.hdr {
			hdr[k] = v
		}
		hdr["Length"] = int64(len(x.Data))
		writeDict(w, hdr)
		w.WriteString("\nstream\n")
		w.Write(x.Data)
		w.WriteString("\nendstream")
	default:
		w.WriteString("null")
	}
}

func writeDict(w *bufio.Writer, d dict) {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	w.WriteString("<<")
	for _, k := range keys {
		w.WriteByte(' ')
		writeName(w, name(k))
		w.WriteByte(' ')
		writeObject(w, d[name(k)])
	}
	w.WriteString(" >>")
}

func writeLiteralString(w *bufio.Writer, s string) {
	w.WriteByte('(')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '(', ')':
			w.WriteByte('\\')
			w.WriteByte(c)
		case '\r':
			w.WriteString(`\r`)
		default:
			w.WriteByte(c)
		}
	}
	w.WriteByte(')')
}

const hexDigits = "0123456789ABCDEF"

func writeName(w *bufio.Writer, n name) {
	w.WriteByte('/')
	for i := 0; i < len(n); i++ {
		c := n[i]
		if c < 0x21 || c > 0x7E || c == '#' || isDelim(c) {
			w.WriteByte('#')
			w.WriteByte(hexDigits[c>>4])
			w.WriteByte(hexDigits[c&0xF])
			continue
		}
		w.WriteByte(c)
	}
}
