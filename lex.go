// Copyright 2014 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Reading of PDF tokens and objects from an in-memory byte slice.

package pdfcore

import (
	"bytes"
	"io"
	"strconv"
)

// A token is a PDF token in the input stream, one of the following Go types:
//
//	bool, a PDF boolean
//	int64, a PDF integer
//	float64, a PDF real
//	string, a PDF string literal
//	keyword, a PDF keyword
//	name, a PDF name without the leading slash
type token interface{}

// A name is a PDF name, without the leading slash.
type name string

// A keyword is a PDF keyword.
// Delimiter tokens used in higher-level syntax,
// such as "<<", ">>", "[", "]", "{", "}", are also treated as keywords.
type keyword string

// A lexer reads tokens and objects directly from the document bytes.
// Offsets are absolute positions in data.
type lexer struct {
	data        []byte
	pos         int
	tmp         []byte
	unread      []token
	eof         bool
	allowObjptr bool
	allowStream bool
	objptr      objptr

	// resolveLength resolves an indirect /Length while reading a stream.
	resolveLength func(objptr) (int64, bool)
}

func newLexer(data []byte, offset int64) *lexer {
	l := &lexer{data: data, allowObjptr: true, allowStream: true}
	l.seek(offset)
	return l
}

func (l *lexer) seek(offset int64) {
	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(l.data)) {
		offset = int64(len(l.data))
	}
	l.pos = int(offset)
	l.unread = l.unread[:0]
	l.eof = false
}

func (l *lexer) offset() int64 {
	return int64(l.pos)
}

// readByte returns '\n' once the data is exhausted so that every token
// reader terminates on a whitespace byte.
func (l *lexer) readByte() byte {
	if l.pos >= len(l.data) {
		l.eof = true
		l.pos = len(l.data) + 1
		return '\n'
	}
	c := l.data[l.pos]
	l.pos++
	return c
}

func (l *lexer) unreadByte() {
	if l.pos > 0 {
		l.pos--
	}
	if l.pos <= len(l.data) {
		l.eof = false
	}
}

func (l *lexer) unreadToken(t token) {
	l.unread = append(l.unread, t)
}

func (l *lexer) readToken() token {
	if n := len(l.unread); n > 0 {
		t := l.unread[n-1]
		l.unread = l.unread[:n-1]
		return t
	}

	// Find first non-space, non-comment byte.
	c := l.readByte()
	for {
		if l.eof {
			return io.EOF
		}
		if isSpace(c) {
			c = l.readByte()
		} else if c == '%' {
			for c != '\r' && c != '\n' {
				c = l.readByte()
			}
		} else {
			break
		}
	}

	switch c {
	case '<':
		if l.readByte() == '<' {
			return keyword("<<")
		}
		l.unreadByte()
		return l.readHexString()

	case '(':
		return l.readLiteralString()

	case '[', ']', '{', '}':
		return keyword(string(c))

	case '/':
		return l.readName()

	case '>':
		if l.readByte() == '>' {
			return keyword(">>")
		}
		l.unreadByte()
		// A lone '>' is a stray delimiter.
		return nil

	default:
		if isDelim(c) {
			return nil
		}
		l.unreadByte()
		return l.readKeyword()
	}
}

func (l *lexer) readHexString() token {
	tmp := l.tmp[:0]
	hi := -1
	for {
		c := l.readByte()
		if l.eof || c == '>' {
			break
		}
		x := unhex(c)
		if x < 0 {
			continue
		}
		if hi < 0 {
			hi = x
			continue
		}
		tmp = append(tmp, byte(hi<<4|x))
		hi = -1
	}
	// An odd final digit is assumed to be followed by 0.
	if hi >= 0 {
		tmp = append(tmp, byte(hi<<4))
	}
	l.tmp = tmp
	return string(tmp)
}

func unhex(b byte) int {
	switch {
	case '0' <= b && b <= '9':
		return int(b) - '0'
	case 'a' <= b && b <= 'f':
		return int(b) - 'a' + 10
	case 'A' <= b && b <= 'F':
		return int(b) - 'A' + 10
	}
	return -1
}

func (l *lexer) readLiteralString() token {
	tmp := l.tmp[:0]
	depth := 1
Loop:
	for {
		c := l.readByte()
		if l.eof {
			break
		}
		switch c {
		default:
			tmp = append(tmp, c)
		case '(':
			depth++
			tmp = append(tmp, c)
		case ')':
			if depth--; depth == 0 {
				break Loop
			}
			tmp = append(tmp, c)
		case '\\':
			switch c = l.readByte(); c {
			case 'n':
				tmp = append(tmp, '\n')
			case 'r':
				tmp = append(tmp, '\r')
			case 'b':
				tmp = append(tmp, '\b')
			case 't':
				tmp = append(tmp, '\t')
			case 'f':
				tmp = append(tmp, '\f')
			case '\r':
				if l.readByte() != '\n' {
					l.unreadByte()
				}
			case '\n':
				// line continuation
			case '0', '1', '2', '3', '4', '5', '6', '7':
				x := int(c - '0')
				for i := 0; i < 2; i++ {
					c = l.readByte()
					if c < '0' || c > '7' {
						l.unreadByte()
						break
					}
					x = x*8 + int(c-'0')
				}
				tmp = append(tmp, byte(x&0xFF))
			default:
				// Unknown escapes keep the character and drop the backslash.
				tmp = append(tmp, c)
			}
		}
	}
	l.tmp = tmp
	return string(tmp)
}

func (l *lexer) readName() token {
	tmp := l.tmp[:0]
	for {
		c := l.readByte()
		if l.eof || isDelim(c) || isSpace(c) {
			l.unreadByte()
			break
		}
		if c == '#' && l.pos+1 < len(l.data) {
			x1, x2 := unhex(l.data[l.pos]), unhex(l.data[l.pos+1])
			if x1 >= 0 && x2 >= 0 {
				l.pos += 2
				tmp = append(tmp, byte(x1<<4|x2))
				continue
			}
		}
		tmp = append(tmp, c)
	}
	l.tmp = tmp
	return name(string(tmp))
}

func (l *lexer) readKeyword() token {
	tmp := l.tmp[:0]
	for {
		c := l.readByte()
		if l.eof || isDelim(c) || isSpace(c) {
			l.unreadByte()
			break
		}
		tmp = append(tmp, c)
	}
	l.tmp = tmp
	s := string(tmp)
	switch {
	case s == "true":
		return true
	case s == "false":
		return false
	case isInteger(s):
		x, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return keyword(s)
		}
		return x
	case isReal(s):
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return keyword(s)
		}
		return x
	}
	return keyword(s)
}

func isInteger(s string) bool {
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < '0' || '9' < c {
			return false
		}
	}
	return true
}

func isReal(s string) bool {
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	if len(s) == 0 {
		return false
	}
	ndot := 0
	for _, c := range s {
		if c == '.' {
			ndot++
			continue
		}
		if c < '0' || '9' < c {
			return false
		}
	}
	return ndot == 1 && len(s) > 1
}

// Hard limit to prevent runaway array allocations on malformed input.
const maxArrayElements = 100_000

func (l *lexer) readObject() object {
	tok := l.readToken()
	if kw, ok := tok.(keyword); ok {
		switch kw {
		case "null":
			return nil
		case "<<":
			return l.readDict()
		case "[":
			return l.readArray()
		}
		// Stray keywords (endobj, endstream, >>) end the object.
		return nil
	}

	if !l.allowObjptr {
		return tok
	}

	if t1, ok := tok.(int64); ok && int64(uint32(t1)) == t1 {
		tok2 := l.readToken()
		if t2, ok := tok2.(int64); ok && int64(uint16(t2)) == t2 {
			tok3 := l.readToken()
			switch tok3 {
			case keyword("R"):
				return objptr{uint32(t1), uint16(t2)}
			case keyword("obj"):
				old := l.objptr
				l.objptr = objptr{uint32(t1), uint16(t2)}
				obj := l.readObject()
				tok4 := l.readToken()
				if tok4 != keyword("endobj") && tok4 != nil && tok4 != io.EOF {
					// Tolerate a missing endobj.
					l.unreadToken(tok4)
				}
				l.objptr = old
				return objdef{objptr{uint32(t1), uint16(t2)}, obj}
			}
			l.unreadToken(tok3)
		}
		l.unreadToken(tok2)
	}
	if tok == io.EOF {
		return nil
	}
	return tok
}

func (l *lexer) readArray() object {
	var x array
	for {
		tok := l.readToken()
		if tok == nil || tok == keyword("]") || tok == io.EOF {
			break
		}
		if len(x) >= maxArrayElements {
			break
		}
		l.unreadToken(tok)
		x = append(x, l.readObject())
	}
	return x
}

func (l *lexer) readDict() object {
	x := make(dict)
	for {
		tok := l.readToken()
		if tok == nil || tok == keyword(">>") || tok == io.EOF {
			break
		}
		n, ok := tok.(name)
		if !ok {
			// Non-name key: end the dictionary and let the caller resync.
			l.unreadToken(tok)
			break
		}
		x[n] = l.readObject()
	}

	if !l.allowStream {
		return x
	}

	tok := l.readToken()
	if tok != keyword("stream") {
		l.unreadToken(tok)
		return x
	}

	switch l.readByte() {
	case '\r':
		if l.readByte() != '\n' {
			l.unreadByte()
		}
	case '\n':
	default:
		l.unreadByte()
	}
	return l.readStreamBody(x)
}

var endstream = []byte("endstream")

// readStreamBody reads stream data starting at the current position. The
// declared /Length is trusted only when "endstream" follows it; otherwise
// the data runs to the next endstream keyword.
func (l *lexer) readStreamBody(hdr dict) *Stream {
	start := l.pos
	end := -1

	var length int64 = -1
	switch v := hdr["Length"].(type) {
	case int64:
		length = v
	case objptr:
		if l.resolveLength != nil {
			if n, ok := l.resolveLength(v); ok {
				length = n
			}
		}
	}

	if length >= 0 && int64(start)+length <= int64(len(l.data)) {
		after := int(int64(start) + length)
		rest := l.data[after:]
		rest = bytes.TrimLeft(rest, "\r\n \t\x00")
		if bytes.HasPrefix(rest, endstream) {
			end = after
		}
	}

	if end < 0 {
		idx := bytes.Index(l.data[start:], endstream)
		if idx < 0 {
			end = len(l.data)
		} else {
			end = start + idx
			// The EOL before endstream is not part of the data.
			if end > start && l.data[end-1] == '\n' {
				end--
			}
			if end > start && l.data[end-1] == '\r' {
				end--
			}
		}
	}

	data := make([]byte, end-start)
	copy(data, l.data[start:end])

	l.pos = end
	if tok := l.readToken(); tok != keyword("endstream") {
		l.unreadToken(tok)
	}

	return &Stream{hdr: hdr, Data: data, ID: l.objptr.id, Gen: l.objptr.gen}
}

func isSpace(b byte) bool {
	switch b {
	case '\x00', '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelim(b byte) bool {
	switch b {
	case '<', '>', '(', ')', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}
