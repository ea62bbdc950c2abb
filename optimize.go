// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdfcore

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Geek0x0/pdfcore/internal/logging"
	"github.com/Geek0x0/pdfcore/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// ContentStreamSource is the document model walked by SimplifyContent.
// *Document implements it.
type ContentStreamSource interface {
	NumPages() int
	ContentStreams(page int) []*Stream
}

// longDecimalRE matches decimals with three or more fractional digits.
var longDecimalRE = regexp.MustCompile(`[-+]?\d+\.\d{3,}`)

// StreamWarning records a content stream left untouched because its data
// could not be decoded as text.
type StreamWarning struct {
	Page   int    `json:"page" yaml:"page"`
	ID     uint32 `json:"id" yaml:"id"`
	Gen    uint16 `json:"gen" yaml:"gen"`
	Reason string `json:"reason" yaml:"reason"`
}

// Err returns w as a *PDFError carrying the page and wrapping ErrStreamSkipped.
func (w StreamWarning) Err() error {
	return &PDFError{
		Op:   "simplify",
		Page: w.Page,
		Err:  fmt.Errorf("%w: object %d %d: %s", ErrStreamSkipped, w.ID, w.Gen, w.Reason),
	}
}

// SimplifyReport summarizes one SimplifyContent pass.
type SimplifyReport struct {
	Pages       int             `json:"pages" yaml:"pages"`
	Streams     int             `json:"streams" yaml:"streams"`
	Rewritten   int             `json:"rewritten" yaml:"rewritten"`
	Unchanged   int             `json:"unchanged" yaml:"unchanged"`
	Skipped     []StreamWarning `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	BytesBefore int64           `json:"bytes_before" yaml:"bytes_before"`
	BytesAfter  int64           `json:"bytes_after" yaml:"bytes_after"`
}

// SimplifyOption configures SimplifyContent.
type SimplifyOption func(*simplifier)

// WithSimplifyLogger sets the logger that receives skipped-stream warnings.
func WithSimplifyLogger(l *zap.Logger) SimplifyOption {
	return func(s *simplifier) {
		s.logger = logging.OrDiscard(l)
	}
}

type simplifier struct {
	logger *zap.Logger
}

// SimplifyContent rounds long decimal literals in every page content stream
// of doc. Aggressiveness above 0.8 keeps one fractional digit, anything else
// keeps two. Streams whose data is filtered or is not valid UTF-8 are skipped
// and reported; a stream's data is replaced only when the text changed.
// Streams shared between pages are visited once.
func SimplifyContent(doc ContentStreamSource, aggressiveness float64, opts ...SimplifyOption) *SimplifyReport {
	s := &simplifier{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	report := &SimplifyReport{Pages: doc.NumPages()}
	seen := make(map[*Stream]bool)
	for page := 1; page <= report.Pages; page++ {
		for _, strm := range doc.ContentStreams(page) {
			if strm == nil || seen[strm] {
				continue
			}
			seen[strm] = true
			report.Streams++
			report.BytesBefore += int64(len(strm.Data))

			text, reason, ok := decodeContent(strm)
			if !ok {
				w := StreamWarning{Page: page, ID: strm.ID, Gen: strm.Gen, Reason: reason}
				report.Skipped = append(report.Skipped, w)
				report.BytesAfter += int64(len(strm.Data))
				metrics.StreamsRewrittenTotal.WithLabelValues("skipped").Inc()
				s.logger.Warn("content stream skipped",
					zap.Int("page", page),
					zap.Uint32("id", strm.ID),
					zap.Error(w.Err()))
				continue
			}

			out := SimplifyNumbers(text, aggressiveness)
			if bytes.Equal(out, text) {
				report.Unchanged++
				metrics.StreamsRewrittenTotal.WithLabelValues("unchanged").Inc()
			} else {
				strm.SetData(out)
				report.Rewritten++
				metrics.StreamsRewrittenTotal.WithLabelValues("rewritten").Inc()
			}
			report.BytesAfter += int64(len(strm.Data))
		}
	}

	s.logger.Debug("content streams simplified",
		zap.Int("streams", report.Streams),
		zap.Int("rewritten", report.Rewritten),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int64("saved_bytes", report.BytesBefore-report.BytesAfter))
	return report
}

// decodeContent returns the stream data when it can be treated as text.
func decodeContent(strm *Stream) ([]byte, string, bool) {
	if strm.Filtered() {
		return nil, "filtered: " + strings.Join(strm.Filters(), ","), false
	}
	if _, _, err := transform.Bytes(encoding.UTF8Validator, strm.Data); err != nil {
		return nil, "not valid UTF-8 text", false
	}
	return strm.Data, "", true
}

// SimplifyNumbers rewrites every decimal literal with three or more
// fractional digits in content to two digits, or to one when aggressiveness
// is above 0.8. Integers and shorter decimals are left alone, so the result
// is a fixed point of a second pass with the same aggressiveness.
func SimplifyNumbers(content []byte, aggressiveness float64) []byte {
	prec := 2
	if aggressiveness > 0.8 {
		prec = 1
	}
	return longDecimalRE.ReplaceAllFunc(content, func(lit []byte) []byte {
		v, err := strconv.ParseFloat(string(lit), 64)
		if err != nil {
			return lit
		}
		return strconv.AppendFloat(nil, v, 'f', prec, 64)
	})
}
