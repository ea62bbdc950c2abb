// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdfcore

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBufferPoolProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("cached bytes never exceed capacity and match the entries", prop.ForAll(
		func(capacity int, sizes []int, ids []int) bool {
			p := NewBufferPool(int64(capacity), WithBufferPoolName("property"))
			held := make(map[string]int)
			for i, size := range sizes {
				id := fmt.Sprintf("id-%d", ids[i%len(ids)])
				buf := p.Acquire(size, id)
				if len(buf) < size {
					return false
				}
				if p.Contains(id) {
					held[id] = len(buf)
				} else {
					delete(held, id)
				}
				for k := range held {
					if !p.Contains(k) {
						delete(held, k)
					}
				}

				var sum int64
				for _, n := range held {
					sum += int64(n)
				}
				st := p.Stats()
				if st.PoolBytes != sum || st.PoolBytes > int64(capacity) || st.Entries != len(held) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 4096),
		gen.SliceOf(gen.IntRange(0, 5000)),
		gen.SliceOfN(8, gen.IntRange(0, 7)),
	))

	properties.Property("the most recently acquired buffer survives the next eviction", prop.ForAll(
		func(n int) bool {
			p := NewBufferPool(int64(n * 10))
			for i := 0; i < n; i++ {
				p.Acquire(10, fmt.Sprint(i))
			}
			p.Acquire(10, "0")
			p.Acquire(10, "new")
			return p.Contains("0") && p.Contains("new") && !p.Contains("1")
		},
		gen.IntRange(2, 50),
	))

	properties.TestingRun(t)
}

func TestRebuildXrefProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(5678)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("table is sorted, complete and points at every marker", prop.ForAll(
		func(ids []int) bool {
			var buf bytes.Buffer
			buf.WriteString("%PDF-1.4\n")
			offsets := make(map[int]int)
			maxID := 0
			for _, id := range ids {
				offsets[id] = buf.Len()
				fmt.Fprintf(&buf, "%d 0 obj\n<< /N %d >>\nendobj\n", id, id)
				maxID = max(maxID, id)
			}
			data := buf.Bytes()

			out, err := RebuildXref(data)
			if err != nil {
				return false
			}
			_, at := parseStartxref(out)
			tail := string(out[at:])
			if !strings.HasPrefix(tail, fmt.Sprintf("xref\n0 %d\n", maxID+1)) {
				return false
			}
			body := tail[len(fmt.Sprintf("xref\n0 %d\n", maxID+1)):]
			for id := 0; id <= maxID; id++ {
				want := "0000000000 65535 f \n"
				if off, ok := offsets[id]; ok && id > 0 {
					want = fmt.Sprintf("%010d 00000 n \n", off)
				}
				if !strings.HasPrefix(body, want) {
					return false
				}
				body = body[20:]
			}
			return strings.HasPrefix(body, fmt.Sprintf("trailer\n<< /Size %d >>", maxID+1))
		},
		gen.SliceOf(gen.IntRange(1, 300)).SuchThat(func(v []int) bool { return len(v) > 0 }),
	))

	properties.TestingRun(t)
}

func TestSimplifyNumbersProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(91011)
	parameters.MinSuccessfulTests = 300

	properties := gopter.NewProperties(parameters)

	genContent := gen.SliceOf(gen.Float64Range(-10000, 10000)).Map(func(v []float64) string {
		var sb strings.Builder
		for i, f := range v {
			fmt.Fprintf(&sb, "%.*f ", i%7, f)
			if i%3 == 2 {
				sb.WriteString("l ")
			}
		}
		return sb.String()
	})

	properties.Property("second pass is a no-op", prop.ForAll(
		func(content string, aggressiveness float64) bool {
			once := SimplifyNumbers([]byte(content), aggressiveness)
			return bytes.Equal(once, SimplifyNumbers(once, aggressiveness))
		},
		genContent,
		gen.Float64Range(0, 1),
	))

	properties.Property("no literal keeps three or more decimals", prop.ForAll(
		func(content string, aggressiveness float64) bool {
			return !longDecimalRE.Match(SimplifyNumbers([]byte(content), aggressiveness))
		},
		genContent,
		gen.Float64Range(0, 1),
	))

	properties.Property("integer-only content is unchanged", prop.ForAll(
		func(v []int, aggressiveness float64) bool {
			var sb strings.Builder
			for _, n := range v {
				fmt.Fprintf(&sb, "%d %d m ", n, -n)
			}
			in := []byte(sb.String())
			return bytes.Equal(in, SimplifyNumbers(in, aggressiveness))
		},
		gen.SliceOf(gen.Int()),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
