package transport

import (
	"bytes"

	"github.com/couchcryptid/flood-telemetry/internal/domain"
)

// MaxLineBytes bounds one line. Longer input is treated as corruption.
const MaxLineBytes = 4 << 10

// lineBuffer assembles newline-terminated lines from arbitrary read chunks.
type lineBuffer struct {
	buf        []byte
	max        int
	discarding bool
	discarded  int
}

func newLineBuffer(limit int) *lineBuffer {
	return &lineBuffer{max: limit}
}

func (b *lineBuffer) write(p []byte) {
	b.buf = append(b.buf, p...)
}

// next returns the next complete non-empty line. Over-long lines are dropped
// up to and including their terminating newline.
func (b *lineBuffer) next() (string, bool) {
	for {
		idx := bytes.IndexByte(b.buf, '\n')
		if idx < 0 {
			if len(b.buf) > b.max {
				if !b.discarding {
					b.discarded++
				}
				b.discarding = true
				b.buf = b.buf[:0]
			}
			return "", false
		}

		raw := b.buf[:idx]
		tooLong := len(raw) > b.max
		b.buf = b.buf[idx+1:]

		if b.discarding {
			b.discarding = false
			continue
		}
		if tooLong {
			b.discarded++
			continue
		}
		if line := domain.SanitizeLine(raw); line != "" {
			b.compact()
			return line, true
		}
	}
}

func (b *lineBuffer) compact() {
	if len(b.buf) == 0 {
		b.buf = b.buf[:0:0]
	}
}

// reset drops any partial line.
func (b *lineBuffer) reset() {
	b.buf = nil
	b.discarding = false
}

// takeDiscarded returns and clears the over-long line count.
func (b *lineBuffer) takeDiscarded() int {
	n := b.discarded
	b.discarded = 0
	return n
}
