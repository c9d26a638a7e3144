package window

import (
	"sync"
	"time"

	"github.com/couchcryptid/flood-telemetry/internal/domain"
)

// DefaultMaxSamples caps the in-memory series regardless of retention.
const DefaultMaxSamples = 100_000

// Series is a bounded, time-ordered in-memory replica of accepted readings.
// It keeps everything newer than retention relative to the newest reading,
// up to maxSamples. Safe for one writer and many readers.
type Series struct {
	mu         sync.RWMutex
	retention  time.Duration
	maxSamples int
	buf        []domain.Reading
	head       int
}

// NewSeries creates a Series. A non-positive maxSamples uses
// DefaultMaxSamples; a non-positive retention keeps samples until the cap.
func NewSeries(retention time.Duration, maxSamples int) *Series {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Series{retention: retention, maxSamples: maxSamples}
}

// Add appends a reading and trims the series. Trimmed readings are skipped
// by advancing head; the buffer is compacted once most of it is dead.
func (s *Series) Add(r domain.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, r)

	if s.retention > 0 {
		cutoff := r.Timestamp.Add(-s.retention)
		for s.head < len(s.buf) && !s.buf[s.head].Timestamp.After(cutoff) {
			s.buf[s.head] = domain.Reading{}
			s.head++
		}
	}
	for len(s.buf)-s.head > s.maxSamples {
		s.buf[s.head] = domain.Reading{}
		s.head++
	}
	s.compact()
}

func (s *Series) compact() {
	if s.head == len(s.buf) {
		s.buf = s.buf[:0]
		s.head = 0
		return
	}
	if s.head > 64 && s.head*2 > len(s.buf) {
		n := copy(s.buf, s.buf[s.head:])
		clear(s.buf[n:])
		s.buf = s.buf[:n]
		s.head = 0
	}
}

func (s *Series) live() []domain.Reading {
	return s.buf[s.head:]
}

// Len returns the number of readings held.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live())
}

// Latest returns the newest reading.
func (s *Series) Latest() (domain.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live := s.live()
	if len(live) == 0 {
		return domain.Reading{}, false
	}
	return live[len(live)-1], true
}

// Snapshot returns a copy of the whole series, oldest first.
func (s *Series) Snapshot() []domain.Reading {
	return s.Recent(0)
}

// Recent returns a copy of the newest n readings, oldest first. n <= 0
// returns everything.
func (s *Series) Recent(n int) []domain.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live := s.live()
	start := 0
	if n > 0 && n < len(live) {
		start = len(live) - n
	}
	out := make([]domain.Reading, len(live)-start)
	copy(out, live[start:])
	return out
}
