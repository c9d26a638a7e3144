package window

import (
	"time"

	"github.com/couchcryptid/flood-telemetry/internal/domain"
)

type sample struct {
	ts  time.Time
	val [numMetrics]float64
	has [numMetrics]bool
}

func newSample(r domain.Reading) sample {
	s := sample{ts: r.Timestamp}
	for m := Metric(0); m < numMetrics; m++ {
		s.val[m], s.has[m] = value(r, m)
	}
	return s
}

// Sliding maintains one window incrementally: a time-ordered deque of
// samples plus running sums. Push is O(1) until a sample leaves the window;
// eviction re-sums the samples still inside it, so results match Aggregate
// bit for bit. Samples must be pushed in non-decreasing timestamp order.
type Sliding struct {
	window  Window
	samples []sample
	head    int
	ref     time.Time
	acc     [numMetrics]accumulator
}

// NewSliding creates an empty sliding window.
func NewSliding(w Window) *Sliding {
	return &Sliding{window: w}
}

// Push adds a reading and advances the window to its timestamp.
func (s *Sliding) Push(r domain.Reading) {
	smp := newSample(r)
	s.samples = append(s.samples, smp)
	s.add(smp)
	s.Advance(r.Timestamp)
}

// Advance moves the window end to t and evicts every sample with
// timestamp <= t-d. Moving backwards is ignored.
func (s *Sliding) Advance(t time.Time) {
	if t.Before(s.ref) {
		return
	}
	s.ref = t
	cutoff := t.Add(-s.window.Duration)
	evicted := false
	for s.head < len(s.samples) && !s.samples[s.head].ts.After(cutoff) {
		s.samples[s.head] = sample{}
		s.head++
		evicted = true
	}
	s.compact()
	if evicted {
		s.resum()
	}
}

func (s *Sliding) add(smp sample) {
	for m := Metric(0); m < numMetrics; m++ {
		if smp.has[m] {
			s.acc[m].count++
			s.acc[m].sum += smp.val[m]
		}
	}
}

// resum rebuilds the sums oldest first. Subtracting evicted values would
// leave rounding residue that can flip a threshold comparison.
func (s *Sliding) resum() {
	s.acc = [numMetrics]accumulator{}
	for _, smp := range s.samples[s.head:] {
		s.add(smp)
	}
}

func (s *Sliding) compact() {
	if s.head == len(s.samples) {
		s.samples = s.samples[:0]
		s.head = 0
		return
	}
	if s.head > 64 && s.head*2 > len(s.samples) {
		n := copy(s.samples, s.samples[s.head:])
		s.samples = s.samples[:n]
		s.head = 0
	}
}

// Len returns the number of samples currently inside the window.
func (s *Sliding) Len() int {
	return len(s.samples) - s.head
}

// Summary returns the current aggregates.
func (s *Sliding) Summary() Summary {
	return newSummary(s.window, s.ref, s.Len(), &s.acc)
}

// Set maintains several sliding windows over the same stream.
type Set struct {
	windows []*Sliding
	ref     time.Time
}

// NewSet creates one Sliding per window.
func NewSet(ws []Window) *Set {
	set := &Set{windows: make([]*Sliding, len(ws))}
	for i, w := range ws {
		set.windows[i] = NewSliding(w)
	}
	return set
}

// Push adds a reading to every window.
func (s *Set) Push(r domain.Reading) {
	for _, w := range s.windows {
		w.Push(r)
	}
	if r.Timestamp.After(s.ref) {
		s.ref = r.Timestamp
	}
}

// Advance moves every window end to t.
func (s *Set) Advance(t time.Time) {
	for _, w := range s.windows {
		w.Advance(t)
	}
	if t.After(s.ref) {
		s.ref = t
	}
}

// Snapshot returns an immutable copy of every window's aggregates.
func (s *Set) Snapshot() *Aggregates {
	out := &Aggregates{Ref: s.ref, Windows: make([]Summary, len(s.windows))}
	for i, w := range s.windows {
		out.Windows[i] = w.Summary()
	}
	return out
}

// Aggregate computes window aggregates over an arbitrary snapshot of
// readings. A zero ref means the newest timestamp in series. The input may
// be in any order and is not modified.
func Aggregate(series []domain.Reading, ws []Window, ref time.Time) *Aggregates {
	if ref.IsZero() {
		for _, r := range series {
			if r.Timestamp.After(ref) {
				ref = r.Timestamp
			}
		}
	}

	out := &Aggregates{Ref: ref, Windows: make([]Summary, len(ws))}
	for i, w := range ws {
		cutoff := ref.Add(-w.Duration)
		var (
			acc     [numMetrics]accumulator
			samples int
		)
		for _, r := range series {
			if !r.Timestamp.After(cutoff) || r.Timestamp.After(ref) {
				continue
			}
			samples++
			for m := Metric(0); m < numMetrics; m++ {
				if v, ok := value(r, m); ok {
					acc[m].count++
					acc[m].sum += v
				}
			}
		}
		out.Windows[i] = newSummary(w, ref, samples, &acc)
	}
	return out
}
