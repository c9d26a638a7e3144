package pipeline

import "github.com/couchcryptid/flood-telemetry/internal/domain"

// Deduplicator suppresses a reading whose signature equals the last emitted
// one. Only immediate repeats are dropped: A, B, A yields all three.
type Deduplicator struct {
	last string
	seen bool
}

// Accept reports whether r should be emitted and, if so, remembers it.
func (d *Deduplicator) Accept(r domain.Reading) bool {
	sig := domain.Signature(r)
	if d.seen && sig == d.last {
		return false
	}
	d.last = sig
	d.seen = true
	return true
}

// Reset forgets the last signature.
func (d *Deduplicator) Reset() {
	d.last = ""
	d.seen = false
}
