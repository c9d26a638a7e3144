package transport

import (
	"context"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// Backoff defaults for reopening the link.
const (
	DefaultBackoffInitial    = time.Second
	DefaultBackoffMax        = 15 * time.Second
	DefaultBackoffMultiplier = 1.8
)

// backoff grows a delay geometrically up to a cap.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	current    time.Duration
}

func newBackoff(initial, maxDelay time.Duration, multiplier float64) *backoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	if multiplier < 1 {
		multiplier = DefaultBackoffMultiplier
	}
	return &backoff{initial: initial, max: maxDelay, multiplier: multiplier, current: initial}
}

// next returns the delay to wait now and advances the sequence.
func (b *backoff) next() time.Duration {
	d := b.current
	grown := time.Duration(math.Round(float64(b.current) * b.multiplier))
	if grown > b.max {
		grown = b.max
	}
	b.current = grown
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
