package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock stamps readings whose wire format carries no timestamp.
// Tests freeze it via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the ingestion time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the ingestion clock's current time in UTC.
func Now() time.Time {
	return clock.Now().UTC()
}
