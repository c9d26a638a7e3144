// Package transport owns the point-to-point link to the sensor: a serial
// device or a TCP line-bridge. It yields raw text lines and hides device
// enumeration, exclusive access, and reconnection behind ReadLine.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNoCandidates is returned when AUTO discovery finds nothing to open.
var ErrNoCandidates = errors.New("no transport candidates")

// ErrInterrupted marks a link that failed mid-stream. The reader closes it
// and re-enters the open cycle.
var ErrInterrupted = errors.New("transport interrupted")

// Auto selects automatic device discovery.
const Auto = "AUTO"

// Kind is the link type of a target.
type Kind int

const (
	KindSerial Kind = iota
	KindTCP
)

func (k Kind) String() string {
	if k == KindTCP {
		return "tcp"
	}
	return "serial"
}

// Target is one concrete link to try.
type Target struct {
	Kind    Kind
	Address string
}

func (t Target) String() string {
	if t.Kind == KindTCP {
		return "tcp://" + t.Address
	}
	return t.Address
}

// ParseTarget interprets a SERIAL_PORT value. It reports auto=true for
// "AUTO" (any case), in which case the Target is empty. Device paths and
// Windows COM names are serial; "tcp://host:port" and bare "host:port" are
// TCP.
func ParseTarget(s string) (Target, bool, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Target{}, false, errors.New("empty transport target")
	case strings.EqualFold(s, Auto):
		return Target{}, true, nil
	case strings.HasPrefix(s, "tcp://"):
		addr := strings.TrimPrefix(s, "tcp://")
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return Target{}, false, fmt.Errorf("transport target %q: %w", s, err)
		}
		return Target{Kind: KindTCP, Address: addr}, false, nil
	case strings.HasPrefix(s, "/"), isCOMName(s):
		return Target{Kind: KindSerial, Address: s}, false, nil
	}
	if _, port, err := net.SplitHostPort(s); err == nil && port != "" {
		return Target{Kind: KindTCP, Address: s}, false, nil
	}
	return Target{Kind: KindSerial, Address: s}, false, nil
}

func isCOMName(s string) bool {
	s = strings.TrimPrefix(s, `\\.\`)
	if len(s) < 4 || !strings.EqualFold(s[:3], "COM") {
		return false
	}
	for _, r := range s[3:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
