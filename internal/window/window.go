// Package window computes rolling aggregates over trailing time windows of
// sensor readings.
//
// A window named "1h" with duration d covers the half-open interval
// (ref-d, ref], where ref defaults to the newest reading's timestamp.
// Absent metric values are excluded from both the count and the sum, so a
// window holding only "no data" samples reports the metric as absent rather
// than zero.
package window

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/flood-telemetry/internal/domain"
)

// DefaultSpec is the window list used when WINDOWS is unset.
const DefaultSpec = "1h=1h,3h=3h,24h=24h"

// Window is a named trailing interval.
type Window struct {
	Name     string
	Duration time.Duration
}

// ParseWindows parses "name=duration,name=duration". A bare duration is its
// own name ("6h" is "6h=6h").
func ParseWindows(spec string) ([]Window, error) {
	var out []Window
	seen := make(map[string]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, raw, ok := strings.Cut(part, "=")
		if !ok {
			raw = name
		}
		name, raw = strings.TrimSpace(name), strings.TrimSpace(raw)
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", part, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("window %q: duration must be positive", part)
		}
		if name == "" {
			return nil, fmt.Errorf("window %q: empty name", part)
		}
		if seen[name] {
			return nil, fmt.Errorf("window %q: duplicate name", name)
		}
		seen[name] = true
		out = append(out, Window{Name: name, Duration: d})
	}
	if len(out) == 0 {
		return nil, errors.New("no windows configured")
	}
	return out, nil
}

// DefaultWindows returns the 1h, 3h and 24h windows.
func DefaultWindows() []Window {
	ws, _ := ParseWindows(DefaultSpec)
	return ws
}

// Longest returns the largest window duration, or zero for an empty list.
func Longest(ws []Window) time.Duration {
	var longest time.Duration
	for _, w := range ws {
		if w.Duration > longest {
			longest = w.Duration
		}
	}
	return longest
}

// Find returns the window with the given name.
func Find(ws []Window, name string) (Window, bool) {
	for _, w := range ws {
		if w.Name == name {
			return w, true
		}
	}
	return Window{}, false
}

// Metric identifies an aggregated reading field.
type Metric int

const (
	MetricPrecipitation Metric = iota
	MetricHumidity
	MetricTemperature
	MetricWaterLevel
	numMetrics
)

func (m Metric) String() string {
	switch m {
	case MetricPrecipitation:
		return "precipitation_in"
	case MetricHumidity:
		return "humidity_pct"
	case MetricTemperature:
		return "temperature_f"
	case MetricWaterLevel:
		return "water_level_ordinal"
	default:
		return "unknown"
	}
}

// value extracts a metric from a reading. The water level is always present
// as its ordinal.
func value(r domain.Reading, m Metric) (float64, bool) {
	var p *float64
	switch m {
	case MetricPrecipitation:
		p = r.PrecipitationIn
	case MetricHumidity:
		p = r.HumidityPct
	case MetricTemperature:
		p = r.TemperatureF
	case MetricWaterLevel:
		return float64(r.WaterLevel.Ordinal()), true
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}
