package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxPrecipPerSample is the per-sample precipitation ceiling in inches.
const DefaultMaxPrecipPerSample = 5.0

// Policy controls the normalizer's clamping behavior.
type Policy struct {
	// AllowNegativePrecip keeps negative precipitation values, which some
	// firmware emits as diagnostics. Off by default.
	AllowNegativePrecip bool
	// MaxPrecipPerSample clamps implausible spikes caused by line noise.
	MaxPrecipPerSample float64
}

// DefaultPolicy returns the production clamping policy.
func DefaultPolicy() Policy {
	return Policy{MaxPrecipPerSample: DefaultMaxPrecipPerSample}
}

// Normalizer maps field maps onto canonical readings.
type Normalizer struct {
	policy Policy
}

// NewNormalizer creates a Normalizer. A non-positive ceiling falls back to
// DefaultMaxPrecipPerSample.
func NewNormalizer(p Policy) *Normalizer {
	if p.MaxPrecipPerSample <= 0 {
		p.MaxPrecipPerSample = DefaultMaxPrecipPerSample
	}
	return &Normalizer{policy: p}
}

// Normalize converts a field map into a Reading. Fields that fail to parse
// or fall outside plausible bounds are left absent. The timestamp is taken
// from the line when present, otherwise from the ingestion clock.
func (n *Normalizer) Normalize(fm FieldMap) Reading {
	return Reading{
		Timestamp:       parseTimestamp(fm[FieldTimestamp]),
		PrecipitationIn: n.precipitation(fm[FieldPrecipitation]),
		HumidityPct:     humidity(fm[FieldHumidity]),
		TemperatureF:    temperature(fm),
		WaterLevel:      waterLevel(fm[FieldLevel], fm[FieldLevelCode]),
		Location:        location(fm[FieldLatitude], fm[FieldLongitude]),
	}
}

func (n *Normalizer) precipitation(raw string) *float64 {
	v, ok := parseNumber(raw)
	if !ok {
		return nil
	}
	if v < 0 && !n.policy.AllowNegativePrecip {
		v = 0
	}
	if v > n.policy.MaxPrecipPerSample {
		v = n.policy.MaxPrecipPerSample
	}
	return &v
}

func humidity(raw string) *float64 {
	v, ok := parseNumber(raw)
	if !ok {
		return nil
	}
	v = math.Min(math.Max(v, 0), 100)
	return &v
}

// temperature prefers explicit-unit fields over the unit-less one.
func temperature(fm FieldMap) *float64 {
	if v, ok := parseNumber(fm[FieldTemperatureF]); ok {
		if v < FahrenheitMin || v > FahrenheitMax {
			return nil
		}
		return &v
	}
	if v, ok := parseNumber(fm[FieldTemperatureC]); ok {
		if v < CelsiusMin || v > CelsiusMax {
			return nil
		}
		f := CelsiusToFahrenheit(v)
		return &f
	}
	v, ok := parseNumber(fm[FieldTemperature])
	if !ok {
		return nil
	}
	switch InferTemperatureUnit(v) {
	case UnitCelsius:
		f := CelsiusToFahrenheit(v)
		return &f
	case UnitFahrenheit:
		return &v
	default:
		return nil
	}
}

// waterLevel resolves the categorical token first. A missing or
// unrecognized token falls back to the numeric level code.
func waterLevel(token, code string) WaterLevel {
	if token != "" {
		if lvl := ParseWaterLevel(token); lvl != LevelUnknown {
			return lvl
		}
		if v, ok := parseNumber(token); ok {
			return LevelFromCode(v)
		}
	}
	if v, ok := parseNumber(code); ok {
		return LevelFromCode(v)
	}
	return LevelUnknown
}

func location(latRaw, lonRaw string) *Location {
	lat, okLat := parseNumber(latRaw)
	lon, okLon := parseNumber(lonRaw)
	if !okLat || !okLon {
		return nil
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil
	}
	return &Location{Lat: lat, Lon: lon}
}

// parseNumber parses a decimal, tolerating a trailing percent sign.
// NaN and infinities are rejected.
func parseNumber(raw string) (float64, bool) {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts RFC 3339, naive UTC date-times and Unix seconds or
// milliseconds. Anything else falls back to the ingestion clock.
func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Now()
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
		if v >= 1e12 {
			return time.UnixMilli(int64(v)).UTC()
		}
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return Now()
}
