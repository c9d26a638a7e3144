package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// WaterLevel is the categorical water level reported by the sensor.
type WaterLevel int

const (
	LevelUnknown WaterLevel = iota
	LevelLow
	LevelNominal
	LevelHigh
)

// String returns the record-store spelling of the level.
func (l WaterLevel) String() string {
	switch l {
	case LevelLow:
		return "Low"
	case LevelNominal:
		return "Nominal"
	case LevelHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// Ordinal maps the level onto the numeric scale used for alerting and
// plotting: Low=0, Nominal=1, High=2. Unknown plots as Nominal.
func (l WaterLevel) Ordinal() int {
	switch l {
	case LevelLow:
		return 0
	case LevelHigh:
		return 2
	default:
		return 1
	}
}

func (l WaterLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *WaterLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("water level: %w", err)
	}
	*l = ParseWaterLevel(s)
	return nil
}

// ParseWaterLevel resolves a categorical token. Matching is case-insensitive
// and accepts the bare firmware digit codes "0", "1" and "2".
func ParseWaterLevel(token string) WaterLevel {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "low", "0":
		return LevelLow
	case "nominal", "normal", "medium", "med", "1":
		return LevelNominal
	case "high", "2":
		return LevelHigh
	default:
		return LevelUnknown
	}
}

// LevelFromCode maps a numeric level code: >=2 High, >=1 Nominal, else Low.
func LevelFromCode(code float64) WaterLevel {
	switch {
	case code >= 2:
		return LevelHigh
	case code >= 1:
		return LevelNominal
	default:
		return LevelLow
	}
}

// Location is a WGS-84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Reading is one normalized sensor sample. Nil pointers mean "no data",
// which is distinct from zero everywhere in the pipeline.
type Reading struct {
	Timestamp       time.Time  `json:"timestamp"`
	PrecipitationIn *float64   `json:"precipitation_in"`
	HumidityPct     *float64   `json:"humidity_pct"`
	TemperatureF    *float64   `json:"temperature_f"`
	WaterLevel      WaterLevel `json:"water_level"`
	Location        *Location  `json:"location,omitempty"`
}

// ErrNotDurable marks a reading that was written to the record store but
// could not be synced to stable storage. The row still counts as committed.
var ErrNotDurable = errors.New("row written but not synced")

// HasLocation reports whether the reading carries GPS coordinates.
func (r Reading) HasLocation() bool {
	return r.Location != nil
}

// Float returns a pointer to v. Handy for building readings in tests and
// fixtures.
func Float(v float64) *float64 {
	return &v
}
