// Package alert derives alert conditions from the latest reading and the
// current window aggregates.
package alert

import (
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/flood-telemetry/internal/domain"
	"github.com/couchcryptid/flood-telemetry/internal/window"
)

// Condition names one alert rule.
type Condition string

const (
	HighWaterLevel  Condition = "high_water_level"
	HeavyRainRate   Condition = "heavy_rain_rate"
	High24hTotal    Condition = "high_24h_total"
	HighTemperature Condition = "high_temperature"
	HighHumidity    Condition = "high_humidity"
)

// AllConditions lists every rule the evaluator knows, in evaluation order.
func AllConditions() []Condition {
	return []Condition{HighWaterLevel, HeavyRainRate, High24hTotal, HighTemperature, HighHumidity}
}

// Thresholds configures the rule set. Each rule fires on value >= threshold.
type Thresholds struct {
	LevelOrdinal int     `json:"level_ordinal"`
	RainRateIn   float64 `json:"rain_rate_in"`
	RateWindow   string  `json:"rate_window"`
	Rain24hIn    float64 `json:"rain_total_in"`
	TotalWindow  string  `json:"total_window"`
	TemperatureF float64 `json:"temperature_f"`
	HumidityPct  float64 `json:"humidity_pct"`
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LevelOrdinal: 2,
		RainRateIn:   0.5,
		RateWindow:   "1h",
		Rain24hIn:    2.0,
		TotalWindow:  "24h",
		TemperatureF: 95,
		HumidityPct:  90,
	}
}

// Trigger is one active condition with the value that tripped it.
type Trigger struct {
	Condition Condition `json:"condition"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Window    string    `json:"window,omitempty"`
}

// State is the result of one evaluation. It is derived on demand and never
// stored. Nominal is true exactly when Active is empty.
type State struct {
	Nominal     bool      `json:"nominal"`
	Active      []Trigger `json:"active"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Conditions returns the active condition names, sorted.
func (s State) Conditions() []Condition {
	out := make([]Condition, len(s.Active))
	for i, t := range s.Active {
		out[i] = t.Condition
	}
	slices.Sort(out)
	return out
}

// Has reports whether c is active.
func (s State) Has(c Condition) bool {
	for _, t := range s.Active {
		if t.Condition == c {
			return true
		}
	}
	return false
}

// Key identifies the active condition set. Two states with equal keys have
// the same conditions regardless of trigger values.
func (s State) Key() string {
	conds := s.Conditions()
	names := make([]string, len(conds))
	for i, c := range conds {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}

// Evaluate applies every rule independently. A nil latest reading or
// aggregate snapshot contributes nothing, and absent inputs never fire.
func Evaluate(latest *domain.Reading, agg *window.Aggregates, th Thresholds) State {
	active := make([]Trigger, 0, 5)

	if latest != nil {
		if ord := latest.WaterLevel.Ordinal(); latest.WaterLevel != domain.LevelUnknown && ord >= th.LevelOrdinal {
			active = append(active, Trigger{Condition: HighWaterLevel, Value: float64(ord), Threshold: float64(th.LevelOrdinal)})
		}
		if v := latest.TemperatureF; v != nil && *v >= th.TemperatureF {
			active = append(active, Trigger{Condition: HighTemperature, Value: *v, Threshold: th.TemperatureF})
		}
		if v := latest.HumidityPct; v != nil && *v >= th.HumidityPct {
			active = append(active, Trigger{Condition: HighHumidity, Value: *v, Threshold: th.HumidityPct})
		}
	}

	if t, ok := precipRule(agg, th.RateWindow, th.RainRateIn, HeavyRainRate); ok {
		active = append(active, t)
	}
	if t, ok := precipRule(agg, th.TotalWindow, th.Rain24hIn, High24hTotal); ok {
		active = append(active, t)
	}

	var at time.Time
	if agg != nil {
		at = agg.Ref
	}
	if latest != nil && latest.Timestamp.After(at) {
		at = latest.Timestamp
	}
	return State{Nominal: len(active) == 0, Active: active, EvaluatedAt: at}
}

func precipRule(agg *window.Aggregates, name string, threshold float64, c Condition) (Trigger, bool) {
	s, ok := agg.Get(name)
	if !ok || s.Precipitation == nil {
		return Trigger{}, false
	}
	if s.Precipitation.Sum < threshold {
		return Trigger{}, false
	}
	return Trigger{Condition: c, Value: s.Precipitation.Sum, Threshold: threshold, Window: name}, true
}
