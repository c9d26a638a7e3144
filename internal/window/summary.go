package window

import "time"

// Stat is the aggregate of one metric over one window. Only non-absent
// samples contribute.
type Stat struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
}

// Summary is one window's aggregates. A nil Stat means the window held no
// data for that metric.
type Summary struct {
	Window        string        `json:"window"`
	Duration      time.Duration `json:"-"`
	DurationText  string        `json:"duration"`
	Start         time.Time     `json:"start"`
	End           time.Time     `json:"end"`
	Samples       int           `json:"samples"`
	Precipitation *Stat         `json:"precipitation_in"`
	Humidity      *Stat         `json:"humidity_pct"`
	Temperature   *Stat         `json:"temperature_f"`
	WaterLevel    *Stat         `json:"water_level_ordinal"`
}

// Stat returns the aggregate for m, or nil when absent.
func (s Summary) Stat(m Metric) *Stat {
	switch m {
	case MetricPrecipitation:
		return s.Precipitation
	case MetricHumidity:
		return s.Humidity
	case MetricTemperature:
		return s.Temperature
	case MetricWaterLevel:
		return s.WaterLevel
	default:
		return nil
	}
}

// Aggregates is an immutable snapshot of every configured window.
type Aggregates struct {
	Ref     time.Time `json:"ref"`
	Windows []Summary `json:"windows"`
}

// Get returns the summary of the named window.
func (a *Aggregates) Get(name string) (Summary, bool) {
	if a == nil {
		return Summary{}, false
	}
	for _, s := range a.Windows {
		if s.Window == name {
			return s, true
		}
	}
	return Summary{}, false
}

type accumulator struct {
	count int
	sum   float64
}

func (a accumulator) stat() *Stat {
	if a.count == 0 {
		return nil
	}
	return &Stat{Count: a.count, Sum: a.sum, Mean: a.sum / float64(a.count)}
}

func newSummary(w Window, ref time.Time, samples int, acc *[numMetrics]accumulator) Summary {
	return Summary{
		Window:        w.Name,
		Duration:      w.Duration,
		DurationText:  w.Duration.String(),
		Start:         ref.Add(-w.Duration),
		End:           ref,
		Samples:       samples,
		Precipitation: acc[MetricPrecipitation].stat(),
		Humidity:      acc[MetricHumidity].stat(),
		Temperature:   acc[MetricTemperature].stat(),
		WaterLevel:    acc[MetricWaterLevel].stat(),
	}
}
