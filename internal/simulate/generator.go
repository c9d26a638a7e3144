// Package simulate produces synthetic sensor output for development and
// integration tests. Lines cover every wire encoding the parser accepts,
// plus garbled lines the parser must reject.
package simulate

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// Format selects the wire encoding of generated lines.
type Format string

const (
	FormatStructured Format = "json"
	FormatKeyValue   Format = "kv"
	FormatFixed      Format = "fixed"
	// FormatLevel emits the bare level token, as minimal firmware does.
	FormatLevel Format = "level"
	// FormatNoise emits structured lines cut short by line noise.
	FormatNoise Format = "noise"
	// FormatMixed rotates through the decodable formats and occasionally
	// emits noise or repeats the previous line.
	FormatMixed Format = "mixed"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatStructured, FormatKeyValue, FormatFixed, FormatLevel, FormatNoise, FormatMixed:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// Sample is the weather state behind one generated line.
type Sample struct {
	Time         time.Time
	PrecipIn     float64
	HumidityPct  float64
	TemperatureF float64
	LevelCode    int
	Lat, Lon     float64
}

// Level returns the categorical spelling of LevelCode.
func (s Sample) Level() string {
	switch s.LevelCode {
	case 0:
		return "Low"
	case 2:
		return "High"
	default:
		return "Nominal"
	}
}

// Config tunes a Generator.
type Config struct {
	Format Format
	Seed   uint64
	// Lat and Lon place the simulated station. Zero means no coordinates.
	Lat, Lon float64
}

// Generator emits one line per call. It is not safe for concurrent use.
type Generator struct {
	cfg   Config
	rng   *rand.Rand
	clock clockwork.Clock

	n       int
	last    string
	storm   int
	rain24h float64
	sample  Sample
}

// NewGenerator creates a Generator. A nil clock uses real time.
func NewGenerator(cfg Config, clock clockwork.Clock) *Generator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Format == "" {
		cfg.Format = FormatMixed
	}
	return &Generator{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		clock: clock,
		sample: Sample{
			HumidityPct:  65,
			TemperatureF: 78,
			LevelCode:    1,
		},
	}
}

// Next returns the next line without a line terminator, and the sample it
// encodes. Noise lines return a zero Sample.
func (g *Generator) Next() (string, Sample) {
	g.n++
	format := g.cfg.Format
	if format == FormatMixed {
		switch {
		case g.n%11 == 0:
			format = FormatNoise
		case g.n%7 == 0 && g.last != "":
			return g.last, g.sample
		default:
			format = []Format{FormatStructured, FormatKeyValue, FormatFixed, FormatLevel}[g.n%4]
		}
	}
	if format == FormatNoise {
		return g.noise(), Sample{}
	}

	g.step()
	var line string
	switch format {
	case FormatStructured:
		line = g.structured()
	case FormatKeyValue:
		line = g.keyValue()
	case FormatLevel:
		line = g.sample.Level()
	default:
		line = g.fixed()
	}
	g.last = line
	return line, g.sample
}

// step advances the weather random walk by one sample.
func (g *Generator) step() {
	s := &g.sample
	s.Time = g.clock.Now().UTC().Truncate(time.Second)

	if g.storm == 0 && g.rng.IntN(20) == 0 {
		g.storm = 5 + g.rng.IntN(15)
	}
	s.PrecipIn = 0
	if g.storm > 0 {
		g.storm--
		s.PrecipIn = round(0.01+g.rng.Float64()*0.2, 2)
	}
	g.rain24h = g.rain24h*0.98 + s.PrecipIn

	s.HumidityPct = round(clamp(s.HumidityPct+g.rng.NormFloat64()*2+s.PrecipIn*20, 20, 100), 1)
	s.TemperatureF = round(clamp(s.TemperatureF+g.rng.NormFloat64()*0.4-s.PrecipIn*2, 50, 104), 1)

	switch {
	case g.rain24h >= 1.5:
		s.LevelCode = 2
	case g.rain24h >= 0.3:
		s.LevelCode = 1
	default:
		s.LevelCode = 0
	}

	s.Lat, s.Lon = g.cfg.Lat, g.cfg.Lon
}

type firmwareJSON struct {
	TS        string  `json:"ts"`
	RainIn    float64 `json:"rain_in"`
	HumPct    float64 `json:"hum_pct"`
	TempC     float64 `json:"temp_c"`
	LevelCode int     `json:"level_code"`
}

// structured mimics firmware that reports Celsius and a numeric level code.
func (g *Generator) structured() string {
	b, _ := json.Marshal(firmwareJSON{
		TS:        g.sample.Time.Format(time.RFC3339),
		RainIn:    g.sample.PrecipIn,
		HumPct:    g.sample.HumidityPct,
		TempC:     round((g.sample.TemperatureF-32)*5/9, 2),
		LevelCode: g.sample.LevelCode,
	})
	return string(b)
}

func (g *Generator) keyValue() string {
	return fmt.Sprintf("ts=%d rain=%.2f hum=%.1f tempF=%.1f level=%s",
		g.sample.Time.Unix(), g.sample.PrecipIn, g.sample.HumidityPct, g.sample.TemperatureF, g.sample.Level())
}

// fixed carries no timestamp; the receiver stamps it on arrival.
func (g *Generator) fixed() string {
	line := fmt.Sprintf("%.2f,%.1f,%.1f,%s", g.sample.PrecipIn, g.sample.HumidityPct, g.sample.TemperatureF, g.sample.Level())
	if g.cfg.Lat != 0 || g.cfg.Lon != 0 {
		line += fmt.Sprintf(",%.5f,%.5f", g.cfg.Lat, g.cfg.Lon)
	}
	return line
}

// noise truncates a structured line. Every proper prefix of a JSON object is
// malformed, so the parser rejects it.
func (g *Generator) noise() string {
	line := g.structured()
	return line[:1+g.rng.IntN(len(line)-1)]
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
