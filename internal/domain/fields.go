package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Field is a canonical field name recognized by the line parser.
type Field string

const (
	FieldPrecipitation Field = "precipitation"
	FieldHumidity      Field = "humidity"
	// FieldTemperature carries no unit and goes through InferTemperatureUnit.
	FieldTemperature  Field = "temperature"
	FieldTemperatureF Field = "temperature_f"
	FieldTemperatureC Field = "temperature_c"
	FieldLevel        Field = "level"
	FieldLevelCode    Field = "level_code"
	FieldLatitude     Field = "latitude"
	FieldLongitude    Field = "longitude"
	FieldTimestamp    Field = "timestamp"
)

// FieldMap is the loosely-typed result of parsing one line: canonical field
// to raw text value.
type FieldMap map[Field]string

// defaultAliases lists the firmware spellings each canonical field accepts.
// Matching is case-sensitive, so common capitalizations are listed explicitly.
var defaultAliases = map[Field][]string{
	FieldPrecipitation: {"precipitation", "precip", "precip_in", "rain", "rain_in", "rainfall", "Precipitation", "Rain", "PrecipInInches", "Precipitation(in)"},
	FieldHumidity:      {"humidity", "hum", "hum_pct", "humidity_pct", "rh", "RH", "Humidity", "HumidityInPercentage", "Humidity(%)"},
	FieldTemperature:   {"temperature", "temp", "t", "Temperature", "Temp"},
	FieldTemperatureF:  {"temp_f", "tempF", "temperature_f", "TempF", "TemperatureInFahrenheit", "Temperature(°F)"},
	FieldTemperatureC:  {"temp_c", "tempC", "temperature_c", "TempC"},
	FieldLevel:         {"level", "water_level", "waterlevel", "lvl", "Level", "WaterLevel"},
	FieldLevelCode:     {"level_code", "levelCode", "lvl_code", "wl_code"},
	FieldLatitude:      {"lat", "latitude", "Lat", "Latitude"},
	FieldLongitude:     {"lon", "lng", "long", "longitude", "Lon", "Longitude"},
	FieldTimestamp:     {"ts", "timestamp", "time", "Timestamp", "EntryTimeUTC"},
}

// Aliases resolves raw wire keys to canonical fields.
type Aliases struct {
	byKey map[string]Field
}

// DefaultAliases returns the curated alias table.
func DefaultAliases() *Aliases {
	a := &Aliases{byKey: make(map[string]Field)}
	for field, keys := range defaultAliases {
		a.Add(field, keys...)
	}
	return a
}

// Add registers extra keys for a field. A key already bound to another field
// is rebound.
func (a *Aliases) Add(field Field, keys ...string) {
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		a.byKey[k] = field
	}
}

// Resolve returns the canonical field for a raw key.
func (a *Aliases) Resolve(key string) (Field, bool) {
	f, ok := a.byKey[key]
	return f, ok
}

// Keys returns every key bound to field, sorted.
func (a *Aliases) Keys(field Field) []string {
	var out []string
	for k, f := range a.byKey {
		if f == field {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// IsField reports whether f is one of the canonical fields.
func IsField(f Field) bool {
	_, ok := defaultAliases[f]
	return ok
}

// ParseAliasOverrides parses "field=alias|alias;field=alias" into a map that
// can be merged with Aliases.Add.
func ParseAliasOverrides(s string) (map[Field][]string, error) {
	out := make(map[Field][]string)
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, group := range strings.Split(s, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		name, list, ok := strings.Cut(group, "=")
		if !ok {
			return nil, fmt.Errorf("alias group %q: missing '='", group)
		}
		field := Field(strings.TrimSpace(name))
		if !IsField(field) {
			return nil, fmt.Errorf("alias group %q: unknown field %q", group, field)
		}
		for _, alias := range strings.Split(list, "|") {
			if alias = strings.TrimSpace(alias); alias != "" {
				out[field] = append(out[field], alias)
			}
		}
	}
	return out, nil
}
