package csvlog

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/flood-telemetry/internal/domain"
)

// SchemaVersion identifies a column layout of the record store.
type SchemaVersion int

const (
	// SchemaNone means no header has been written yet.
	SchemaNone SchemaVersion = iota
	// SchemaV1 is the base layout without coordinates.
	SchemaV1
	// SchemaV2 appends Latitude and Longitude to V1.
	SchemaV2
)

const headerMarker = "EntryTimeUTC"

var (
	columnsV1 = []string{headerMarker, "Precipitation(in)", "Humidity(%)", "Temperature(°F)", "WaterLevel"}
	columnsV2 = append(slices.Clone(columnsV1), "Latitude", "Longitude")
)

func (v SchemaVersion) String() string {
	switch v {
	case SchemaV1:
		return "v1"
	case SchemaV2:
		return "v2"
	default:
		return "none"
	}
}

// Columns returns the header row of the version.
func (v SchemaVersion) Columns() []string {
	switch v {
	case SchemaV1:
		return slices.Clone(columnsV1)
	case SchemaV2:
		return slices.Clone(columnsV2)
	default:
		return nil
	}
}

// isHeader reports whether a record is a header row, and which layout it
// introduces. Headers with extra unknown columns still count.
func isHeader(rec []string) (SchemaVersion, bool) {
	if len(rec) == 0 || strings.TrimPrefix(strings.TrimSpace(rec[0]), "\ufeff") != headerMarker {
		return SchemaNone, false
	}
	if len(rec) >= len(columnsV2) {
		return SchemaV2, true
	}
	return SchemaV1, true
}

const timeLayout = time.RFC3339

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// encode renders a reading under the given layout. Nulls are empty cells.
func encode(r domain.Reading, v SchemaVersion) []string {
	rec := []string{
		r.Timestamp.UTC().Format(timeLayout),
		formatFloat(r.PrecipitationIn),
		formatFloat(r.HumidityPct),
		formatFloat(r.TemperatureF),
		r.WaterLevel.String(),
	}
	if v == SchemaV2 {
		lat, lon := "", ""
		if r.Location != nil {
			lat = strconv.FormatFloat(r.Location.Lat, 'f', -1, 64)
			lon = strconv.FormatFloat(r.Location.Lon, 'f', -1, 64)
		}
		rec = append(rec, lat, lon)
	}
	return rec
}

func cell(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseCell(rec []string, i int) (*float64, bool) {
	s := cell(rec, i)
	if s == "" {
		return nil, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return &f, true
}

// decode maps a data row positionally. Short rows leave trailing fields
// absent. A row without a parseable timestamp or with a garbled numeric cell
// is malformed.
func decode(rec []string, v SchemaVersion) (domain.Reading, bool) {
	ts, err := time.Parse(timeLayout, cell(rec, 0))
	if err != nil {
		return domain.Reading{}, false
	}
	r := domain.Reading{Timestamp: ts.UTC(), WaterLevel: domain.ParseWaterLevel(cell(rec, 4))}

	var ok bool
	if r.PrecipitationIn, ok = parseCell(rec, 1); !ok {
		return domain.Reading{}, false
	}
	if r.HumidityPct, ok = parseCell(rec, 2); !ok {
		return domain.Reading{}, false
	}
	if r.TemperatureF, ok = parseCell(rec, 3); !ok {
		return domain.Reading{}, false
	}

	if v == SchemaV2 {
		lat, okLat := parseCell(rec, 5)
		lon, okLon := parseCell(rec, 6)
		if okLat && okLon && lat != nil && lon != nil {
			r.Location = &domain.Location{Lat: *lat, Lon: *lon}
		}
	}
	return r, true
}
