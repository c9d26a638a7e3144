package domain

import (
	"strconv"
	"strings"
)

// Signature returns the rounded field tuple used to detect immediately
// repeated readings. The timestamp is not part of it. Absent values encode
// as "-" so that "no data" never collides with zero.
func Signature(r Reading) string {
	var b strings.Builder
	b.WriteString(roundedField(r.PrecipitationIn, 4))
	b.WriteByte('|')
	b.WriteString(roundedField(r.HumidityPct, 1))
	b.WriteByte('|')
	b.WriteString(roundedField(r.TemperatureF, 1))
	b.WriteByte('|')
	b.WriteString(r.WaterLevel.String())
	b.WriteByte('|')
	if r.Location != nil {
		b.WriteString(strconv.FormatFloat(r.Location.Lat, 'f', 5, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(r.Location.Lon, 'f', 5, 64))
	} else {
		b.WriteByte('-')
	}
	return b.String()
}

func roundedField(v *float64, places int) string {
	if v == nil {
		return "-"
	}
	s := strconv.FormatFloat(*v, 'f', places, 64)
	// -0.0000 and 0.0000 are the same sample.
	if strings.Trim(s, "-0.") == "" {
		return strconv.FormatFloat(0, 'f', places, 64)
	}
	return s
}
