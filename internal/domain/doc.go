// Package domain models flood-monitoring sensor readings and the rules that
// turn raw transport lines into them.
//
// # Wire Encodings
//
// Sensor firmware in the field speaks several line formats. Each line is
// classified by structural markers, in this order, and the first match is
// final:
//
//	Structured:   {"rain_in":0.02,"hum_pct":77,"temp_f":81.3,"level":"High","lat":27.77,"lon":-97.50}
//	Key=value:    rain=0.02 hum=77 tempF=81.3 level=High lat=27.77 lon=-97.50
//	Fixed-order:  0.02,77,81.3,High,27.77,-97.50
//	Opaque token: High
//
// Fixed-order lines are mapped positionally onto a configurable column order
// (default rain_in,hum_pct,temp_f,level,lat,lon). Lines shorter than the
// configured minimum are rejected; missing trailing values are absent.
// An opaque token is taken verbatim as the water level.
//
// Keys are resolved through a curated, case-sensitive alias table (see
// [DefaultAliases]); a line with no recognized key is rejected.
//
// # Normalization
//
//	Precipitation: inches. Negative values clamp to 0 unless diagnostics are
//	               allowed; values above the per-sample ceiling clamp to it.
//	Humidity:      percent, clamped to [0, 100]. A trailing "%" is accepted.
//	Temperature:   stored in °F. temp_f and temp_c are taken at their word
//	               (temp_c is converted). Unit-less temperatures go through
//	               [InferTemperatureUnit]. Implausible values are dropped,
//	               never stored as zero.
//	Water level:   Low | Nominal | High | Unknown with ordinals 0, 1, 2, 1.
//	               Firmware digit codes 0/1/2 are accepted as tokens; a
//	               numeric level_code maps >=2 High, >=1 Nominal, else Low.
//	Location:      present only when both coordinates parse and are in range.
//
// Absent values are nil pointers throughout. Zero rainfall and "no report"
// are different facts and are never conflated.
//
// # Timestamps
//
// Readings are stamped with the ingestion clock unless the line carries a
// ts/timestamp field (RFC 3339 or Unix seconds/milliseconds).
package domain
