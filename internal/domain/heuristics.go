package domain

// TemperatureUnit is the unit a raw temperature value is taken to be in.
type TemperatureUnit int

const (
	UnitInvalid TemperatureUnit = iota
	UnitFahrenheit
	UnitCelsius
)

func (u TemperatureUnit) String() string {
	switch u {
	case UnitFahrenheit:
		return "F"
	case UnitCelsius:
		return "C"
	default:
		return "invalid"
	}
}

// Plausibility bounds per unit system. Values outside both are discarded.
const (
	FahrenheitMin = -60.0
	FahrenheitMax = 140.0
	CelsiusMin    = -50.0
	CelsiusMax    = 60.0
)

// Celsius inference band for unit-less temperature fields. Values inside it
// are assumed to be Celsius.
const (
	CelsiusBandMin = -20.0
	CelsiusBandMax = 45.0
)

// InferTemperatureUnit guesses the unit of a temperature that arrived without
// one. This is a documented guess, not a guarantee:
//
//   - [CelsiusBandMin, CelsiusBandMax] is read as Celsius, because sensor
//     firmware that omits the unit almost always reports Celsius.
//   - Anything else inside [FahrenheitMin, FahrenheitMax] is Fahrenheit.
//   - Everything else is implausible in both systems.
//
// Known ambiguity: legitimate cold Fahrenheit readings (for example 32°F)
// fall inside the Celsius band and will be converted as if they were
// Celsius. Firmware that can produce them should send temp_f or temp_c,
// which bypass this function.
func InferTemperatureUnit(v float64) TemperatureUnit {
	switch {
	case v >= CelsiusBandMin && v <= CelsiusBandMax:
		return UnitCelsius
	case v >= FahrenheitMin && v <= FahrenheitMax:
		return UnitFahrenheit
	default:
		return UnitInvalid
	}
}

// CelsiusToFahrenheit converts degrees Celsius to Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}
