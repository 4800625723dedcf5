package model

// CelsiusToFahrenheit converts a Celsius reading to Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// FahrenheitToCelsius converts a Fahrenheit reading to Celsius.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// FromCelsius expresses c in scale. Unknown scales are treated as Celsius.
func FromCelsius(c float64, scale TemperatureScale) float64 {
	if scale == ScaleFahrenheit {
		return CelsiusToFahrenheit(c)
	}
	return c
}

// ToCelsius converts a value expressed in scale back to Celsius.
func ToCelsius(v float64, scale TemperatureScale) float64 {
	if scale == ScaleFahrenheit {
		return FahrenheitToCelsius(v)
	}
	return v
}
