package trigger

import (
	"errors"

	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

// ErrNoThresholds is returned when a policy configures no threshold at all.
var ErrNoThresholds = errors.New("trigger conditions: no threshold configured")

// Conditions holds a policy's parametric thresholds. A nil threshold is not evaluated.
type Conditions struct {
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature"`
	Rainfall    *float64 `json:"rainfall,omitempty" yaml:"rainfall"`
	WindSpeed   *float64 `json:"windSpeed,omitempty" yaml:"wind_speed"`
	Humidity    *float64 `json:"humidity,omitempty" yaml:"humidity"`
	Pressure    *float64 `json:"pressure,omitempty" yaml:"pressure"`
}

// Threshold returns the configured threshold for f.
func (c Conditions) Threshold(f weather.Field) (float64, bool) {
	var p *float64
	switch f {
	case weather.FieldTemperature:
		p = c.Temperature
	case weather.FieldRainfall:
		p = c.Rainfall
	case weather.FieldWindSpeed:
		p = c.WindSpeed
	case weather.FieldHumidity:
		p = c.Humidity
	case weather.FieldPressure:
		p = c.Pressure
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Validate requires at least one threshold.
func (c Conditions) Validate() error {
	for _, f := range weather.Fields {
		if _, ok := c.Threshold(f); ok {
			return nil
		}
	}
	return ErrNoThresholds
}
