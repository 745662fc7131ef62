package weather

import (
	"fmt"
	"time"

	"github.com/mmcloughlin/geohash"
)

// Field identifies a measured weather quantity.
type Field string

const (
	FieldTemperature Field = "temperature"
	FieldRainfall    Field = "rainfall"
	FieldWindSpeed   Field = "wind_speed"
	FieldHumidity    Field = "humidity"
	FieldPressure    Field = "pressure"
)

// Fields lists every measured field in evaluation order.
var Fields = []Field{FieldTemperature, FieldRainfall, FieldWindSpeed, FieldHumidity, FieldPressure}

// Unit returns the unit suffix used when rendering a value of the field.
func (f Field) Unit() string {
	switch f {
	case FieldTemperature:
		return "°C"
	case FieldRainfall:
		return "mm"
	case FieldWindSpeed:
		return "km/h"
	case FieldHumidity:
		return "%"
	case FieldPressure:
		return "hPa"
	default:
		return ""
	}
}

// Location represents a geographic point we observe weather for.
// City/Country are optional and only used by station-based providers.
type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
}

// Key returns a canonical string key (geohash) for indexing this location in stores.
func (l Location) Key() string {
	return geohash.EncodeWithPrecision(l.Lat, l.Lon, 7)
}

// Validate checks that the coordinates are on the globe.
func (l Location) Validate() error {
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("latitude %f out of range", l.Lat)
	}
	if l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("longitude %f out of range", l.Lon)
	}
	return nil
}

// Reading is a single provider's normalized observation.
// A nil field means the provider did not supply it.
type Reading struct {
	Provider  string    `json:"provider,omitempty"`
	Timestamp time.Time `json:"timestamp"` // always UTC

	Temperature *float64 `json:"temperatureC,omitempty"`
	Rainfall    *float64 `json:"rainfallMm,omitempty"`
	WindSpeed   *float64 `json:"windSpeedKmh,omitempty"`
	Humidity    *float64 `json:"humidityPercent,omitempty"`
	Pressure    *float64 `json:"pressureHpa,omitempty"`

	// Station metadata, set by station-based providers only.
	StationID         string   `json:"stationId,omitempty"`
	StationFallback   bool     `json:"stationFallback,omitempty"`
	StationDistanceKm *float64 `json:"stationDistanceKm,omitempty"`
}

// Value returns the value of f and whether it is present.
func (r Reading) Value(f Field) (float64, bool) {
	p := r.ptr(f)
	if p == nil || *p == nil {
		return 0, false
	}
	return **p, true
}

// Set stores v as the value of f.
func (r *Reading) Set(f Field, v float64) {
	if p := r.ptr(f); p != nil {
		*p = &v
	}
}

// HasData reports whether at least one field is present.
func (r Reading) HasData() bool {
	for _, f := range Fields {
		if _, ok := r.Value(f); ok {
			return true
		}
	}
	return false
}

func (r *Reading) ptr(f Field) **float64 {
	switch f {
	case FieldTemperature:
		return &r.Temperature
	case FieldRainfall:
		return &r.Rainfall
	case FieldWindSpeed:
		return &r.WindSpeed
	case FieldHumidity:
		return &r.Humidity
	case FieldPressure:
		return &r.Pressure
	default:
		return nil
	}
}

// ProviderContribution describes data coming from a single provider used in reconciliation.
type ProviderContribution struct {
	ProviderName    string    `json:"provider"`
	Weight          float64   `json:"weight"`
	Timestamp       time.Time `json:"timestamp"`
	StationID       string    `json:"stationId,omitempty"`
	StationFallback bool      `json:"stationFallback,omitempty"`
}

// ProviderFailure records a provider excluded from a reconciliation run.
type ProviderFailure struct {
	ProviderName string `json:"provider"`
	Reason       string `json:"reason"`
}

// ReconciledReading is the trusted view combined from every provider that answered.
type ReconciledReading struct {
	Reading
	Location Location `json:"location"`

	Providers []ProviderContribution `json:"providers"`
	Excluded  []ProviderFailure      `json:"excluded,omitempty"`

	// Sources lists, per present field, the providers whose value was averaged.
	Sources map[Field][]string `json:"sources"`
	// Spread is max-min across contributing values per field.
	Spread map[Field]float64 `json:"spread,omitempty"`
	// Divergent lists fields whose spread exceeded the tolerance band.
	Divergent []Field `json:"divergent,omitempty"`
}

// Float returns a pointer to v. Handy for building readings and conditions.
func Float(v float64) *float64 {
	return &v
}
