package trigger

import (
	"encoding/json"
	"fmt"

	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

// Severity is a coarse classification of how extreme a triggering measurement is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityExtreme
)

var severityNames = []string{"low", "medium", "high", "extreme"}

func (s Severity) String() string {
	if s < SeverityLow || s > SeverityExtreme {
		return "unknown"
	}
	return severityNames[s]
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for i, n := range severityNames {
		if n == name {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", name)
}

// Breakpoints are the inclusive lower bounds of the medium, high and extreme tiers.
// Anything below Medium is low.
type Breakpoints struct {
	Medium  float64 `yaml:"medium"`
	High    float64 `yaml:"high"`
	Extreme float64 `yaml:"extreme"`
}

// Tier classifies v.
func (b Breakpoints) Tier(v float64) Severity {
	switch {
	case v >= b.Extreme:
		return SeverityExtreme
	case v >= b.High:
		return SeverityHigh
	case v >= b.Medium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SeverityTable holds one breakpoint table per field, since "extreme" rainfall and
// "extreme" temperature are different absolute numbers.
type SeverityTable map[weather.Field]Breakpoints

// DefaultSeverityTable returns the built-in breakpoints.
func DefaultSeverityTable() SeverityTable {
	return SeverityTable{
		weather.FieldTemperature: {Medium: 35, High: 40, Extreme: 45},
		weather.FieldRainfall:    {Medium: 50, High: 100, Extreme: 150},
		weather.FieldWindSpeed:   {Medium: 60, High: 90, Extreme: 120},
		weather.FieldHumidity:    {Medium: 85, High: 95, Extreme: 99},
		weather.FieldPressure:    {Medium: 1030, High: 1040, Extreme: 1050},
	}
}

// Validate requires a strictly ascending table for every field.
func (t SeverityTable) Validate() error {
	for _, f := range weather.Fields {
		b, ok := t[f]
		if !ok {
			return fmt.Errorf("%w: severity table missing field %s", weather.ErrInvalidConfiguration, f)
		}
		if !(b.Medium < b.High && b.High < b.Extreme) {
			return fmt.Errorf("%w: severity breakpoints for %s must ascend (medium %v, high %v, extreme %v)",
				weather.ErrInvalidConfiguration, f, b.Medium, b.High, b.Extreme)
		}
	}
	return nil
}
