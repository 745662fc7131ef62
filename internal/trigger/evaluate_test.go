package trigger

import (
	"errors"
	"reflect"
	"testing"

	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(DefaultSeverityTable())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return e
}

func reconciled(r weather.Reading) weather.ReconciledReading {
	return weather.ReconciledReading{Reading: r}
}

func TestEvaluateBoundaryIsStrict(t *testing.T) {
	e := newEvaluator(t)
	reading := reconciled(weather.Reading{Temperature: weather.Float(40)})

	res := e.Evaluate(reading, Conditions{Temperature: weather.Float(40)})
	if res.Triggered {
		t.Fatal("value equal to threshold must not trigger")
	}
	if res.Evaluations[0].Status != StatusNotMet {
		t.Fatalf("expected not_met, got %s", res.Evaluations[0].Status)
	}

	res = e.Evaluate(reading, Conditions{Temperature: weather.Float(39.9)})
	if !res.Triggered {
		t.Fatal("value above threshold must trigger")
	}
	want := []string{"Temperatura crítica: 40°C"}
	if !reflect.DeepEqual(res.Reasons, want) {
		t.Fatalf("expected reasons %v, got %v", want, res.Reasons)
	}
}

func TestReasonKeepsPrecisionAboveThreshold(t *testing.T) {
	e := newEvaluator(t)
	reading := reconciled(weather.Reading{Temperature: weather.Float(40.04)})

	res := e.Evaluate(reading, Conditions{Temperature: weather.Float(40)})
	if !res.Triggered {
		t.Fatal("40.04 must exceed 40")
	}
	want := []string{"Temperatura crítica: 40.04°C"}
	if !reflect.DeepEqual(res.Reasons, want) {
		t.Fatalf("expected reasons %v, got %v", want, res.Reasons)
	}
}

func TestEvaluateEpsilonAboveThresholdTriggers(t *testing.T) {
	e := newEvaluator(t)
	reading := reconciled(weather.Reading{Rainfall: weather.Float(100.0001)})

	res := e.Evaluate(reading, Conditions{Rainfall: weather.Float(100)})
	if !res.Triggered {
		t.Fatal("threshold + epsilon must trigger")
	}
}

func TestEvaluateRainfallSeverity(t *testing.T) {
	e := newEvaluator(t)
	reading := reconciled(weather.Reading{Rainfall: weather.Float(120)})

	res := e.Evaluate(reading, Conditions{Rainfall: weather.Float(100)})
	if !res.Triggered {
		t.Fatal("expected trigger")
	}
	if res.Severity != SeverityHigh {
		t.Fatalf("expected high severity, got %s", res.Severity)
	}
	if res.Reasons[0] != "Chuva excessiva: 120mm" {
		t.Fatalf("unexpected reason %q", res.Reasons[0])
	}
}

func TestEvaluateMissingFieldIsNotEvaluated(t *testing.T) {
	e := newEvaluator(t)
	reading := reconciled(weather.Reading{Temperature: weather.Float(20)})

	res := e.Evaluate(reading, Conditions{
		Temperature: weather.Float(35),
		Rainfall:    weather.Float(50),
	})
	if res.Triggered {
		t.Fatal("unexpected trigger")
	}
	if len(res.Evaluations) != 2 {
		t.Fatalf("expected 2 evaluations, got %d", len(res.Evaluations))
	}
	if res.Evaluations[0].Status != StatusNotMet {
		t.Fatalf("temperature: expected not_met, got %s", res.Evaluations[0].Status)
	}
	if res.Evaluations[1].Status != StatusNotEvaluated || res.Evaluations[1].Value != nil {
		t.Fatalf("rainfall: expected not_evaluated without value, got %+v", res.Evaluations[1])
	}
	if got := res.NotEvaluated(); len(got) != 1 || got[0] != weather.FieldRainfall {
		t.Fatalf("expected rainfall not evaluated, got %v", got)
	}
}

func TestEvaluateReasonsFollowFieldOrder(t *testing.T) {
	e := newEvaluator(t)
	reading := reconciled(weather.Reading{
		Temperature: weather.Float(46),
		Rainfall:    weather.Float(60),
		WindSpeed:   weather.Float(95.26),
		Humidity:    weather.Float(97),
		Pressure:    weather.Float(1045),
	})
	conds := Conditions{
		Pressure:    weather.Float(1035),
		Humidity:    weather.Float(90),
		WindSpeed:   weather.Float(80),
		Rainfall:    weather.Float(40),
		Temperature: weather.Float(38),
	}

	res := e.Evaluate(reading, conds)
	want := []string{
		"Temperatura crítica: 46°C",
		"Chuva excessiva: 60mm",
		"Vento forte: 95.3km/h",
		"Umidade elevada: 97%",
		"Pressão anormal: 1045hPa",
	}
	if !reflect.DeepEqual(res.Reasons, want) {
		t.Fatalf("expected %v, got %v", want, res.Reasons)
	}
	if res.Severity != SeverityExtreme {
		t.Fatalf("expected extreme (temperature), got %s", res.Severity)
	}
}

func TestEvaluateNoTriggerIsLow(t *testing.T) {
	e := newEvaluator(t)
	// Extreme value but below the policy threshold: severity only counts triggered fields.
	reading := reconciled(weather.Reading{Rainfall: weather.Float(200)})

	res := e.Evaluate(reading, Conditions{Rainfall: weather.Float(250)})
	if res.Triggered || res.Severity != SeverityLow {
		t.Fatalf("expected untriggered low, got triggered=%v severity=%s", res.Triggered, res.Severity)
	}
	if len(res.Reasons) != 0 {
		t.Fatalf("expected no reasons, got %v", res.Reasons)
	}
}

func TestEvaluateIsPure(t *testing.T) {
	e := newEvaluator(t)
	reading := reconciled(weather.Reading{Temperature: weather.Float(41), WindSpeed: weather.Float(130)})
	conds := Conditions{Temperature: weather.Float(39), WindSpeed: weather.Float(100)}

	first := e.Evaluate(reading, conds)
	second := e.Evaluate(reading, conds)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("evaluate is not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestSeverityIsMonotonic(t *testing.T) {
	e := newEvaluator(t)
	conds := Conditions{Temperature: weather.Float(30), Rainfall: weather.Float(10)}

	prev := SeverityLow
	for _, rain := range []float64{11, 49.9, 50, 99, 100, 149, 150, 400} {
		reading := reconciled(weather.Reading{Temperature: weather.Float(36), Rainfall: weather.Float(rain)})
		res := e.Evaluate(reading, conds)
		if res.Severity < prev {
			t.Fatalf("severity decreased from %s to %s at rainfall %v", prev, res.Severity, rain)
		}
		prev = res.Severity
	}
	if prev != SeverityExtreme {
		t.Fatalf("expected extreme at the top of the range, got %s", prev)
	}
}

func TestSeverityTableValidate(t *testing.T) {
	table := DefaultSeverityTable()
	table[weather.FieldWindSpeed] = Breakpoints{Medium: 90, High: 60, Extreme: 120}
	if _, err := NewEvaluator(table); !errors.Is(err, weather.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}

	delete(table, weather.FieldWindSpeed)
	if err := table.Validate(); !errors.Is(err, weather.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for missing field, got %v", err)
	}
}

func TestConditionsValidate(t *testing.T) {
	if err := (Conditions{}).Validate(); !errors.Is(err, ErrNoThresholds) {
		t.Fatalf("expected ErrNoThresholds, got %v", err)
	}
	if err := (Conditions{Humidity: weather.Float(90)}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
