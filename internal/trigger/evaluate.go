package trigger

import (
	"fmt"
	"strconv"

	"github.com/i474232898/weather-trigger-oracle/internal/common"
	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

// Status is the per-threshold outcome of an evaluation.
type Status string

const (
	StatusTriggered Status = "triggered"
	StatusNotMet    Status = "not_met"
	// StatusNotEvaluated means a threshold was configured but no provider measured the field.
	StatusNotEvaluated Status = "not_evaluated"
)

var reasonLabels = map[weather.Field]string{
	weather.FieldTemperature: "Temperatura crítica",
	weather.FieldRainfall:    "Chuva excessiva",
	weather.FieldWindSpeed:   "Vento forte",
	weather.FieldHumidity:    "Umidade elevada",
	weather.FieldPressure:    "Pressão anormal",
}

// Evaluation is the audit record for one configured threshold.
type Evaluation struct {
	Field     weather.Field `json:"field"`
	Threshold float64       `json:"threshold"`
	Value     *float64      `json:"value,omitempty"`
	Status    Status        `json:"status"`
	// Severity is the tier of Value; only meaningful when Status is triggered.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating a reconciled reading against a policy's conditions.
type Result struct {
	Triggered   bool                      `json:"triggered"`
	Reasons     []string                  `json:"reasons"`
	Severity    Severity                  `json:"severity"`
	Evaluations []Evaluation              `json:"evaluations"`
	Reading     weather.ReconciledReading `json:"reading"`
}

// NotEvaluated lists the fields that had a threshold but no measurement.
func (r Result) NotEvaluated() []weather.Field {
	var out []weather.Field
	for _, e := range r.Evaluations {
		if e.Status == StatusNotEvaluated {
			out = append(out, e.Field)
		}
	}
	return out
}

// Evaluator compares reconciled readings with trigger conditions.
type Evaluator struct {
	table SeverityTable
}

// NewEvaluator validates the severity table and returns an Evaluator.
func NewEvaluator(table SeverityTable) (*Evaluator, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{table: table}, nil
}

// Evaluate is pure: identical inputs always give identical results.
// A value exactly equal to its threshold does not trigger.
func (e *Evaluator) Evaluate(reading weather.ReconciledReading, conds Conditions) Result {
	res := Result{
		Reasons:  []string{},
		Severity: SeverityLow,
		Reading:  reading,
	}

	for _, f := range weather.Fields {
		threshold, ok := conds.Threshold(f)
		if !ok {
			continue
		}

		ev := Evaluation{Field: f, Threshold: threshold, Status: StatusNotEvaluated}
		v, measured := reading.Value(f)
		if measured {
			ev.Value = weather.Float(v)
			ev.Severity = e.table[f].Tier(v)
			ev.Status = StatusNotMet
			if v > threshold {
				ev.Status = StatusTriggered
				res.Triggered = true
				res.Reasons = append(res.Reasons, reason(f, v, threshold))
				if ev.Severity > res.Severity {
					res.Severity = ev.Severity
				}
			}
		}
		res.Evaluations = append(res.Evaluations, ev)
	}

	return res
}

// reason renders v to one decimal, or at full precision when rounding would
// show a value that does not exceed the threshold.
func reason(f weather.Field, v, threshold float64) string {
	shown := common.FormatMeasure(v)
	if rounded, err := strconv.ParseFloat(shown, 64); err != nil || rounded <= threshold {
		shown = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprintf("%s: %s%s", reasonLabels[f], shown, f.Unit())
}
