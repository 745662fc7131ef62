package weather

import (
	"math"
	"time"
)

// ReconciledProvider is the provider name stamped on combined readings.
const ReconciledProvider = "reconciled"

// WeightedReading is a provider reading paired with the provider's reliability weight.
type WeightedReading struct {
	Reading
	Weight float64
}

// AggregateReadings combines multiple provider readings into a single ReconciledReading.
// Each field is the reliability-weighted average of only the providers that supplied it;
// a field no provider supplied stays nil. Spread above tolerance[f] marks f divergent
// but the value is still averaged.
func AggregateReadings(loc Location, readings []WeightedReading, tolerance map[Field]float64) ReconciledReading {
	out := ReconciledReading{
		Location: loc,
		Sources:  make(map[Field][]string),
		Spread:   make(map[Field]float64),
	}
	out.Provider = ReconciledProvider

	for _, r := range readings {
		if r.Timestamp.After(out.Timestamp) {
			out.Timestamp = r.Timestamp
		}
		if r.StationID != "" && out.StationID == "" {
			out.StationID = r.StationID
			out.StationFallback = r.StationFallback
			out.StationDistanceKm = r.StationDistanceKm
		}
		out.Providers = append(out.Providers, ProviderContribution{
			ProviderName:    r.Provider,
			Weight:          r.Weight,
			Timestamp:       r.Timestamp,
			StationID:       r.StationID,
			StationFallback: r.StationFallback,
		})
	}

	for _, f := range Fields {
		var (
			sum     float64
			weights float64
			lo      = math.Inf(1)
			hi      = math.Inf(-1)
		)
		for _, r := range readings {
			v, ok := r.Value(f)
			if !ok || r.Weight <= 0 {
				continue
			}
			sum += v * r.Weight
			weights += r.Weight
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			out.Sources[f] = append(out.Sources[f], r.Provider)
		}
		if weights == 0 {
			continue
		}

		out.Set(f, sum/weights)
		out.Spread[f] = hi - lo
		if tol, ok := tolerance[f]; ok && hi-lo > tol {
			out.Divergent = append(out.Divergent, f)
		}
	}

	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	return out
}
