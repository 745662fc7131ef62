package weather

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/i474232898/weather-trigger-oracle/internal/metrics"
)

// WeightedProvider pairs a provider with its configured reliability weight.
type WeightedProvider struct {
	Provider Provider
	Weight   float64
}

// Reconciler fans out to every configured provider and combines the answers.
type Reconciler struct {
	providers []WeightedProvider
	tolerance map[Field]float64
}

// NewReconciler creates a new Reconciler. At least one provider with a positive weight is required.
func NewReconciler(providers []WeightedProvider, tolerance map[Field]float64) (*Reconciler, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no weather providers configured", ErrInvalidConfiguration)
	}
	for _, p := range providers {
		if p.Provider == nil {
			return nil, fmt.Errorf("%w: nil provider", ErrInvalidConfiguration)
		}
		if p.Weight <= 0 {
			return nil, fmt.Errorf("%w: provider %s has non-positive weight %v", ErrInvalidConfiguration, p.Provider.Name(), p.Weight)
		}
	}
	return &Reconciler{
		providers: providers,
		tolerance: tolerance,
	}, nil
}

// Providers returns the names of the configured providers.
func (r *Reconciler) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Provider.Name())
	}
	return names
}

type fetchOutcome struct {
	reading Reading
	err     error
}

// Reconcile fetches data from all providers concurrently for the given location and
// combines the successful readings. It waits for every provider to settle; a failed
// provider is excluded and never cancels the others. When nothing usable came back
// it returns a *NoDataError rather than a zero-filled reading.
func (r *Reconciler) Reconcile(ctx context.Context, loc Location) (ReconciledReading, error) {
	outcomes := make([]fetchOutcome, len(r.providers))

	var wg sync.WaitGroup
	for i, wp := range r.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()

			start := time.Now()
			reading, err := safeFetch(ctx, p, loc)
			if err == nil && !reading.HasData() {
				err = NewProviderError(p.Name(), ErrMalformedResponse, errors.New("no usable fields"))
			}
			metrics.ObserveProviderFetch(p.Name(), fetchResult(err), time.Since(start))

			outcomes[i] = fetchOutcome{reading: reading, err: err}
		}(i, wp.Provider)
	}
	wg.Wait()

	var (
		readings []WeightedReading
		failures []ProviderFailure
	)
	for i, o := range outcomes {
		name := r.providers[i].Provider.Name()
		if o.err != nil {
			// Log and continue; we want partial success when possible.
			log.WithFields(log.Fields{
				"provider": name,
				"location": loc.Key(),
				"err":      o.err,
			}).Warn("provider fetch failed; excluded from reconciliation")
			failures = append(failures, ProviderFailure{ProviderName: name, Reason: o.err.Error()})
			continue
		}
		if o.reading.Provider == "" {
			o.reading.Provider = name
		}
		readings = append(readings, WeightedReading{Reading: o.reading, Weight: r.providers[i].Weight})
	}

	if len(readings) == 0 {
		metrics.IncReconcile(metrics.ResultNoData)
		return ReconciledReading{}, &NoDataError{Location: loc, Failures: failures}
	}

	reconciled := AggregateReadings(loc, readings, r.tolerance)
	reconciled.Excluded = failures

	for _, f := range reconciled.Divergent {
		metrics.IncDivergent(string(f))
		log.WithFields(log.Fields{
			"location": loc.Key(),
			"field":    f,
			"spread":   reconciled.Spread[f],
			"sources":  reconciled.Sources[f],
		}).Warn("providers disagree beyond tolerance; keeping weighted average")
	}
	metrics.IncReconcile(metrics.ResultSuccess)

	return reconciled, nil
}

// safeFetch converts a panicking adapter into a provider failure so it can never
// escape the reconciler.
func safeFetch(ctx context.Context, p Provider, loc Location) (reading Reading, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = NewProviderError(p.Name(), ErrProviderUnavailable, fmt.Errorf("panic: %v", rec))
		}
	}()

	reading, err = p.Fetch(ctx, loc)
	if err != nil {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			err = NewProviderError(p.Name(), ErrProviderUnavailable, err)
		}
		return Reading{}, err
	}
	return reading, nil
}

func fetchResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, ErrMalformedResponse):
		return metrics.ResultMalformed
	default:
		return metrics.ResultUnavailable
	}
}
