package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProviderUnavailable is returned when a provider call failed at the transport or HTTP level.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrMalformedResponse is returned when a provider answered but the payload could not be normalized.
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrNoDataAvailable is returned when no provider produced usable data for a reconciliation.
	ErrNoDataAvailable = errors.New("no weather data available")
	// ErrInvalidConfiguration is returned for missing credentials or unusable settings at startup.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// Provider abstracts a weather data source (e.g. OpenWeatherMap, WeatherAPI, Open-Meteo, INMET).
// Fetch must not retry and must leave fields the source does not supply nil.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (Reading, error)
}

// ProviderError ties a failure to the provider that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err with kind (ErrProviderUnavailable or ErrMalformedResponse).
func NewProviderError(provider string, kind, err error) *ProviderError {
	if err == nil {
		return &ProviderError{Provider: provider, Err: kind}
	}
	return &ProviderError{Provider: provider, Err: fmt.Errorf("%w: %w", kind, err)}
}

// NoDataError is returned by Reconcile when every provider failed.
type NoDataError struct {
	Location Location
	Failures []ProviderFailure
}

func (e *NoDataError) Error() string {
	reasons := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		reasons = append(reasons, f.ProviderName+": "+f.Reason)
	}
	return fmt.Sprintf("%v for %s [%s]", ErrNoDataAvailable, e.Location.Key(), strings.Join(reasons, "; "))
}

func (e *NoDataError) Is(target error) bool {
	return target == ErrNoDataAvailable
}
