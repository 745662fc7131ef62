package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

// Provider names, as used in configuration, logs and metrics.
const (
	NameOpenWeather = "openweathermap"
	NameWeatherAPI  = "weatherapi"
	NameOpenMeteo   = "openmeteo"
	NameINMET       = "inmet"
)

// maxBodyBytes caps how much of a provider response we read.
const maxBodyBytes = 1 << 20

// HTTPClientConfig bundles the HTTP client and endpoint settings for an adapter.
type HTTPClientConfig struct {
	Client  *http.Client
	BaseURL string
	APIKey  string
}

var (
	errRateLimited  = errors.New("rate limited")
	errServerError  = errors.New("server error")
	errUnexpected   = errors.New("unexpected status code")
	errCircuitOpen  = errors.New("circuit breaker open")
	errNoHTTPClient = errors.New("http client not configured")
)

// newBreaker returns the circuit breaker every adapter shares across concurrent callers.
// It fails fast while a provider is down; it never retries.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         name,
		MaxRequests:  5,
		Interval:     1 * time.Minute,
		Timeout:      2 * time.Minute,
		IsSuccessful: breakerSuccess,
	})
}

// breakerSuccess keeps caller-side failures off the breaker's count: a 4xx is about
// the request, and a cancelled or expired context is about the caller's deadline.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, errUnexpected) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// breakerSet holds one breaker per key, so an outage of one station does not
// take the others down with it.
type breakerSet struct {
	name string

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerSet(name string) *breakerSet {
	return &breakerSet{name: name, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (s *breakerSet) get(key string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[key]
	if !ok {
		cb = newBreaker(s.name + "/" + key)
		s.breakers[key] = cb
	}
	return cb
}

// doRequest executes one HTTP request through the circuit breaker and returns the body
// of a 2xx response. Every failure is a *weather.ProviderError of kind ErrProviderUnavailable.
func doRequest(
	ctx context.Context,
	provider string,
	client *http.Client,
	cb *gobreaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
) ([]byte, error) {
	if client == nil {
		return nil, weather.NewProviderError(provider, weather.ErrProviderUnavailable, errNoHTTPClient)
	}

	req, err := buildRequest(ctx)
	if err != nil {
		return nil, weather.NewProviderError(provider, weather.ErrProviderUnavailable, err)
	}

	result, err := cb.Execute(func() (interface{}, error) {
		resp, execErr := client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		defer resp.Body.Close()

		// Handle rate limiting and server errors explicitly.
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, errRateLimited
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
		}

		return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	})
	if err != nil {
		// If circuit is open, say so explicitly.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		return nil, weather.NewProviderError(provider, weather.ErrProviderUnavailable, err)
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, weather.NewProviderError(provider, weather.ErrProviderUnavailable, errors.New("unexpected result type from circuit breaker"))
	}
	return body, nil
}

// decode unmarshals a provider payload, mapping failures to ErrMalformedResponse.
func decode(provider string, body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return weather.NewProviderError(provider, weather.ErrMalformedResponse, err)
	}
	return nil
}

// malformed reports a payload that decoded but carried nothing we can normalize.
func malformed(provider, reason string) error {
	return weather.NewProviderError(provider, weather.ErrMalformedResponse, errors.New(reason))
}

// msToKmh converts metres per second to kilometres per hour.
const msToKmh = 3.6

func scaled(v *float64, factor float64) *float64 {
	if v == nil {
		return nil
	}
	return weather.Float(*v * factor)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
