package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

var (
	// ErrDisabled is returned when no geocoding key is configured.
	ErrDisabled = errors.New("geocoding disabled")
	// ErrNotFound is returned when the address could not be resolved.
	ErrNotFound = errors.New("address not found")
)

// Geocoder resolves a city/country pair to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, city, country string) (weather.Location, error)
}

type lookupFunc func(addr geocoder.Address) (geocoder.Location, error)

// Google resolves addresses with the Google Geocoding API and caches results.
type Google struct {
	lookup lookupFunc

	mu    sync.RWMutex
	cache map[string]weather.Location
}

// NewGoogle returns a Google geocoder. An empty key yields ErrDisabled.
func NewGoogle(apiKey string) (*Google, error) {
	if apiKey == "" {
		return nil, ErrDisabled
	}
	geocoder.ApiKey = apiKey
	return newGoogle(geocoder.Geocoding), nil
}

func newGoogle(lookup lookupFunc) *Google {
	return &Google{lookup: lookup, cache: make(map[string]weather.Location)}
}

func cacheKey(city, country string) string {
	return strings.ToLower(strings.TrimSpace(city)) + "|" + strings.ToLower(strings.TrimSpace(country))
}

// Resolve implements Geocoder.
func (g *Google) Resolve(ctx context.Context, city, country string) (weather.Location, error) {
	if strings.TrimSpace(city) == "" {
		return weather.Location{}, fmt.Errorf("%w: empty city", ErrNotFound)
	}
	key := cacheKey(city, country)

	g.mu.RLock()
	loc, ok := g.cache[key]
	g.mu.RUnlock()
	if ok {
		return loc, nil
	}

	if err := ctx.Err(); err != nil {
		return weather.Location{}, err
	}

	res, err := g.lookup(geocoder.Address{City: city, Country: country})
	if err != nil {
		return weather.Location{}, fmt.Errorf("%w: %s, %s: %v", ErrNotFound, city, country, err)
	}

	loc = weather.Location{Lat: res.Latitude, Lon: res.Longitude, City: city, Country: country}
	if err := loc.Validate(); err != nil {
		return weather.Location{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	g.mu.Lock()
	g.cache[key] = loc
	g.mu.Unlock()
	return loc, nil
}
