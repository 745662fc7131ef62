package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

const openWeatherBaseURL = "https://api.openweathermap.org/data/2.5/weather"

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherProvider(cfg HTTPClientConfig) *OpenWeatherProvider {
	return &OpenWeatherProvider{
		name:    NameOpenWeather,
		apiKey:  cfg.APIKey,
		baseURL: orDefault(cfg.BaseURL, openWeatherBaseURL),
		client:  cfg.Client,
		circuit: newBreaker(NameOpenWeather),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	if p.apiKey == "" {
		return weather.Reading{}, weather.NewProviderError(p.name, weather.ErrProviderUnavailable, errors.New("openweather api key is not configured"))
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("appid", p.apiKey)
		values.Set("units", "metric")
		values.Set("lat", fmt.Sprintf("%f", loc.Lat))
		values.Set("lon", fmt.Sprintf("%f", loc.Lon))

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	body, err := doRequest(ctx, p.name, p.client, p.circuit, buildRequest)
	if err != nil {
		return weather.Reading{}, err
	}

	var payload struct {
		Dt   int64 `json:"dt"`
		Main *struct {
			Temp     *float64 `json:"temp"`
			Humidity *float64 `json:"humidity"`
			Pressure *float64 `json:"pressure"`
		} `json:"main"`
		Wind *struct {
			Speed *float64 `json:"speed"`
		} `json:"wind"`
		Rain *struct {
			OneH   *float64 `json:"1h"`
			ThreeH *float64 `json:"3h"`
		} `json:"rain"`
	}

	if err := decode(p.name, body, &payload); err != nil {
		return weather.Reading{}, err
	}
	if payload.Main == nil {
		return weather.Reading{}, malformed(p.name, "payload has no main block")
	}

	ts := time.Now().UTC()
	if payload.Dt > 0 {
		ts = time.Unix(payload.Dt, 0).UTC()
	}

	reading := weather.Reading{
		Provider:    p.name,
		Timestamp:   ts,
		Temperature: payload.Main.Temp,
		Humidity:    payload.Main.Humidity,
		Pressure:    payload.Main.Pressure,
	}
	if payload.Wind != nil {
		// metric units report m/s.
		reading.WindSpeed = scaled(payload.Wind.Speed, msToKmh)
	}
	// No rain block means the provider reported nothing, not zero.
	if payload.Rain != nil {
		reading.Rainfall = payload.Rain.OneH
		if reading.Rainfall == nil {
			reading.Rainfall = payload.Rain.ThreeH
		}
	}

	return reading, nil
}
