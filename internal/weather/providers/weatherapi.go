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

const weatherAPIBaseURL = "https://api.weatherapi.com/v1/current.json"

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(cfg HTTPClientConfig) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    NameWeatherAPI,
		apiKey:  cfg.APIKey,
		baseURL: orDefault(cfg.BaseURL, weatherAPIBaseURL),
		client:  cfg.Client,
		circuit: newBreaker(NameWeatherAPI),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	if p.apiKey == "" {
		return weather.Reading{}, weather.NewProviderError(p.name, weather.ErrProviderUnavailable, errors.New("weatherapi api key is not configured"))
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		// WeatherAPI uses "q" for location; it accepts "lat,lon".
		values.Set("q", fmt.Sprintf("%f,%f", loc.Lat, loc.Lon))

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	body, err := doRequest(ctx, p.name, p.client, p.circuit, buildRequest)
	if err != nil {
		return weather.Reading{}, err
	}

	var payload struct {
		Current *struct {
			LastUpdatedEpoch int64    `json:"last_updated_epoch"`
			TempC            *float64 `json:"temp_c"`
			Humidity         *float64 `json:"humidity"`
			WindKph          *float64 `json:"wind_kph"`
			PressureMb       *float64 `json:"pressure_mb"`
			PrecipMm         *float64 `json:"precip_mm"`
		} `json:"current"`
	}

	if err := decode(p.name, body, &payload); err != nil {
		return weather.Reading{}, err
	}
	if payload.Current == nil {
		return weather.Reading{}, malformed(p.name, "payload has no current block")
	}

	ts := time.Now().UTC()
	if payload.Current.LastUpdatedEpoch > 0 {
		ts = time.Unix(payload.Current.LastUpdatedEpoch, 0).UTC()
	}

	return weather.Reading{
		Provider:    p.name,
		Timestamp:   ts,
		Temperature: payload.Current.TempC,
		Rainfall:    payload.Current.PrecipMm,
		WindSpeed:   payload.Current.WindKph,
		Humidity:    payload.Current.Humidity,
		Pressure:    payload.Current.PressureMb,
	}, nil
}
