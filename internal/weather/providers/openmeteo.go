package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

const openMeteoBaseURL = "https://api.open-meteo.com/v1/forecast"

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
// Open-Meteo does not require an API key; one is sent as a bearer token when configured
// (commercial endpoint).
type OpenMeteoProvider struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewOpenMeteoProvider(cfg HTTPClientConfig) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:    NameOpenMeteo,
		apiKey:  cfg.APIKey,
		baseURL: orDefault(cfg.BaseURL, openMeteoBaseURL),
		client:  cfg.Client,
		circuit: newBreaker(NameOpenMeteo),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%f", loc.Lat))
		values.Set("longitude", fmt.Sprintf("%f", loc.Lon))
		values.Set("current", "temperature_2m,relative_humidity_2m,precipitation,wind_speed_10m,surface_pressure")
		values.Set("timezone", "GMT")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
		return req, nil
	}

	body, err := doRequest(ctx, p.name, p.client, p.circuit, buildRequest)
	if err != nil {
		return weather.Reading{}, err
	}

	var payload struct {
		Current *struct {
			Time             string   `json:"time"`
			Temperature      *float64 `json:"temperature_2m"`
			RelativeHumidity *float64 `json:"relative_humidity_2m"`
			Precipitation    *float64 `json:"precipitation"`
			WindSpeed        *float64 `json:"wind_speed_10m"` // km/h by default
			SurfacePressure  *float64 `json:"surface_pressure"`
		} `json:"current"`
	}

	if err := decode(p.name, body, &payload); err != nil {
		return weather.Reading{}, err
	}
	if payload.Current == nil {
		return weather.Reading{}, malformed(p.name, "payload has no current block")
	}

	// Open-Meteo returns ISO8601 without seconds or zone ("2024-01-15T15:00").
	ts, err := time.Parse("2006-01-02T15:04", payload.Current.Time)
	if err != nil {
		ts = time.Now().UTC()
	}

	return weather.Reading{
		Provider:    p.name,
		Timestamp:   ts.UTC(),
		Temperature: payload.Current.Temperature,
		Rainfall:    payload.Current.Precipitation,
		WindSpeed:   payload.Current.WindSpeed,
		Humidity:    payload.Current.RelativeHumidity,
		Pressure:    payload.Current.SurfacePressure,
	}, nil
}
