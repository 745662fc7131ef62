package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/i474232898/weather-trigger-oracle/internal/common"
	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

const inmetBaseURL = "https://apitempo.inmet.gov.br"

// INMETProvider implements the weather.Provider interface for INMET automatic stations.
// INMET is station-based: the location's city is mapped onto a station id through a
// static table, falling back to a default station (flagged on the reading).
// Each station gets its own circuit breaker.
type INMETProvider struct {
	name     string
	token    string
	baseURL  string
	client   *http.Client
	circuits *breakerSet
	stations *StationTable
	now      func() time.Time
}

func NewINMETProvider(cfg HTTPClientConfig, stations *StationTable) *INMETProvider {
	if stations == nil {
		stations = NewStationTable(DefaultINMETStations, DefaultINMETFallback)
	}
	return &INMETProvider{
		name:     NameINMET,
		token:    cfg.APIKey,
		baseURL:  orDefault(cfg.BaseURL, inmetBaseURL),
		client:   cfg.Client,
		circuits: newBreakerSet(NameINMET),
		stations: stations,
		now:      time.Now,
	}
}

func (p *INMETProvider) Name() string {
	return p.name
}

// flexFloat accepts INMET values encoded as strings, numbers or null.
type flexFloat struct {
	v *float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	v, err := common.ParseOptionalFloat(string(b))
	if err != nil {
		return err
	}
	f.v = v
	return nil
}

type inmetRecord struct {
	Date        string    `json:"DT_MEDICAO"`
	Hour        string    `json:"HR_MEDICAO"`
	Temperature flexFloat `json:"TEM_INS"`
	Rainfall    flexFloat `json:"CHUVA"`
	WindSpeed   flexFloat `json:"VEN_VEL"` // m/s
	Humidity    flexFloat `json:"UMD_INS"`
	Pressure    flexFloat `json:"PRE_INS"`
}

func (r inmetRecord) hasData() bool {
	return r.Temperature.v != nil || r.Rainfall.v != nil || r.WindSpeed.v != nil ||
		r.Humidity.v != nil || r.Pressure.v != nil
}

func (p *INMETProvider) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	res := p.stations.Resolve(loc)
	day := p.now().UTC().Format("2006-01-02")

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		u := fmt.Sprintf("%s/estacao/%s/%s/%s", p.baseURL, day, day, res.Station.ID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		if p.token != "" {
			req.Header.Set("Authorization", "Bearer "+p.token)
		}
		return req, nil
	}

	body, err := doRequest(ctx, p.name, p.client, p.circuits.get(res.Station.ID), buildRequest)
	if err != nil {
		return weather.Reading{}, err
	}

	var records []inmetRecord
	if err := decode(p.name, body, &records); err != nil {
		return weather.Reading{}, err
	}

	// Records come hourly; keep the newest one that carries any measurement.
	var (
		latest   *inmetRecord
		latestTS time.Time
	)
	for i := range records {
		rec := records[i]
		if !rec.hasData() {
			continue
		}
		ts, err := time.Parse("2006-01-02 1504", rec.Date+" "+rec.Hour)
		if err != nil {
			continue
		}
		if latest == nil || ts.After(latestTS) {
			latest = &records[i]
			latestTS = ts
		}
	}
	if latest == nil {
		return weather.Reading{}, malformed(p.name, fmt.Sprintf("station %s returned no usable records", res.Station.ID))
	}

	return weather.Reading{
		Provider:          p.name,
		Timestamp:         latestTS.UTC(),
		Temperature:       latest.Temperature.v,
		Rainfall:          latest.Rainfall.v,
		WindSpeed:         scaled(latest.WindSpeed.v, msToKmh),
		Humidity:          latest.Humidity.v,
		Pressure:          latest.Pressure.v,
		StationID:         res.Station.ID,
		StationFallback:   res.Fallback,
		StationDistanceKm: weather.Float(res.DistanceKm),
	}, nil
}
