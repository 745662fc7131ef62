package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

var saoPaulo = weather.Location{Lat: -23.55, Lon: -46.63, City: "São Paulo", Country: "BR"}

func newServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func cfgFor(srv *httptest.Server, key string) HTTPClientConfig {
	return HTTPClientConfig{
		Client:  &http.Client{Timeout: 2 * time.Second},
		BaseURL: srv.URL,
		APIKey:  key,
	}
}

func mustValue(t *testing.T, r weather.Reading, f weather.Field, want float64) {
	t.Helper()
	got, ok := r.Value(f)
	if !ok {
		t.Fatalf("expected %s to be present", f)
	}
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("%s: expected %v, got %v", f, want, got)
	}
}

func TestOpenWeatherNormalizesPayload(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{
		"dt": 1700000000,
		"main": {"temp": 31.5, "humidity": 70, "pressure": 1009},
		"wind": {"speed": 10}
	}`)
	p := NewOpenWeatherProvider(cfgFor(srv, "key"))

	r, err := p.Fetch(context.Background(), saoPaulo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustValue(t, r, weather.FieldTemperature, 31.5)
	mustValue(t, r, weather.FieldWindSpeed, 36)
	mustValue(t, r, weather.FieldPressure, 1009)
	if _, ok := r.Value(weather.FieldRainfall); ok {
		t.Fatal("rainfall should be absent when the payload has no rain block")
	}
	if !r.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected timestamp %v", r.Timestamp)
	}
}

func TestOpenWeatherRainFallsBackToThreeHours(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"main": {"temp": 20}, "rain": {"3h": 12.5}}`)
	p := NewOpenWeatherProvider(cfgFor(srv, "key"))

	r, err := p.Fetch(context.Background(), saoPaulo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustValue(t, r, weather.FieldRainfall, 12.5)
}

func TestOpenWeatherMissingKey(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{}`)
	p := NewOpenWeatherProvider(cfgFor(srv, ""))

	_, err := p.Fetch(context.Background(), saoPaulo)
	if !errors.Is(err, weather.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestProviderHTTPFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusInternalServerError, `oops`, weather.ErrProviderUnavailable},
		{"rate limited", http.StatusTooManyRequests, `{}`, weather.ErrProviderUnavailable},
		{"unauthorized", http.StatusUnauthorized, `{}`, weather.ErrProviderUnavailable},
		{"bad json", http.StatusOK, `{"current": `, weather.ErrMalformedResponse},
		{"missing block", http.StatusOK, `{"location": {}}`, weather.ErrMalformedResponse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newServer(t, tc.status, tc.body)
			p := NewWeatherAPIProvider(cfgFor(srv, "key"))

			r, err := p.Fetch(context.Background(), saoPaulo)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var pe *weather.ProviderError
			if !errors.As(err, &pe) || pe.Provider != "weatherapi" {
				t.Fatalf("expected ProviderError from weatherapi, got %v", err)
			}
			if r.HasData() {
				t.Fatalf("failed fetch must not return data, got %+v", r)
			}
		})
	}
}

func TestProviderNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewOpenMeteoProvider(HTTPClientConfig{Client: &http.Client{Timeout: time.Second}, BaseURL: url})
	_, err := p.Fetch(context.Background(), saoPaulo)
	if !errors.Is(err, weather.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestWeatherAPINormalizesPayload(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{
		"current": {
			"last_updated_epoch": 1700000000,
			"temp_c": 22.1, "humidity": 88, "wind_kph": 14.4,
			"pressure_mb": 1015, "precip_mm": 4.2
		}
	}`)
	p := NewWeatherAPIProvider(cfgFor(srv, "key"))

	r, err := p.Fetch(context.Background(), saoPaulo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustValue(t, r, weather.FieldTemperature, 22.1)
	mustValue(t, r, weather.FieldRainfall, 4.2)
	mustValue(t, r, weather.FieldWindSpeed, 14.4)
	mustValue(t, r, weather.FieldHumidity, 88)
	mustValue(t, r, weather.FieldPressure, 1015)
}

func TestOpenMeteoNormalizesPayload(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"current": {
			"time": "2024-01-15T15:00",
			"temperature_2m": 29.3, "relative_humidity_2m": 65,
			"precipitation": 0, "wind_speed_10m": 18.7
		}}`))
	}))
	defer srv.Close()

	p := NewOpenMeteoProvider(cfgFor(srv, ""))
	r, err := p.Fetch(context.Background(), saoPaulo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotQuery, "latitude=-23.55") {
		t.Fatalf("expected latitude in query, got %s", gotQuery)
	}
	mustValue(t, r, weather.FieldTemperature, 29.3)
	// A reported zero is a real zero.
	mustValue(t, r, weather.FieldRainfall, 0)
	if _, ok := r.Value(weather.FieldPressure); ok {
		t.Fatal("pressure should be absent")
	}
	want := time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Fatalf("expected timestamp %v, got %v", want, r.Timestamp)
	}
}

const inmetPayload = `[
	{"DT_MEDICAO": "2024-01-15", "HR_MEDICAO": "1300", "TEM_INS": "30.1", "CHUVA": "10.0", "VEN_VEL": "2", "UMD_INS": "70", "PRE_INS": "925.4"},
	{"DT_MEDICAO": "2024-01-15", "HR_MEDICAO": "1400", "TEM_INS": "31.0", "CHUVA": "12.4", "VEN_VEL": "5", "UMD_INS": null, "PRE_INS": 926.1},
	{"DT_MEDICAO": "2024-01-15", "HR_MEDICAO": "1500", "TEM_INS": null, "CHUVA": null, "VEN_VEL": null, "UMD_INS": null, "PRE_INS": null}
]`

func TestINMETResolvesStationByCity(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(inmetPayload))
	}))
	defer srv.Close()

	p := NewINMETProvider(cfgFor(srv, "tok"), nil)
	p.now = func() time.Time { return time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC) }

	loc := weather.Location{Lat: -22.97, Lon: -43.18, City: "rio  de janeiro"}
	r, err := p.Fetch(context.Background(), loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/estacao/2024-01-15/2024-01-15/A652" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
	if r.StationID != "A652" || r.StationFallback {
		t.Fatalf("expected direct resolution to A652, got %s fallback=%v", r.StationID, r.StationFallback)
	}
	// 14:00 is the newest record carrying data; the 15:00 row is all null.
	mustValue(t, r, weather.FieldTemperature, 31)
	mustValue(t, r, weather.FieldRainfall, 12.4)
	mustValue(t, r, weather.FieldWindSpeed, 18)
	mustValue(t, r, weather.FieldPressure, 926.1)
	if _, ok := r.Value(weather.FieldHumidity); ok {
		t.Fatal("humidity should be absent")
	}
	if r.StationDistanceKm == nil || *r.StationDistanceKm > 10 {
		t.Fatalf("expected station within 10km, got %v", r.StationDistanceKm)
	}
}

func TestINMETFallbackStationIsFlagged(t *testing.T) {
	srv := newServer(t, http.StatusOK, inmetPayload)
	p := NewINMETProvider(cfgFor(srv, ""), nil)

	loc := weather.Location{Lat: -20.46, Lon: -54.62, City: "Campo Grande"}
	r, err := p.Fetch(context.Background(), loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.StationFallback || r.StationID != DefaultINMETFallback.ID {
		t.Fatalf("expected fallback to %s, got %s fallback=%v", DefaultINMETFallback.ID, r.StationID, r.StationFallback)
	}
}

func TestINMETNoUsableRecords(t *testing.T) {
	srv := newServer(t, http.StatusOK, `[{"DT_MEDICAO": "2024-01-15", "HR_MEDICAO": "1500", "TEM_INS": null}]`)
	p := NewINMETProvider(cfgFor(srv, ""), nil)

	_, err := p.Fetch(context.Background(), saoPaulo)
	if !errors.Is(err, weather.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestStationTableFoldsAccents(t *testing.T) {
	table := NewStationTable(DefaultINMETStations, DefaultINMETFallback)

	for _, city := range []string{"Brasília", "brasilia", "  BRASILIA "} {
		res := table.Resolve(weather.Location{Lat: -15.79, Lon: -47.93, City: city})
		if res.Fallback || res.Station.ID != "A001" {
			t.Errorf("%q: expected A001, got %s fallback=%v", city, res.Station.ID, res.Fallback)
		}
	}

	res := table.Resolve(weather.Location{Lat: -23.5, Lon: -46.6})
	if !res.Fallback {
		t.Fatal("empty city should resolve by fallback")
	}
}

func TestINMETBreakerIsPerStation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/"+DefaultINMETFallback.ID) {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(inmetPayload))
	}))
	defer srv.Close()

	p := NewINMETProvider(cfgFor(srv, ""), nil)
	p.now = func() time.Time { return time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC) }

	unmapped := weather.Location{Lat: -20.46, Lon: -54.62, City: "Campo Grande"}
	for i := 0; i < 6; i++ {
		if _, err := p.Fetch(context.Background(), unmapped); err == nil {
			t.Fatal("expected fallback station to fail")
		}
	}
	_, err := p.Fetch(context.Background(), unmapped)
	if !errors.Is(err, errCircuitOpen) {
		t.Fatalf("expected fallback breaker to be open, got %v", err)
	}

	rio := weather.Location{Lat: -22.97, Lon: -43.18, City: "Rio de Janeiro"}
	r, err := p.Fetch(context.Background(), rio)
	if err != nil {
		t.Fatalf("other stations must keep working, got %v", err)
	}
	if r.StationID != "A652" {
		t.Fatalf("expected A652, got %s", r.StationID)
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewWeatherAPIProvider(cfgFor(srv, "key"))
	for i := 0; i < 10; i++ {
		_, err := p.Fetch(context.Background(), saoPaulo)
		if !errors.Is(err, errUnexpected) {
			t.Fatalf("call %d: expected unexpected status error, got %v", i, err)
		}
	}
	if calls != 10 {
		t.Fatalf("expected every call to reach the server, got %d", calls)
	}
}

func TestCancelledContextDoesNotTripBreaker(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{}`)
	p := NewOpenMeteoProvider(cfgFor(srv, ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 10; i++ {
		if _, err := p.Fetch(ctx, saoPaulo); errors.Is(err, errCircuitOpen) {
			t.Fatalf("call %d: cancellation opened the breaker", i)
		}
	}
	if got := p.circuit.State(); got != gobreaker.StateClosed {
		t.Fatalf("expected closed breaker, got %s", got)
	}
}

func TestBreakerSuccessClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, true},
		{fmt.Errorf("%w: 404", errUnexpected), true},
		{context.Canceled, true},
		{fmt.Errorf("get: %w", context.DeadlineExceeded), true},
		{fmt.Errorf("%w: 503", errServerError), false},
		{errRateLimited, false},
		{errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := breakerSuccess(tc.err); got != tc.want {
			t.Errorf("breakerSuccess(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
