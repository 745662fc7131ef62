package weather

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

type stubProvider struct {
	name    string
	reading Reading
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Fetch(ctx context.Context, _ Location) (Reading, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Reading{}, ctx.Err()
		}
	}
	if s.err != nil {
		return Reading{}, s.err
	}
	r := s.reading
	r.Provider = s.name
	return r, nil
}

type panicProvider struct{}

func (panicProvider) Name() string { return "panicky" }

func (panicProvider) Fetch(context.Context, Location) (Reading, error) {
	panic("boom")
}

var testLoc = Location{Lat: -23.55, Lon: -46.63, City: "São Paulo", Country: "BR"}

func mustReconciler(t *testing.T, providers ...WeightedProvider) *Reconciler {
	t.Helper()
	r, err := NewReconciler(providers, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r
}

func TestReconcileEqualWeightsAverageTemperature(t *testing.T) {
	a := &stubProvider{name: "a", reading: Reading{Temperature: Float(38)}}
	b := &stubProvider{name: "b", reading: Reading{Temperature: Float(42)}}
	r := mustReconciler(t, WeightedProvider{a, 0.5}, WeightedProvider{b, 0.5})

	got, err := r.Reconcile(context.Background(), testLoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := got.Value(FieldTemperature)
	if !ok || v != 40 {
		t.Fatalf("expected temperature 40, got %v (present=%v)", v, ok)
	}
	if len(got.Sources[FieldTemperature]) != 2 {
		t.Fatalf("expected 2 temperature sources, got %v", got.Sources[FieldTemperature])
	}
}

func TestReconcileExcludesFailedProvider(t *testing.T) {
	a := &stubProvider{name: "a", err: errors.New("connection refused")}
	b := &stubProvider{name: "b", reading: Reading{Rainfall: Float(120)}}
	r := mustReconciler(t, WeightedProvider{a, 0.6}, WeightedProvider{b, 0.4})

	got, err := r.Reconcile(context.Background(), testLoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := got.Value(FieldRainfall)
	if !ok || v != 120 {
		t.Fatalf("expected rainfall 120 from b alone, got %v (present=%v)", v, ok)
	}
	if len(got.Excluded) != 1 || got.Excluded[0].ProviderName != "a" {
		t.Fatalf("expected provider a excluded, got %+v", got.Excluded)
	}
	if _, ok := got.Value(FieldTemperature); ok {
		t.Fatal("temperature should be absent when no provider supplied it")
	}
}

func TestReconcileAllProvidersFail(t *testing.T) {
	a := &stubProvider{name: "a", err: NewProviderError("a", ErrProviderUnavailable, errors.New("timeout"))}
	b := &stubProvider{name: "b", err: NewProviderError("b", ErrMalformedResponse, errors.New("bad json"))}
	r := mustReconciler(t, WeightedProvider{a, 1}, WeightedProvider{b, 1})

	got, err := r.Reconcile(context.Background(), testLoc)
	if !errors.Is(err, ErrNoDataAvailable) {
		t.Fatalf("expected ErrNoDataAvailable, got %v", err)
	}
	var nd *NoDataError
	if !errors.As(err, &nd) || len(nd.Failures) != 2 {
		t.Fatalf("expected NoDataError with 2 failures, got %v", err)
	}
	if got.HasData() {
		t.Fatalf("expected no reading on failure, got %+v", got.Reading)
	}
}

func TestReconcileEmptyReadingCountsAsFailure(t *testing.T) {
	a := &stubProvider{name: "a", reading: Reading{}}
	r := mustReconciler(t, WeightedProvider{a, 1})

	_, err := r.Reconcile(context.Background(), testLoc)
	if !errors.Is(err, ErrNoDataAvailable) {
		t.Fatalf("expected ErrNoDataAvailable, got %v", err)
	}
}

func TestReconcilePanickingProviderIsExcluded(t *testing.T) {
	b := &stubProvider{name: "b", reading: Reading{Humidity: Float(70)}}
	r := mustReconciler(t, WeightedProvider{panicProvider{}, 1}, WeightedProvider{b, 1})

	got, err := r.Reconcile(context.Background(), testLoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Excluded) != 1 || got.Excluded[0].ProviderName != "panicky" {
		t.Fatalf("expected panicky provider excluded, got %+v", got.Excluded)
	}
}

func TestReconcileWeightedAverageOverSubsets(t *testing.T) {
	a := &stubProvider{name: "a", reading: Reading{Temperature: Float(10), WindSpeed: Float(30)}}
	b := &stubProvider{name: "b", reading: Reading{Temperature: Float(20)}}
	c := &stubProvider{name: "c", reading: Reading{Temperature: Float(40), WindSpeed: Float(60)}}
	r := mustReconciler(t, WeightedProvider{a, 0.5}, WeightedProvider{b, 0.3}, WeightedProvider{c, 0.2})

	got, err := r.Reconcile(context.Background(), testLoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantTemp := (10*0.5 + 20*0.3 + 40*0.2) / (0.5 + 0.3 + 0.2)
	if v, _ := got.Value(FieldTemperature); math.Abs(v-wantTemp) > 1e-9 {
		t.Fatalf("temperature: want %v, got %v", wantTemp, v)
	}
	// b has no wind, so only a and c count.
	wantWind := (30*0.5 + 60*0.2) / (0.5 + 0.2)
	if v, _ := got.Value(FieldWindSpeed); math.Abs(v-wantWind) > 1e-9 {
		t.Fatalf("wind: want %v, got %v", wantWind, v)
	}
}

func TestReconcileAllFieldsPresentNeverAbsent(t *testing.T) {
	full := Reading{
		Temperature: Float(25),
		Rainfall:    Float(3),
		WindSpeed:   Float(12),
		Humidity:    Float(60),
		Pressure:    Float(1012),
	}
	a := &stubProvider{name: "a", reading: full}
	b := &stubProvider{name: "b", err: errors.New("down")}
	r := mustReconciler(t, WeightedProvider{a, 1}, WeightedProvider{b, 1})

	got, err := r.Reconcile(context.Background(), testLoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, f := range Fields {
		if _, ok := got.Value(f); !ok {
			t.Errorf("field %s should be present", f)
		}
	}
}

func TestReconcileRunsProvidersConcurrently(t *testing.T) {
	delay := 150 * time.Millisecond
	a := &stubProvider{name: "a", reading: Reading{Temperature: Float(1)}, delay: delay}
	b := &stubProvider{name: "b", reading: Reading{Temperature: Float(2)}, delay: delay}
	c := &stubProvider{name: "c", reading: Reading{Temperature: Float(3)}, delay: delay}
	r := mustReconciler(t, WeightedProvider{a, 1}, WeightedProvider{b, 1}, WeightedProvider{c, 1})

	start := time.Now()
	if _, err := r.Reconcile(context.Background(), testLoc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 3*delay {
		t.Fatalf("expected concurrent fan-out, took %v", elapsed)
	}
}

func TestReconcileMarksDivergentFields(t *testing.T) {
	a := &stubProvider{name: "a", reading: Reading{Rainfall: Float(20)}}
	b := &stubProvider{name: "b", reading: Reading{Rainfall: Float(140)}}
	r, err := NewReconciler(
		[]WeightedProvider{{a, 1}, {b, 1}},
		map[Field]float64{FieldRainfall: 25},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := r.Reconcile(context.Background(), testLoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Divergent) != 1 || got.Divergent[0] != FieldRainfall {
		t.Fatalf("expected rainfall divergent, got %v", got.Divergent)
	}
	// Disagreement softens the average instead of being rejected.
	if v, _ := got.Value(FieldRainfall); v != 80 {
		t.Fatalf("expected averaged rainfall 80, got %v", v)
	}
}

func TestNewReconcilerRejectsInvalidConfiguration(t *testing.T) {
	if _, err := NewReconciler(nil, nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for no providers, got %v", err)
	}
	a := &stubProvider{name: "a"}
	if _, err := NewReconciler([]WeightedProvider{{a, 0}}, nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for zero weight, got %v", err)
	}
}
