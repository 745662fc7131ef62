package providers

import (
	"strings"
	"unicode"

	"github.com/golang/geo/s2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

const earthRadiusKm = 6371.0088

// Station is a physical observation station of a station-based provider.
type Station struct {
	ID   string
	Name string
	Lat  float64
	Lon  float64
}

// StationResolution is the outcome of mapping a Location onto a Station.
type StationResolution struct {
	Station    Station
	Fallback   bool
	DistanceKm float64
}

// StationTable maps cities onto stations, falling back to a designated default.
type StationTable struct {
	byCity   map[string]Station
	fallback Station
}

// NewStationTable builds a lookup table keyed by accent-folded, lower-cased city name.
func NewStationTable(cities map[string]Station, fallback Station) *StationTable {
	t := &StationTable{
		byCity:   make(map[string]Station, len(cities)),
		fallback: fallback,
	}
	for city, st := range cities {
		t.byCity[normalizeCity(city)] = st
	}
	return t
}

// Resolve returns the station for loc.City, or the fallback station flagged as such.
func (t *StationTable) Resolve(loc weather.Location) StationResolution {
	st, ok := t.byCity[normalizeCity(loc.City)]
	res := StationResolution{Station: st}
	if !ok || loc.City == "" {
		res = StationResolution{Station: t.fallback, Fallback: true}
	}
	res.DistanceKm = distanceKm(loc.Lat, loc.Lon, res.Station.Lat, res.Station.Lon)
	return res
}

func distanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * earthRadiusKm
}

// normalizeCity folds "São Paulo" and "sao  paulo" to the same key.
func normalizeCity(city string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, city)
	if err != nil {
		folded = city
	}
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}

// INMET automatic stations for the main Brazilian capitals.
var (
	stationSaoPaulo = Station{ID: "A701", Name: "São Paulo - Mirante", Lat: -23.4963, Lon: -46.6200}

	DefaultINMETStations = map[string]Station{
		"São Paulo":      stationSaoPaulo,
		"Rio de Janeiro": {ID: "A652", Name: "Rio de Janeiro - Forte de Copacabana", Lat: -22.9883, Lon: -43.1903},
		"Brasília":       {ID: "A001", Name: "Brasília", Lat: -15.7893, Lon: -47.9258},
		"Belo Horizonte": {ID: "A521", Name: "Belo Horizonte - Pampulha", Lat: -19.8839, Lon: -43.9694},
		"Porto Alegre":   {ID: "A801", Name: "Porto Alegre - Jardim Botânico", Lat: -30.0535, Lon: -51.1748},
		"Curitiba":       {ID: "A807", Name: "Curitiba", Lat: -25.4486, Lon: -49.2306},
		"Salvador":       {ID: "A401", Name: "Salvador - Ondina", Lat: -13.0055, Lon: -38.5058},
		"Fortaleza":      {ID: "A305", Name: "Fortaleza", Lat: -3.8157, Lon: -38.5378},
		"Recife":         {ID: "A301", Name: "Recife", Lat: -8.0592, Lon: -34.9592},
		"Manaus":         {ID: "A101", Name: "Manaus", Lat: -3.1037, Lon: -60.0156},
	}

	DefaultINMETFallback = stationSaoPaulo
)
