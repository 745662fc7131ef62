package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/weather-trigger-oracle/internal/trigger"
	"github.com/i474232898/weather-trigger-oracle/internal/weather"
	"github.com/i474232898/weather-trigger-oracle/internal/weather/providers"
)

// ProviderConfig is the per-provider section of the YAML file.
type ProviderConfig struct {
	Enabled *bool   `yaml:"enabled"`
	Weight  float64 `yaml:"weight"`
	BaseURL string  `yaml:"base_url"`
}

// ProviderSettings is the resolved configuration of one enabled provider.
type ProviderSettings struct {
	Name    string
	Weight  float64
	BaseURL string
	APIKey  string
}

// WatchPolicy is a subscription created at startup.
type WatchPolicy struct {
	ID         string             `yaml:"id"`
	Location   WatchLocation      `yaml:"location"`
	Conditions trigger.Conditions `yaml:"conditions"`
	Interval   time.Duration      `yaml:"interval"`
	Webhook    string             `yaml:"webhook"`
}

// WatchLocation is a location in the YAML file.
type WatchLocation struct {
	Lat     float64 `yaml:"lat"`
	Lon     float64 `yaml:"lon"`
	City    string  `yaml:"city"`
	Country string  `yaml:"country"`
}

// Location converts to the domain type.
func (w WatchLocation) Location() weather.Location {
	return weather.Location{Lat: w.Lat, Lon: w.Lon, City: w.City, Country: w.Country}
}

// FileConfig mirrors the optional YAML file named by ORACLE_CONFIG.
type FileConfig struct {
	Providers map[string]ProviderConfig             `yaml:"providers"`
	Tolerance map[weather.Field]float64             `yaml:"tolerance"`
	Severity  map[weather.Field]trigger.Breakpoints `yaml:"severity"`
	Watch     []WatchPolicy                         `yaml:"watch"`
}

type AppConfig struct {
	// Provider credentials.
	OpenWeatherAPIKey string
	WeatherAPIKey     string
	OpenMeteoAPIKey   string
	INMETToken        string

	// HTTPTimeout bounds every outbound provider call.
	HTTPTimeout time.Duration
	// PollTimeout bounds one subscription poll.
	PollTimeout time.Duration

	Providers []ProviderSettings
	Tolerance map[weather.Field]float64
	Severity  trigger.SeverityTable
	Watch     []WatchPolicy

	// Audit store retention.
	StoreMaxHistory int           // max number of records per location (0 = unlimited)
	StoreMaxAge     time.Duration // max age of records (0 = unlimited)
	RedisURL        string        // empty = in-memory store

	// Alert delivery.
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	MQTTTopic    string
	WebhookURL   string // default sink for watch policies without their own

	GeocoderAPIKey string

	LogLevel string
	Port     string
}

var defaultWeights = map[string]float64{
	providers.NameOpenWeather: 1,
	providers.NameWeatherAPI:  1,
	providers.NameOpenMeteo:   1,
	providers.NameINMET:       1.5,
}

// Load reads configuration from the environment and the optional YAML file.
// Invalid settings fail fast with weather.ErrInvalidConfiguration.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Debugf("config: no .env file loaded: %v", err)
	}
	cfg := &AppConfig{}

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.WeatherAPIKey = os.Getenv("WEATHERAPI_API_KEY")
	cfg.OpenMeteoAPIKey = os.Getenv("OPENMETEO_API_KEY")
	cfg.INMETToken = os.Getenv("INMET_TOKEN")
	cfg.GeocoderAPIKey = os.Getenv("GOOGLE_GEOCODING_API_KEY")

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.PollTimeout, err = getenvDuration("POLL_TIMEOUT", "30s"); err != nil {
		return nil, err
	}

	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 500)
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "168h"); err != nil {
		return nil, err
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.MQTTBroker = os.Getenv("MQTT_BROKER")
	cfg.MQTTClientID = getenvDefault("MQTT_CLIENT_ID", "weather-oracle")
	cfg.MQTTUsername = os.Getenv("MQTT_USERNAME")
	cfg.MQTTPassword = os.Getenv("MQTT_PASSWORD")
	cfg.MQTTTopic = getenvDefault("MQTT_TOPIC", "oracle/alerts/{policy_id}")
	cfg.WebhookURL = os.Getenv("ALERT_WEBHOOK_URL")

	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.Port = getenvDefault("PORT", "8080")

	var file FileConfig
	if path := os.Getenv("ORACLE_CONFIG"); path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		file = *f
	}

	if err := cfg.apply(file); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses the YAML file at path.
func LoadFile(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", weather.ErrInvalidConfiguration, path, err)
	}
	return ParseFile(raw)
}

// ParseFile parses YAML configuration.
func ParseFile(raw []byte) (*FileConfig, error) {
	var f FileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", weather.ErrInvalidConfiguration, err)
	}
	return &f, nil
}

func (cfg *AppConfig) apply(file FileConfig) error {
	keys := map[string]string{
		providers.NameOpenWeather: cfg.OpenWeatherAPIKey,
		providers.NameWeatherAPI:  cfg.WeatherAPIKey,
		providers.NameOpenMeteo:   cfg.OpenMeteoAPIKey,
		providers.NameINMET:       cfg.INMETToken,
	}

	for name := range file.Providers {
		if _, ok := defaultWeights[name]; !ok {
			return fmt.Errorf("%w: unknown provider %q", weather.ErrInvalidConfiguration, name)
		}
	}

	names := make([]string, 0, len(defaultWeights))
	for name := range defaultWeights {
		names = append(names, name)
	}
	sort.Strings(names)

	cfg.Providers = nil
	for _, name := range names {
		pc := file.Providers[name]
		// Key-based providers are enabled by default only when their key is set.
		enabled := keys[name] != "" || !requiresKey(name)
		if pc.Enabled != nil {
			enabled = *pc.Enabled
		}
		if !enabled {
			continue
		}
		if requiresKey(name) && keys[name] == "" {
			return fmt.Errorf("%w: provider %s enabled without credentials", weather.ErrInvalidConfiguration, name)
		}

		weight := defaultWeights[name]
		if pc.Weight != 0 {
			weight = pc.Weight
		}
		if weight <= 0 {
			return fmt.Errorf("%w: provider %s weight must be positive, got %v", weather.ErrInvalidConfiguration, name, weight)
		}

		baseURL := pc.BaseURL
		if env := os.Getenv(strings.ToUpper(name) + "_BASE_URL"); env != "" {
			baseURL = env
		}

		cfg.Providers = append(cfg.Providers, ProviderSettings{
			Name:    name,
			Weight:  weight,
			BaseURL: baseURL,
			APIKey:  keys[name],
		})
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("%w: no weather providers enabled", weather.ErrInvalidConfiguration)
	}

	cfg.Tolerance = map[weather.Field]float64{}
	for f, v := range file.Tolerance {
		if !knownField(f) {
			return fmt.Errorf("%w: unknown tolerance field %q", weather.ErrInvalidConfiguration, f)
		}
		if v < 0 {
			return fmt.Errorf("%w: tolerance for %s must not be negative", weather.ErrInvalidConfiguration, f)
		}
		cfg.Tolerance[f] = v
	}

	cfg.Severity = trigger.DefaultSeverityTable()
	for f, bp := range file.Severity {
		if !knownField(f) {
			return fmt.Errorf("%w: unknown severity field %q", weather.ErrInvalidConfiguration, f)
		}
		cfg.Severity[f] = bp
	}
	if err := cfg.Severity.Validate(); err != nil {
		return err
	}

	seen := map[string]bool{}
	for i, w := range file.Watch {
		if w.ID == "" {
			return fmt.Errorf("%w: watch[%d] has no id", weather.ErrInvalidConfiguration, i)
		}
		if seen[w.ID] {
			log.WithField("policy", w.ID).Warn("config: duplicate watch policy id")
		}
		seen[w.ID] = true
		if w.Interval <= 0 {
			return fmt.Errorf("%w: watch %s interval must be positive", weather.ErrInvalidConfiguration, w.ID)
		}
		if err := w.Location.Location().Validate(); err != nil {
			return fmt.Errorf("%w: watch %s: %v", weather.ErrInvalidConfiguration, w.ID, err)
		}
		if err := w.Conditions.Validate(); err != nil {
			return fmt.Errorf("%w: watch %s: %v", weather.ErrInvalidConfiguration, w.ID, err)
		}
	}
	cfg.Watch = file.Watch

	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: LOG_LEVEL: %v", weather.ErrInvalidConfiguration, err)
	}
	return nil
}

func knownField(f weather.Field) bool {
	for _, k := range weather.Fields {
		if k == f {
			return true
		}
	}
	return false
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s: %v", weather.ErrInvalidConfiguration, key, err)
	}
	return d, nil
}

// requiresKey reports whether a provider cannot be called without an API key.
func requiresKey(name string) bool {
	return name == providers.NameOpenWeather || name == providers.NameWeatherAPI
}
