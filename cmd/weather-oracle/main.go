package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	log "github.com/sirupsen/logrus"

	httpapi "github.com/i474232898/weather-trigger-oracle/internal/api/http"
	"github.com/i474232898/weather-trigger-oracle/internal/config"
	"github.com/i474232898/weather-trigger-oracle/internal/geocode"
	"github.com/i474232898/weather-trigger-oracle/internal/metrics"
	"github.com/i474232898/weather-trigger-oracle/internal/monitor"
	"github.com/i474232898/weather-trigger-oracle/internal/notify"
	"github.com/i474232898/weather-trigger-oracle/internal/oracle"
	"github.com/i474232898/weather-trigger-oracle/internal/scheduler"
	"github.com/i474232898/weather-trigger-oracle/internal/store"
	"github.com/i474232898/weather-trigger-oracle/internal/trigger"
	"github.com/i474232898/weather-trigger-oracle/internal/weather"
	"github.com/i474232898/weather-trigger-oracle/internal/weather/providers"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	metrics.Init()

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Providers with a circuit breaker each; failures are excluded, never retried.
	weighted := make([]weather.WeightedProvider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		weighted = append(weighted, weather.WeightedProvider{
			Provider: buildProvider(p, httpClient),
			Weight:   p.Weight,
		})
	}

	reconciler, err := weather.NewReconciler(weighted, cfg.Tolerance)
	if err != nil {
		log.WithError(err).Fatal("failed to build reconciler")
	}
	evaluator, err := trigger.NewEvaluator(cfg.Severity)
	if err != nil {
		log.WithError(err).Fatal("failed to build evaluator")
	}

	auditStore, err := buildStore(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to build audit store")
	}

	cronScheduler := monitor.NewCronScheduler()
	defer cronScheduler.Stop()

	oc, err := oracle.New(reconciler, evaluator,
		oracle.WithStore(auditStore),
		oracle.WithScheduler(cronScheduler),
		oracle.WithPollTimeout(cfg.PollTimeout),
	)
	if err != nil {
		log.WithError(err).Fatal("failed to build oracle")
	}
	defer oc.Close()

	// Broker sink shared by every subscription, if configured.
	var brokerSink notify.Sink
	if cfg.MQTTBroker != "" {
		mqttSink, err := notify.NewMQTTSink(notify.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
		})
		if err != nil {
			log.WithError(err).Fatal("failed to connect alert broker")
		}
		defer mqttSink.Close()
		brokerSink = mqttSink
	}

	var geo geocode.Geocoder
	if g, err := geocode.NewGoogle(cfg.GeocoderAPIKey); err == nil {
		geo = g
	} else if !errors.Is(err, geocode.ErrDisabled) {
		log.WithError(err).Fatal("failed to build geocoder")
	}

	// Watch list from the config file.
	policies, err := buildPolicies(cfg, brokerSink)
	if err != nil {
		log.WithError(err).Fatal("failed to build watch list")
	}
	sched := scheduler.New(policies, oc)
	if err := sched.Start(); err != nil {
		log.WithError(err).Fatal("failed to start scheduler")
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-oracle",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.PollTimeout + 5*time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Oracle:          oc,
		Providers:       reconciler.Providers(),
		Geocoder:        geo,
		AlertSink:       brokerSink,
		DeliveryTimeout: cfg.HTTPTimeout,
		CheckTimeout:    cfg.PollTimeout,
	})

	go func() {
		log.WithFields(log.Fields{
			"port":      cfg.Port,
			"providers": reconciler.Providers(),
		}).Info("weather oracle listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.WithError(err).Error("fiber server stopped")
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Error("error during shutdown")
	}
}

func buildProvider(p config.ProviderSettings, client *http.Client) weather.Provider {
	hc := providers.HTTPClientConfig{Client: client, BaseURL: p.BaseURL, APIKey: p.APIKey}
	switch p.Name {
	case providers.NameOpenWeather:
		return providers.NewOpenWeatherProvider(hc)
	case providers.NameWeatherAPI:
		return providers.NewWeatherAPIProvider(hc)
	case providers.NameOpenMeteo:
		return providers.NewOpenMeteoProvider(hc)
	case providers.NameINMET:
		return providers.NewINMETProvider(hc, nil)
	}
	log.WithField("provider", p.Name).Fatal("unknown provider")
	return nil
}

func buildStore(cfg *config.AppConfig) (store.Store, error) {
	if cfg.RedisURL == "" {
		return store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge), nil
	}
	rs, err := store.NewRedisStore(cfg.RedisURL, cfg.StoreMaxHistory, cfg.StoreMaxAge)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		return nil, err
	}
	return rs, nil
}

func buildPolicies(cfg *config.AppConfig, brokerSink notify.Sink) ([]scheduler.Policy, error) {
	policies := make([]scheduler.Policy, 0, len(cfg.Watch))
	for _, w := range cfg.Watch {
		var webhook notify.Sink
		if target := firstNonEmpty(w.Webhook, cfg.WebhookURL); target != "" {
			sink, err := notify.NewWebhookSink(target, cfg.HTTPTimeout)
			if err != nil {
				return nil, err
			}
			webhook = sink
		}
		sinks := notify.NewMulti(webhook, brokerSink)
		if sinks.Len() == 0 {
			log.WithField("policy", w.ID).Warn("watch policy has no alert sink; alerts are only logged")
		}

		policies = append(policies, scheduler.Policy{
			ID:         w.ID,
			Location:   w.Location.Location(),
			Conditions: w.Conditions,
			Interval:   w.Interval,
			Callback:   notify.Callback(sinks, cfg.HTTPTimeout),
		})
	}
	return policies, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
