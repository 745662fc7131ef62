package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/i474232898/weather-trigger-oracle/internal/common"
	"github.com/i474232898/weather-trigger-oracle/internal/geocode"
	"github.com/i474232898/weather-trigger-oracle/internal/monitor"
	"github.com/i474232898/weather-trigger-oracle/internal/notify"
	"github.com/i474232898/weather-trigger-oracle/internal/oracle"
	"github.com/i474232898/weather-trigger-oracle/internal/store"
	"github.com/i474232898/weather-trigger-oracle/internal/trigger"
	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

var validate = validator.New()

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Oracle *oracle.Oracle
	// Providers are reported by /health.
	Providers []string
	// Geocoder resolves requests that name a city instead of coordinates. Optional.
	Geocoder geocode.Geocoder
	// AlertSink receives alerts of every API subscription, e.g. MQTT. Optional.
	AlertSink notify.Sink
	// DeliveryTimeout bounds one alert delivery.
	DeliveryTimeout time.Duration
	// CheckTimeout bounds a one-shot trigger check. Zero means no deadline.
	CheckTimeout time.Duration
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	h := &handlers{deps: deps}

	app.Get("/health", h.health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1")
	v1.Post("/triggers/check", h.checkTrigger)
	v1.Get("/triggers/history", h.history)
	v1.Get("/triggers/latest", h.latest)

	v1.Post("/subscriptions", h.subscribe)
	v1.Get("/subscriptions", h.listSubscriptions)
	v1.Get("/subscriptions/:id", h.getSubscription)
	v1.Delete("/subscriptions/:id", h.unsubscribe)
}

type handlers struct {
	deps Deps
}

// locationRequest identifies a location by coordinates or, with a geocoder, by city.
type locationRequest struct {
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	City    string   `json:"city" validate:"max=128"`
	Country string   `json:"country" validate:"max=64"`
}

type checkRequest struct {
	Location   locationRequest    `json:"location"`
	Conditions trigger.Conditions `json:"conditions"`
}

type subscribeRequest struct {
	PolicyID        string             `json:"policyId" validate:"required,max=128"`
	Location        locationRequest    `json:"location"`
	Conditions      trigger.Conditions `json:"conditions"`
	IntervalSeconds int                `json:"intervalSeconds" validate:"required,min=1,max=86400"`
	WebhookURL      string             `json:"webhookUrl" validate:"omitempty,url"`
}

func (h *handlers) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":        "ok",
		"service":       "weather-oracle",
		"providers":     h.deps.Providers,
		"subscriptions": len(h.deps.Oracle.Subscriptions()),
	})
}

func (h *handlers) checkTrigger(c *fiber.Ctx) error {
	var req checkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	loc, err := h.resolveLocation(c.UserContext(), req.Location)
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	if h.deps.CheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.deps.CheckTimeout)
		defer cancel()
	}

	res, err := h.deps.Oracle.CheckTrigger(ctx, loc, req.Conditions)
	if err != nil {
		return checkError(err)
	}
	return c.JSON(res)
}

func (h *handlers) history(c *fiber.Ctx) error {
	loc, err := queryLocation(c)
	if err != nil {
		return err
	}
	limit := defaultHistoryLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxHistoryLimit {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit))
		}
		limit = n
	}

	recs, err := h.deps.Oracle.History(c.UserContext(), loc, limit)
	if err != nil {
		return historyError(loc, err)
	}

	return c.JSON(fiber.Map{
		"location": loc,
		"records":  recs,
	})
}

func (h *handlers) latest(c *fiber.Ctx) error {
	loc, err := queryLocation(c)
	if err != nil {
		return err
	}
	rec, err := h.deps.Oracle.LastCheck(c.UserContext(), loc)
	if err != nil {
		return historyError(loc, err)
	}
	return c.JSON(rec)
}

// queryLocation reads the required lat and lon query parameters.
func queryLocation(c *fiber.Ctx) (weather.Location, error) {
	lat, err := common.ParseOptionalFloat(c.Query("lat"))
	if err != nil || lat == nil {
		return weather.Location{}, fiber.NewError(fiber.StatusBadRequest, "lat query parameter is required")
	}
	lon, err := common.ParseOptionalFloat(c.Query("lon"))
	if err != nil || lon == nil {
		return weather.Location{}, fiber.NewError(fiber.StatusBadRequest, "lon query parameter is required")
	}
	loc := weather.Location{Lat: *lat, Lon: *lon}
	if err := loc.Validate(); err != nil {
		return weather.Location{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return loc, nil
}

func historyError(loc weather.Location, err error) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, oracle.ErrHistoryDisabled) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	log.WithField("location", loc.Key()).WithError(err).Error("api: history lookup failed")
	return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch trigger history")
}

func (h *handlers) subscribe(c *fiber.Ctx) error {
	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	var webhook notify.Sink
	if req.WebhookURL != "" {
		w, err := notify.NewWebhookSink(req.WebhookURL, h.deps.DeliveryTimeout)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		webhook = w
	}
	sinks := notify.NewMulti(webhook, h.deps.AlertSink)
	if sinks.Len() == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "webhookUrl is required when no alert broker is configured")
	}

	loc, err := h.resolveLocation(c.UserContext(), req.Location)
	if err != nil {
		return err
	}

	interval := time.Duration(req.IntervalSeconds) * time.Second
	handle, err := h.deps.Oracle.SubscribeToAlerts(req.PolicyID, loc, req.Conditions, interval, notify.Callback(sinks, h.deps.DeliveryTimeout))
	if err != nil {
		if errors.Is(err, monitor.ErrInvalidSubscription) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to create subscription")
	}

	info, err := h.deps.Oracle.Subscription(handle)
	if err != nil {
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": handle})
	}
	return c.Status(fiber.StatusCreated).JSON(info)
}

func (h *handlers) listSubscriptions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"subscriptions": h.deps.Oracle.Subscriptions()})
}

func (h *handlers) getSubscription(c *fiber.Ctx) error {
	info, err := h.deps.Oracle.Subscription(monitor.Handle(c.Params("id")))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return c.JSON(info)
}

func (h *handlers) unsubscribe(c *fiber.Ctx) error {
	if err := h.deps.Oracle.UnsubscribeFromAlerts(monitor.Handle(c.Params("id"))); err != nil {
		if errors.Is(err, monitor.ErrSubscriptionNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to stop subscription")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) resolveLocation(ctx context.Context, req locationRequest) (weather.Location, error) {
	if req.Lat != nil && req.Lon != nil {
		return weather.Location{Lat: *req.Lat, Lon: *req.Lon, City: req.City, Country: req.Country}, nil
	}
	if req.Lat != nil || req.Lon != nil {
		return weather.Location{}, fiber.NewError(fiber.StatusBadRequest, "lat and lon must be given together")
	}
	if h.deps.Geocoder == nil {
		return weather.Location{}, fiber.NewError(fiber.StatusBadRequest, "lat and lon are required")
	}
	loc, err := h.deps.Geocoder.Resolve(ctx, req.City, req.Country)
	if err != nil {
		if errors.Is(err, geocode.ErrNotFound) {
			return weather.Location{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return weather.Location{}, fiber.NewError(fiber.StatusBadGateway, "geocoding failed")
	}
	return loc, nil
}

func checkError(err error) error {
	switch {
	case errors.Is(err, oracle.ErrInvalidRequest):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, "weather providers timed out")
	case errors.Is(err, weather.ErrNoDataAvailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		log.WithError(err).Error("api: trigger check failed")
		return fiber.NewError(fiber.StatusInternalServerError, "failed to check trigger")
	}
}
