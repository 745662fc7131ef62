package notify

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/i474232898/weather-trigger-oracle/internal/metrics"
	"github.com/i474232898/weather-trigger-oracle/internal/monitor"
)

const defaultDeliveryTimeout = 15 * time.Second

// Sink delivers fired alerts somewhere outside the process.
type Sink interface {
	Name() string
	Send(ctx context.Context, alert monitor.Alert) error
}

// Multi dispatches alerts to several sinks.
type Multi struct {
	sinks []Sink
}

// NewMulti constructs a Multi, skipping nil sinks.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Name implements Sink.
func (m *Multi) Name() string { return "multi" }

// Len returns the number of sinks.
func (m *Multi) Len() int {
	if m == nil {
		return 0
	}
	return len(m.sinks)
}

// Send forwards the alert to every sink; one failing sink does not stop the others.
func (m *Multi) Send(ctx context.Context, alert monitor.Alert) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Callback adapts a sink to a monitor callback. Delivery is bounded by timeout
// and failures are logged; they never affect the subscription.
func Callback(sink Sink, timeout time.Duration) monitor.Callback {
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	return func(alert monitor.Alert) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		fields := log.Fields{
			"sink":         sink.Name(),
			"subscription": alert.Handle,
			"policy":       alert.PolicyID,
		}
		if err := sink.Send(ctx, alert); err != nil {
			metrics.IncAlertDelivery(sink.Name(), metrics.ResultError)
			log.WithFields(fields).WithError(err).Error("notify: alert delivery failed")
			return
		}
		metrics.IncAlertDelivery(sink.Name(), metrics.ResultSuccess)
		log.WithFields(fields).Debug("notify: alert delivered")
	}
}
