package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "oracle_"

	ResultSuccess     = "success"
	ResultUnavailable = "unavailable"
	ResultMalformed   = "malformed"
	ResultNoData      = "no_data"
	ResultError       = "error"
)

var (
	registerOnce sync.Once

	providerFetchTotal   *prometheus.CounterVec
	providerFetchLatency *prometheus.HistogramVec

	reconcileTotal *prometheus.CounterVec
	divergentTotal *prometheus.CounterVec

	evaluationsTotal *prometheus.CounterVec

	ticksTotal          *prometheus.CounterVec
	activeSubscriptions prometheus.Gauge

	alertDeliveries *prometheus.CounterVec
)

// Init registers oracle metrics with the default registry.
func Init() {
	registerOnce.Do(func() {
		providerFetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "provider_fetch_total",
				Help: "Total provider fetches by provider and result",
			},
			[]string{"provider", "result"},
		)
		providerFetchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "provider_fetch_latency_seconds",
				Help:    "Provider fetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		)
		reconcileTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_total",
				Help: "Total reconciliation runs by result",
			},
			[]string{"result"},
		)
		divergentTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_divergent_total",
				Help: "Reconciled fields whose provider spread exceeded tolerance",
			},
			[]string{"field"},
		)
		evaluationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "trigger_evaluations_total",
				Help: "Trigger evaluations by outcome and severity",
			},
			[]string{"triggered", "severity"},
		)
		ticksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "subscription_ticks_total",
				Help: "Subscription poll ticks by result",
			},
			[]string{"result"},
		)
		activeSubscriptions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_subscriptions",
				Help: "Currently active monitoring subscriptions",
			},
		)
		alertDeliveries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_deliveries_total",
				Help: "Alert deliveries by sink and result",
			},
			[]string{"sink", "result"},
		)

		prometheus.MustRegister(
			providerFetchTotal,
			providerFetchLatency,
			reconcileTotal,
			divergentTotal,
			evaluationsTotal,
			ticksTotal,
			activeSubscriptions,
			alertDeliveries,
		)
	})
}

// ObserveProviderFetch records a single provider call.
func ObserveProviderFetch(provider, result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if providerFetchTotal != nil {
		providerFetchTotal.WithLabelValues(provider, result).Inc()
	}
	if providerFetchLatency != nil {
		providerFetchLatency.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// IncReconcile counts a reconciliation run.
func IncReconcile(result string) {
	if reconcileTotal != nil {
		reconcileTotal.WithLabelValues(result).Inc()
	}
}

// IncDivergent counts a field that exceeded its tolerance band.
func IncDivergent(field string) {
	if divergentTotal != nil {
		divergentTotal.WithLabelValues(field).Inc()
	}
}

// IncEvaluation counts a trigger evaluation.
func IncEvaluation(triggered bool, severity string) {
	if evaluationsTotal == nil {
		return
	}
	label := "false"
	if triggered {
		label = "true"
	}
	evaluationsTotal.WithLabelValues(label, severity).Inc()
}

// IncTick counts a subscription poll tick.
func IncTick(result string) {
	if ticksTotal != nil {
		ticksTotal.WithLabelValues(result).Inc()
	}
}

// SetActiveSubscriptions reports the registry size.
func SetActiveSubscriptions(n int) {
	if activeSubscriptions != nil {
		activeSubscriptions.Set(float64(n))
	}
}

// IncAlertDelivery counts an alert delivered (or not) to a sink.
func IncAlertDelivery(sink, result string) {
	if alertDeliveries != nil {
		alertDeliveries.WithLabelValues(sink, result).Inc()
	}
}
