package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/i474232898/weather-trigger-oracle/internal/metrics"
	"github.com/i474232898/weather-trigger-oracle/internal/monitor"
	"github.com/i474232898/weather-trigger-oracle/internal/store"
	"github.com/i474232898/weather-trigger-oracle/internal/trigger"
	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

var (
	// ErrInvalidRequest is returned for out-of-range coordinates or empty conditions.
	ErrInvalidRequest = errors.New("invalid trigger request")
	// ErrHistoryDisabled is returned by History when no store is configured.
	ErrHistoryDisabled = errors.New("trigger history disabled")
)

// Reconciler produces one consensus reading for a location.
type Reconciler interface {
	Reconcile(ctx context.Context, loc weather.Location) (weather.ReconciledReading, error)
}

// Oracle is the single entry point for one-shot checks and monitoring subscriptions.
type Oracle struct {
	reconciler Reconciler
	evaluator  *trigger.Evaluator
	store      store.Store

	scheduler      monitor.Scheduler
	ownsScheduler  bool
	monitorOptions []monitor.Option
	monitor        *monitor.Manager
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithStore records every check in s.
func WithStore(s store.Store) Option {
	return func(o *Oracle) { o.store = s }
}

// WithScheduler overrides the gocron scheduler used for subscriptions.
func WithScheduler(s monitor.Scheduler) Option {
	return func(o *Oracle) { o.scheduler = s }
}

// WithPollTimeout bounds each subscription poll.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		o.monitorOptions = append(o.monitorOptions, monitor.WithPollTimeout(d))
	}
}

// New assembles an Oracle.
func New(reconciler Reconciler, evaluator *trigger.Evaluator, opts ...Option) (*Oracle, error) {
	if reconciler == nil || evaluator == nil {
		return nil, fmt.Errorf("%w: reconciler and evaluator are required", weather.ErrInvalidConfiguration)
	}

	o := &Oracle{reconciler: reconciler, evaluator: evaluator}
	for _, opt := range opts {
		opt(o)
	}
	if o.scheduler == nil {
		o.scheduler = monitor.NewCronScheduler()
		o.ownsScheduler = true
	}
	o.monitor = monitor.NewManager(checker{o}, o.scheduler, o.monitorOptions...)
	return o, nil
}

// CheckTrigger reconciles the current weather at loc and evaluates it against conds.
// It fails with weather.ErrNoDataAvailable when every provider failed, additionally
// wrapping ctx.Err() when the caller's deadline is what cut the providers off.
func (o *Oracle) CheckTrigger(ctx context.Context, loc weather.Location, conds trigger.Conditions) (trigger.Result, error) {
	if err := validate(loc, conds); err != nil {
		return trigger.Result{}, err
	}
	return o.check(ctx, "", loc, conds)
}

// SubscribeToAlerts polls loc every interval and calls cb each time conds are met.
func (o *Oracle) SubscribeToAlerts(policyID string, loc weather.Location, conds trigger.Conditions, interval time.Duration, cb monitor.Callback) (monitor.Handle, error) {
	return o.monitor.Subscribe(policyID, loc, conds, interval, cb)
}

// UnsubscribeFromAlerts stops a subscription. Unknown handles yield monitor.ErrSubscriptionNotFound.
func (o *Oracle) UnsubscribeFromAlerts(h monitor.Handle) error {
	return o.monitor.Unsubscribe(h)
}

// Subscriptions lists active subscriptions.
func (o *Oracle) Subscriptions() []monitor.Info {
	return o.monitor.List()
}

// Subscription returns one active subscription.
func (o *Oracle) Subscription(h monitor.Handle) (monitor.Info, error) {
	return o.monitor.Get(h)
}

// History returns up to limit recorded checks for loc, newest first.
func (o *Oracle) History(ctx context.Context, loc weather.Location, limit int) ([]store.Record, error) {
	if o.store == nil {
		return nil, ErrHistoryDisabled
	}
	return o.store.Recent(ctx, loc, limit)
}

// LastCheck returns the most recent recorded check for loc.
func (o *Oracle) LastCheck(ctx context.Context, loc weather.Location) (store.Record, error) {
	if o.store == nil {
		return store.Record{}, ErrHistoryDisabled
	}
	return o.store.Latest(ctx, loc)
}

// Close stops every subscription and the scheduler if the Oracle created it.
func (o *Oracle) Close() {
	o.monitor.Close()
	if stopper, ok := o.scheduler.(interface{ Stop() }); ok && o.ownsScheduler {
		stopper.Stop()
	}
}

func validate(loc weather.Location, conds trigger.Conditions) error {
	if err := loc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := conds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func (o *Oracle) check(ctx context.Context, policyID string, loc weather.Location, conds trigger.Conditions) (trigger.Result, error) {
	reading, err := o.reconciler.Reconcile(ctx, loc)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return trigger.Result{}, fmt.Errorf("%w: %w", ctxErr, err)
		}
		return trigger.Result{}, err
	}

	res := o.evaluator.Evaluate(reading, conds)
	metrics.IncEvaluation(res.Triggered, res.Severity.String())

	fields := log.Fields{
		"policy":    policyID,
		"location":  loc.Key(),
		"triggered": res.Triggered,
		"severity":  res.Severity,
		"providers": len(reading.Providers),
	}
	if missing := res.NotEvaluated(); len(missing) > 0 {
		fields["not_evaluated"] = missing
	}
	log.WithFields(fields).Debug("oracle: conditions evaluated")

	if o.store != nil {
		rec := store.Record{PolicyID: policyID, Location: loc, Result: res, CheckedAt: time.Now().UTC()}
		if err := o.store.Save(ctx, rec); err != nil {
			// The audit trail is best effort; the result stands.
			log.WithField("location", loc.Key()).WithError(err).Warn("oracle: failed to record check")
		}
	}
	return res, nil
}

// checker lets the monitor poll through the same pipeline as CheckTrigger.
type checker struct {
	o *Oracle
}

func (c checker) Check(ctx context.Context, policyID string, loc weather.Location, conds trigger.Conditions) (trigger.Result, error) {
	return c.o.check(ctx, policyID, loc, conds)
}
