package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/i474232898/weather-trigger-oracle/internal/metrics"
	"github.com/i474232898/weather-trigger-oracle/internal/trigger"
	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

var (
	// ErrInvalidSubscription is returned for a non-positive interval, nil callback or empty conditions.
	ErrInvalidSubscription = errors.New("invalid subscription")
	// ErrSubscriptionNotFound is returned for unknown or already stopped handles.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

const defaultPollTimeout = 30 * time.Second

// Handle identifies a subscription. It is opaque to callers.
type Handle string

// State of a subscription. Stopped subscriptions are never revived.
type State string

const (
	StateActive  State = "active"
	StateStopped State = "stopped"
)

// Checker runs one reconcile+evaluate pass for a location on behalf of a policy.
type Checker interface {
	Check(ctx context.Context, policyID string, loc weather.Location, conds trigger.Conditions) (trigger.Result, error)
}

// Alert is delivered to a subscription's callback when its conditions are met.
type Alert struct {
	Handle   Handle           `json:"subscriptionId"`
	PolicyID string           `json:"policyId"`
	Location weather.Location `json:"location"`
	Result   trigger.Result   `json:"result"`
	FiredAt  time.Time        `json:"firedAt"`
}

// Callback receives alerts. It may call Unsubscribe for its own handle.
type Callback func(Alert)

// Info is a read-only view of a subscription.
type Info struct {
	Handle     Handle             `json:"id"`
	PolicyID   string             `json:"policyId"`
	Location   weather.Location   `json:"location"`
	Conditions trigger.Conditions `json:"conditions"`
	Interval   time.Duration      `json:"interval"`
	CreatedAt  time.Time          `json:"createdAt"`
	State      State              `json:"state"`
}

type subscription struct {
	handle     Handle
	policyID   string
	location   weather.Location
	conditions trigger.Conditions
	interval   time.Duration
	callback   Callback
	createdAt  time.Time

	active atomic.Bool
	cancel func()
}

func (s *subscription) info() Info {
	state := StateStopped
	if s.active.Load() {
		state = StateActive
	}
	return Info{
		Handle:     s.handle,
		PolicyID:   s.policyID,
		Location:   s.location,
		Conditions: s.conditions,
		Interval:   s.interval,
		CreatedAt:  s.createdAt,
		State:      state,
	}
}

// Manager owns every monitoring subscription and its polling job.
type Manager struct {
	checker     Checker
	scheduler   Scheduler
	pollTimeout time.Duration

	ctx  context.Context
	stop context.CancelFunc

	mu   sync.Mutex
	subs map[Handle]*subscription
}

// Option configures a Manager.
type Option func(*Manager)

// WithPollTimeout bounds a single poll (all provider calls included).
func WithPollTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollTimeout = d
		}
	}
}

// NewManager creates a Manager polling through checker on scheduler.
func NewManager(checker Checker, scheduler Scheduler, opts ...Option) *Manager {
	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		checker:     checker,
		scheduler:   scheduler,
		pollTimeout: defaultPollTimeout,
		ctx:         ctx,
		stop:        stop,
		subs:        make(map[Handle]*subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe starts monitoring loc for policyID every interval. Subscribing the same
// policy twice creates two independent subscriptions.
func (m *Manager) Subscribe(policyID string, loc weather.Location, conds trigger.Conditions, interval time.Duration, cb Callback) (Handle, error) {
	if interval <= 0 {
		return "", fmt.Errorf("%w: interval must be positive", ErrInvalidSubscription)
	}
	if cb == nil {
		return "", fmt.Errorf("%w: nil callback", ErrInvalidSubscription)
	}
	if err := conds.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}
	if err := loc.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}

	sub := &subscription{
		handle:     Handle(uuid.NewString()),
		policyID:   policyID,
		location:   loc,
		conditions: conds,
		interval:   interval,
		callback:   cb,
		createdAt:  time.Now().UTC(),
	}
	sub.active.Store(true)

	m.mu.Lock()
	defer m.mu.Unlock()

	cancel, err := m.scheduler.Every(interval, func() { m.poll(sub) })
	if err != nil {
		return "", fmt.Errorf("schedule subscription: %w", err)
	}
	sub.cancel = cancel
	m.subs[sub.handle] = sub
	metrics.SetActiveSubscriptions(len(m.subs))

	log.WithFields(log.Fields{
		"subscription": sub.handle,
		"policy":       policyID,
		"location":     loc.Key(),
		"interval":     interval,
	}).Info("monitor: subscription started")

	return sub.handle, nil
}

// Unsubscribe stops the subscription. No poll starts after it returns; a poll already
// in flight may complete, but its callback is suppressed once the stop is observed.
func (m *Manager) Unsubscribe(h Handle) error {
	m.mu.Lock()
	sub, ok := m.subs[h]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, h)
	}
	delete(m.subs, h)
	metrics.SetActiveSubscriptions(len(m.subs))
	m.mu.Unlock()

	sub.active.Store(false)
	sub.cancel()

	log.WithFields(log.Fields{"subscription": h, "policy": sub.policyID}).Info("monitor: subscription stopped")
	return nil
}

// Get returns the subscription behind h.
func (m *Manager) Get(h Handle) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[h]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, h)
	}
	return sub.info(), nil
}

// List returns every active subscription, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, sub.info())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Handle < out[j].Handle
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close stops every subscription and aborts in-flight polls.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[Handle]*subscription)
	metrics.SetActiveSubscriptions(0)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.active.Store(false)
		sub.cancel()
	}
	m.stop()
}

func (m *Manager) poll(sub *subscription) {
	if !sub.active.Load() {
		return
	}

	fields := log.Fields{
		"subscription": sub.handle,
		"policy":       sub.policyID,
		"location":     sub.location.Key(),
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.pollTimeout)
	defer cancel()

	res, err := m.checker.Check(ctx, sub.policyID, sub.location, sub.conditions)
	if err != nil {
		// Transient outages never kill a subscription; the next tick retries.
		metrics.IncTick("skipped")
		log.WithFields(fields).WithError(err).Warn("monitor: poll skipped")
		return
	}
	if !res.Triggered {
		metrics.IncTick("quiet")
		log.WithFields(fields).Debug("monitor: conditions not met")
		return
	}
	if !sub.active.Load() {
		return
	}

	metrics.IncTick("triggered")
	log.WithFields(fields).WithFields(log.Fields{
		"severity": res.Severity,
		"reasons":  res.Reasons,
	}).Info("monitor: trigger fired")

	m.deliver(sub, Alert{
		Handle:   sub.handle,
		PolicyID: sub.policyID,
		Location: sub.location,
		Result:   res,
		FiredAt:  time.Now().UTC(),
	})
}

func (m *Manager) deliver(sub *subscription, alert Alert) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithFields(log.Fields{
				"subscription": sub.handle,
				"policy":       sub.policyID,
				"panic":        rec,
			}).Error("monitor: alert callback panicked")
		}
	}()
	sub.callback(alert)
}
