package scheduler

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/i474232898/weather-trigger-oracle/internal/monitor"
	"github.com/i474232898/weather-trigger-oracle/internal/trigger"
	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

// Subscriber is the part of the oracle the scheduler drives.
type Subscriber interface {
	SubscribeToAlerts(policyID string, loc weather.Location, conds trigger.Conditions, interval time.Duration, cb monitor.Callback) (monitor.Handle, error)
	UnsubscribeFromAlerts(h monitor.Handle) error
}

// Policy is a watch-list entry monitored for the lifetime of the process.
type Policy struct {
	ID         string
	Location   weather.Location
	Conditions trigger.Conditions
	Interval   time.Duration
	Callback   monitor.Callback
}

// Scheduler subscribes the configured watch list at startup and tears it down on Stop.
type Scheduler struct {
	subscriber Subscriber
	policies   []Policy

	mu      sync.Mutex
	handles []monitor.Handle
}

// New creates a new Scheduler.
func New(policies []Policy, subscriber Subscriber) *Scheduler {
	return &Scheduler{
		subscriber: subscriber,
		policies:   policies,
	}
}

// Start subscribes every policy. On failure the policies already started are stopped.
func (s *Scheduler) Start() error {
	if len(s.policies) == 0 {
		log.Info("scheduler: no watch policies configured; nothing to schedule")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.policies {
		h, err := s.subscriber.SubscribeToAlerts(p.ID, p.Location, p.Conditions, p.Interval, p.Callback)
		if err != nil {
			s.stopLocked()
			return fmt.Errorf("scheduler: watch policy %s: %w", p.ID, err)
		}
		s.handles = append(s.handles, h)
	}

	log.WithField("policies", len(s.handles)).Info("scheduler: watch list scheduled")
	return nil
}

// Handles returns the subscriptions started by Start.
func (s *Scheduler) Handles() []monitor.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]monitor.Handle(nil), s.handles...)
}

// Stop unsubscribes every watch policy.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	for _, h := range s.handles {
		if err := s.subscriber.UnsubscribeFromAlerts(h); err != nil {
			log.WithField("subscription", h).WithError(err).Debug("scheduler: unsubscribe failed")
		}
	}
	s.handles = nil
}
