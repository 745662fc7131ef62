package store

import (
	"context"
	"errors"
	"time"

	"github.com/i474232898/weather-trigger-oracle/internal/trigger"
	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

var (
	// ErrNotFound is returned when no trigger check was recorded for a location.
	ErrNotFound = errors.New("no trigger history for location")
)

// Record is one audited trigger check.
type Record struct {
	PolicyID  string           `json:"policyId,omitempty"`
	Location  weather.Location `json:"location"`
	Result    trigger.Result   `json:"result"`
	CheckedAt time.Time        `json:"checkedAt"`
}

// Store keeps the audit trail of trigger checks, keyed by Location.Key.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Latest(ctx context.Context, loc weather.Location) (Record, error)
	// Recent returns up to limit records, newest first. limit <= 0 means all.
	Recent(ctx context.Context, loc weather.Location, limit int) ([]Record, error)
}
