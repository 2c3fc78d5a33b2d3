package scheduler

import (
	"context"
	"time"

	"FreshnessTracker/internal/ports"
)

// IntervalPacer sleeps a fixed interval between ticks. The interval is
// measured from the end of the previous tick, so a slow tick delays the next
// one instead of overlapping it.
type IntervalPacer struct {
	interval time.Duration
	location *time.Location
	now      func() time.Time
}

var _ ports.Pacer = (*IntervalPacer)(nil)

// NewIntervalPacer builds a pacer emitting tick times in loc; interval defaults to one second.
func NewIntervalPacer(interval time.Duration, loc *time.Location) *IntervalPacer {
	if interval <= 0 {
		interval = time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	return &IntervalPacer{interval: interval, location: loc, now: time.Now}
}

// Interval returns the configured spacing.
func (p *IntervalPacer) Interval() time.Duration {
	return p.interval
}

// Wait blocks for one interval and returns the wall-clock tick time.
func (p *IntervalPacer) Wait(ctx context.Context) (time.Time, error) {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return p.now().In(p.location), nil
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
}
