package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/ports"
)

// Target is one named broadcaster inside a Fanout.
type Target struct {
	Name        string
	Broadcaster ports.Broadcaster
}

// Fanout publishes every payload to all targets. One target failing does not
// stop delivery to the others.
type Fanout struct {
	targets []Target
}

var _ ports.Broadcaster = (*Fanout)(nil)

// NewFanout skips targets without a broadcaster.
func NewFanout(targets ...Target) *Fanout {
	f := &Fanout{}
	for _, t := range targets {
		if t.Broadcaster != nil {
			f.targets = append(f.targets, t)
		}
	}
	return f
}

// Len reports how many targets are wired.
func (f *Fanout) Len() int {
	return len(f.targets)
}

// Names lists the wired targets in order.
func (f *Fanout) Names() []string {
	names := make([]string, 0, len(f.targets))
	for _, t := range f.targets {
		names = append(names, t.Name)
	}
	return names
}

// Publish hands the payload to every target concurrently and waits for all of
// them, so a slow target delays the call but never the other targets.
func (f *Fanout) Publish(ctx context.Context, topic string, payload domain.Payload) error {
	if len(f.targets) == 1 {
		t := f.targets[0]
		if err := t.Broadcaster.Publish(ctx, topic, payload); err != nil {
			return fmt.Errorf("%s: %w", t.Name, err)
		}
		return nil
	}

	errs := make([]error, len(f.targets))
	var wg sync.WaitGroup
	for i, t := range f.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.Broadcaster.Publish(ctx, topic, payload); err != nil {
				errs[i] = fmt.Errorf("%s: %w", t.Name, err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close closes every target that holds a connection.
func (f *Fanout) Close() error {
	var errs []error
	for _, t := range f.targets {
		if c, ok := t.Broadcaster.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", t.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}
