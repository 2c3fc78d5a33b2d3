package usecase

import (
	"context"
	"sync"
	"time"

	"FreshnessTracker/internal/domain"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]domain.Row
	fail    func(call int) error
}

func (s *recordingSink) InsertBatch(_ context.Context, rows []domain.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := len(s.batches)
	s.batches = append(s.batches, append([]domain.Row(nil), rows...))
	if s.fail != nil {
		return s.fail(call)
	}
	return nil
}

func (s *recordingSink) Batches() [][]domain.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]domain.Row(nil), s.batches...)
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	topics   []string
	payloads []domain.Payload
}

func (b *recordingBroadcaster) Publish(_ context.Context, topic string, payload domain.Payload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *recordingBroadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payloads)
}

// manualPacer releases one tick per value sent on ticks.
type manualPacer struct {
	ticks chan time.Time
}

func newManualPacer() *manualPacer {
	return &manualPacer{ticks: make(chan time.Time, 16)}
}

func (p *manualPacer) Wait(ctx context.Context) (time.Time, error) {
	select {
	case at := <-p.ticks:
		return at, nil
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
}

func (s *Simulation) isLoopAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopAlive
}

func (s *Simulation) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawned
}

func stagesOf(rows []domain.Row) map[domain.Stage]int {
	out := map[domain.Stage]int{}
	for _, r := range rows {
		out[r.Stage]++
	}
	return out
}

// activeLog records every active-set size the simulation reports. The calls
// happen under the simulation lock, so the slice is the applied order.
type activeLog struct {
	mu    sync.Mutex
	sizes []int
}

func (l *activeLog) ObserveTick(int, int, int, time.Duration) {}
func (l *activeLog) ObservePersist(int, error)                {}
func (l *activeLog) ObserveBroadcast(int, int)                {}

func (l *activeLog) SetActiveStages(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sizes = append(l.sizes, n)
}

func (l *activeLog) Sizes() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.sizes...)
}
