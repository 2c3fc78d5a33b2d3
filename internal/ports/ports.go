package ports

import (
	"context"
	"time"

	"FreshnessTracker/internal/domain"
)

// ReadingSink durably appends tick batches (Postgres, InfluxDB, etc.).
type ReadingSink interface {
	InsertBatch(ctx context.Context, rows []domain.Row) error
}

// Broadcaster fans payloads out to live subscribers. Delivery is fire-and-forget.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, payload domain.Payload) error
}

// ReadingHistory answers dashboard queries over persisted readings.
type ReadingHistory interface {
	History(ctx context.Context, patch domain.PatchID, stage domain.Stage) ([]domain.HistoryPoint, error)
	Summary(ctx context.Context) ([]domain.StageSummary, error)
	PatchAverages(ctx context.Context, stage domain.Stage) ([]domain.PatchAverage, error)
}

// Pacer spaces consecutive ticks of the simulation loop. Wait blocks for one
// interval and returns the tick time, or the context error.
type Pacer interface {
	Wait(ctx context.Context) (time.Time, error)
}

// TickObserver receives simulation telemetry.
type TickObserver interface {
	ObserveTick(stages, samples, failures int, elapsed time.Duration)
	ObservePersist(rows int, err error)
	ObserveBroadcast(published, failed int)
	SetActiveStages(n int)
}
