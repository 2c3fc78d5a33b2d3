package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/freshness"
	"FreshnessTracker/internal/sensor"
)

// DefaultWorkers bounds per-tick parallelism independent of the work size.
const DefaultWorkers = 20

// Evaluator produces the scored sample of one (stage, patch) pair at a tick.
type Evaluator func(stage domain.Stage, at time.Time, patch domain.PatchID) (domain.Sample, error)

// Evaluate generates and scores one reading.
func Evaluate(stage domain.Stage, at time.Time, patch domain.PatchID) (domain.Sample, error) {
	reading := sensor.Generate(stage, at, patch)
	score := freshness.Score(stage, reading)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return domain.Sample{}, fmt.Errorf("non-finite freshness %v", score)
	}

	return domain.Sample{
		Time:      at,
		PatchID:   patch,
		Stage:     stage,
		Reading:   reading,
		Freshness: score,
	}, nil
}

// ItemError describes a work item excluded from its tick.
type ItemError struct {
	Stage   domain.Stage
	PatchID domain.PatchID
	Err     error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("stage %s patch %d: %v", e.Stage, e.PatchID, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// TickResult is everything one tick produced.
type TickResult struct {
	At       time.Time
	Stages   []domain.Stage
	Samples  []domain.Sample
	Failures []ItemError
	// Skipped counts items never started because the tick was cancelled.
	Skipped int
}

// Rows packages the successful samples for the storage sink.
func (r TickResult) Rows() []domain.Row {
	rows := make([]domain.Row, 0, len(r.Samples))
	for _, s := range r.Samples {
		rows = append(rows, s.Row())
	}
	return rows
}

// Payloads packages the successful samples for subscribers.
func (r TickResult) Payloads() []domain.Payload {
	payloads := make([]domain.Payload, 0, len(r.Samples))
	for _, s := range r.Samples {
		payloads = append(payloads, s.Payload())
	}
	return payloads
}

// Executor fans one tick out over a bounded worker pool and joins the results.
type Executor struct {
	workers  int
	evaluate Evaluator
	logger   *slog.Logger
}

// NewExecutor wires the evaluator; workers <= 0 falls back to DefaultWorkers.
func NewExecutor(workers int, evaluate Evaluator, logger *slog.Logger) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if evaluate == nil {
		evaluate = Evaluate
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{workers: workers, evaluate: evaluate, logger: logger}
}

// Run evaluates every (stage, patch) pair for the tick at `at`. It returns
// only after all submitted items have finished; failed items are logged and
// left out of the samples.
func (e *Executor) Run(ctx context.Context, stages []domain.Stage, patches []domain.PatchID, at time.Time) TickResult {
	total := len(stages) * len(patches)
	samples := make([]domain.Sample, total)
	errs := make([]error, total)
	skipped := make([]bool, total)

	var g errgroup.Group
	g.SetLimit(e.workers)

	idx := 0
	for _, stage := range stages {
		for _, patch := range patches {
			i := idx
			idx++

			if ctx.Err() != nil {
				skipped[i] = true
				continue
			}
			g.Go(func() error {
				samples[i], errs[i] = e.evaluateItem(stage, at, patch)
				return nil
			})
		}
	}
	_ = g.Wait()

	result := TickResult{
		At:      at,
		Stages:  stages,
		Samples: make([]domain.Sample, 0, total),
	}
	idx = 0
	for _, stage := range stages {
		for _, patch := range patches {
			if skipped[idx] {
				result.Skipped++
			} else if err := errs[idx]; err != nil {
				result.Failures = append(result.Failures, ItemError{Stage: stage, PatchID: patch, Err: err})
				e.logger.Error("sample generation failed",
					"stage", stage,
					"patch_id", patch,
					"tick_time", at,
					"error", err)
			} else {
				result.Samples = append(result.Samples, samples[idx])
			}
			idx++
		}
	}

	if result.Skipped > 0 {
		e.logger.Info("tick cancelled",
			"tick_time", at,
			"skipped", result.Skipped,
			"completed", len(result.Samples))
	}
	return result
}

func (e *Executor) evaluateItem(stage domain.Stage, at time.Time, patch domain.PatchID) (sample domain.Sample, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.evaluate(stage, at, patch)
}
