package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/ports"
)

// ErrClosed is returned by Start once the simulation has been shut down.
var ErrClosed = errors.New("simulation closed")

const defaultPersistTimeout = 5 * time.Second

// State is the externally visible lifecycle of the simulation.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Status is a point-in-time view of the active-stage set.
type Status struct {
	State  State          `json:"state"`
	Active []domain.Stage `json:"active"`
}

// SimulationDeps wires the driven adapters into the tick loop.
type SimulationDeps struct {
	Executor       *Executor
	Pacer          ports.Pacer
	Sink           ports.ReadingSink
	Broadcaster    ports.Broadcaster
	Observer       ports.TickObserver
	Patches        []domain.PatchID
	PersistTimeout time.Duration
	Logger         *slog.Logger
}

// Simulation owns the active-stage set and the single background tick loop.
//
// The loop is alive from the Start that makes the set non-empty until the
// first wake-up that finds the set empty. A Start in between re-arms the
// live loop instead of spawning another one.
type Simulation struct {
	executor       *Executor
	pacer          ports.Pacer
	sink           ports.ReadingSink
	broadcaster    ports.Broadcaster
	observer       ports.TickObserver
	patches        []domain.PatchID
	persistTimeout time.Duration
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	active    map[domain.Stage]struct{}
	loopAlive bool
	closed    bool
	spawned   int
}

// NewSimulation builds an idle simulation.
func NewSimulation(deps SimulationDeps) *Simulation {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	executor := deps.Executor
	if executor == nil {
		executor = NewExecutor(DefaultWorkers, Evaluate, logger)
	}
	observer := deps.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	timeout := deps.PersistTimeout
	if timeout <= 0 {
		timeout = defaultPersistTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Simulation{
		executor:       executor,
		pacer:          deps.Pacer,
		sink:           deps.Sink,
		broadcaster:    deps.Broadcaster,
		observer:       observer,
		patches:        deps.Patches,
		persistTimeout: timeout,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		active:         map[domain.Stage]struct{}{},
	}
}

// Start adds the stage to the active set and spawns the tick loop when none is alive.
func (s *Simulation) Start(stage domain.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.pacer == nil {
		return fmt.Errorf("start %s: no pacer configured", stage)
	}
	if !stage.Known() {
		s.logger.Warn("starting stage without a model", "stage", stage)
	}

	s.active[stage] = struct{}{}
	s.observer.SetActiveStages(len(s.active))

	if !s.loopAlive {
		s.loopAlive = true
		s.spawned++
		s.wg.Add(1)
		go s.loop()
		s.logger.Info("simulation loop started", "stages", s.stagesLocked())
	}
	return nil
}

// Stop removes the stage. The loop exits on its next wake-up if the set is empty.
func (s *Simulation) Stop(stage domain.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, stage)
	s.observer.SetActiveStages(len(s.active))
	s.logger.Info("stage stopped", "stage", stage)
	if len(s.active) == 0 && s.loopAlive {
		s.logger.Info("all stages stopped, simulation paused")
	}
	return nil
}

// Status reports the current lifecycle state and active stages.
func (s *Simulation) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := StateIdle
	if len(s.active) > 0 {
		state = StateRunning
	}
	return Status{State: state, Active: s.stagesLocked()}
}

// Close stops the loop and waits for an in-flight tick to finish.
func (s *Simulation) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.active = map[domain.Stage]struct{}{}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for simulation loop: %w", ctx.Err())
	}
}

func (s *Simulation) loop() {
	defer s.wg.Done()

	for {
		at, err := s.pacer.Wait(s.ctx)
		if err != nil {
			s.mu.Lock()
			s.loopAlive = false
			s.mu.Unlock()
			s.logger.Info("simulation loop cancelled", "error", err)
			return
		}

		stages, ok := s.snapshot()
		if !ok {
			s.logger.Info("simulation loop exited")
			return
		}

		s.tick(at, stages)
	}
}

// snapshot copies the active set for one tick, or retires the loop when the set is empty.
func (s *Simulation) snapshot() ([]domain.Stage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.active) == 0 {
		s.loopAlive = false
		return nil, false
	}
	return s.stagesLocked(), true
}

func (s *Simulation) tick(at time.Time, stages []domain.Stage) {
	started := time.Now()
	result := s.executor.Run(s.ctx, stages, s.patches, at)

	s.broadcast(result)
	s.persist(result)

	s.observer.ObserveTick(len(stages), len(result.Samples), len(result.Failures), time.Since(started))
	s.logger.Debug("tick complete",
		"tick_time", at,
		"stages", stages,
		"samples", len(result.Samples),
		"failures", len(result.Failures),
		"elapsed", time.Since(started))
}

func (s *Simulation) broadcast(result TickResult) {
	if s.broadcaster == nil || len(result.Samples) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.persistTimeout)
	defer cancel()

	var (
		failed   int
		firstErr error
	)
	for _, payload := range result.Payloads() {
		if err := s.broadcaster.Publish(ctx, domain.TopicSensorUpdate, payload); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.observer.ObserveBroadcast(len(result.Samples)-failed, failed)
	if firstErr != nil {
		s.logger.Warn("broadcast incomplete", "failed", failed, "total", len(result.Samples), "error", firstErr)
	}
}

func (s *Simulation) persist(result TickResult) {
	if s.sink == nil || len(result.Samples) == 0 {
		return
	}

	rows := result.Rows()
	s.logger.Info("inserting tick batch", "rows", len(rows), "tick_time", result.At)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.persistTimeout)
	defer cancel()

	err := s.sink.InsertBatch(ctx, rows)
	s.observer.ObservePersist(len(rows), err)
	if err != nil {
		s.logger.Error("batch insert failed",
			"rows", len(rows),
			"sample", describeRows(rows, 3),
			"error", err)
	}
}

func (s *Simulation) stagesLocked() []domain.Stage {
	stages := make([]domain.Stage, 0, len(s.active))
	for stage := range s.active {
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })
	return stages
}

func describeRows(rows []domain.Row, limit int) []string {
	if len(rows) < limit {
		limit = len(rows)
	}
	out := make([]string, 0, limit)
	for _, r := range rows[:limit] {
		out = append(out, fmt.Sprintf("%s/%d@%s freshness=%.2f", r.Stage, r.PatchID, r.Time.Format(time.RFC3339), r.Freshness))
	}
	return out
}

type noopObserver struct{}

func (noopObserver) ObserveTick(int, int, int, time.Duration) {}
func (noopObserver) ObservePersist(int, error)                {}
func (noopObserver) ObserveBroadcast(int, int)                {}
func (noopObserver) SetActiveStages(int)                      {}
