package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"FreshnessTracker/internal/config"
	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/infrastructure/broadcast"
	"FreshnessTracker/internal/infrastructure/httpapi"
	"FreshnessTracker/internal/infrastructure/scheduler"
	"FreshnessTracker/internal/infrastructure/storage"
	"FreshnessTracker/internal/logging"
	"FreshnessTracker/internal/metrics"
	"FreshnessTracker/internal/ports"
	"FreshnessTracker/internal/usecase"
	"FreshnessTracker/pkg/logger"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	simulation *usecase.Simulation
	hub        *broadcast.Hub
	fanout     *broadcast.Fanout
	server     *http.Server
	closers    []func() error
}

// New connects the configured adapters and builds an idle simulation.
// Broadcasters that cannot connect are skipped; an unreachable database is fatal.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	loc := cfg.Simulation.Location()
	sampler := usecase.NewSampler(cfg.Simulation.Patches, loc)
	recorder := metrics.New()

	sink, history, err := a.openStorage(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	targets := a.openBroadcasters(ctx, sampler)
	a.fanout = broadcast.NewFanout(targets...)
	baseLogger.Info("broadcasters ready", "targets", a.fanout.Names())

	var broadcaster ports.Broadcaster
	if a.fanout.Len() > 0 {
		broadcaster = a.fanout
	}

	simLogger := baseLogger.With("component", "simulation")
	a.simulation = usecase.NewSimulation(usecase.SimulationDeps{
		Executor:       usecase.NewExecutor(cfg.Simulation.Workers, usecase.Evaluate, simLogger),
		Pacer:          scheduler.NewIntervalPacer(cfg.Simulation.TickInterval, loc),
		Sink:           sink,
		Broadcaster:    broadcaster,
		Observer:       recorder,
		Patches:        domain.Patches(cfg.Simulation.Patches),
		PersistTimeout: cfg.Simulation.PersistTimeout,
		Logger:         simLogger,
	})

	deps := httpapi.Deps{
		Simulation:     a.simulation,
		Sampler:        sampler,
		History:        history,
		Metrics:        recorder,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         baseLogger.With("component", "http"),
	}
	if a.hub != nil {
		deps.WebSocket = a.hub.ServeWS
	}

	a.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logger.New(baseLogger, "http.server", slog.LevelError),
	}
	return a, nil
}

func (a *Application) openStorage(ctx context.Context) (ports.ReadingSink, ports.ReadingHistory, error) {
	var (
		sinks   storage.MultiSink
		history ports.ReadingHistory
	)

	if db := a.cfg.Database; db.Enabled {
		conn, err := storage.Open(ctx, db.DSN, db.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, conn.Close)

		repo, err := storage.NewPostgresRepository(conn, db.Table)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.EnsureSchema(ctx, db.Hypertable); err != nil {
			if !errors.Is(err, storage.ErrHypertableUnavailable) {
				return nil, nil, fmt.Errorf("ensure schema: %w", err)
			}
			// plain Postgres has no create_hypertable; keep the table without it
			a.logger.Warn("schema setup incomplete", "table", db.Table, "error", err)
		}
		sinks = append(sinks, repo)
		history = repo
		a.logger.Info("postgres storage ready", "table", db.Table)
	}

	if in := a.cfg.Influx; in.Enabled {
		sink := storage.NewInfluxSink(storage.InfluxConfig{
			URL:         in.URL,
			Token:       in.Token,
			Org:         in.Org,
			Bucket:      in.Bucket,
			Measurement: in.Measurement,
		})
		a.closers = append(a.closers, func() error { sink.Close(); return nil })
		sinks = append(sinks, sink)
		a.logger.Info("influx sink ready", "url", in.URL, "bucket", in.Bucket)
	}

	switch len(sinks) {
	case 0:
		a.logger.Warn("no reading sink configured, readings will not be persisted")
		return nil, history, nil
	case 1:
		return sinks[0], history, nil
	default:
		return sinks, history, nil
	}
}

func (a *Application) openBroadcasters(ctx context.Context, sampler *usecase.Sampler) []broadcast.Target {
	bc := a.cfg.Broadcast
	var targets []broadcast.Target

	if bc.WebSocket.Enabled {
		a.hub = broadcast.NewHub(sampler, a.logger.With("component", "websocket"))
		targets = append(targets, broadcast.Target{Name: "websocket", Broadcaster: a.hub})
	}

	if bc.Kafka.Enabled {
		p, err := broadcast.NewKafkaPublisher(broadcast.KafkaConfig{
			Brokers:   bc.Kafka.Brokers,
			Topic:     bc.Kafka.Topic,
			QueueSize: bc.Kafka.QueueSize,
		}, a.logger.With("component", "kafka"))
		if err != nil {
			a.logger.Error("kafka broadcaster disabled", "error", err)
		} else {
			targets = append(targets, broadcast.Target{Name: "kafka", Broadcaster: p})
		}
	}

	if bc.MQTT.Enabled {
		p, err := broadcast.NewMQTTPublisher(broadcast.MQTTConfig{
			Broker:   bc.MQTT.Broker,
			ClientID: bc.MQTT.ClientID,
			QoS:      byte(bc.MQTT.QoS),
			Retained: bc.MQTT.Retained,
		})
		if err != nil {
			a.logger.Error("mqtt broadcaster disabled", "error", err)
		} else {
			targets = append(targets, broadcast.Target{Name: "mqtt", Broadcaster: p})
		}
	}

	if bc.NATS.Enabled {
		p, err := broadcast.NewNATSPublisher(broadcast.NATSConfig{
			URL:           bc.NATS.URL,
			MaxReconnects: bc.NATS.MaxReconnects,
		}, a.logger.With("component", "nats"))
		if err != nil {
			a.logger.Error("nats broadcaster disabled", "error", err)
		} else {
			targets = append(targets, broadcast.Target{Name: "nats", Broadcaster: p})
		}
	}

	if bc.Redis.Enabled {
		p, err := broadcast.NewRedisPublisher(ctx, broadcast.RedisConfig{
			Addr:      bc.Redis.Addr,
			Password:  bc.Redis.Password,
			DB:        bc.Redis.DB,
			KeyPrefix: bc.Redis.KeyPrefix,
		})
		if err != nil {
			a.logger.Error("redis broadcaster disabled", "error", err)
		} else {
			targets = append(targets, broadcast.Target{Name: "redis", Broadcaster: p})
		}
	}

	return targets
}

// Handler exposes the HTTP surface without a listener.
func (a *Application) Handler() http.Handler {
	return a.server.Handler
}

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	if a.hub != nil {
		go a.hub.Run(hubCtx)
	}

	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		a.close()
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", listener.Addr().String())
		serveErr <- a.server.Serve(listener)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", "error", err)
	}
	if err := a.simulation.Close(shutdownCtx); err != nil {
		a.logger.Error("simulation shutdown failed", "error", err)
	}
	stopHub()
	a.close()

	a.logger.Info("application stopped")
	return runErr
}

func (a *Application) close() {
	if a.fanout != nil {
		if err := a.fanout.Close(); err != nil {
			a.logger.Warn("broadcaster close failed", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("resource close failed", "error", err)
		}
	}
	a.closers = nil
}
