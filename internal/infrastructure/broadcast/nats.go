package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/ports"
)

// NATSConfig describes the server connection.
type NATSConfig struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes to sensor_update.<stage>.
type NATSPublisher struct {
	conn   natsConn
	closer func() error
}

var _ ports.Broadcaster = (*NATSPublisher)(nil)

// NewNATSPublisher connects with reconnect handling.
func NewNATSPublisher(cfg NATSConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	name := cfg.Name
	if name == "" {
		name = "freshtrack"
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}

	p := newNATSPublisher(conn)
	p.closer = conn.Drain
	return p, nil
}

func newNATSPublisher(conn natsConn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// NATSSubject is the per-stage subject for an event.
func NATSSubject(event string, stage domain.Stage) string {
	return event + "." + string(stage)
}

// Publish hands the payload to the client's outbound buffer.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, payload domain.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("nats encode: %w", err)
	}
	subject := NATSSubject(topic, payload.Stage)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
