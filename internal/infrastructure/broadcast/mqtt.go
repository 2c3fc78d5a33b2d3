package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/ports"
)

// MQTTConfig describes the broker connection.
type MQTTConfig struct {
	Broker   string
	ClientID string
	QoS      byte
	Retained bool
	Timeout  time.Duration
}

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes to sensor_update/<stage>/<patch>.
type MQTTPublisher struct {
	client   mqttPublisher
	qos      byte
	retained bool
	timeout  time.Duration
	closer   func()
}

var _ ports.Broadcaster = (*MQTTPublisher)(nil)

// NewMQTTPublisher connects to the broker, waiting at most cfg.Timeout.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "freshtrack"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)
	c := mqtt.NewClient(opts)

	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}

	p := newMQTTPublisher(c, cfg.QoS, cfg.Retained, timeout)
	p.closer = func() { c.Disconnect(250) }
	return p, nil
}

func newMQTTPublisher(c mqttPublisher, qos byte, retained bool, timeout time.Duration) *MQTTPublisher {
	return &MQTTPublisher{client: c, qos: qos, retained: retained, timeout: timeout}
}

// MQTTTopic is the per-patch topic for an event.
func MQTTTopic(event string, payload domain.Payload) string {
	return fmt.Sprintf("%s/%s/%d", event, payload.Stage, payload.PatchID)
}

// Publish waits for the broker acknowledgement up to the configured timeout.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload domain.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mqtt encode: %w", err)
	}

	target := MQTTTopic(topic, payload)
	token := p.client.Publish(target, p.qos, p.retained, data)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("mqtt publish %s: timed out", target)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", target, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	if p.closer != nil {
		p.closer()
	}
	return nil
}
