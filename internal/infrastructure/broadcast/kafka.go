package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/ports"
)

const (
	defaultKafkaQueueSize = 4096
	maxKafkaBatch         = 500
	kafkaWriteTimeout     = 10 * time.Second
)

var (
	ErrKafkaQueueFull = errors.New("kafka: publish queue full")
	ErrKafkaClosed    = errors.New("kafka: publisher closed")
)

// KafkaConfig selects the brokers and topic for sensor updates.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	QueueSize    int
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher queues one message per payload and writes them in batches
// from a background goroutine, so Publish never waits on the broker.
// Messages are keyed by stage and patch so a patch's updates stay ordered
// within a partition.
type KafkaPublisher struct {
	writer kafkaMessageWriter
	topic  string
	logger *slog.Logger

	queue     chan kafka.Message
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

var _ ports.Broadcaster = (*KafkaPublisher)(nil)

// NewKafkaPublisher builds a hash-balanced writer for cfg.Topic and starts
// the delivery loop.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = domain.TopicSensorUpdate
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchSize:              maxKafkaBatch,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, topic, cfg.QueueSize, logger), nil
}

func newKafkaPublisher(w kafkaMessageWriter, topic string, queueSize int, logger *slog.Logger) *KafkaPublisher {
	if queueSize <= 0 {
		queueSize = defaultKafkaQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &KafkaPublisher{
		writer: w,
		topic:  topic,
		logger: logger,
		queue:  make(chan kafka.Message, queueSize),
		stop:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Publish enqueues the payload; the event name travels in the "event" header.
// A full queue drops the payload instead of stalling the caller.
func (p *KafkaPublisher) Publish(_ context.Context, topic string, payload domain.Payload) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kafka encode: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(string(payload.Stage) + ":" + strconv.Itoa(int(payload.PatchID))),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(topic)},
		},
	}

	select {
	case <-p.stop:
		return ErrKafkaClosed
	default:
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return fmt.Errorf("%w (%d pending)", ErrKafkaQueueFull, cap(p.queue))
	}
}

// Close flushes queued messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
		p.closeErr = p.writer.Close()
	})
	return p.closeErr
}

func (p *KafkaPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case msg := <-p.queue:
			p.deliver(p.collect(msg))
		case <-p.stop:
			for {
				select {
				case msg := <-p.queue:
					p.deliver(p.collect(msg))
				default:
					return
				}
			}
		}
	}
}

// collect drains whatever is already queued behind first, up to one batch.
func (p *KafkaPublisher) collect(first kafka.Message) []kafka.Message {
	batch := []kafka.Message{first}
	for len(batch) < maxKafkaBatch {
		select {
		case msg := <-p.queue:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
	return batch
}

func (p *KafkaPublisher) deliver(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), kafkaWriteTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		p.logger.Error("kafka write failed", "topic", p.topic, "messages", len(batch), "error", err)
		return
	}
	p.logger.Debug("kafka batch written", "topic", p.topic, "messages", len(batch))
}
