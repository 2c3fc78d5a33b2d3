package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FreshnessTracker/internal/domain"
)

var samplePayload = domain.Payload{
	PatchID:     12,
	Stage:       domain.StageTransit,
	Time:        "2025-05-20T09:30:00Z",
	Temperature: domain.Value(4.2),
	Vibration:   domain.Value(0.37),
	Freshness:   91.4,
}

type fakeKafkaWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	calls  int
	delay  time.Duration
	err    error
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.delay > 0 {
		time.Sleep(w.delay)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeKafkaWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeKafkaWriter) written() ([]kafka.Message, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...), w.calls
}

func TestKafkaPublisherKeysByStageAndPatch(t *testing.T) {
	t.Parallel()

	w := &fakeKafkaWriter{}
	p := newKafkaPublisher(w, "freshness", 0, nil)

	require.NoError(t, p.Publish(context.Background(), domain.TopicSensorUpdate, samplePayload))
	require.NoError(t, p.Close())
	assert.True(t, w.closed)

	msgs, _ := w.written()
	require.Len(t, msgs, 1)

	msg := msgs[0]
	assert.Equal(t, "transit:12", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event", msg.Headers[0].Key)
	assert.Equal(t, domain.TopicSensorUpdate, string(msg.Headers[0].Value))

	var decoded domain.Payload
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, samplePayload.Freshness, decoded.Freshness)
	assert.Nil(t, decoded.Sunlight)

	require.ErrorIs(t, p.Publish(context.Background(), domain.TopicSensorUpdate, samplePayload), ErrKafkaClosed)
}

func TestKafkaPublisherLogsWriteError(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	boom := errors.New("leader not available")
	p := newKafkaPublisher(&fakeKafkaWriter{err: boom}, "freshness", 0, logger)
	require.NoError(t, p.Publish(context.Background(), domain.TopicSensorUpdate, samplePayload))
	require.NoError(t, p.Close())

	assert.Contains(t, logs.String(), "kafka write failed")
	assert.Contains(t, logs.String(), "leader not available")
}

func TestKafkaPublisherDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	w := &fakeKafkaWriter{delay: 200 * time.Millisecond}
	p := newKafkaPublisher(w, "freshness", 2, nil)
	defer p.Close()

	var full error
	for i := 0; i < 10 && full == nil; i++ {
		full = p.Publish(context.Background(), domain.TopicSensorUpdate, samplePayload)
	}
	require.ErrorIs(t, full, ErrKafkaQueueFull)
}

func TestKafkaPublisherBatchesSlowWrites(t *testing.T) {
	t.Parallel()

	w := &fakeKafkaWriter{delay: 50 * time.Millisecond}
	p := newKafkaPublisher(w, "freshness", 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	started := time.Now()
	for i := 1; i <= 100; i++ {
		payload := samplePayload
		payload.PatchID = domain.PatchID(i)
		require.NoError(t, p.Publish(ctx, domain.TopicSensorUpdate, payload))
	}
	assert.Less(t, time.Since(started), 50*time.Millisecond)

	require.NoError(t, p.Close())
	msgs, calls := w.written()
	assert.Len(t, msgs, 100)
	assert.Less(t, calls, 10)
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaPublisher(KafkaConfig{}, nil)
	require.Error(t, err)
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTT struct {
	topics []string
	qos    []byte
	token  func() mqtt.Token
}

func (f *fakeMQTT) Publish(topic string, qos byte, _ bool, _ interface{}) mqtt.Token {
	f.topics = append(f.topics, topic)
	f.qos = append(f.qos, qos)
	return f.token()
}

func TestMQTTPublisherUsesPerPatchTopic(t *testing.T) {
	t.Parallel()

	client := &fakeMQTT{token: func() mqtt.Token { return completedToken(nil) }}
	p := newMQTTPublisher(client, 1, false, time.Second)

	require.NoError(t, p.Publish(context.Background(), domain.TopicSensorUpdate, samplePayload))
	assert.Equal(t, []string{"sensor_update/transit/12"}, client.topics)
	assert.Equal(t, []byte{1}, client.qos)
}

func TestMQTTPublisherReportsBrokerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("not authorized")
	client := &fakeMQTT{token: func() mqtt.Token { return completedToken(boom) }}
	p := newMQTTPublisher(client, 0, false, time.Second)

	require.ErrorIs(t, p.Publish(context.Background(), domain.TopicSensorUpdate, samplePayload), boom)
}

func TestMQTTPublisherTimesOut(t *testing.T) {
	t.Parallel()

	client := &fakeMQTT{token: func() mqtt.Token { return &fakeToken{done: make(chan struct{})} }}
	p := newMQTTPublisher(client, 0, false, 20*time.Millisecond)

	err := p.Publish(context.Background(), domain.TopicSensorUpdate, samplePayload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

type fakeNATS struct {
	subjects []string
	err      error
}

func (f *fakeNATS) Publish(subject string, _ []byte) error {
	f.subjects = append(f.subjects, subject)
	return f.err
}

func TestNATSPublisherUsesStageSubject(t *testing.T) {
	t.Parallel()

	conn := &fakeNATS{}
	p := newNATSPublisher(conn)

	require.NoError(t, p.Publish(context.Background(), domain.TopicSensorUpdate, samplePayload))
	assert.Equal(t, []string{"sensor_update.transit"}, conn.subjects)
	require.NoError(t, p.Close())
}

func TestNATSPublisherHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	conn := &fakeNATS{}
	p := newNATSPublisher(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Publish(ctx, domain.TopicSensorUpdate, samplePayload), context.Canceled)
	assert.Empty(t, conn.subjects)
}

type fakeRedis struct {
	channels []string
	hashes   map[string]map[string]string
	pubErr   error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, _ interface{}) *redis.IntCmd {
	f.channels = append(f.channels, channel)
	return redis.NewIntResult(1, f.pubErr)
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.hashes == nil {
		f.hashes = map[string]map[string]string{}
	}
	if f.hashes[key] == nil {
		f.hashes[key] = map[string]string{}
	}
	f.hashes[key][values[0].(string)] = string(values[1].([]byte))
	return redis.NewIntResult(1, nil)
}

func TestRedisPublisherPublishesAndStoresLatest(t *testing.T) {
	t.Parallel()

	cmds := &fakeRedis{}
	p := newRedisPublisher(cmds, "")

	require.NoError(t, p.Publish(context.Background(), domain.TopicSensorUpdate, samplePayload))
	assert.Equal(t, []string{"freshness:sensor_update"}, cmds.channels)

	latest := cmds.hashes["freshness:latest:transit"]
	require.Contains(t, latest, "12")

	var decoded domain.Payload
	require.NoError(t, json.Unmarshal([]byte(latest["12"]), &decoded))
	assert.Equal(t, samplePayload.PatchID, decoded.PatchID)
}

func TestRedisPublisherStopsOnPublishError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	cmds := &fakeRedis{pubErr: boom}
	p := newRedisPublisher(cmds, "ft")

	require.ErrorIs(t, p.Publish(context.Background(), domain.TopicSensorUpdate, samplePayload), boom)
	assert.Empty(t, cmds.hashes)
}

type countingBroadcaster struct {
	calls  int
	err    error
	closed bool
}

func (c *countingBroadcaster) Publish(context.Context, string, domain.Payload) error {
	c.calls++
	return c.err
}

func (c *countingBroadcaster) Close() error {
	c.closed = true
	return nil
}

func TestFanoutDeliversPastFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("down")
	failing := &countingBroadcaster{err: boom}
	healthy := &countingBroadcaster{}

	f := NewFanout(
		Target{Name: "kafka", Broadcaster: failing},
		Target{Name: "absent"},
		Target{Name: "redis", Broadcaster: healthy},
	)
	assert.Equal(t, []string{"kafka", "redis"}, f.Names())

	err := f.Publish(context.Background(), domain.TopicSensorUpdate, samplePayload)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "kafka")
	assert.Equal(t, 1, healthy.calls)

	require.NoError(t, f.Close())
	assert.True(t, failing.closed)
	assert.True(t, healthy.closed)
}

// rendezvous blocks each caller until all of them are inside Publish at once.
type rendezvous struct {
	arrived *sync.WaitGroup
	all     chan struct{}
}

func (r rendezvous) Publish(context.Context, string, domain.Payload) error {
	r.arrived.Done()
	select {
	case <-r.all:
		return nil
	case <-time.After(time.Second):
		return errors.New("targets were published one at a time")
	}
}

func TestFanoutPublishesTargetsConcurrently(t *testing.T) {
	t.Parallel()

	var arrived sync.WaitGroup
	arrived.Add(3)
	all := make(chan struct{})
	go func() {
		arrived.Wait()
		close(all)
	}()

	r := rendezvous{arrived: &arrived, all: all}
	f := NewFanout(
		Target{Name: "websocket", Broadcaster: r},
		Target{Name: "kafka", Broadcaster: r},
		Target{Name: "nats", Broadcaster: r},
	)
	require.NoError(t, f.Publish(context.Background(), domain.TopicSensorUpdate, samplePayload))
}
