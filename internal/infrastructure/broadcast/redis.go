package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/ports"
)

// RedisConfig describes the Redis connection and key layout.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type redisCommands interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisPublisher publishes each payload on a pub/sub channel and keeps the
// latest payload per patch in a hash per stage.
type RedisPublisher struct {
	cmds   redisCommands
	prefix string
	closer func() error
}

var _ ports.Broadcaster = (*RedisPublisher)(nil)

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	p := newRedisPublisher(rdb, cfg.KeyPrefix)
	p.closer = rdb.Close
	return p, nil
}

func newRedisPublisher(cmds redisCommands, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "freshness"
	}
	return &RedisPublisher{cmds: cmds, prefix: prefix}
}

// LatestKey is the hash holding the most recent payload of every patch in a stage.
func (p *RedisPublisher) LatestKey(stage domain.Stage) string {
	return p.prefix + ":latest:" + string(stage)
}

// Channel is the pub/sub channel for an event.
func (p *RedisPublisher) Channel(event string) string {
	return p.prefix + ":" + event
}

// Publish writes the payload to the channel and the latest-reading hash.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload domain.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redis encode: %w", err)
	}

	if err := p.cmds.Publish(ctx, p.Channel(topic), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	field := strconv.Itoa(int(payload.PatchID))
	if err := p.cmds.HSet(ctx, p.LatestKey(payload.Stage), field, data).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *RedisPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
