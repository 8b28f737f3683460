package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events to Redis pub/sub.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher connects to cfg.Addr and verifies the connection.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	d := DefaultConfig().Redis
	if cfg.Channel == "" {
		cfg.Channel = d.Channel
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = d.DialTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Str("channel", cfg.Channel).
		Msg("redis event publisher connected")

	return NewRedisPublisherFromClient(client, cfg.Channel), nil
}

// NewRedisPublisherFromClient wraps an existing client.
func NewRedisPublisherFromClient(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Name returns the publisher identifier.
func (p *RedisPublisher) Name() string {
	return "redis"
}

// Channel returns the channel an event with key is published to.
func (p *RedisPublisher) Channel(key string) string {
	return p.channel + ":" + key
}

// Publish sends an event to "{channel}:{key}".
func (p *RedisPublisher) Publish(ctx context.Context, key string, event []byte) error {
	channel := p.Channel(key)
	receivers, err := p.client.Publish(ctx, channel, event).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	logger.Debug().
		Str("channel", channel).
		Int64("subscribers", receivers).
		Msg("published event to redis")
	return nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
