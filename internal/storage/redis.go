package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dennisdiepolder/monti/acd/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNoStats is returned when no live stats are cached for a queue
var ErrNoStats = errors.New("no cached stats")

// StatsKey is the Redis key holding the latest stats of one queue
func StatsKey(domain, queue string) string {
	return fmt.Sprintf("acd:stats:%s:%s", domain, queue)
}

// StatsMessage is published on the stats channel after every tick
type StatsMessage struct {
	Queues []types.QueueStats `json:"queues"`
}

// RedisStatsCache mirrors live queue stats into Redis so other processes
// can read them with a TTL and subscribe to updates
type RedisStatsCache struct {
	client *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger
}

// OpenRedis creates a client and checks connectivity with PING
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// NewRedisStatsCache wraps a connected client
func NewRedisStatsCache(client *redis.Client, cfg RedisConfig, logger zerolog.Logger) *RedisStatsCache {
	return &RedisStatsCache{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "redis_stats").Logger(),
	}
}

// PublishStats stores each queue's stats under its own key and publishes
// the whole set on the stats channel, in one pipeline
func (c *RedisStatsCache) PublishStats(ctx context.Context, stats []types.QueueStats) error {
	payload, err := json.Marshal(StatsMessage{Queues: stats})
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	pipe := c.client.Pipeline()
	for _, s := range stats {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal stats for %s/%s: %w", s.Domain, s.Name, err)
		}
		pipe.Set(ctx, StatsKey(s.Domain, s.Name), data, c.cfg.StatsTTL)
	}
	pipe.Publish(ctx, c.cfg.Channel, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish stats: %w", err)
	}
	return nil
}

// GetStats reads the cached stats of one queue
func (c *RedisStatsCache) GetStats(ctx context.Context, domain, queue string) (types.QueueStats, error) {
	var s types.QueueStats
	data, err := c.client.Get(ctx, StatsKey(domain, queue)).Bytes()
	if errors.Is(err, redis.Nil) {
		return s, ErrNoStats
	}
	if err != nil {
		return s, fmt.Errorf("failed to read stats: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to unmarshal stats: %w", err)
	}
	return s, nil
}

// Close closes the client
func (c *RedisStatsCache) Close() error {
	return c.client.Close()
}
