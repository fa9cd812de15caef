package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"chomp/internal/logging"
)

// RedisConfig configures a Redis-backed Cache.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int

	// Logger for structured logging. If nil, logging is disabled.
	Logger *slog.Logger
}

// RedisCache is a Cache backed by a single Redis (or Redis-compatible)
// instance. It is the production C6 implementation; spec §4.6 requires the
// core to specify no wire protocol, so this is one conforming backend
// among possibly several.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

var _ Cache = (*RedisCache)(nil)

// NewRedis dials addr and returns a ready-to-use Cache.
func NewRedis(cfg RedisConfig) (*RedisCache, error) {
	logger := logging.Default(cfg.Logger).With("component", "cache", "backend", "redis")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	logger.Info("cache connected", "addr", cfg.Addr)
	return &RedisCache{client: client, logger: logger}, nil
}

// SetIfAbsent implements the claim primitive via Redis SET NX.
func (c *RedisCache) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return b, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) MSet(ctx context.Context, values map[string][]byte, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for k, v := range values {
		pipe.Set(ctx, k, v, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mset (%d keys): %w", len(values), err)
	}
	return nil
}

func (c *RedisCache) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget (%d keys): %w", len(keys), err)
	}
	out := make(map[string][]byte, len(keys))
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = []byte(s)
	}
	return out, nil
}

// WithLock acquires a Redis-based mutex (SET NX with TTL, released via DEL)
// for the duration of fn. Used once at startup for registry reconciliation
// (spec §4.1, locks:ingesters).
func (c *RedisCache) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	lockKey := name
	token := fmt.Sprintf("%d", time.Now().UnixNano())

	const (
		lockTTL   = 30 * time.Second
		retryWait = 50 * time.Millisecond
	)

	deadline := time.Now().Add(lockTTL)
	for {
		ok, err := c.client.SetNX(ctx, lockKey, token, lockTTL).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("acquire lock %s: timed out", name)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryWait):
		}
	}

	defer func() {
		if cur, err := c.client.Get(context.Background(), lockKey).Result(); err == nil && cur == token {
			c.client.Del(context.Background(), lockKey)
		}
	}()

	return fn(ctx)
}

func (c *RedisCache) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		// Best-effort: the publisher never blocks the ingestion path on
		// delivery failure (spec §4.5), so this error is for the caller to
		// log, not to retry.
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (c *RedisCache) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := c.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 64)
	redisCh := sub.Channel()
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					// Slow consumer: drop rather than block the publisher goroutine.
				}
			case <-done:
				return
			}
		}
	}()

	stop := func() {
		close(done)
		_ = sub.Close()
	}
	return out, stop, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
