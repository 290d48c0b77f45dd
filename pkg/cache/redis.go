package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTimeout caps every second-level round trip so a slow Redis never stalls a fetch.
const redisTimeout = 500 * time.Millisecond

// NewRedisClient connects to addr and verifies it with PING.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  redisTimeout,
		WriteTimeout: redisTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *Cache) getRemote(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	if c.redis == nil {
		return nil, 0, false
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	pipe := c.redis.Pipeline()
	getCmd := pipe.Get(ctx, c.prefix+key)
	ttlCmd := pipe.PTTL(ctx, c.prefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis cache read failed", "key", key, "error", err)
		}
		return nil, 0, false
	}

	data, err := getCmd.Bytes()
	if err != nil {
		return nil, 0, false
	}
	// Negative PTTL means no expiry.
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return data, ttl, true
}

func (c *Cache) setRemote(ctx context.Context, key string, e entry) {
	if c.redis == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if err := c.redis.Set(ctx, c.prefix+key, e.data, e.remaining(e.created)).Err(); err != nil {
		c.logger.Warn("redis cache write failed", "key", key, "error", err)
	}
}

// clearBatch is the number of keys unlinked per round trip.
const clearBatch = 100

func (c *Cache) clearRemote(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}

	batch := make([]string, 0, clearBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := c.redis.Unlink(ctx, batch...).Err()
		batch = batch[:0]
		return err
	}

	iter := c.redis.Scan(ctx, 0, c.prefix+"*", clearBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == clearBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return flush()
}
