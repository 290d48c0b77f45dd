package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Get decodes the cached value for key into T.
// A value that no longer decodes is treated as absent.
func Get[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T
	data, ok := c.Get(ctx, key)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn("cache entry failed to decode", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

// Set encodes value and stores it under key.
func Set[T any](ctx context.Context, c *Cache, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %q: %w", key, err)
	}
	c.Set(ctx, key, data, ttl)
	return nil
}

// GetOrLoad returns the cached value for key, or runs load once across all concurrent
// callers and stores its result. Failed loads are not cached.
//
// The shared load ignores cancellation of any single caller and is bounded by the
// deadline of the caller that started it. A caller whose own ctx ends stops waiting
// and gets ctx.Err(); the others still receive the result.
//
// Every caller receives its own decoded copy.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if v, ok := Get[T](ctx, c, key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := detach(ctx)
		defer cancel()

		// A caller that lost the race may arrive after the winner stored the value.
		if data, ok := c.Get(loadCtx, key); ok {
			return data, nil
		}
		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode cache entry %q: %w", key, err)
		}
		c.Set(loadCtx, key, data, ttl)
		return data, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		var v T
		if err := json.Unmarshal(r.Val.([]byte), &v); err != nil {
			return zero, fmt.Errorf("decode cache entry %q: %w", key, err)
		}
		return v, nil
	}
}

// detach keeps ctx's values and deadline but drops its cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	out := context.WithoutCancel(ctx)
	if dl, ok := ctx.Deadline(); ok {
		return context.WithDeadline(out, dl)
	}
	return out, func() {}
}
