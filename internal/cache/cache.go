// Package cache provides the read-through cache port shared by the directory
// and the operation log, with in-memory and Redis backends.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidKey is returned for empty cache keys.
var ErrInvalidKey = errors.New("cache: key required")

// Cache stores opaque values with a TTL. Tags group keys so that a write
// elsewhere can invalidate every entry derived from it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	Delete(ctx context.Context, keys ...string) error
	Invalidate(ctx context.Context, tags ...string) error
}

// ReadThrough returns the cached JSON value for key or loads, stores and
// returns it. Cache failures degrade to calling load; they are logged, never
// returned.
func ReadThrough[T any](ctx context.Context, store Cache, logger *zap.Logger, key string, ttl time.Duration, tags []string, load func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		return load(ctx)
	}

	raw, found, err := store.Get(ctx, key)
	if err != nil {
		logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	if found {
		var cached T
		decodeErr := json.Unmarshal(raw, &cached)
		if decodeErr == nil {
			return cached, nil
		}
		logger.Warn("cache decode failed", zap.String("key", key), zap.Error(decodeErr))
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return value, nil
	}
	if err := store.Set(ctx, key, encoded, ttl, tags...); err != nil {
		logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}
