package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "huddle:cache:"

// indexTag adds a key to a tag set and only ever lengthens the set's
// lifetime, so the set outlives every key it indexes. A lifetime of zero
// makes the set persistent.
var indexTag = redis.NewScript(`
local existed = redis.call('EXISTS', KEYS[1])
redis.call('SADD', KEYS[1], ARGV[1])
local lifetime = tonumber(ARGV[2])
if lifetime <= 0 then
  redis.call('PERSIST', KEYS[1])
  return 0
end
local current = redis.call('PTTL', KEYS[1])
if existed == 0 or (current >= 0 and current < lifetime) then
  redis.call('PEXPIRE', KEYS[1], lifetime)
end
return 1
`)

// Redis is a Cache shared by every API replica.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client. An empty prefix uses "huddle:cache:".
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(key string) string {
	return r.prefix + "k:" + key
}

func (r *Redis) tagKey(tag string) string {
	return r.prefix + "t:" + tag
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	if key == "" {
		return ErrInvalidKey
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(key), value, ttl)
		for _, tag := range tags {
			indexTag.Eval(ctx, pipe, []string{r.tagKey(tag)}, key, tagLifetime(ttl))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, r.key(key))
	}
	if err := r.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, tags ...string) error {
	for _, tag := range tags {
		members, err := r.client.SMembers(ctx, r.tagKey(tag)).Result()
		if err != nil {
			return fmt.Errorf("cache invalidate %s: %w", tag, err)
		}
		stale := make([]string, 0, len(members)+1)
		for _, member := range members {
			stale = append(stale, r.key(member))
		}
		stale = append(stale, r.tagKey(tag))
		if err := r.client.Del(ctx, stale...).Err(); err != nil {
			return fmt.Errorf("cache invalidate %s: %w", tag, err)
		}
	}
	return nil
}

// tagLifetime converts an entry ttl to the tag set lifetime in milliseconds.
func tagLifetime(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	if ms := ttl.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}
