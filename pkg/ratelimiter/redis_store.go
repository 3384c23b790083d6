package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces RedisStore keys.
const DefaultRedisPrefix = "authz:rl"

// consumeScript mirrors MemoryStore.ConsumeTokens. Time is passed in from
// the caller so every instance refills on the same clock source.
var consumeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local tokens = tonumber(ARGV[4])
local now = tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'refill')
local current = tonumber(state[1])
local refill = tonumber(state[2])
if current == nil or refill == nil then
	current = capacity
	refill = now
end

local elapsed = now - refill
if elapsed >= interval then
	local intervals = math.floor(elapsed / interval)
	local cap = math.floor(capacity / rate) + 1
	if intervals > cap then
		intervals = cap
	end
	current = math.min(current + intervals * rate, capacity)
	refill = now
end

local remaining = current - tokens
if remaining >= 0 then
	current = remaining
end

redis.call('HSET', KEYS[1], 'tokens', current, 'refill', refill)
redis.call('PEXPIRE', KEYS[1], (math.floor((capacity - current) / rate) + 1) * interval)

return {remaining, refill + interval}
`)

// RedisStore implements Store on Redis, sharing buckets between instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

type RedisStoreOption func(*RedisStore)

// WithRedisStorePrefix overrides the key prefix.
func WithRedisStorePrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisClock overrides the time source.
func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedisStore keeps buckets in Redis so every instance shares them.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	if client == nil {
		panic("ratelimiter: redis client cannot be nil")
	}
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

// ConsumeTokens runs the refill-and-take script atomically.
func (s *RedisStore) ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (int, time.Time, error) {
	if config.RefillInterval < time.Millisecond {
		return 0, time.Time{}, fmt.Errorf("%w: refill interval below 1ms", ErrInvalidConfig)
	}
	res, err := consumeScript.Run(ctx, s.client, []string{s.key(key)},
		config.Capacity,
		config.RefillRate,
		config.RefillInterval.Milliseconds(),
		tokens,
		s.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, errors.Join(ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("%w: unexpected script reply of %d values", ErrStoreUnavailable, len(res))
	}
	return int(res[0]), time.UnixMilli(res[1]), nil
}

// Reset deletes the bucket for key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
