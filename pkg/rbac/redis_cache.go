package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/authzkit/pkg/logger"
)

// DefaultRedisCachePrefix namespaces RedisCache keys.
const DefaultRedisCachePrefix = "authz:perm"

// generationTTL keeps an idle tenant's generation key from living forever.
// A generation that expires reads as zero, which no in-flight reader can
// hold after a bump, so expiry never lets a stale union through.
const generationTTL = 24 * time.Hour

// setScript writes an entry only while the tenant generation still equals
// the one the reader started from.
var setScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1])
if (gen or '0') ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// RedisCache shares permission unions between instances. Read and write
// failures degrade to a cache miss. The tenant generation lives in Redis
// next to the entries, so an invalidation on one instance also fences
// in-flight writes of every other instance.
//
// Keys carry the tenant id as a hash tag, keeping a tenant's entries and
// its generation in one cluster slot.
type RedisCache struct {
	client        redis.UniversalClient
	prefix        string
	ttl           time.Duration
	scanBatchSize int64
	logger        *slog.Logger
}

type RedisCacheOption func(*RedisCache)

// WithRedisPrefix overrides the key prefix.
func WithRedisPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithRedisCacheLogger sets the logger used for Redis failures.
func WithRedisCacheLogger(l *slog.Logger) RedisCacheOption {
	return func(c *RedisCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewRedisCache stores entries for ttl. A zero ttl keeps them until they
// are invalidated.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration, opts ...RedisCacheOption) *RedisCache {
	if client == nil {
		panic("rbac: redis client cannot be nil")
	}
	c := &RedisCache{
		client:        client,
		prefix:        DefaultRedisCachePrefix,
		ttl:           ttl,
		scanBatchSize: 500,
		logger:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Component("rbac.redis_cache"))
	return c
}

func (c *RedisCache) key(tenantID, principalID uuid.UUID) string {
	return fmt.Sprintf("%s:{%s}:%s", c.prefix, tenantID, principalID)
}

func (c *RedisCache) generationKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("%s:gen:{%s}", c.prefix, tenantID)
}

// Generation returns the tenant's invalidation counter. A missing counter
// is zero.
func (c *RedisCache) Generation(ctx context.Context, tenantID uuid.UUID) (uint64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(tenantID)).Uint64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		c.logger.WarnContext(ctx, "permission cache generation read failed", logger.TenantID(tenantID), logger.Error(err))
		return 0, errors.Join(ErrCacheUnavailable, err)
	}
	return gen, nil
}

// Get treats any Redis error as a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID, principalID uuid.UUID) (Entry, bool) {
	raw, err := c.client.Get(ctx, c.key(tenantID, principalID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "permission cache read failed", logger.TenantID(tenantID), logger.Error(err))
		}
		return Entry{}, false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.WarnContext(ctx, "corrupt permission cache entry", logger.TenantID(tenantID), logger.Error(err))
		return Entry{}, false
	}
	return e, true
}

// Set stores e unless the tenant was invalidated, by any instance, after gen
// was taken.
func (c *RedisCache) Set(ctx context.Context, tenantID, principalID uuid.UUID, gen uint64, e Entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	ttl := c.ttl
	if !e.ValidUntil.IsZero() {
		if until := time.Until(e.ValidUntil); until <= 0 {
			return
		} else if ttl <= 0 || until < ttl {
			ttl = until
		}
	}
	var ms int64
	if ttl > 0 {
		ms = max(ttl.Milliseconds(), 1)
	}
	keys := []string{c.generationKey(tenantID), c.key(tenantID, principalID)}
	if err := setScript.Run(ctx, c.client, keys, gen, raw, ms).Err(); err != nil {
		c.logger.WarnContext(ctx, "permission cache write failed", logger.TenantID(tenantID), logger.Error(err))
	}
}

// Delete advances the tenant generation and drops the principals' entries
// in one transaction.
func (c *RedisCache) Delete(ctx context.Context, tenantID uuid.UUID, principalIDs ...uuid.UUID) error {
	keys := make([]string, 0, len(principalIDs))
	for _, id := range principalIDs {
		keys = append(keys, c.key(tenantID, id))
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		c.bump(ctx, pipe, tenantID)
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		return nil
	})
	if err != nil {
		return errors.Join(ErrCacheUnavailable, err)
	}
	return nil
}

// DeleteTenant advances the tenant generation first, so writers still
// holding the old one are fenced off, then removes the tenant's entries.
func (c *RedisCache) DeleteTenant(ctx context.Context, tenantID uuid.UUID) error {
	if _, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		c.bump(ctx, pipe, tenantID)
		return nil
	}); err != nil {
		return errors.Join(ErrCacheUnavailable, err)
	}

	match := fmt.Sprintf("%s:{%s}:*", c.prefix, tenantID)
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, c.scanBatchSize).Result()
		if err != nil {
			return errors.Join(ErrCacheUnavailable, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return errors.Join(ErrCacheUnavailable, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *RedisCache) bump(ctx context.Context, pipe redis.Pipeliner, tenantID uuid.UUID) {
	key := c.generationKey(tenantID)
	pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, generationTTL)
}
