// Package ratelimiter provides token bucket rate limiting over pluggable stores.
//
// A Bucket allows bursts up to Capacity and refills RefillRate tokens every
// RefillInterval. A request that does not fit is denied without debiting the
// bucket, so a flood of rejected calls does not postpone recovery.
//
// Two stores ship with the package: MemoryStore for a single process and
// RedisStore for limits shared across instances.
//
//	store := ratelimiter.NewRedisStore(client)
//	limiter, err := ratelimiter.NewBucket(store, ratelimiter.Config{
//		Capacity:       10,
//		RefillRate:     1,
//		RefillInterval: time.Second,
//	})
//	if err != nil {
//		return err
//	}
//
//	res, err := limiter.Allow(ctx, "denials:203.0.113.7")
//	if err != nil {
//		return err
//	}
//	if !res.Allowed() {
//		// suppressed
//	}
//
// Middleware applies a limiter to HTTP handlers and sets the
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset headers.
package ratelimiter
