package ratelimiter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/authzkit/pkg/ratelimiter"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testConfig = ratelimiter.Config{
	Capacity:       3,
	RefillRate:     1,
	RefillInterval: time.Second,
}

type storeFactory func(t *testing.T, c *clock) ratelimiter.Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, c *clock) ratelimiter.Store {
			s := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0), ratelimiter.WithMemoryClock(c.Now))
			t.Cleanup(s.Close)
			return s
		},
		"redis": func(t *testing.T, c *clock) ratelimiter.Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return ratelimiter.NewRedisStore(client, ratelimiter.WithRedisClock(c.Now))
		},
	}
}

func TestBucket(t *testing.T) {
	t.Parallel()

	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			t.Run("allows burst up to capacity then denies", func(t *testing.T) {
				c := newClock()
				b, err := ratelimiter.NewBucket(factory(t, c), testConfig)
				require.NoError(t, err)

				for i := range testConfig.Capacity {
					res, err := b.Allow(ctx, "k")
					require.NoError(t, err)
					assert.True(t, res.Allowed())
					assert.Equal(t, testConfig.Capacity-i-1, res.Remaining)
					assert.Equal(t, testConfig.Capacity, res.Limit)
				}

				res, err := b.Allow(ctx, "k")
				require.NoError(t, err)
				assert.False(t, res.Allowed())
				assert.Equal(t, -1, res.Remaining)
			})

			t.Run("denied calls do not debit the bucket", func(t *testing.T) {
				c := newClock()
				b, err := ratelimiter.NewBucket(factory(t, c), testConfig)
				require.NoError(t, err)

				_, err = b.AllowN(ctx, "k", 3)
				require.NoError(t, err)
				for range 5 {
					res, err := b.Allow(ctx, "k")
					require.NoError(t, err)
					assert.False(t, res.Allowed())
				}

				c.Advance(time.Second)
				res, err := b.Allow(ctx, "k")
				require.NoError(t, err)
				assert.True(t, res.Allowed())
				assert.Equal(t, 0, res.Remaining)
			})

			t.Run("refills up to capacity", func(t *testing.T) {
				c := newClock()
				b, err := ratelimiter.NewBucket(factory(t, c), testConfig)
				require.NoError(t, err)

				_, err = b.AllowN(ctx, "k", 3)
				require.NoError(t, err)

				c.Advance(time.Hour)
				res, err := b.Status(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, testConfig.Capacity, res.Remaining)
			})

			t.Run("keys are independent", func(t *testing.T) {
				c := newClock()
				b, err := ratelimiter.NewBucket(factory(t, c), testConfig)
				require.NoError(t, err)

				_, err = b.AllowN(ctx, "a", 3)
				require.NoError(t, err)

				res, err := b.Allow(ctx, "b")
				require.NoError(t, err)
				assert.True(t, res.Allowed())
			})

			t.Run("reset restores capacity", func(t *testing.T) {
				c := newClock()
				b, err := ratelimiter.NewBucket(factory(t, c), testConfig)
				require.NoError(t, err)

				_, err = b.AllowN(ctx, "k", 3)
				require.NoError(t, err)
				require.NoError(t, b.Reset(ctx, "k"))

				res, err := b.Status(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, testConfig.Capacity, res.Remaining)
			})

			t.Run("reset time is one interval after refill", func(t *testing.T) {
				c := newClock()
				b, err := ratelimiter.NewBucket(factory(t, c), testConfig)
				require.NoError(t, err)

				res, err := b.Allow(ctx, "k")
				require.NoError(t, err)
				assert.True(t, c.Now().Add(time.Second).Equal(res.ResetAt))
			})
		})
	}
}

func TestNewBucket_Validation(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
	t.Cleanup(store.Close)

	tests := []struct {
		name   string
		store  ratelimiter.Store
		config ratelimiter.Config
	}{
		{"nil store", nil, testConfig},
		{"zero capacity", store, ratelimiter.Config{RefillRate: 1, RefillInterval: time.Second}},
		{"zero rate", store, ratelimiter.Config{Capacity: 1, RefillInterval: time.Second}},
		{"zero interval", store, ratelimiter.Config{Capacity: 1, RefillRate: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ratelimiter.NewBucket(tt.store, tt.config)
			assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
		})
	}
}

func TestBucket_InvalidTokenCount(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
	t.Cleanup(store.Close)
	b, err := ratelimiter.NewBucket(store, testConfig)
	require.NoError(t, err)

	for _, n := range []int{0, -1, testConfig.Capacity + 1} {
		_, err := b.AllowN(context.Background(), "k", n)
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount, "n=%d", n)
	}
}

func TestMemoryStore_RemovesStaleBuckets(t *testing.T) {
	t.Parallel()

	c := newClock()
	store := ratelimiter.NewMemoryStore(
		ratelimiter.WithCleanupInterval(10*time.Millisecond),
		ratelimiter.WithStaleAfter(time.Minute),
		ratelimiter.WithMemoryClock(c.Now),
	)
	t.Cleanup(store.Close)

	_, _, err := store.ConsumeTokens(context.Background(), "k", 1, testConfig)
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	c.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	store := ratelimiter.NewRedisStore(client)
	_, _, err := store.ConsumeTokens(context.Background(), "k", 1, testConfig)
	assert.ErrorIs(t, err, ratelimiter.ErrStoreUnavailable)
	assert.ErrorIs(t, store.Reset(context.Background(), "k"), ratelimiter.ErrStoreUnavailable)
}

func TestRedisStore_ExpiresIdleBuckets(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := ratelimiter.NewRedisStore(client, ratelimiter.WithRedisStorePrefix("test"))
	_, _, err := store.ConsumeTokens(context.Background(), "k", 1, testConfig)
	require.NoError(t, err)

	ttl := mr.TTL("test:k")
	assert.Positive(t, ttl)
	assert.LessOrEqual(t, ttl, 2*time.Second)
}

func TestComposite(t *testing.T) {
	t.Parallel()

	header := func(name string) ratelimiter.KeyFunc {
		return func(r *http.Request) string { return r.Header.Get(name) }
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("A", "one")
	r.Header.Set("B", "two")
	r.Header.Set("Long", strings.Repeat("x", 80))

	assert.Equal(t, "", ratelimiter.Composite(header("Missing"))(r))
	assert.Equal(t, "one", ratelimiter.Composite(header("A"), header("Missing"))(r))
	assert.Equal(t, "one:two", ratelimiter.Composite(header("A"), header("B"))(r))
	assert.LessOrEqual(t, len(ratelimiter.Composite(header("A"), header("Long"))(r)), 13)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
	t.Cleanup(store.Close)
	b, err := ratelimiter.NewBucket(store, ratelimiter.Config{Capacity: 2, RefillRate: 1, RefillInterval: time.Hour})
	require.NoError(t, err)

	keyFunc := func(r *http.Request) string { return r.Header.Get("X-Client") }
	handler := ratelimiter.Middleware(b, keyFunc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(client string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if client != "" {
			r.Header.Set("X-Client", client)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("c1").Code)
	rec := do("c1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = do("c1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, do("c2").Code)
	for range 5 {
		assert.Equal(t, http.StatusNoContent, do("").Code)
	}
}
