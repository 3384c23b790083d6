package ratelimiter

import (
	"fmt"
	"time"
)

// Result contains the result of a rate limit check.
type Result struct {
	Limit     int       // bucket capacity
	Remaining int       // tokens left; negative when denied
	ResetAt   time.Time // next refill
}

// Allowed returns whether the request was allowed.
func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// RetryAfter returns how long to wait before the next request.
// Returns 0 if the request was allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed() {
		return 0
	}
	return max(0, time.Until(r.ResetAt))
}

// Config defines the token bucket configuration.
type Config struct {
	Capacity       int           `env:"CAPACITY" envDefault:"20"`
	RefillRate     int           `env:"REFILL_RATE" envDefault:"1"`
	RefillInterval time.Duration `env:"REFILL_INTERVAL" envDefault:"3s"`
}

// refill returns the token count after the elapsed time, bounded by capacity.
func (c Config) refill(tokens int, elapsed time.Duration) (int, bool) {
	if elapsed < c.RefillInterval {
		return tokens, false
	}
	// Cap intervals so large gaps cannot overflow.
	maxIntervals := int64(c.Capacity/c.RefillRate + 1)
	intervals := int(min(int64(elapsed/c.RefillInterval), maxIntervals))
	return min(tokens+intervals*c.RefillRate, c.Capacity), true
}

func (c Config) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.RefillRate <= 0 {
		return fmt.Errorf("%w: refill rate must be positive, got %d", ErrInvalidConfig, c.RefillRate)
	}
	if c.RefillInterval <= 0 {
		return fmt.Errorf("%w: refill interval must be positive, got %v", ErrInvalidConfig, c.RefillInterval)
	}
	return nil
}
