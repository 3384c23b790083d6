package redis

import "time"

// Config describes the connection used for cross-instance change events and
// the shared rate limiter. An empty ConnectionURL keeps the service on
// in-process implementations.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL"`                                // ConnectionURL in the form "redis://:password@localhost:6379/0".
	Channel        string        `env:"REDIS_CHANNEL" envDefault:"authz:changes"` // Channel carries RBAC change events between instances.
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`      // RetryAttempts is the number of ping attempts before giving up.
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s"`     // RetryInterval is the pause between attempts.
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`   // ConnectTimeout bounds the whole connect sequence.
}

// Enabled reports whether a Redis connection is configured.
func (c Config) Enabled() bool { return c.ConnectionURL != "" }
