package authz

import (
	"time"

	"github.com/dmitrymomot/authzkit/pkg/ratelimiter"
)

type Config struct {
	ReadTimeout time.Duration `env:"AUTHZ_READ_TIMEOUT" envDefault:"3s"`      // ReadTimeout bounds every storage read on the decision path.
	CacheSize   int           `env:"AUTHZ_CACHE_SIZE" envDefault:"10000"`     // CacheSize is the number of permission unions kept in memory.
	CacheTTL    time.Duration `env:"AUTHZ_CACHE_TTL" envDefault:"5m"`         // CacheTTL bounds how long a cached union may live.
	RedisCache  bool          `env:"AUTHZ_REDIS_CACHE" envDefault:"false"`    // RedisCache shares cached unions between instances.
	TenantTTL   time.Duration `env:"AUTHZ_TENANT_CACHE_TTL" envDefault:"30s"` // TenantTTL bounds how stale a cached tenant status may be.

	AppSecret   string        `env:"AUTHZ_APP_SECRET,required"`              // AppSecret keys the API-key hash. At least 32 bytes.
	JWTSecret   string        `env:"AUTHZ_JWT_SECRET"`                       // JWTSecret enables bearer tokens when set.
	JWTIssuer   string        `env:"AUTHZ_JWT_ISSUER" envDefault:"authzkit"` // JWTIssuer is the required iss claim.
	JWTAudience string        `env:"AUTHZ_JWT_AUDIENCE"`                     // JWTAudience is the required aud claim, if set.
	JWTLeeway   time.Duration `env:"AUTHZ_JWT_LEEWAY" envDefault:"30s"`      // JWTLeeway tolerates clock skew.

	DenialRateLimit ratelimiter.Config `envPrefix:"AUTHZ_DENIAL_"` // DenialRateLimit caps audited denials per source.

	NotifyQueueSize int    `env:"AUTHZ_NOTIFY_QUEUE_SIZE" envDefault:"256"`    // NotifyQueueSize bounds pending change notifications.
	SweepSchedule   string `env:"AUTHZ_SWEEP_SCHEDULE" envDefault:"@every 1m"` // SweepSchedule is the cron spec of the expiry sweep.
	SeedFile        string `env:"AUTHZ_SEED_FILE"`                             // SeedFile is a YAML seed applied to new tenants.
}
