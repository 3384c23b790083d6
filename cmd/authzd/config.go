package main

import (
	"github.com/dmitrymomot/authzkit/pkg/authz"
	"github.com/dmitrymomot/authzkit/pkg/httpserver"
	"github.com/dmitrymomot/authzkit/pkg/pg"
	"github.com/dmitrymomot/authzkit/pkg/ratelimiter"
	"github.com/dmitrymomot/authzkit/pkg/redis"
)

type Config struct {
	Env       string `env:"APP_ENV" envDefault:"development"` // Env selects logging defaults and is attached to every record.
	LogLevel  string `env:"LOG_LEVEL"`                        // LogLevel overrides the environment default: debug, info, warn or error.
	LogFormat string `env:"LOG_FORMAT"`                       // LogFormat overrides the environment default: json or text.

	// TrustedProxyHeaders are consulted, in order, for the client address.
	TrustedProxyHeaders []string `env:"TRUSTED_PROXY_HEADERS" envSeparator:"," envDefault:"X-Forwarded-For"`

	// RequestRateLimit caps API requests per client address.
	RequestRateLimit ratelimiter.Config `envPrefix:"HTTP_RATE_LIMIT_"`

	HTTP  httpserver.Config
	PG    pg.Config
	Redis redis.Config
	Authz authz.Config
}
