package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/authz"
	"github.com/dmitrymomot/authzkit/pkg/clientip"
	"github.com/dmitrymomot/authzkit/pkg/credential"
	"github.com/dmitrymomot/authzkit/pkg/httpserver"
	"github.com/dmitrymomot/authzkit/pkg/notify"
	"github.com/dmitrymomot/authzkit/pkg/pg"
	"github.com/dmitrymomot/authzkit/pkg/ratelimiter"
	"github.com/dmitrymomot/authzkit/pkg/rbac"
	"github.com/dmitrymomot/authzkit/pkg/redis"
	"github.com/dmitrymomot/authzkit/pkg/requestid"
	"github.com/dmitrymomot/authzkit/pkg/store/postgres"
	"github.com/dmitrymomot/authzkit/pkg/tenant"
)

// app holds everything the HTTP layer and the background jobs need.
type app struct {
	svc         *authz.Service
	directory   *tenant.Directory
	auditReader audit.Reader
	seed        *rbac.Seed
	registry    *prometheus.Registry
	limiter     ratelimiter.Limiter
	ips         *clientip.Resolver
	checks      []httpserver.Check
	logger      *slog.Logger

	// subscriber is nil without Redis; changes is nil with it.
	subscriber *notify.RedisSubscriber
	changes    *notify.MemoryBroadcaster[notify.ChangeEvent]
	closers    []func(context.Context) error
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// storage is the persistence a deployment plugs into the service.
type storage struct {
	tenants tenant.Provider
	rbac    rbac.Store
	keys    credential.KeyManager
	audit   interface {
		audit.Storage
		audit.Reader
	}
}

// connect opens Postgres and, when configured, Redis.
func connect(ctx context.Context, cfg Config, log *slog.Logger) (*sql.DB, *goredis.Client, error) {
	db, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx, db, postgres.Migrations, postgres.MigrationsDir, cfg.PG, log); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	if !cfg.Redis.Enabled() {
		log.InfoContext(ctx, "redis not configured, running single-instance")
		return db, nil, nil
	}
	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, client, nil
}

func postgresStorage(db *sql.DB) storage {
	return storage{
		tenants: postgres.NewTenantStore(db),
		rbac:    postgres.NewRBACStore(db),
		keys:    postgres.NewKeyStore(db),
		audit:   postgres.NewAuditStore(db),
	}
}

// newApp wires the service over st. client may be nil, in which case caches,
// rate limits and change events stay in process.
func newApp(cfg Config, st storage, client goredis.UniversalClient, log *slog.Logger) (*app, error) {
	a := &app{
		registry:    prometheus.NewRegistry(),
		auditReader: st.audit,
		logger:      log,
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics, err := authz.NewMetrics(a.registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if a.seed, err = loadSeed(cfg.Authz.SeedFile); err != nil {
		return nil, err
	}

	hasher, err := credential.NewHasher([]byte(cfg.Authz.AppSecret))
	if err != nil {
		return nil, err
	}

	var (
		limitStore ratelimiter.Store
		cache      rbac.Cache
	)
	if client != nil {
		limitStore = ratelimiter.NewRedisStore(client)
	} else {
		mem := ratelimiter.NewMemoryStore()
		a.closers = append(a.closers, func(context.Context) error { mem.Close(); return nil })
		limitStore = mem
	}
	if client != nil && cfg.Authz.RedisCache {
		cache = rbac.NewRedisCache(client, cfg.Authz.CacheTTL, rbac.WithRedisCacheLogger(log))
	} else {
		cache = rbac.NewMemoryCache(cfg.Authz.CacheSize, cfg.Authz.CacheTTL)
	}

	denialLimiter, err := ratelimiter.NewBucket(limitStore, cfg.Authz.DenialRateLimit)
	if err != nil {
		return nil, fmt.Errorf("denial rate limit: %w", err)
	}
	if a.limiter, err = ratelimiter.NewBucket(limitStore, cfg.RequestRateLimit); err != nil {
		return nil, fmt.Errorf("request rate limit: %w", err)
	}
	a.ips = clientip.NewResolver(cfg.TrustedProxyHeaders...)

	auditLogger := audit.NewLogger(st.audit,
		audit.WithRequestIDExtractor(requestid.Extractor()),
		audit.WithIPExtractor(clientip.Extractor()),
		audit.WithUserAgentExtractor(userAgentExtractor),
	)

	// Denials are recorded outside any transaction, so they go through a
	// batching writer to keep request latency off the audit table.
	denials := audit.NewAsyncWriter(st.audit, audit.AsyncOptions{
		StorageTimeout: cfg.Authz.ReadTimeout,
		Logger:         log,
	})
	a.closers = append(a.closers, denials.Close)
	denialLogger := audit.NewLogger(denials,
		audit.WithRequestIDExtractor(requestid.Extractor()),
		audit.WithIPExtractor(clientip.Extractor()),
		audit.WithUserAgentExtractor(userAgentExtractor),
	)

	resolverOpts := []credential.ResolverOption{
		credential.WithReadTimeout(cfg.Authz.ReadTimeout),
		credential.WithResolverLogger(log),
		credential.WithDenialRecorder(credential.NewDenialAuditor(denialLogger,
			credential.WithRateLimiter(denialLimiter),
			credential.WithSourceExtractor(clientip.Extractor()),
			credential.WithSuppressedHook(func(context.Context, credential.Denial) { metrics.DenialSuppressed() }),
			credential.WithDenialLogger(log),
		)),
	}
	if cfg.Authz.JWTSecret != "" {
		verifier, err := credential.NewJWTVerifier([]byte(cfg.Authz.JWTSecret), cfg.Authz.JWTIssuer, cfg.Authz.JWTAudience,
			credential.WithLeeway(cfg.Authz.JWTLeeway),
		)
		if err != nil {
			return nil, err
		}
		resolverOpts = append(resolverOpts, credential.WithVerifier(verifier))
	}
	resolver := credential.NewResolver(st.keys, hasher, resolverOpts...)

	a.directory = tenant.NewDirectory(st.tenants,
		tenant.WithReadTimeout(cfg.Authz.ReadTimeout),
		tenant.WithCacheSize(cfg.Authz.CacheSize),
		tenant.WithCacheTTL(cfg.Authz.TenantTTL),
		tenant.WithDirectoryLogger(log),
	)

	store := rbac.NewIsolatedStore(st.rbac)
	engine := rbac.NewEngine(store,
		rbac.WithCache(cache),
		rbac.WithReadTimeout(cfg.Authz.ReadTimeout),
		rbac.WithCacheObserver(metrics.CacheEvent),
		rbac.WithEngineLogger(log),
	)
	manager := rbac.NewManager(store,
		rbac.WithAuditLogger(auditLogger),
		rbac.WithManagerLogger(log),
	)

	var notifier notify.Notifier
	if client == nil {
		a.changes = notify.NewMemoryBroadcaster[notify.ChangeEvent](cfg.Authz.NotifyQueueSize)
		a.closers = append(a.closers, func(context.Context) error { return a.changes.Close() })
		notifier = a.changes
	} else {
		instance := notify.NewInstanceID()
		async := notify.NewAsync(
			notify.NewRedisPublisher(client,
				notify.WithChannel(cfg.Redis.Channel),
				notify.WithOrigin(instance),
				notify.WithRedisLogger(log),
			),
			notify.WithQueueSize(cfg.Authz.NotifyQueueSize),
			notify.WithLogger(log),
		)
		a.closers = append(a.closers, async.Close)
		notifier = async
		a.subscriber = notify.NewRedisSubscriber(client,
			notify.WithChannel(cfg.Redis.Channel),
			notify.WithOrigin(instance),
			notify.WithRedisLogger(log),
		)
		a.checks = append(a.checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	}

	a.svc = authz.New(a.directory, store, resolver,
		authz.WithEngine(engine),
		authz.WithManager(manager),
		authz.WithNotifier(notifier),
		authz.WithKeys(st.keys, hasher),
		authz.WithAuditLogger(auditLogger),
		authz.WithMetrics(metrics),
		authz.WithReadTimeout(cfg.Authz.ReadTimeout),
		authz.WithLogger(log),
	)
	return a, nil
}

type userAgentKey struct{}

func userAgentExtractor(ctx context.Context) (string, bool) {
	ua, ok := ctx.Value(userAgentKey{}).(string)
	return ua, ok && ua != ""
}
