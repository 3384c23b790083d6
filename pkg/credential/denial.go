package credential

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/logger"
	"github.com/dmitrymomot/authzkit/pkg/ratelimiter"
)

// Denial describes a rejected credential. TenantID is uuid.Nil when the
// credential never resolved to a tenant.
type Denial struct {
	TenantID  uuid.UUID
	Kind      Kind
	Reason    string
	KeyPrefix string
}

// DenialRecorder receives every credential rejection. It must not block.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, d Denial)
}

type nopRecorder struct{}

func (nopRecorder) RecordDenial(context.Context, Denial) {}

// DenialAuditor writes denials to the audit log, rate-limited per source.
// The source is the client IP when known, else the key prefix.
type DenialAuditor struct {
	audit        *audit.Logger
	limiter      ratelimiter.Limiter
	source       audit.Extractor
	onSuppressed func(ctx context.Context, d Denial)
	logger       *slog.Logger
}

type DenialOption func(*DenialAuditor)

// WithRateLimiter limits how many denials per source reach the audit log.
func WithRateLimiter(l ratelimiter.Limiter) DenialOption {
	return func(a *DenialAuditor) { a.limiter = l }
}

// WithSourceExtractor supplies the client IP used as the rate-limit key.
func WithSourceExtractor(fn audit.Extractor) DenialOption {
	return func(a *DenialAuditor) { a.source = fn }
}

// WithSuppressedHook is called for every denial dropped by the rate limit.
func WithSuppressedHook(fn func(ctx context.Context, d Denial)) DenialOption {
	return func(a *DenialAuditor) { a.onSuppressed = fn }
}

// WithDenialLogger sets the logger used when an audit write fails.
func WithDenialLogger(l *slog.Logger) DenialOption {
	return func(a *DenialAuditor) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewDenialAuditor writes denials through l.
func NewDenialAuditor(l *audit.Logger, opts ...DenialOption) *DenialAuditor {
	if l == nil {
		panic("credential: audit logger cannot be nil")
	}
	a := &DenialAuditor{
		audit:  l,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logger.Component("credential.denials"))
	return a
}

// RecordDenial writes d unless its source is over the rate limit.
func (a *DenialAuditor) RecordDenial(ctx context.Context, d Denial) {
	if !a.allow(ctx, d) {
		if a.onSuppressed != nil {
			a.onSuppressed(ctx, d)
		}
		return
	}

	details := map[string]any{
		"tier":       "credential",
		"key_prefix": d.KeyPrefix,
	}
	if d.Kind != "" {
		details["kind"] = string(d.Kind)
	}
	if err := a.audit.Denied(ctx, d.TenantID, audit.EntityCredential, d.KeyPrefix, d.Reason, details); err != nil {
		a.logger.WarnContext(ctx, "denial audit dropped", logger.Reason(d.Reason), logger.Error(err))
	}
}

func (a *DenialAuditor) allow(ctx context.Context, d Denial) bool {
	if a.limiter == nil {
		return true
	}
	key := "denial:anonymous"
	if ip, ok := a.sourceIP(ctx); ok {
		key = "denial:ip:" + ip
	} else if d.KeyPrefix != "" {
		key = "denial:prefix:" + d.KeyPrefix
	}

	res, err := a.limiter.Allow(ctx, key)
	if err != nil {
		a.logger.WarnContext(ctx, "denial rate limit unavailable", logger.Error(err))
		return true
	}
	return res.Allowed()
}

func (a *DenialAuditor) sourceIP(ctx context.Context) (string, bool) {
	if a.source == nil {
		return "", false
	}
	ip, ok := a.source(ctx)
	return ip, ok && ip != ""
}
