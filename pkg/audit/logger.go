package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Logger builds events from changes and request context, and writes the
// ones recorded outside a storage transaction.
type Logger struct {
	storage            Storage
	requestIDExtractor Extractor
	ipExtractor        Extractor
	userAgentExtractor Extractor
	redactKeys         map[string]struct{}
	now                func() time.Time
}

type Option func(*Logger)

// WithRequestIDExtractor sets how the request id is read from the context.
func WithRequestIDExtractor(fn Extractor) Option {
	return func(l *Logger) {
		l.requestIDExtractor = fn
	}
}

// WithIPExtractor sets how the client address is read from the context.
func WithIPExtractor(fn Extractor) Option {
	return func(l *Logger) {
		l.ipExtractor = fn
	}
}

// WithUserAgentExtractor sets how the user agent is read from the context.
func WithUserAgentExtractor(fn Extractor) Option {
	return func(l *Logger) {
		l.userAgentExtractor = fn
	}
}

// WithRedactKeys replaces the values of the given detail keys with
// "[REDACTED]". Keys are matched case-insensitively.
func WithRedactKeys(keys ...string) Option {
	return func(l *Logger) {
		for _, k := range keys {
			l.redactKeys[strings.ToLower(k)] = struct{}{}
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

var defaultRedactKeys = []string{"api_key", "key", "secret", "token", "password", "authorization"}

// NewLogger creates an audit logger. Storage may be nil when the logger is
// only used to Build events for transactional writes.
func NewLogger(storage Storage, opts ...Option) *Logger {
	l := &Logger{
		storage:    storage,
		redactKeys: make(map[string]struct{}, len(defaultRedactKeys)),
		now:        time.Now,
	}
	for _, k := range defaultRedactKeys {
		l.redactKeys[k] = struct{}{}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Build turns a change into an unsealed event stamped with request metadata.
func (l *Logger) Build(ctx context.Context, c Change) Event {
	result := c.Result
	if result == "" {
		result = ResultSuccess
	}

	event := Event{
		ID:         uuid.New(),
		TenantID:   c.TenantID,
		ActorID:    c.ActorID,
		Action:     c.Action,
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Details:    l.redact(c.Details),
		Result:     result,
		CreatedAt:  l.now().UTC(),
	}

	if v, ok := extract(ctx, l.requestIDExtractor); ok {
		event.RequestID = v
	}
	if v, ok := extract(ctx, l.ipExtractor); ok {
		event.IP = v
	}
	if v, ok := extract(ctx, l.userAgentExtractor); ok {
		event.UserAgent = v
	}

	return event
}

// Record builds and stores a single event.
func (l *Logger) Record(ctx context.Context, c Change) error {
	if l.storage == nil {
		return ErrStorageNotAvailable
	}
	event := l.Build(ctx, c)
	if err := event.Validate(); err != nil {
		return err
	}
	return l.storage.Store(ctx, event)
}

// Denied records an access_denied event for the given tier.
func (l *Logger) Denied(ctx context.Context, tenantID uuid.UUID, entityType, entityID, reason string, details map[string]any) error {
	d := make(map[string]any, len(details)+1)
	for k, v := range details {
		d[k] = v
	}
	d["reason"] = reason

	return l.Record(ctx, Change{
		TenantID:   tenantID,
		Action:     ActionAccessDenied,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    d,
		Result:     ResultFailure,
	})
}

func (l *Logger) redact(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if _, ok := l.redactKeys[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func extract(ctx context.Context, fn Extractor) (string, bool) {
	if fn == nil {
		return "", false
	}
	v, ok := fn(ctx)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
