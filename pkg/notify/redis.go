package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/authzkit/pkg/logger"
)

// DefaultChannel is the Redis pub/sub channel for change events.
const DefaultChannel = "authz:changes"

// RedisPublisher publishes change events as JSON.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	origin  string
}

type RedisOption func(*redisOptions)

type redisOptions struct {
	channel string
	origin  string
	logger  *slog.Logger
}

// WithChannel overrides the pub/sub channel.
func WithChannel(channel string) RedisOption {
	return func(o *redisOptions) {
		if channel != "" {
			o.channel = channel
		}
	}
}

// WithOrigin sets the instance identifier stamped on published events.
// Subscribers sharing the origin skip their own events.
func WithOrigin(origin string) RedisOption {
	return func(o *redisOptions) {
		o.origin = origin
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(o *redisOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildRedisOptions(opts []RedisOption) redisOptions {
	o := redisOptions{
		channel: DefaultChannel,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewInstanceID returns a random origin for WithOrigin.
func NewInstanceID() string { return uuid.NewString() }

// NewRedisPublisher publishes change events on the configured channel.
func NewRedisPublisher(client redis.UniversalClient, opts ...RedisOption) *RedisPublisher {
	if client == nil {
		panic("notify: redis client cannot be nil")
	}
	o := buildRedisOptions(opts)
	return &RedisPublisher{client: client, channel: o.channel, origin: o.origin}
}

// Notify publishes event as JSON.
func (p *RedisPublisher) Notify(ctx context.Context, event ChangeEvent) error {
	if event.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidEvent)
	}
	if event.Origin == "" {
		event.Origin = p.origin
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Join(ErrPublishFailed, err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return errors.Join(ErrPublishFailed, err)
	}
	return nil
}

// Handler processes a change event received from another instance.
type Handler func(ctx context.Context, event ChangeEvent) error

// RedisSubscriber feeds events published by other instances to a Handler.
type RedisSubscriber struct {
	client  redis.UniversalClient
	channel string
	origin  string
	logger  *slog.Logger
}

// NewRedisSubscriber listens on the configured channel. Run starts it.
func NewRedisSubscriber(client redis.UniversalClient, opts ...RedisOption) *RedisSubscriber {
	if client == nil {
		panic("notify: redis client cannot be nil")
	}
	o := buildRedisOptions(opts)
	return &RedisSubscriber{client: client, channel: o.channel, origin: o.origin, logger: o.logger}
}

// Listen blocks until ctx is done or the subscription fails. Malformed
// payloads and handler errors are logged and skipped.
func (s *RedisSubscriber) Listen(ctx context.Context, handle Handler) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so no event published after
	// Listen starts is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("notify: subscribe %s: %w", s.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.dispatch(ctx, msg.Payload, handle)
		}
	}
}

func (s *RedisSubscriber) dispatch(ctx context.Context, payload string, handle Handler) {
	var event ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		s.logger.WarnContext(ctx, "malformed change event", slog.Any("error", err))
		return
	}
	if s.origin != "" && event.Origin == s.origin {
		return
	}
	if err := handle(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "change event handler failed",
			slog.String("tenant_id", event.TenantID.String()),
			slog.Any("error", err),
		)
	}
}
