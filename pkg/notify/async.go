package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/authzkit/pkg/logger"
)

// AsyncOption configures Async.
type AsyncOption func(*Async)

// WithQueueSize sets how many events may wait for delivery. Default 256.
func WithQueueSize(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.queueSize = n
		}
	}
}

// WithWorkers sets the number of delivery goroutines. Default 2.
func WithWorkers(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithPublishTimeout bounds each delivery. Default 2s.
func WithPublishTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger used for dropped events.
func WithLogger(l *slog.Logger) AsyncOption {
	return func(a *Async) {
		if l != nil {
			a.logger = l
		}
	}
}

// Async delivers events through the wrapped Notifier on background workers.
// Notify never blocks: when the queue is full the event is dropped and
// logged.
type Async struct {
	next      Notifier
	queue     chan ChangeEvent
	queueSize int
	workers   int
	timeout   time.Duration
	logger    *slog.Logger

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewAsync delivers events to next from a background goroutine. Close
// flushes the queue.
func NewAsync(next Notifier, opts ...AsyncOption) *Async {
	if next == nil {
		panic("notify: notifier cannot be nil")
	}

	a := &Async{
		next:      next,
		queueSize: 256,
		workers:   2,
		timeout:   2 * time.Second,
		logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.queue = make(chan ChangeEvent, a.queueSize)
	for range a.workers {
		a.wg.Add(1)
		go a.work()
	}
	return a
}

// Notify queues the event. It returns ErrQueueFull or ErrClosed when the
// event was dropped; callers on the mutation path ignore both.
func (a *Async) Notify(ctx context.Context, event ChangeEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- event:
		return nil
	default:
		a.logger.WarnContext(ctx, "change notification dropped",
			slog.String("tenant_id", event.TenantID.String()),
			slog.Int("affected", len(event.AffectedPrincipalIDs)),
		)
		return ErrQueueFull
	}
}

func (a *Async) work() {
	defer a.wg.Done()

	for event := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Notify(ctx, event); err != nil {
			a.logger.ErrorContext(ctx, "change notification failed",
				slog.String("tenant_id", event.TenantID.String()),
				slog.Any("error", err),
			)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued deliveries or ctx.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
