package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/authzkit/pkg/logger"
)

// AsyncOptions configures batching for AsyncWriter.
type AsyncOptions struct {
	BufferSize     int           // events queued before Store returns ErrBufferFull
	BatchSize      int           // events written per storage call
	BatchTimeout   time.Duration // max wait for a partial batch
	StorageTimeout time.Duration // per-batch storage deadline
	Logger         *slog.Logger  // receives batch write failures
}

// AsyncWriter is a Storage that queues events and writes them in batches
// from a background goroutine. Store never blocks on the underlying storage.
type AsyncWriter struct {
	storage Storage
	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	options AsyncOptions

	mu     sync.RWMutex
	closed bool
}

// NewAsyncWriter starts the background writer. Call Close to flush queued
// events on shutdown.
func NewAsyncWriter(storage Storage, opts AsyncOptions) *AsyncWriter {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}

	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 100 * time.Millisecond
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	aw := &AsyncWriter{
		storage: storage,
		events:  make(chan Event, opts.BufferSize),
		done:    make(chan struct{}),
		options: opts,
	}

	aw.wg.Add(1)
	go aw.worker()

	return aw
}

// Store queues events for the next batch. It returns ErrBufferFull when an
// event does not fit and ErrStorageNotAvailable after Close.
func (aw *AsyncWriter) Store(_ context.Context, events ...Event) error {
	aw.mu.RLock()
	defer aw.mu.RUnlock()

	if aw.closed {
		return ErrStorageNotAvailable
	}

	for _, e := range events {
		select {
		case aw.events <- e:
		default:
			return ErrBufferFull
		}
	}
	return nil
}

func (aw *AsyncWriter) worker() {
	defer aw.wg.Done()

	batch := make([]Event, 0, aw.options.BatchSize)
	ticker := time.NewTicker(aw.options.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		// Request contexts are gone by now; use a fresh deadline.
		ctx, cancel := context.WithTimeout(context.Background(), aw.options.StorageTimeout)
		defer cancel()

		if err := aw.storage.Store(ctx, batch...); err != nil {
			aw.options.Logger.ErrorContext(ctx, "audit batch write failed",
				slog.Int("events", len(batch)),
				slog.Any("error", err),
			)
		}

		clear(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e := <-aw.events:
			batch = append(batch, e)
			if len(batch) >= aw.options.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-aw.done:
			for {
				select {
				case e := <-aw.events:
					batch = append(batch, e)
					if len(batch) >= aw.options.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops accepting events and waits until queued events are written or
// ctx expires.
func (aw *AsyncWriter) Close(ctx context.Context) error {
	aw.mu.Lock()
	if aw.closed {
		aw.mu.Unlock()
		return nil
	}
	aw.closed = true
	close(aw.done)
	aw.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		aw.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
