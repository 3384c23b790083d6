package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/authzkit/pkg/audit"
)

type ctxKey string

func TestLoggerBuild(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := audit.NewLogger(nil,
		audit.WithClock(func() time.Time { return fixed }),
		audit.WithRequestIDExtractor(func(ctx context.Context) (string, bool) {
			v, ok := ctx.Value(ctxKey("rid")).(string)
			return v, ok
		}),
		audit.WithIPExtractor(func(context.Context) (string, bool) { return "10.0.0.1", true }),
	)

	ctx := context.WithValue(context.Background(), ctxKey("rid"), "req-1")
	tenantID := uuid.New()
	e := l.Build(ctx, audit.Change{
		TenantID:   tenantID,
		Action:     audit.ActionRoleCreated,
		EntityType: audit.EntityRole,
		EntityID:   "r1",
		Details:    map[string]any{"name": "manager", "Token": "abc"},
	})

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, tenantID, e.TenantID)
	assert.Equal(t, audit.ResultSuccess, e.Result)
	assert.Equal(t, fixed, e.CreatedAt)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "10.0.0.1", e.IP)
	assert.Empty(t, e.UserAgent)
	assert.Equal(t, "manager", e.Details["name"])
	assert.Equal(t, "[REDACTED]", e.Details["Token"])
	require.NoError(t, e.Validate())
}

func TestLoggerRecord(t *testing.T) {
	t.Parallel()

	t.Run("without storage", func(t *testing.T) {
		t.Parallel()
		err := audit.NewLogger(nil).Record(context.Background(), audit.Change{Action: "x", EntityType: "y"})
		assert.ErrorIs(t, err, audit.ErrStorageNotAvailable)
	})

	t.Run("rejects incomplete change", func(t *testing.T) {
		t.Parallel()
		store := audit.NewMemoryStorage()
		err := audit.NewLogger(store).Record(context.Background(), audit.Change{EntityType: audit.EntityRole})
		assert.ErrorIs(t, err, audit.ErrInvalidEvent)
		assert.Zero(t, store.Len())
	})

	t.Run("denied", func(t *testing.T) {
		t.Parallel()
		store := audit.NewMemoryStorage()
		l := audit.NewLogger(store)
		require.NoError(t, l.Denied(context.Background(), uuid.Nil, audit.EntityCredential, "ak_12345678", "invalid_credential",
			map[string]any{"tier": "credential"}))

		events, err := store.Find(context.Background(), uuid.Nil, audit.Filter{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, audit.ActionAccessDenied, events[0].Action)
		assert.Equal(t, audit.ResultFailure, events[0].Result)
		assert.Equal(t, "invalid_credential", events[0].Details["reason"])
		assert.Equal(t, "credential", events[0].Details["tier"])
	})
}

func TestHashChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := audit.NewMemoryStorage()
	l := audit.NewLogger(store)
	tenantID := uuid.New()

	for _, action := range []string{audit.ActionRoleCreated, audit.ActionPermissionGranted, audit.ActionRoleAssigned} {
		require.NoError(t, l.Record(ctx, audit.Change{TenantID: tenantID, Action: action, EntityType: audit.EntityRole}))
	}
	// Other tenants have their own chain.
	require.NoError(t, l.Record(ctx, audit.Change{TenantID: uuid.New(), Action: audit.ActionRoleCreated, EntityType: audit.EntityRole}))

	events, err := store.Find(ctx, tenantID, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Empty(t, events[0].PrevHash)
	assert.Equal(t, events[0].Hash, events[1].PrevHash)
	require.NoError(t, audit.VerifyChain(events))

	t.Run("tampered details", func(t *testing.T) {
		tampered := append([]audit.Event(nil), events...)
		tampered[1].Details = map[string]any{"permission": "*"}
		assert.ErrorIs(t, audit.VerifyChain(tampered), audit.ErrChainBroken)
	})

	t.Run("removed event", func(t *testing.T) {
		assert.ErrorIs(t, audit.VerifyChain([]audit.Event{events[0], events[2]}), audit.ErrChainBroken)
	})
}

func TestFind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := audit.NewMemoryStorage()
	tenantID := uuid.New()
	actor := uuid.New()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		action := audit.ActionRoleAssigned
		if i%2 == 0 {
			action = audit.ActionRoleRevoked
		}
		l := audit.NewLogger(store, audit.WithClock(func() time.Time { return base.Add(time.Duration(i) * time.Hour) }))
		require.NoError(t, l.Record(ctx, audit.Change{TenantID: tenantID, ActorID: actor, Action: action, EntityType: audit.EntityAssignment}))
	}

	tests := []struct {
		name   string
		filter audit.Filter
		want   int
	}{
		{"all", audit.Filter{}, 5},
		{"by action", audit.Filter{Actions: []string{audit.ActionRoleRevoked}}, 3},
		{"by actor", audit.Filter{ActorID: actor}, 5},
		{"other actor", audit.Filter{ActorID: uuid.New()}, 0},
		{"since", audit.Filter{Since: base.Add(3 * time.Hour)}, 2},
		{"until", audit.Filter{Until: base.Add(2 * time.Hour)}, 2},
		{"limit and offset", audit.Filter{Limit: 2, Offset: 4}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			events, err := store.Find(ctx, tenantID, tt.filter)
			require.NoError(t, err)
			assert.Len(t, events, tt.want)
		})
	}

	other, err := store.Find(ctx, uuid.New(), audit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

type blockingStorage struct {
	mu      sync.Mutex
	release chan struct{}
	stored  []audit.Event
}

func (b *blockingStorage) Store(_ context.Context, events ...audit.Event) error {
	if b.release != nil {
		<-b.release
	}
	b.mu.Lock()
	b.stored = append(b.stored, events...)
	b.mu.Unlock()
	return nil
}

func (b *blockingStorage) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stored)
}

func TestAsyncWriter(t *testing.T) {
	t.Parallel()

	event := func() audit.Event {
		return audit.NewLogger(nil).Build(context.Background(), audit.Change{
			TenantID: uuid.New(), Action: audit.ActionAccessDenied, EntityType: audit.EntityCredential,
		})
	}

	t.Run("flushes on close", func(t *testing.T) {
		t.Parallel()
		store := &blockingStorage{}
		w := audit.NewAsyncWriter(store, audit.AsyncOptions{BatchTimeout: time.Hour})
		for range 10 {
			require.NoError(t, w.Store(context.Background(), event()))
		}
		require.NoError(t, w.Close(context.Background()))
		assert.Equal(t, 10, store.count())
		assert.ErrorIs(t, w.Store(context.Background(), event()), audit.ErrStorageNotAvailable)
	})

	t.Run("flushes on timeout", func(t *testing.T) {
		t.Parallel()
		store := &blockingStorage{}
		w := audit.NewAsyncWriter(store, audit.AsyncOptions{BatchTimeout: 10 * time.Millisecond})
		defer w.Close(context.Background())

		require.NoError(t, w.Store(context.Background(), event()))
		assert.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("buffer full does not block", func(t *testing.T) {
		t.Parallel()
		store := &blockingStorage{release: make(chan struct{})}
		w := audit.NewAsyncWriter(store, audit.AsyncOptions{BufferSize: 1, BatchSize: 1, BatchTimeout: time.Hour})

		var err error
		for range 10 {
			if err = w.Store(context.Background(), event()); err != nil {
				break
			}
		}
		assert.True(t, errors.Is(err, audit.ErrBufferFull))

		close(store.release)
		require.NoError(t, w.Close(context.Background()))
	})
}
