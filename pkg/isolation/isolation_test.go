package isolation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/authzkit/pkg/isolation"
)

type row struct{ tenant uuid.UUID }

func (r row) ScopeTenantID() uuid.UUID { return r.tenant }

func TestWithTenantScope(t *testing.T) {
	t.Parallel()

	t.Run("binds scope to context", func(t *testing.T) {
		t.Parallel()
		tid := uuid.New()
		err := isolation.WithTenantScope(context.Background(), tid, func(ctx context.Context, s isolation.Scope) error {
			got, ok := isolation.FromContext(ctx)
			require.True(t, ok)
			assert.Equal(t, tid, got.TenantID)
			assert.Equal(t, tid, s.TenantID)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("rejects nil tenant", func(t *testing.T) {
		t.Parallel()
		called := false
		err := isolation.WithTenantScope(context.Background(), uuid.Nil, func(context.Context, isolation.Scope) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, isolation.ErrMissingTenant)
		assert.False(t, called)
	})

	t.Run("same tenant nests", func(t *testing.T) {
		t.Parallel()
		tid := uuid.New()
		err := isolation.WithTenantScope(context.Background(), tid, func(ctx context.Context, _ isolation.Scope) error {
			return isolation.WithTenantScope(ctx, tid, func(context.Context, isolation.Scope) error { return nil })
		})
		assert.NoError(t, err)
	})

	t.Run("different tenant nested is a violation", func(t *testing.T) {
		t.Parallel()
		err := isolation.WithTenantScope(context.Background(), uuid.New(), func(ctx context.Context, _ isolation.Scope) error {
			return isolation.WithTenantScope(ctx, uuid.New(), func(context.Context, isolation.Scope) error { return nil })
		})
		assert.True(t, isolation.IsFatal(err))
	})

	t.Run("propagates fn error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		err := isolation.WithTenantScope(context.Background(), uuid.New(), func(context.Context, isolation.Scope) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.False(t, isolation.IsFatal(err))
	})
}

func TestScopeCheck(t *testing.T) {
	t.Parallel()

	tid, other := uuid.New(), uuid.New()
	s := isolation.Scope{TenantID: tid}

	assert.NoError(t, s.Check(row{tid}, row{tid}))

	err := s.Check(row{tid}, row{other})
	require.Error(t, err)

	var violation *isolation.ViolationError
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, tid, violation.Expected)
	assert.Equal(t, other, violation.Actual)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), isolation.ErrTenantIsolationViolation)

	assert.True(t, isolation.IsFatal(isolation.Ensure(tid, row{other})))
}

func TestCheckRows(t *testing.T) {
	t.Parallel()

	tid := uuid.New()
	rows := []row{{tid}, {uuid.New()}}

	assert.NoError(t, isolation.CheckRows(context.Background(), rows), "no scope, no assertion")

	err := isolation.WithTenantScope(context.Background(), tid, func(ctx context.Context, _ isolation.Scope) error {
		return isolation.CheckRows(ctx, rows)
	})
	assert.True(t, isolation.IsFatal(err))
}
