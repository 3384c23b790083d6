package rbac

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/isolation"
	"github.com/dmitrymomot/authzkit/pkg/permission"
)

// IsolatedStore asserts that every row a Store returns belongs to the
// tenant it was asked for. A mismatch fails the call with a
// *isolation.ViolationError instead of returning the row.
type IsolatedStore struct {
	next Store
}

// NewIsolatedStore wraps next with row-level tenant assertions.
func NewIsolatedStore(next Store) *IsolatedStore {
	if next == nil {
		panic("rbac: store cannot be nil")
	}
	return &IsolatedStore{next: next}
}

// GetPrincipal fails with a violation if the principal is foreign.
func (s *IsolatedStore) GetPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) (Principal, error) {
	v, err := s.next.GetPrincipal(ctx, tenantID, principalID)
	return ensureOne(tenantID, v, err)
}

func (s *IsolatedStore) GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	v, err := s.next.GetRole(ctx, tenantID, roleID)
	return ensureOne(tenantID, v, err)
}

func (s *IsolatedStore) GetRoleByName(ctx context.Context, tenantID uuid.UUID, name string) (Role, error) {
	v, err := s.next.GetRoleByName(ctx, tenantID, name)
	return ensureOne(tenantID, v, err)
}

// ListRoles and the other list reads check every returned row.
func (s *IsolatedStore) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	v, err := s.next.ListRoles(ctx, tenantID)
	return ensureAll(tenantID, v, err)
}

func (s *IsolatedStore) RolesByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Role, error) {
	v, err := s.next.RolesByIDs(ctx, tenantID, ids)
	return ensureAll(tenantID, v, err)
}

func (s *IsolatedStore) ActiveAssignments(ctx context.Context, tenantID, principalID uuid.UUID, now time.Time) ([]Assignment, error) {
	v, err := s.next.ActiveAssignments(ctx, tenantID, principalID, now)
	return ensureAll(tenantID, v, err)
}

func (s *IsolatedStore) ListAssignmentsByRoles(ctx context.Context, tenantID uuid.UUID, roleIDs []uuid.UUID) ([]Assignment, error) {
	v, err := s.next.ListAssignmentsByRoles(ctx, tenantID, roleIDs)
	return ensureAll(tenantID, v, err)
}

// ListPermissions accepts platform entries next to the tenant's own.
func (s *IsolatedStore) ListPermissions(ctx context.Context, tenantID uuid.UUID) ([]permission.Definition, error) {
	v, err := s.next.ListPermissions(ctx, tenantID)
	return ensureDefinitions(tenantID, v, err)
}

// TenantsWithExpiredAssignments returns ids only and is passed through.
func (s *IsolatedStore) TenantsWithExpiredAssignments(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return s.next.TenantsWithExpiredAssignments(ctx, now)
}

// WithTx runs fn inside the tenant scope with reads of the transaction
// checked the same way.
func (s *IsolatedStore) WithTx(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	return isolation.WithTenantScope(ctx, tenantID, func(ctx context.Context, _ isolation.Scope) error {
		return s.next.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
			return fn(ctx, &isolatedTx{Tx: tx})
		})
	})
}

type isolatedTx struct {
	Tx
}

func (t *isolatedTx) GetPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) (Principal, error) {
	v, err := t.Tx.GetPrincipal(ctx, tenantID, principalID)
	return ensureOne(tenantID, v, err)
}

func (t *isolatedTx) GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	v, err := t.Tx.GetRole(ctx, tenantID, roleID)
	return ensureOne(tenantID, v, err)
}

func (t *isolatedTx) GetRoleByName(ctx context.Context, tenantID uuid.UUID, name string) (Role, error) {
	v, err := t.Tx.GetRoleByName(ctx, tenantID, name)
	return ensureOne(tenantID, v, err)
}

func (t *isolatedTx) LockRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	v, err := t.Tx.LockRole(ctx, tenantID, roleID)
	return ensureOne(tenantID, v, err)
}

func (t *isolatedTx) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	v, err := t.Tx.ListRoles(ctx, tenantID)
	return ensureAll(tenantID, v, err)
}

func (t *isolatedTx) RolesByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Role, error) {
	v, err := t.Tx.RolesByIDs(ctx, tenantID, ids)
	return ensureAll(tenantID, v, err)
}

func (t *isolatedTx) ActiveAssignments(ctx context.Context, tenantID, principalID uuid.UUID, now time.Time) ([]Assignment, error) {
	v, err := t.Tx.ActiveAssignments(ctx, tenantID, principalID, now)
	return ensureAll(tenantID, v, err)
}

func (t *isolatedTx) ListAssignmentsByRoles(ctx context.Context, tenantID uuid.UUID, roleIDs []uuid.UUID) ([]Assignment, error) {
	v, err := t.Tx.ListAssignmentsByRoles(ctx, tenantID, roleIDs)
	return ensureAll(tenantID, v, err)
}

func (t *isolatedTx) ListPermissions(ctx context.Context, tenantID uuid.UUID) ([]permission.Definition, error) {
	v, err := t.Tx.ListPermissions(ctx, tenantID)
	return ensureDefinitions(tenantID, v, err)
}

func (t *isolatedTx) DeleteAssignmentsByRole(ctx context.Context, tenantID, roleID uuid.UUID) ([]Assignment, error) {
	v, err := t.Tx.DeleteAssignmentsByRole(ctx, tenantID, roleID)
	return ensureAll(tenantID, v, err)
}

func (t *isolatedTx) DeleteExpiredAssignments(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]Assignment, error) {
	v, err := t.Tx.DeleteExpiredAssignments(ctx, tenantID, now)
	return ensureAll(tenantID, v, err)
}

func (t *isolatedTx) AppendAudit(ctx context.Context, tenantID uuid.UUID, e audit.Event) error {
	if err := isolation.Ensure(tenantID, e); err != nil {
		return err
	}
	return t.Tx.AppendAudit(ctx, tenantID, e)
}

func ensureOne[T isolation.Scoped](tenantID uuid.UUID, row T, err error) (T, error) {
	if err != nil {
		return row, err
	}
	if verr := isolation.Ensure(tenantID, row); verr != nil {
		var zero T
		return zero, verr
	}
	return row, nil
}

func ensureAll[T isolation.Scoped](tenantID uuid.UUID, rows []T, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if verr := isolation.Ensure(tenantID, row); verr != nil {
			return nil, verr
		}
	}
	return rows, nil
}

// ensureDefinitions allows system entries, which have no tenant.
func ensureDefinitions(tenantID uuid.UUID, defs []permission.Definition, err error) ([]permission.Definition, error) {
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		if d.TenantID == uuid.Nil && d.IsSystem {
			continue
		}
		if verr := isolation.Ensure(tenantID, d); verr != nil {
			return nil, verr
		}
	}
	return defs, nil
}
