package rbac

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/isolation"
	"github.com/dmitrymomot/authzkit/pkg/permission"
)

type assignmentKey struct {
	tenantID uuid.UUID
	userID   uuid.UUID
	roleID   uuid.UUID
}

type memState struct {
	principals  map[uuid.UUID]Principal
	roles       map[uuid.UUID]Role
	assignments map[assignmentKey]Assignment
	permissions map[uuid.UUID]map[string]permission.Definition
}

func newMemState() *memState {
	return &memState{
		principals:  make(map[uuid.UUID]Principal),
		roles:       make(map[uuid.UUID]Role),
		assignments: make(map[assignmentKey]Assignment),
		permissions: make(map[uuid.UUID]map[string]permission.Definition),
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		principals:  make(map[uuid.UUID]Principal, len(st.principals)),
		roles:       make(map[uuid.UUID]Role, len(st.roles)),
		assignments: maps.Clone(st.assignments),
		permissions: make(map[uuid.UUID]map[string]permission.Definition, len(st.permissions)),
	}
	for id, p := range st.principals {
		p.DirectPermissions = slices.Clone(p.DirectPermissions)
		c.principals[id] = p
	}
	for id, r := range st.roles {
		c.roles[id] = r.Clone()
	}
	for tid, defs := range st.permissions {
		c.permissions[tid] = maps.Clone(defs)
	}
	return c
}

func (st *memState) getPrincipal(tenantID, id uuid.UUID) (Principal, error) {
	p, ok := st.principals[id]
	if !ok || p.TenantID != tenantID {
		return Principal{}, ErrPrincipalNotFound
	}
	p.DirectPermissions = slices.Clone(p.DirectPermissions)
	return p, nil
}

func (st *memState) getRole(tenantID, id uuid.UUID) (Role, error) {
	r, ok := st.roles[id]
	if !ok || r.TenantID != tenantID {
		return Role{}, ErrRoleNotFound
	}
	return r.Clone(), nil
}

func (st *memState) getRoleByName(tenantID uuid.UUID, name string) (Role, error) {
	for _, r := range st.roles {
		if r.TenantID == tenantID && r.Name == name {
			return r.Clone(), nil
		}
	}
	return Role{}, ErrRoleNotFound
}

func (st *memState) listRoles(tenantID uuid.UUID) []Role {
	var out []Role
	for _, r := range st.roles {
		if r.TenantID == tenantID {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, compareRoles)
	return out
}

func (st *memState) rolesByIDs(tenantID uuid.UUID, ids []uuid.UUID) []Role {
	var out []Role
	for _, id := range ids {
		if r, err := st.getRole(tenantID, id); err == nil {
			out = append(out, r)
		}
	}
	return out
}

func (st *memState) activeAssignments(tenantID, principalID uuid.UUID, now time.Time) []Assignment {
	var out []Assignment
	for k, a := range st.assignments {
		if k.tenantID == tenantID && k.userID == principalID && a.ActiveAt(now) {
			out = append(out, a)
		}
	}
	return out
}

func (st *memState) assignmentsByRoles(tenantID uuid.UUID, roleIDs []uuid.UUID) []Assignment {
	var out []Assignment
	for k, a := range st.assignments {
		if k.tenantID == tenantID && slices.Contains(roleIDs, k.roleID) {
			out = append(out, a)
		}
	}
	return out
}

func (st *memState) listPermissions(tenantID uuid.UUID) []permission.Definition {
	var out []permission.Definition
	for _, d := range st.permissions[uuid.Nil] {
		out = append(out, d)
	}
	if tenantID != uuid.Nil {
		for _, d := range st.permissions[tenantID] {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b permission.Definition) int {
		if a.Key < b.Key {
			return -1
		}
		if a.Key > b.Key {
			return 1
		}
		return 0
	})
	return out
}

// compareRoles orders by priority, then name.
func compareRoles(a, b Role) int {
	if a.Priority != b.Priority {
		return a.Priority - b.Priority
	}
	switch {
	case a.Name < b.Name:
		return -1
	case a.Name > b.Name:
		return 1
	}
	return 0
}

// MemoryStore is an in-process Store. Transactions run on a copy of the
// state that replaces the original on commit, after the buffered audit
// events were stored.
type MemoryStore struct {
	mu       sync.RWMutex
	state    *memState
	auditLog *audit.MemoryStorage

	faultMu sync.RWMutex
	err     error
	latency time.Duration
}

type MemoryStoreOption func(*MemoryStore)

// WithAuditLog sets the audit storage transactions append to.
func WithAuditLog(log *audit.MemoryStorage) MemoryStoreOption {
	return func(s *MemoryStore) {
		if log != nil {
			s.auditLog = log
		}
	}
}

// WithSystemPermissions registers catalog entries visible to every tenant.
func WithSystemPermissions(defs ...permission.Definition) MemoryStoreOption {
	return func(s *MemoryStore) {
		m := s.state.permissions[uuid.Nil]
		if m == nil {
			m = make(map[string]permission.Definition)
			s.state.permissions[uuid.Nil] = m
		}
		for _, d := range defs {
			d.TenantID = uuid.Nil
			d.IsSystem = true
			m[d.Key] = d
		}
	}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		state:    newMemState(),
		auditLog: audit.NewMemoryStorage(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuditLog returns the audit storage transactions write to.
func (s *MemoryStore) AuditLog() *audit.MemoryStorage { return s.auditLog }

// FailWith makes every subsequent call return err. Pass nil to recover.
func (s *MemoryStore) FailWith(err error) {
	s.faultMu.Lock()
	s.err = err
	s.faultMu.Unlock()
}

// SetLatency delays every read by d, honoring context cancellation.
func (s *MemoryStore) SetLatency(d time.Duration) {
	s.faultMu.Lock()
	s.latency = d
	s.faultMu.Unlock()
}

func (s *MemoryStore) enter(ctx context.Context) error {
	s.faultMu.RLock()
	err, latency := s.err, s.latency
	s.faultMu.RUnlock()

	if err != nil {
		return err
	}
	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (s *MemoryStore) view(ctx context.Context) (*memState, func(), error) {
	if err := s.enter(ctx); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	return s.state, s.mu.RUnlock, nil
}

// GetPrincipal returns the principal or ErrPrincipalNotFound.
func (s *MemoryStore) GetPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) (Principal, error) {
	st, done, err := s.view(ctx)
	if err != nil {
		return Principal{}, err
	}
	defer done()
	return st.getPrincipal(tenantID, principalID)
}

// GetRole returns the role or ErrRoleNotFound.
func (s *MemoryStore) GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	st, done, err := s.view(ctx)
	if err != nil {
		return Role{}, err
	}
	defer done()
	return st.getRole(tenantID, roleID)
}

// GetRoleByName looks a role up by its exact name.
func (s *MemoryStore) GetRoleByName(ctx context.Context, tenantID uuid.UUID, name string) (Role, error) {
	st, done, err := s.view(ctx)
	if err != nil {
		return Role{}, err
	}
	defer done()
	return st.getRoleByName(tenantID, name)
}

// ListRoles orders roles by priority, highest first.
func (s *MemoryStore) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	st, done, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return st.listRoles(tenantID), nil
}

// RolesByIDs skips ids that do not exist.
func (s *MemoryStore) RolesByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Role, error) {
	st, done, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return st.rolesByIDs(tenantID, ids), nil
}

// ActiveAssignments leaves out assignments expired at now.
func (s *MemoryStore) ActiveAssignments(ctx context.Context, tenantID, principalID uuid.UUID, now time.Time) ([]Assignment, error) {
	st, done, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return st.activeAssignments(tenantID, principalID, now), nil
}

func (s *MemoryStore) ListAssignmentsByRoles(ctx context.Context, tenantID uuid.UUID, roleIDs []uuid.UUID) ([]Assignment, error) {
	st, done, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return st.assignmentsByRoles(tenantID, roleIDs), nil
}

// ListPermissions returns platform entries followed by the tenant's own.
func (s *MemoryStore) ListPermissions(ctx context.Context, tenantID uuid.UUID) ([]permission.Definition, error) {
	st, done, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return st.listPermissions(tenantID), nil
}

// TenantsWithExpiredAssignments scans every tenant.
func (s *MemoryStore) TenantsWithExpiredAssignments(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	st, done, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	seen := make(map[uuid.UUID]struct{})
	for k, a := range st.assignments {
		if !a.ActiveAt(now) {
			seen[k.tenantID] = struct{}{}
		}
	}
	return slices.Collect(maps.Keys(seen)), nil
}

// WithTx serializes all writers of the store.
func (s *MemoryStore) WithTx(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	if tenantID == uuid.Nil {
		return isolation.ErrMissingTenant
	}
	if err := s.enter(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{tenantID: tenantID, state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if len(tx.events) > 0 {
		if err := s.auditLog.Store(ctx, tx.events...); err != nil {
			return fmt.Errorf("rbac: append audit: %w", err)
		}
	}
	s.state = tx.state
	return nil
}

// SavePrincipal registers a principal outside of any mutation.
func (s *MemoryStore) SavePrincipal(ctx context.Context, p Principal) error {
	return s.WithTx(ctx, p.TenantID, func(ctx context.Context, tx Tx) error {
		return tx.SavePrincipal(ctx, p.TenantID, p)
	})
}

type memTx struct {
	tenantID uuid.UUID
	state    *memState
	events   []audit.Event
}

func (tx *memTx) bound(tenantID uuid.UUID) error {
	if tenantID != tx.tenantID {
		return &isolation.ViolationError{Expected: tx.tenantID, Actual: tenantID, Entity: "transaction"}
	}
	return nil
}

func (tx *memTx) GetPrincipal(_ context.Context, tenantID, principalID uuid.UUID) (Principal, error) {
	if err := tx.bound(tenantID); err != nil {
		return Principal{}, err
	}
	return tx.state.getPrincipal(tenantID, principalID)
}

func (tx *memTx) GetRole(_ context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	if err := tx.bound(tenantID); err != nil {
		return Role{}, err
	}
	return tx.state.getRole(tenantID, roleID)
}

func (tx *memTx) GetRoleByName(_ context.Context, tenantID uuid.UUID, name string) (Role, error) {
	if err := tx.bound(tenantID); err != nil {
		return Role{}, err
	}
	return tx.state.getRoleByName(tenantID, name)
}

func (tx *memTx) ListRoles(_ context.Context, tenantID uuid.UUID) ([]Role, error) {
	if err := tx.bound(tenantID); err != nil {
		return nil, err
	}
	return tx.state.listRoles(tenantID), nil
}

func (tx *memTx) RolesByIDs(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Role, error) {
	if err := tx.bound(tenantID); err != nil {
		return nil, err
	}
	return tx.state.rolesByIDs(tenantID, ids), nil
}

func (tx *memTx) ActiveAssignments(_ context.Context, tenantID, principalID uuid.UUID, now time.Time) ([]Assignment, error) {
	if err := tx.bound(tenantID); err != nil {
		return nil, err
	}
	return tx.state.activeAssignments(tenantID, principalID, now), nil
}

func (tx *memTx) ListAssignmentsByRoles(_ context.Context, tenantID uuid.UUID, roleIDs []uuid.UUID) ([]Assignment, error) {
	if err := tx.bound(tenantID); err != nil {
		return nil, err
	}
	return tx.state.assignmentsByRoles(tenantID, roleIDs), nil
}

func (tx *memTx) ListPermissions(_ context.Context, tenantID uuid.UUID) ([]permission.Definition, error) {
	if err := tx.bound(tenantID); err != nil {
		return nil, err
	}
	return tx.state.listPermissions(tenantID), nil
}

// LockRole is a plain read; WithTx already holds the store lock.
func (tx *memTx) LockRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	return tx.GetRole(ctx, tenantID, roleID)
}

// SavePrincipal refuses ids owned by another tenant.
func (tx *memTx) SavePrincipal(_ context.Context, tenantID uuid.UUID, p Principal) error {
	if err := tx.bound(tenantID); err != nil {
		return err
	}
	if err := isolation.Ensure(tenantID, p); err != nil {
		return err
	}
	if existing, ok := tx.state.principals[p.ID]; ok && existing.TenantID != tenantID {
		return fmt.Errorf("%w: principal id belongs to another tenant", ErrInvalidInput)
	}
	p.DirectPermissions = slices.Clone(p.DirectPermissions)
	tx.state.principals[p.ID] = p
	return nil
}

func (tx *memTx) SetDirectPermissions(_ context.Context, tenantID, principalID uuid.UUID, keys []string) error {
	if err := tx.bound(tenantID); err != nil {
		return err
	}
	p, err := tx.state.getPrincipal(tenantID, principalID)
	if err != nil {
		return err
	}
	p.DirectPermissions = slices.Clone(keys)
	p.UpdatedAt = time.Now().UTC()
	tx.state.principals[p.ID] = p
	return nil
}

// CreateRole fails with ErrRoleExists on a taken name.
func (tx *memTx) CreateRole(_ context.Context, tenantID uuid.UUID, r Role) error {
	if err := tx.bound(tenantID); err != nil {
		return err
	}
	if err := isolation.Ensure(tenantID, r); err != nil {
		return err
	}
	if _, err := tx.state.getRoleByName(tenantID, r.Name); err == nil {
		return ErrRoleExists
	}
	tx.state.roles[r.ID] = r.Clone()
	return nil
}

// UpdateRole checks the stored version before writing.
func (tx *memTx) UpdateRole(_ context.Context, tenantID uuid.UUID, r Role) (Role, error) {
	if err := tx.bound(tenantID); err != nil {
		return Role{}, err
	}
	current, err := tx.state.getRole(tenantID, r.ID)
	if err != nil {
		return Role{}, err
	}
	if current.Version != r.Version {
		return Role{}, ErrVersionConflict
	}
	if other, err := tx.state.getRoleByName(tenantID, r.Name); err == nil && other.ID != r.ID {
		return Role{}, ErrRoleExists
	}
	r.TenantID = tenantID
	r.Version++
	tx.state.roles[r.ID] = r.Clone()
	return r, nil
}

func (tx *memTx) DeleteRole(_ context.Context, tenantID, roleID uuid.UUID) error {
	if err := tx.bound(tenantID); err != nil {
		return err
	}
	if _, err := tx.state.getRole(tenantID, roleID); err != nil {
		return err
	}
	delete(tx.state.roles, roleID)
	return nil
}

// RemoveInheritance returns the roles that lost roleID as a parent.
func (tx *memTx) RemoveInheritance(_ context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error) {
	if err := tx.bound(tenantID); err != nil {
		return nil, err
	}
	var changed []uuid.UUID
	for id, r := range tx.state.roles {
		if r.TenantID != tenantID || !slices.Contains(r.Inherits, roleID) {
			continue
		}
		r = r.Clone()
		r.Inherits = slices.DeleteFunc(r.Inherits, func(p uuid.UUID) bool { return p == roleID })
		r.Version++
		r.UpdatedAt = time.Now().UTC()
		tx.state.roles[id] = r
		changed = append(changed, id)
	}
	return changed, nil
}

// AddAssignment reports false if the pair exists.
func (tx *memTx) AddAssignment(_ context.Context, tenantID uuid.UUID, a Assignment) (bool, error) {
	if err := tx.bound(tenantID); err != nil {
		return false, err
	}
	if err := isolation.Ensure(tenantID, a); err != nil {
		return false, err
	}
	k := assignmentKey{tenantID, a.UserID, a.RoleID}
	if _, ok := tx.state.assignments[k]; ok {
		return false, nil
	}
	tx.state.assignments[k] = a
	return true, nil
}

func (tx *memTx) RemoveAssignment(_ context.Context, tenantID, userID, roleID uuid.UUID) (bool, error) {
	if err := tx.bound(tenantID); err != nil {
		return false, err
	}
	k := assignmentKey{tenantID, userID, roleID}
	if _, ok := tx.state.assignments[k]; !ok {
		return false, nil
	}
	delete(tx.state.assignments, k)
	return true, nil
}

func (tx *memTx) DeleteAssignmentsByRole(_ context.Context, tenantID, roleID uuid.UUID) ([]Assignment, error) {
	if err := tx.bound(tenantID); err != nil {
		return nil, err
	}
	removed := tx.state.assignmentsByRoles(tenantID, []uuid.UUID{roleID})
	for _, a := range removed {
		delete(tx.state.assignments, assignmentKey{tenantID, a.UserID, a.RoleID})
	}
	return removed, nil
}

// DeleteExpiredAssignments removes and returns assignments expired at now.
func (tx *memTx) DeleteExpiredAssignments(_ context.Context, tenantID uuid.UUID, now time.Time) ([]Assignment, error) {
	if err := tx.bound(tenantID); err != nil {
		return nil, err
	}
	var removed []Assignment
	for k, a := range tx.state.assignments {
		if k.tenantID == tenantID && !a.ActiveAt(now) {
			removed = append(removed, a)
			delete(tx.state.assignments, k)
		}
	}
	return removed, nil
}

func (tx *memTx) UpsertPermission(_ context.Context, tenantID uuid.UUID, d permission.Definition) error {
	if err := tx.bound(tenantID); err != nil {
		return err
	}
	d.TenantID = tenantID
	m := tx.state.permissions[tenantID]
	if m == nil {
		m = make(map[string]permission.Definition)
		tx.state.permissions[tenantID] = m
	}
	m[d.Key] = d
	return nil
}

// RemovePermission only touches the tenant's own entries.
func (tx *memTx) RemovePermission(_ context.Context, tenantID uuid.UUID, key string) (bool, error) {
	if err := tx.bound(tenantID); err != nil {
		return false, err
	}
	if _, ok := tx.state.permissions[tenantID][key]; !ok {
		return false, nil
	}
	delete(tx.state.permissions[tenantID], key)
	return true, nil
}

func (tx *memTx) PrincipalsWithPermission(_ context.Context, tenantID uuid.UUID, key string) ([]uuid.UUID, error) {
	if err := tx.bound(tenantID); err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for _, p := range tx.state.principals {
		if p.TenantID == tenantID && slices.Contains(p.DirectPermissions, key) {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

// AppendAudit buffers e; WithTx stores the buffer before it commits.
func (tx *memTx) AppendAudit(_ context.Context, tenantID uuid.UUID, e audit.Event) error {
	if err := tx.bound(tenantID); err != nil {
		return err
	}
	if err := isolation.Ensure(tenantID, e); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	tx.events = append(tx.events, e)
	return nil
}
