package rbac

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/permission"
)

const maxRoleNameLength = 100

func normalizeRoleName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxRoleNameLength {
		return "", fmt.Errorf("%w: role name exceeds %d characters", ErrInvalidInput, maxRoleNameLength)
	}
	return name, nil
}

func normalizeKeys(keys []string) ([]string, error) {
	out, err := permission.NormalizeAll(keys)
	if err != nil {
		return nil, errors.Join(ErrInvalidInput, err)
	}
	return out, nil
}

// checkCatalog requires every key to be in the tenant or system catalog.
// Tenants without any catalog entries accept every well-formed key.
func checkCatalog(ctx context.Context, r Reader, tenantID uuid.UUID, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	defs, err := r.ListPermissions(ctx, tenantID)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return nil
	}

	known := make(permission.Set, len(defs))
	for _, d := range defs {
		if d.TenantID != uuid.Nil && d.TenantID != tenantID {
			continue
		}
		known.Add(d.Key)
	}
	for _, k := range keys {
		if k == permission.Wildcard || known.Contains(k) {
			continue
		}
		return errors.Join(ErrInvalidInput, fmt.Errorf("%w: %s", permission.ErrUnknownKey, k))
	}
	return nil
}

// checkInheritance validates the parents of roleID and returns them
// de-duplicated in their given order.
func checkInheritance(ctx context.Context, r Reader, tenantID, roleID uuid.UUID, parents []uuid.UUID) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(parents))
	for _, p := range parents {
		if p == uuid.Nil {
			return nil, fmt.Errorf("%w: empty parent role id", ErrInvalidInput)
		}
		if p == roleID {
			return nil, fmt.Errorf("%w: role cannot inherit itself", ErrCircularInheritance)
		}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return out, nil
	}

	w := &inheritanceWalker{ctx: ctx, r: r, tenantID: tenantID, target: roleID, depth: map[uuid.UUID]int{}}
	deepest := 0
	for _, p := range out {
		d, err := w.walk(p, map[uuid.UUID]bool{})
		if err != nil {
			return nil, err
		}
		deepest = max(deepest, d+1)
	}
	if deepest > MaxInheritanceDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds %d", ErrInheritanceTooDeep, deepest, MaxInheritanceDepth)
	}
	return out, nil
}

type inheritanceWalker struct {
	ctx      context.Context
	r        Reader
	tenantID uuid.UUID
	target   uuid.UUID
	depth    map[uuid.UUID]int
}

// walk returns how many parent levels id has, failing when the chain
// reaches the target role.
func (w *inheritanceWalker) walk(id uuid.UUID, path map[uuid.UUID]bool) (int, error) {
	if id == w.target {
		return 0, fmt.Errorf("%w: role %s is already an ancestor", ErrCircularInheritance, id)
	}
	if d, ok := w.depth[id]; ok {
		return d, nil
	}
	if path[id] {
		return 0, fmt.Errorf("%w: existing cycle through %s", ErrCircularInheritance, id)
	}
	path[id] = true
	defer delete(path, id)

	role, err := w.r.GetRole(w.ctx, w.tenantID, id)
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			return 0, fmt.Errorf("%w: parent %s", ErrRoleNotFound, id)
		}
		return 0, err
	}

	d := 0
	for _, p := range role.Inherits {
		pd, err := w.walk(p, path)
		if err != nil {
			return 0, err
		}
		d = max(d, pd+1)
		if d > MaxInheritanceDepth {
			return 0, fmt.Errorf("%w: depth exceeds %d", ErrInheritanceTooDeep, MaxInheritanceDepth)
		}
	}
	w.depth[id] = d
	return d, nil
}

// holders returns the principals assigned roleID or any role inheriting
// from it, expired assignments included.
func holders(ctx context.Context, r Reader, tenantID, roleID uuid.UUID) ([]uuid.UUID, error) {
	roles, err := r.ListRoles(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	children := make(map[uuid.UUID][]uuid.UUID)
	for _, role := range roles {
		for _, p := range role.Inherits {
			children[p] = append(children[p], role.ID)
		}
	}

	ids := []uuid.UUID{roleID}
	seen := map[uuid.UUID]bool{roleID: true}
	for i := 0; i < len(ids); i++ {
		for _, c := range children[ids[i]] {
			if !seen[c] {
				seen[c] = true
				ids = append(ids, c)
			}
		}
	}

	assignments, err := r.ListAssignmentsByRoles(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	return uniqueUsers(assignments), nil
}

func uniqueUsers(assignments []Assignment) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(assignments))
	for _, a := range assignments {
		if !slices.Contains(out, a.UserID) {
			out = append(out, a.UserID)
		}
	}
	return out
}

// uniqueIDs drops nil and repeated ids, keeping the first occurrence.
func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != uuid.Nil && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
