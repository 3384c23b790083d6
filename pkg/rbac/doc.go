// Package rbac models tenant-scoped roles, assignments and direct grants,
// and evaluates whether a principal holds a permission.
//
// Evaluation is a pure union. A principal's effective permissions are the
// permissions of every role it is actively assigned, the roles those roles
// inherit, and its direct grants. The wildcard "*" grants everything. There
// is no deny entry, and role priority only orders roles for display.
//
// Every Store method takes the tenant id right after the context. A principal
// from another tenant is simply not found, and the Engine answers false for
// it without evaluating anything.
//
// Basic usage:
//
//	store := rbac.NewMemoryStore()
//	engine := rbac.NewEngine(store, rbac.WithCache(rbac.NewMemoryCache(1024, time.Minute)))
//	manager := rbac.NewManager(store)
//
//	role, res, err := manager.CreateRole(ctx, tenantID, actorID, rbac.RoleInput{
//	    Name:        "manager",
//	    Permissions: []string{"user.read", "user.update"},
//	})
//	_, res, err = manager.AssignRole(ctx, tenantID, actorID, userID, role.ID, rbac.AssignOptions{})
//	_ = engine.Invalidate(ctx, tenantID, res.Affected...)
//
//	ok, err := engine.HasPermission(ctx, tenantID, userID, "user", "update")
package rbac
