package rbac_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/permission"
	"github.com/dmitrymomot/authzkit/pkg/rbac"
)

func TestBulkAssign(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	reader := f.role(t, "reader", "doc.read")
	writer := f.role(t, "writer", "doc.write")
	u1, u2 := f.principal(t, f.tenant), f.principal(t, f.tenant)
	f.assign(t, u1, reader.ID)

	created, res, err := f.manager.BulkAssign(ctx, f.tenant, f.admin,
		[]uuid.UUID{u1, u2, u2}, []uuid.UUID{reader.ID, writer.ID}, rbac.AssignOptions{})
	require.NoError(t, err)
	assert.Len(t, created, 3, "the existing pair is skipped")
	assert.True(t, res.Changed)
	assert.ElementsMatch(t, []uuid.UUID{u1, u2}, res.Affected)
	assert.Len(t, f.events(t, audit.ActionRoleAssigned), 4, "one event per assignment")

	require.NoError(t, f.engine.Invalidate(ctx, f.tenant, res.Affected...))
	assert.True(t, f.allowed(t, u2, "doc", "read"))
	assert.True(t, f.allowed(t, u2, "doc", "write"))

	created, res, err = f.manager.BulkAssign(ctx, f.tenant, f.admin,
		[]uuid.UUID{u1, u2}, []uuid.UUID{reader.ID, writer.ID}, rbac.AssignOptions{})
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Equal(t, rbac.Result{}, res)

	t.Run("all or nothing", func(t *testing.T) {
		u3 := f.principal(t, f.tenant)
		_, _, err := f.manager.BulkAssign(ctx, f.tenant, f.admin,
			[]uuid.UUID{u3}, []uuid.UUID{reader.ID, uuid.New()}, rbac.AssignOptions{})
		assert.ErrorIs(t, err, rbac.ErrRoleNotFound)
		assert.False(t, f.allowed(t, u3, "doc", "read"))
		assert.Len(t, f.events(t, audit.ActionRoleAssigned), 4)

		_, _, err = f.manager.BulkAssign(ctx, f.tenant, f.admin,
			[]uuid.UUID{u3, uuid.New()}, []uuid.UUID{reader.ID}, rbac.AssignOptions{})
		assert.ErrorIs(t, err, rbac.ErrPrincipalNotFound)
		assert.False(t, f.allowed(t, u3, "doc", "read"))
	})

	t.Run("invalid input", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		tests := []struct {
			name  string
			users []uuid.UUID
			roles []uuid.UUID
			opts  rbac.AssignOptions
		}{
			{name: "no users", roles: []uuid.UUID{reader.ID}},
			{name: "no roles", users: []uuid.UUID{u1}},
			{name: "nil ids only", users: []uuid.UUID{uuid.Nil}, roles: []uuid.UUID{reader.ID}},
			{name: "expired", users: []uuid.UUID{u1}, roles: []uuid.UUID{writer.ID}, opts: rbac.AssignOptions{ExpiresAt: &past}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, err := f.manager.BulkAssign(ctx, f.tenant, f.admin, tt.users, tt.roles, tt.opts)
				assert.ErrorIs(t, err, rbac.ErrInvalidInput)
			})
		}
	})
}

func TestDefinePermission(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := rbac.NewMemoryStore(rbac.WithSystemPermissions(permission.Definition{Key: "platform.read", IsSystem: true}))
	manager := rbac.NewManager(store)
	tenantID, admin := uuid.New(), uuid.New()

	def, res, err := manager.DefinePermission(ctx, tenantID, admin, permission.Definition{Key: " Report.Read ", Category: "reports"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "report.read", def.Key)
	assert.Equal(t, tenantID, def.TenantID)

	_, res, err = manager.DefinePermission(ctx, tenantID, admin, permission.Definition{Key: "report.read", Category: "reports"})
	require.NoError(t, err)
	assert.Equal(t, rbac.Result{}, res, "redefining an identical entry writes nothing")

	_, _, err = manager.CreateRole(ctx, tenantID, admin, rbac.RoleInput{Name: "r", Permissions: []string{"report.read", "platform.read"}})
	require.NoError(t, err)
	_, _, err = manager.CreateRole(ctx, tenantID, admin, rbac.RoleInput{Name: "x", Permissions: []string{"report.write"}})
	assert.ErrorIs(t, err, rbac.ErrInvalidInput, "the tenant now has a catalog")

	_, _, err = manager.DefinePermission(ctx, tenantID, admin, permission.Definition{Key: "platform.read"})
	assert.ErrorIs(t, err, rbac.ErrSystemPermission)
	_, _, err = manager.DefinePermission(ctx, tenantID, admin, permission.Definition{Key: "*"})
	assert.ErrorIs(t, err, rbac.ErrInvalidInput)
	_, _, err = manager.DefinePermission(ctx, tenantID, admin, permission.Definition{Key: "nodot"})
	assert.ErrorIs(t, err, rbac.ErrInvalidInput)

	events, err := store.AuditLog().Find(ctx, tenantID, audit.Filter{Actions: []string{audit.ActionPermissionDefined}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "report.read", events[0].EntityID)
}

func TestRemovePermission(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := rbac.NewMemoryStore()
	manager := rbac.NewManager(store)
	tenantID, admin := uuid.New(), uuid.New()

	seed, err := rbac.LoadSeed(stringsReader("permissions:\n  - key: user.read\n"))
	require.NoError(t, err)
	_, err = manager.Seed(ctx, tenantID, admin, seed)
	require.NoError(t, err)
	for _, key := range []string{"report.read", "report.export"} {
		_, _, err = manager.DefinePermission(ctx, tenantID, admin, permission.Definition{Key: key})
		require.NoError(t, err)
	}

	role, _, err := manager.CreateRole(ctx, tenantID, admin, rbac.RoleInput{Name: "reports", Permissions: []string{"report.read"}})
	require.NoError(t, err)
	pid := uuid.New()
	_, _, err = manager.SavePrincipal(ctx, tenantID, rbac.Principal{ID: pid, DirectPermissions: []string{"report.export"}})
	require.NoError(t, err)

	_, err = manager.RemovePermission(ctx, tenantID, admin, "report.read")
	assert.ErrorIs(t, err, rbac.ErrPermissionInUse, "held by a role")
	_, err = manager.RemovePermission(ctx, tenantID, admin, "report.export")
	assert.ErrorIs(t, err, rbac.ErrPermissionInUse, "granted directly")
	_, err = manager.RemovePermission(ctx, tenantID, admin, "user.read")
	assert.ErrorIs(t, err, rbac.ErrSystemPermission, "seeded entries are read-only")

	_, err = manager.RevokePermission(ctx, tenantID, admin, role.ID, "report.read")
	require.NoError(t, err)
	res, err := manager.RemovePermission(ctx, tenantID, admin, "report.read")
	require.NoError(t, err)
	assert.True(t, res.Changed)

	res, err = manager.RemovePermission(ctx, tenantID, admin, "report.read")
	require.NoError(t, err)
	assert.Equal(t, rbac.Result{}, res, "removing a missing entry is a no-op")

	_, err = manager.GrantPermission(ctx, tenantID, admin, role.ID, "report.read")
	assert.ErrorIs(t, err, rbac.ErrInvalidInput, "removed keys leave the catalog")

	events, err := store.AuditLog().Find(ctx, tenantID, audit.Filter{Actions: []string{audit.ActionPermissionRemoved}})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

const templateSeed = `
permissions:
  - key: user.read
  - key: user.update
  - key: report.read
roles:
  - name: viewer
    system: true
    permissions: [user.read]
templates:
  - name: analyst
    priority: 15
    permissions: [report.read]
    inherits: [viewer]
  - name: editor
    description: Edits users
    permissions: [user.update]
`

func TestRoleTemplates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	seed, err := rbac.LoadSeed(stringsReader(templateSeed))
	require.NoError(t, err)

	store := rbac.NewMemoryStore()
	manager := rbac.NewManager(store)
	tenantID, admin := uuid.New(), uuid.New()
	created, err := manager.Seed(ctx, tenantID, admin, seed)
	require.NoError(t, err)
	require.Len(t, created, 1, "templates are not seeded")
	viewer := created[0]

	tmpl, ok := seed.Template("analyst")
	require.True(t, ok)
	role, res, err := manager.CreateRoleFromTemplate(ctx, tenantID, admin, tmpl, "")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "analyst", role.Name)
	assert.Equal(t, "Created from template: analyst", role.Description)
	assert.Equal(t, 15, role.Priority)
	assert.Equal(t, []uuid.UUID{viewer.ID}, role.Inherits)
	assert.False(t, role.IsSystem)

	tmpl, ok = seed.Template("editor")
	require.True(t, ok)
	role, _, err = manager.CreateRoleFromTemplate(ctx, tenantID, admin, tmpl, "user-editor")
	require.NoError(t, err)
	assert.Equal(t, "user-editor", role.Name)
	assert.Equal(t, "Edits users", role.Description)

	_, _, err = manager.CreateRoleFromTemplate(ctx, tenantID, admin, tmpl, "user-editor")
	assert.ErrorIs(t, err, rbac.ErrRoleExists)

	tmpl, _ = seed.Template("analyst")
	_, _, err = manager.CreateRoleFromTemplate(ctx, uuid.New(), admin, tmpl, "")
	assert.ErrorIs(t, err, rbac.ErrRoleNotFound, "the parent is not seeded in that tenant")

	events, err := store.AuditLog().Find(ctx, tenantID, audit.Filter{Actions: []string{audit.ActionRoleCreated}, EntityID: role.ID.String()})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "editor", events[0].Details["template"])

	_, ok = seed.Template("missing")
	assert.False(t, ok)
}

func TestLoadSeedTemplateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"duplicate template", "templates:\n  - name: a\n  - name: a\n"},
		{"system template", "templates:\n  - name: a\n    system: true\n"},
		{"unknown parent", "templates:\n  - name: a\n    inherits: [b]\n"},
		{"unknown permission", "permissions:\n  - key: a.b\ntemplates:\n  - name: a\n    permissions: [c.d]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := rbac.LoadSeed(stringsReader(tt.yaml))
			assert.ErrorIs(t, err, rbac.ErrInvalidSeed)
		})
	}
}

func TestHierarchy(t *testing.T) {
	t.Parallel()

	viewer := rbac.Role{ID: uuid.New(), Name: "viewer"}
	auditor := rbac.Role{ID: uuid.New(), Name: "auditor", Inherits: []uuid.UUID{viewer.ID}}
	billing := rbac.Role{ID: uuid.New(), Name: "billing"}
	manager := rbac.Role{ID: uuid.New(), Name: "manager", Inherits: []uuid.UUID{auditor.ID, billing.ID}}
	orphan := rbac.Role{ID: uuid.New(), Name: "orphan", Inherits: []uuid.UUID{uuid.New()}}

	tree := rbac.Hierarchy([]rbac.Role{viewer, auditor, billing, manager, orphan})
	require.Len(t, tree, 3)

	assert.Equal(t, "viewer", tree[0].Role.Name)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "auditor", tree[0].Children[0].Role.Name)
	require.Len(t, tree[0].Children[0].Children, 1)
	assert.Equal(t, "manager", tree[0].Children[0].Children[0].Role.Name)

	assert.Equal(t, "billing", tree[1].Role.Name)
	require.Len(t, tree[1].Children, 1)
	assert.Equal(t, "manager", tree[1].Children[0].Role.Name, "a role appears under each parent")

	assert.Equal(t, "orphan", tree[2].Role.Name, "unknown parents are ignored")
	assert.Empty(t, tree[2].Children)

	assert.Empty(t, rbac.Hierarchy(nil))
}
