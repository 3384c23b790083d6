package rbac

import "errors"

var (
	ErrInvalidInput        = errors.New("rbac: invalid input")
	ErrPrincipalNotFound   = errors.New("rbac: principal not found")
	ErrRoleNotFound        = errors.New("rbac: role not found")
	ErrRoleExists          = errors.New("rbac: role name already taken")
	ErrRoleInUse           = errors.New("rbac: role is assigned")
	ErrSystemRole          = errors.New("rbac: system role cannot be changed")
	ErrVersionConflict     = errors.New("rbac: role was modified concurrently")
	ErrCircularInheritance = errors.New("rbac: circular inheritance")
	ErrInheritanceTooDeep  = errors.New("rbac: inheritance too deep")
	ErrStorageUnavailable  = errors.New("rbac: storage unavailable")
	ErrCacheUnavailable    = errors.New("rbac: cache invalidation failed")
	ErrAccessDenied        = errors.New("rbac: access denied")
	ErrInvalidSeed         = errors.New("rbac: invalid seed")
	ErrTemplateNotFound    = errors.New("rbac: role template not found")
	ErrPermissionInUse     = errors.New("rbac: permission is granted")
	ErrSystemPermission    = errors.New("rbac: system permission cannot be changed")
)
