package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/authz"
	"github.com/dmitrymomot/authzkit/pkg/credential"
	"github.com/dmitrymomot/authzkit/pkg/guard"
	"github.com/dmitrymomot/authzkit/pkg/isolation"
	"github.com/dmitrymomot/authzkit/pkg/logger"
	"github.com/dmitrymomot/authzkit/pkg/permission"
	"github.com/dmitrymomot/authzkit/pkg/rbac"
	"github.com/dmitrymomot/authzkit/pkg/tenant"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

var errBadRequest = errors.New("malformed request")

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a uuid", errBadRequest, name)
	}
	return id, nil
}

// statusOf maps service errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, rbac.ErrInvalidInput),
		errors.Is(err, rbac.ErrInvalidSeed),
		errors.Is(err, rbac.ErrCircularInheritance),
		errors.Is(err, rbac.ErrInheritanceTooDeep),
		errors.Is(err, permission.ErrInvalidKey),
		errors.Is(err, permission.ErrUnknownKey),
		errors.Is(err, credential.ErrInvalidScope),
		errors.Is(err, credential.ErrInvalidKey),
		errors.Is(err, audit.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, rbac.ErrRoleNotFound),
		errors.Is(err, rbac.ErrPrincipalNotFound),
		errors.Is(err, rbac.ErrTemplateNotFound),
		errors.Is(err, credential.ErrKeyNotFound),
		errors.Is(err, tenant.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, rbac.ErrRoleExists),
		errors.Is(err, rbac.ErrRoleInUse),
		errors.Is(err, rbac.ErrSystemRole),
		errors.Is(err, rbac.ErrVersionConflict),
		errors.Is(err, rbac.ErrPermissionInUse),
		errors.Is(err, rbac.ErrSystemPermission),
		errors.Is(err, credential.ErrKeyExists):
		return http.StatusConflict
	case errors.Is(err, rbac.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, rbac.ErrStorageUnavailable),
		errors.Is(err, rbac.ErrCacheUnavailable),
		errors.Is(err, credential.ErrStorageUnavailable),
		errors.Is(err, tenant.ErrStorageUnavailable),
		errors.Is(err, authz.ErrKeysDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *app) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	switch {
	case isolation.IsFatal(err):
		logger.Fatal(r.Context(), a.logger, "tenant isolation violation", logger.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	case status >= http.StatusInternalServerError:
		a.logger.ErrorContext(r.Context(), "request failed", slog.Int("status", status), logger.Error(err))
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// guardError renders guard rejections as JSON.
func guardError(w http.ResponseWriter, _ *http.Request, res guard.Result, status int) {
	if status == http.StatusInternalServerError {
		w.WriteHeader(status)
		return
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authzkit"`)
	}
	reason := res.Reason
	if res.Decision == guard.DecisionError {
		reason = "storage_unavailable"
	}
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Reason: reason})
}

func tenantError(w http.ResponseWriter, _ *http.Request, err error) {
	status := tenant.StatusCode(err)
	writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
}

type tenantResponse struct {
	ID       uuid.UUID `json:"id"`
	OrgID    string    `json:"org_id"`
	Name     string    `json:"name"`
	Provider string    `json:"provider"`
}

// tenantInfo is the public view a login page needs to pick an identity
// provider. Only active tenants are visible.
func (a *app) tenantInfo(w http.ResponseWriter, r *http.Request) {
	t := tenant.MustFromContext(r.Context())
	resp := tenantResponse{ID: t.ID, OrgID: t.OrgID, Name: t.Name, Provider: string(tenant.ProviderLocal)}
	if t.Provider != nil {
		resp.Provider = string(t.Provider.Type())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *app) myPermissions(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	keys, err := a.svc.EffectivePermissions(r.Context(), id.TenantID, id.PrincipalID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal_id": id.PrincipalID,
		"permissions":  keys,
	})
}

type authorizeRequest struct {
	PrincipalID uuid.UUID `json:"principal_id"`
	Checks      []struct {
		Resource string `json:"resource"`
		Action   string `json:"action"`
	} `json:"checks"`
}

type authorizeResult struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Allowed  bool   `json:"allowed"`
}

// authorize evaluates a batch of checks. Checking another principal needs
// authz.check.
func (a *app) authorize(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if len(req.Checks) == 0 {
		a.writeError(w, r, fmt.Errorf("%w: at least one check is required", errBadRequest))
		return
	}

	subject := id.PrincipalID
	if req.PrincipalID != uuid.Nil && req.PrincipalID != id.PrincipalID {
		ok, err := a.svc.Authorize(r.Context(), id.TenantID, id.PrincipalID, "authz", "check")
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if !ok {
			a.writeError(w, r, rbac.ErrAccessDenied)
			return
		}
		subject = req.PrincipalID
	}

	checks := make([]rbac.Check, 0, len(req.Checks))
	for _, c := range req.Checks {
		checks = append(checks, rbac.Check{Resource: c.Resource, Action: c.Action})
	}
	decisions, err := a.svc.AuthorizeAll(r.Context(), id.TenantID, subject, checks)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]authorizeResult, 0, len(checks))
	for _, c := range checks {
		out = append(out, authorizeResult{Resource: c.Resource, Action: c.Action, Allowed: decisions[c]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal_id": subject, "results": out})
}

func (a *app) listRoles(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	roles, err := a.svc.ListRoles(r.Context(), id.TenantID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *app) getRole(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	roleID, err := pathUUID(r, "roleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	role, err := a.svc.GetRole(r.Context(), id.TenantID, roleID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *app) listPermissions(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	defs, err := a.svc.ListPermissions(r.Context(), id.TenantID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": defs})
}

func (a *app) roleHierarchy(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	tree, err := a.svc.RoleHierarchy(r.Context(), id.TenantID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": tree})
}

type permissionRequest struct {
	Category    string `json:"category"`
	Description string `json:"description"`
}

func (a *app) definePermission(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	var req permissionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
	}
	def, err := a.svc.DefinePermission(r.Context(), id.TenantID, id.PrincipalID, permission.Definition{
		Key:         chi.URLParam(r, "permission"),
		Category:    req.Category,
		Description: req.Description,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (a *app) removePermission(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	if err := a.svc.RemovePermission(r.Context(), id.TenantID, id.PrincipalID, chi.URLParam(r, "permission")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type templateResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Priority    int      `json:"priority"`
	Permissions []string `json:"permissions"`
	Inherits    []string `json:"inherits,omitempty"`
}

func (a *app) listTemplates(w http.ResponseWriter, r *http.Request) {
	out := make([]templateResponse, 0, len(a.seed.Templates))
	for _, t := range a.seed.Templates {
		out = append(out, templateResponse{
			Name:        t.Name,
			Description: t.Description,
			Priority:    t.Priority,
			Permissions: t.Permissions,
			Inherits:    t.Inherits,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": out})
}

type templateRoleRequest struct {
	Name string `json:"name"`
}

func (a *app) createRoleFromTemplate(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	var req templateRoleRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
	}
	role, err := a.svc.CreateRoleFromTemplate(r.Context(), id.TenantID, id.PrincipalID, a.seed, chi.URLParam(r, "template"), req.Name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

type roleRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Permissions []string    `json:"permissions"`
	Inherits    []uuid.UUID `json:"inherits"`
	Priority    int         `json:"priority"`
}

func (a *app) createRole(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	role, err := a.svc.CreateRole(r.Context(), id.TenantID, id.PrincipalID, rbac.RoleInput{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		Inherits:    req.Inherits,
		Priority:    req.Priority,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

type roleUpdateRequest struct {
	Name        *string      `json:"name"`
	Description *string      `json:"description"`
	Priority    *int         `json:"priority"`
	Permissions *[]string    `json:"permissions"`
	Inherits    *[]uuid.UUID `json:"inherits"`
	Version     int64        `json:"version"`
}

func (a *app) updateRole(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	roleID, err := pathUUID(r, "roleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req roleUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	role, err := a.svc.UpdateRole(r.Context(), id.TenantID, id.PrincipalID, roleID, rbac.RoleUpdate{
		Name:            req.Name,
		Description:     req.Description,
		Priority:        req.Priority,
		Permissions:     req.Permissions,
		Inherits:        req.Inherits,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *app) deleteRole(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	roleID, err := pathUUID(r, "roleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var opts rbac.DeleteOptions
	if v := r.URL.Query().Get("cascade"); v != "" {
		if opts.Cascade, err = strconv.ParseBool(v); err != nil {
			a.writeError(w, r, fmt.Errorf("%w: cascade must be a boolean", errBadRequest))
			return
		}
	}
	if err := a.svc.DeleteRole(r.Context(), id.TenantID, id.PrincipalID, roleID, opts); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) grantRolePermission(w http.ResponseWriter, r *http.Request) {
	a.changeRolePermission(w, r, a.svc.GrantPermission)
}

func (a *app) revokeRolePermission(w http.ResponseWriter, r *http.Request) {
	a.changeRolePermission(w, r, a.svc.RevokePermission)
}

func (a *app) changeRolePermission(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, tenantID, actorID, roleID uuid.UUID, key string) error) {
	id := credential.MustFromContext(r.Context())
	roleID, err := pathUUID(r, "roleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := apply(r.Context(), id.TenantID, id.PrincipalID, roleID, chi.URLParam(r, "permission")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

func (a *app) assignRole(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	userID, err := pathUUID(r, "userID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	roleID, err := pathUUID(r, "roleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req assignRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
	}
	asg, err := a.svc.AssignRole(r.Context(), id.TenantID, id.PrincipalID, userID, roleID, rbac.AssignOptions{ExpiresAt: req.ExpiresAt})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asg)
}

type bulkAssignRequest struct {
	UserIDs   []uuid.UUID `json:"user_ids"`
	RoleIDs   []uuid.UUID `json:"role_ids"`
	ExpiresAt *time.Time  `json:"expires_at"`
}

// bulkAssign assigns every listed role to every listed user, all or
// nothing.
func (a *app) bulkAssign(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	var req bulkAssignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	created, err := a.svc.BulkAssign(r.Context(), id.TenantID, id.PrincipalID, req.UserIDs, req.RoleIDs, rbac.AssignOptions{ExpiresAt: req.ExpiresAt})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if created == nil {
		created = []rbac.Assignment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": created})
}

func (a *app) revokeRole(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	userID, err := pathUUID(r, "userID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	roleID, err := pathUUID(r, "roleID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.svc.RevokeRole(r.Context(), id.TenantID, id.PrincipalID, userID, roleID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type principalRequest struct {
	ID     uuid.UUID            `json:"id"`
	Status rbac.PrincipalStatus `json:"status"`
}

func (a *app) savePrincipal(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	var req principalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	p, err := a.svc.SavePrincipal(r.Context(), id.TenantID, rbac.Principal{ID: req.ID, Status: req.Status})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *app) grantDirect(w http.ResponseWriter, r *http.Request) {
	a.changeDirect(w, r, a.svc.GrantDirect)
}

func (a *app) revokeDirect(w http.ResponseWriter, r *http.Request) {
	a.changeDirect(w, r, a.svc.RevokeDirect)
}

func (a *app) changeDirect(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, tenantID, actorID, principalID uuid.UUID, key string) error) {
	id := credential.MustFromContext(r.Context())
	principalID, err := pathUUID(r, "principalID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := apply(r.Context(), id.TenantID, id.PrincipalID, principalID, chi.URLParam(r, "permission")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type issueKeyRequest struct {
	PrincipalID uuid.UUID  `json:"principal_id"`
	Name        string     `json:"name"`
	Scope       string     `json:"scope"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

type issueKeyResponse struct {
	Key    string            `json:"key"`
	APIKey credential.APIKey `json:"api_key"`
}

func (a *app) issueKey(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	var req issueKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	scope, err := credential.ParseScope(req.Scope)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	raw, key, err := a.svc.IssueAPIKey(r.Context(), id.PrincipalID, credential.NewKey{
		TenantID:    id.TenantID,
		PrincipalID: req.PrincipalID,
		Name:        req.Name,
		Scope:       scope,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issueKeyResponse{Key: raw, APIKey: key})
}

func (a *app) listKeys(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	keys, err := a.svc.ListAPIKeys(r.Context(), id.TenantID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"api_keys": keys})
}

func (a *app) revokeKey(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	keyID, err := pathUUID(r, "keyID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.svc.RevokeAPIKey(r.Context(), id.TenantID, id.PrincipalID, keyID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// auditTrail lists audit events of the caller's tenant, oldest first.
func (a *app) auditTrail(w http.ResponseWriter, r *http.Request) {
	id := credential.MustFromContext(r.Context())
	filter, err := auditFilter(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	events, err := a.auditReader.Find(r.Context(), id.TenantID, filter)
	if err != nil {
		a.writeError(w, r, errors.Join(rbac.ErrStorageUnavailable, err))
		return
	}
	if err := (isolation.Scope{TenantID: id.TenantID}).Check(scopedEvents(events)...); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func auditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		Actions:    q["action"],
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Limit:      100,
	}
	var err error
	if v := q.Get("actor_id"); v != "" {
		if f.ActorID, err = uuid.Parse(v); err != nil {
			return f, fmt.Errorf("%w: actor_id is not a uuid", errBadRequest)
		}
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(name); v != "" {
			if *dst, err = time.Parse(time.RFC3339, v); err != nil {
				return f, fmt.Errorf("%w: %s must be RFC 3339", errBadRequest, name)
			}
		}
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return f, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
			}
			*dst = n
		}
	}
	f.Limit = min(max(f.Limit, 1), 1000)
	return f, nil
}

func scopedEvents(events []audit.Event) []isolation.Scoped {
	out := make([]isolation.Scoped, len(events))
	for i, e := range events {
		out[i] = e
	}
	return out
}
