package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-admin/meridian/internal/audit"
	"github.com/meridian-admin/meridian/internal/platform/httpx"
	"github.com/meridian-admin/meridian/internal/shared"
)

// Handler exposes the administrative JSON surface of the permission store.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	recorder *audit.Recorder
	rbac     Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, recorder *audit.Recorder, rbac Middleware) *Handler {
	return &Handler{logger: logger, service: service, recorder: recorder, rbac: rbac}
}

// MountRoutes registers the RBAC admin routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require("rbac", "read"))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/tree", h.roleTree)
		r.Get("/roles/{id}", h.getRole)
		r.Get("/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require("rbac", "manage"))
		r.Post("/roles", h.createRole)
		r.Put("/roles/{id}", h.updateRole)
		r.Delete("/roles/{id}", h.deleteRole)
		r.Put("/roles/{id}/permissions", h.setRolePermissions)
		r.Post("/permissions", h.createPermission)
		r.Put("/permissions/{id}", h.updatePermission)
		r.Delete("/permissions/{id}", h.deletePermission)
		r.Post("/assignments", h.assignRole)
		r.Delete("/users/{userID}/roles/{roleID}", h.revokeRole)
		r.Post("/grants", h.grantPermission)
		r.Delete("/users/{userID}/permissions/{permissionID}", h.revokePermission)
		r.Post("/resource-access", h.grantResourceAccess)
		r.Delete("/resource-access", h.revokeResourceAccess)
	})
}

type roleResponse struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	DisplayName  string         `json:"displayName"`
	ParentID     *int64         `json:"parentId,omitempty"`
	IsSystemRole bool           `json:"isSystemRole"`
	IsActive     bool           `json:"isActive"`
	Priority     int            `json:"priority"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func toRoleResponse(role Role) roleResponse {
	return roleResponse{
		ID:           role.ID,
		Name:         role.Name,
		DisplayName:  role.DisplayName,
		ParentID:     role.ParentID,
		IsSystemRole: role.IsSystemRole,
		IsActive:     role.IsActive,
		Priority:     role.Priority,
		Metadata:     role.Metadata,
	}
}

type roleNodeResponse struct {
	roleResponse
	Children []roleNodeResponse `json:"children,omitempty"`
}

func toRoleNodeResponse(node *RoleNode) roleNodeResponse {
	resp := roleNodeResponse{roleResponse: toRoleResponse(node.Role)}
	for _, child := range node.Children {
		resp.Children = append(resp.Children, toRoleNodeResponse(child))
	}
	return resp
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		resp = append(resp, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) roleTree(w http.ResponseWriter, r *http.Request) {
	roots, err := h.service.RoleTree(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]roleNodeResponse, 0, len(roots))
	for _, root := range roots {
		resp = append(resp, toRoleNodeResponse(root))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

type createRoleRequest struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName"`
	ParentID    *int64         `json:"parentId"`
	Priority    int            `json:"priority"`
	Metadata    map[string]any `json:"metadata"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	role, err := h.service.CreateRole(r.Context(), CreateRoleInput{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		ParentID:    req.ParentID,
		Priority:    req.Priority,
		Metadata:    req.Metadata,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.audit(r, "rbac.role.create", "role", strconv.FormatInt(role.ID, 10), nil, map[string]any{"name": role.Name})
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

type updateRoleRequest struct {
	DisplayName *string        `json:"displayName"`
	ParentID    *int64         `json:"parentId"`
	ClearParent bool           `json:"clearParent"`
	Priority    *int           `json:"priority"`
	IsActive    *bool          `json:"isActive"`
	Metadata    map[string]any `json:"metadata"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, UpdateRoleInput{
		DisplayName: req.DisplayName,
		ParentID:    req.ParentID,
		ClearParent: req.ClearParent,
		Priority:    req.Priority,
		IsActive:    req.IsActive,
		Metadata:    req.Metadata,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.audit(r, "rbac.role.update", "role", strconv.FormatInt(id, 10), nil, map[string]any{"name": role.Name})
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.audit(r, "rbac.role.delete", "role", strconv.FormatInt(id, 10), nil, nil)
	w.WriteHeader(http.StatusNoContent)
}

type setRolePermissionsRequest struct {
	PermissionIDs []int64 `json:"permissionIds"`
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req setRolePermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.SetRolePermissions(r.Context(), id, req.PermissionIDs, actor.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.securityEvent(r, audit.EventPermissionChange, audit.SeverityMedium, "role", strconv.FormatInt(id, 10),
		map[string]any{"permission_ids": req.PermissionIDs})
	w.WriteHeader(http.StatusNoContent)
}

type permissionResponse struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Resource     string         `json:"resource"`
	Action       string         `json:"action"`
	Scope        string         `json:"scope,omitempty"`
	Category     string         `json:"category,omitempty"`
	Conditions   map[string]any `json:"conditions,omitempty"`
	IsSystemPerm bool           `json:"isSystemPerm"`
	IsActive     bool           `json:"isActive"`
}

func toPermissionResponse(perm Permission) permissionResponse {
	return permissionResponse{
		ID:           perm.ID,
		Name:         perm.Name,
		Resource:     perm.Resource,
		Action:       perm.Action,
		Scope:        perm.Scope,
		Category:     perm.Category,
		Conditions:   perm.Conditions,
		IsSystemPerm: perm.IsSystemPerm,
		IsActive:     perm.IsActive,
	}
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]permissionResponse, 0, len(perms))
	for _, perm := range perms {
		resp = append(resp, toPermissionResponse(perm))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type createPermissionRequest struct {
	Name       string         `json:"name"`
	Resource   string         `json:"resource"`
	Action     string         `json:"action"`
	Scope      string         `json:"scope"`
	Category   string         `json:"category"`
	Conditions map[string]any `json:"conditions"`
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), CreatePermissionInput{
		Name:       req.Name,
		Resource:   req.Resource,
		Action:     req.Action,
		Scope:      req.Scope,
		Category:   req.Category,
		Conditions: req.Conditions,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.audit(r, "rbac.permission.create", "permission", strconv.FormatInt(perm.ID, 10), nil, map[string]any{"name": perm.Name})
	httpx.JSON(w, http.StatusCreated, toPermissionResponse(perm))
}

type updatePermissionRequest struct {
	Scope      *string        `json:"scope"`
	Category   *string        `json:"category"`
	IsActive   *bool          `json:"isActive"`
	Conditions map[string]any `json:"conditions"`
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updatePermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), id, UpdatePermissionInput{
		Scope:      req.Scope,
		Category:   req.Category,
		IsActive:   req.IsActive,
		Conditions: req.Conditions,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.audit(r, "rbac.permission.update", "permission", strconv.FormatInt(id, 10), nil, map[string]any{"name": perm.Name})
	httpx.JSON(w, http.StatusOK, toPermissionResponse(perm))
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.audit(r, "rbac.permission.delete", "permission", strconv.FormatInt(id, 10), nil, nil)
	w.WriteHeader(http.StatusNoContent)
}

type assignRoleRequest struct {
	UserID     int64          `json:"userId"`
	RoleID     int64          `json:"roleId"`
	Scope      string         `json:"scope"`
	ExpiresAt  *time.Time     `json:"expiresAt"`
	Conditions map[string]any `json:"conditions"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	assignment, err := h.service.AssignRole(r.Context(), AssignRoleInput{
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		Scope:      req.Scope,
		ExpiresAt:  req.ExpiresAt,
		Conditions: req.Conditions,
	}, actor.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.securityEvent(r, audit.EventPermissionChange, audit.SeverityMedium, "user", strconv.FormatInt(req.UserID, 10),
		map[string]any{"role_id": req.RoleID, "change": "role_assigned"})
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": assignment.ID})
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RevokeRole(r.Context(), userID, roleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.securityEvent(r, audit.EventPermissionChange, audit.SeverityMedium, "user", strconv.FormatInt(userID, 10),
		map[string]any{"role_id": roleID, "change": "role_revoked"})
	w.WriteHeader(http.StatusNoContent)
}

type grantPermissionRequest struct {
	UserID       int64          `json:"userId"`
	PermissionID int64          `json:"permissionId"`
	Scope        string         `json:"scope"`
	ExpiresAt    *time.Time     `json:"expiresAt"`
	Reason       string         `json:"reason"`
	Conditions   map[string]any `json:"conditions"`
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	var req grantPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	grant, err := h.service.GrantPermission(r.Context(), GrantPermissionInput{
		UserID:       req.UserID,
		PermissionID: req.PermissionID,
		Scope:        req.Scope,
		ExpiresAt:    req.ExpiresAt,
		Reason:       req.Reason,
		Conditions:   req.Conditions,
	}, actor.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.securityEvent(r, audit.EventPermissionChange, audit.SeverityMedium, "user", strconv.FormatInt(req.UserID, 10),
		map[string]any{"permission_id": req.PermissionID, "change": "permission_granted", "reason": req.Reason})
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": grant.ID})
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	permissionID, err := pathID(r, "permissionID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RevokePermission(r.Context(), userID, permissionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.securityEvent(r, audit.EventPermissionChange, audit.SeverityMedium, "user", strconv.FormatInt(userID, 10),
		map[string]any{"permission_id": permissionID, "change": "permission_revoked"})
	w.WriteHeader(http.StatusNoContent)
}

type grantResourceAccessRequest struct {
	UserID       int64           `json:"userId"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId"`
	Permissions  map[string]bool `json:"permissions"`
	ExpiresAt    *time.Time      `json:"expiresAt"`
}

func (h *Handler) grantResourceAccess(w http.ResponseWriter, r *http.Request) {
	var req grantResourceAccessRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	access, err := h.service.GrantResourceAccess(r.Context(), GrantResourceAccessInput{
		UserID:       req.UserID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Permissions:  req.Permissions,
		ExpiresAt:    req.ExpiresAt,
	}, actor.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.securityEvent(r, audit.EventPermissionChange, audit.SeverityMedium, req.ResourceType, req.ResourceID,
		map[string]any{"user_id": req.UserID, "change": "resource_access_granted"})
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": access.ID})
}

type revokeResourceAccessRequest struct {
	UserID       int64  `json:"userId"`
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
}

func (h *Handler) revokeResourceAccess(w http.ResponseWriter, r *http.Request) {
	var req revokeResourceAccessRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.service.RevokeResourceAccess(r.Context(), req.UserID, req.ResourceType, req.ResourceID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.securityEvent(r, audit.EventPermissionChange, audit.SeverityMedium, req.ResourceType, req.ResourceID,
		map[string]any{"user_id": req.UserID, "change": "resource_access_revoked"})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) audit(r *http.Request, action, resourceType, resourceID string, oldValues, newValues map[string]any) {
	if h.recorder == nil {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	h.recorder.LogAudit(r.Context(), audit.Entry{
		UserID:       actor.UserID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		OldValues:    oldValues,
		NewValues:    newValues,
		Method:       r.Method,
		Endpoint:     r.URL.Path,
		Success:      true,
		IP:           actor.IP,
		UserAgent:    actor.UserAgent,
	})
}

func (h *Handler) securityEvent(r *http.Request, eventType string, severity audit.Severity, resourceType, resourceID string, details map[string]any) {
	if h.recorder == nil {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	h.recorder.LogSecurityEvent(r.Context(), audit.SecurityEvent{
		EventType:    eventType,
		Severity:     severity,
		UserID:       actor.UserID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidInput
	}
	return id, nil
}
