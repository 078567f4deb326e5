package rbac

import (
	"fmt"
	"time"

	"github.com/meridian-admin/meridian/internal/shared"
)

// Sentinel errors surfaced by administrative mutations. Permission checks
// never return these; they resolve to deny instead.
var (
	// ErrNotFound indicates the requested role, permission or grant does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", shared.ErrNotFound)
	// ErrSystemRecord rejects mutation or deletion of seeded system roles and permissions.
	ErrSystemRecord = fmt.Errorf("rbac: system record is immutable: %w", shared.ErrForbidden)
	// ErrCircularHierarchy rejects a parent assignment that would create a cycle.
	ErrCircularHierarchy = fmt.Errorf("rbac: circular role hierarchy: %w", shared.ErrForbidden)
	// ErrRoleInUse rejects deleting a role that still has children or active assignments.
	ErrRoleInUse = fmt.Errorf("rbac: role has children or active assignments: %w", shared.ErrForbidden)
	// ErrPermissionInUse rejects deleting a permission still attached to a role or granted to a user.
	ErrPermissionInUse = fmt.Errorf("rbac: permission is attached or granted: %w", shared.ErrForbidden)
	// ErrInvalidInput indicates a malformed grant or role payload.
	ErrInvalidInput = fmt.Errorf("rbac: %w", shared.ErrValidation)
)

// Effect states whether a grant confers or withholds access. Only Allow rows
// are honored by the check engine; Deny rows are stored but inert.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Valid reports whether the effect is one of the two known variants.
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// ScopeGlobal marks a permission as applicable to every requested scope.
const ScopeGlobal = "global"

// WildcardAction grants every action inside a ResourceAccess permissions map.
const WildcardAction = "*"

// Role groups permissions and may point at a parent role, forming a forest.
type Role struct {
	ID           int64
	Name         string
	DisplayName  string
	ParentID     *int64
	IsSystemRole bool
	IsActive     bool
	Priority     int
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Permission represents an atomic capability identified by resource, action
// and optional scope. Conditions are opaque to the engine.
type Permission struct {
	ID           int64
	Name         string
	Resource     string
	Action       string
	Scope        string
	Category     string
	Conditions   map[string]any
	IsSystemPerm bool
	IsActive     bool
	CreatedAt    time.Time
}

// RolePermission ties a permission to a role with an audit trail.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
	GrantedBy    int64
	CreatedAt    time.Time
}

// RoleAssignment links a user to a role. The assignment confers permissions
// only while Effect is allow and the expiry, when set, lies in the future.
type RoleAssignment struct {
	ID         int64
	UserID     int64
	RoleID     int64
	Effect     Effect
	Scope      string
	ExpiresAt  *time.Time
	AssignedBy int64
	Conditions map[string]any
	CreatedAt  time.Time
}

// ActiveAt reports whether the assignment confers permissions at the given time.
func (a RoleAssignment) ActiveAt(now time.Time) bool {
	if a.Effect != EffectAllow {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// UserPermission is a direct grant that bypasses roles. It carries a
// human-readable reason for the grant.
type UserPermission struct {
	ID           int64
	UserID       int64
	PermissionID int64
	Effect       Effect
	Scope        string
	ExpiresAt    *time.Time
	GrantedBy    int64
	Reason       string
	Conditions   map[string]any
	CreatedAt    time.Time
}

// ActiveAt reports whether the direct grant confers the permission at the given time.
func (p UserPermission) ActiveAt(now time.Time) bool {
	if p.Effect != EffectAllow {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

// DirectGrant joins a UserPermission row with the permission it grants.
type DirectGrant struct {
	Grant      UserPermission
	Permission Permission
}

// ResourceAccess is a per-resource ACL consulted only when a check names a
// concrete resource ID. Permissions maps action to allowed; the wildcard
// entry covers every action.
type ResourceAccess struct {
	ID           int64
	UserID       int64
	ResourceType string
	ResourceID   string
	Permissions  map[string]bool
	IsActive     bool
	ExpiresAt    *time.Time
	GrantedBy    int64
	CreatedAt    time.Time
}

// ActiveAt reports whether the ACL entry applies at the given time.
func (r ResourceAccess) ActiveAt(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	return r.ExpiresAt == nil || r.ExpiresAt.After(now)
}

// Allows reports whether the ACL entry grants the action.
func (r ResourceAccess) Allows(action string) bool {
	return r.Permissions[action] || r.Permissions[WildcardAction]
}

// CheckRequest describes a single permission question.
type CheckRequest struct {
	UserID     int64
	Resource   string
	Action     string
	Scope      string
	ResourceID string
	Context    map[string]any
}

// scopeMatches implements the scope compatibility rule: an absent scope on
// either side matches everything, and a grant scoped global matches every
// requested scope.
func scopeMatches(requested, granted string) bool {
	if requested == "" || granted == "" {
		return true
	}
	return granted == requested || granted == ScopeGlobal
}

// permissionMatches reports whether the permission satisfies the request.
func permissionMatches(perm Permission, req CheckRequest) bool {
	if !perm.IsActive {
		return false
	}
	if perm.Resource != req.Resource || perm.Action != req.Action {
		return false
	}
	return scopeMatches(req.Scope, perm.Scope)
}

// RoleNode is a role with its resolved children, used for hierarchy display.
type RoleNode struct {
	Role     Role
	Children []*RoleNode
}
