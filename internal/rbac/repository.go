package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store abstracts the permission store so the resolver, checker and service
// can be exercised against an in-memory fake in tests.
type Store interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	CountRoleChildren(ctx context.Context, id int64) (int, error)
	CountActiveAssignments(ctx context.Context, roleID int64) (int, error)

	GetPermission(ctx context.Context, id int64) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	UpdatePermission(ctx context.Context, perm Permission) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
	CountPermissionReferences(ctx context.Context, permissionID int64) (int, error)

	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	AttachPermission(ctx context.Context, roleID, permissionID, grantedBy int64) error
	DetachPermission(ctx context.Context, roleID, permissionID int64) error

	UserAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error)
	AssignRole(ctx context.Context, assignment RoleAssignment) (RoleAssignment, error)
	RevokeRole(ctx context.Context, userID, roleID int64) error

	UserDirectGrants(ctx context.Context, userID int64) ([]DirectGrant, error)
	GrantPermission(ctx context.Context, grant UserPermission) (UserPermission, error)
	RevokePermission(ctx context.Context, userID, permissionID int64) error

	ResourceGrant(ctx context.Context, userID int64, resourceType, resourceID string) (*ResourceAccess, error)
	GrantResourceAccess(ctx context.Context, access ResourceAccess) (ResourceAccess, error)
	RevokeResourceAccess(ctx context.Context, userID int64, resourceType, resourceID string) error
}

// Repository provides PostgreSQL backed persistence for the permission store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, name, display_name, parent_id, is_system_role, is_active, priority, metadata, created_at, updated_at`

func (r *Repository) scanRole(row pgx.Row) (Role, error) {
	var role Role
	var metadata []byte
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.ParentID, &role.IsSystemRole,
		&role.IsActive, &role.Priority, &metadata, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &role.Metadata); err != nil {
			return Role{}, fmt.Errorf("rbac: decode role metadata: %w", err)
		}
	}
	return role, nil
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	return r.scanRole(row)
}

// GetRoleByName fetches a role by its unique name.
func (r *Repository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name)
	return r.scanRole(row)
}

// ListRoles returns all roles ordered by priority descending then name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY priority DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := r.scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	metadata, err := json.Marshal(role.Metadata)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: encode role metadata: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, display_name, parent_id, is_system_role, is_active, priority, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+roleColumns,
		role.Name, role.DisplayName, role.ParentID, role.IsSystemRole, role.IsActive, role.Priority, metadata)
	created, err := r.scanRole(row)
	if err != nil {
		return Role{}, mapStoreError(err)
	}
	return created, nil
}

// UpdateRole updates mutable fields of an existing role.
func (r *Repository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	metadata, err := json.Marshal(role.Metadata)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: encode role metadata: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE roles SET display_name = $2, parent_id = $3, is_active = $4, priority = $5, metadata = $6, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+roleColumns,
		role.ID, role.DisplayName, role.ParentID, role.IsActive, role.Priority, metadata)
	return r.scanRole(row)
}

// DeleteRole removes a role by ID. Returns ErrNotFound if nothing was deleted.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountRoleChildren returns the number of roles pointing at the given parent.
func (r *Repository) CountRoleChildren(ctx context.Context, id int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM roles WHERE parent_id = $1`, id).Scan(&count)
	return count, err
}

// CountActiveAssignments returns the number of unexpired allow assignments for a role.
func (r *Repository) CountActiveAssignments(ctx context.Context, roleID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_role_assignments
		 WHERE role_id = $1 AND effect = 'allow' AND (expires_at IS NULL OR expires_at > NOW())`,
		roleID).Scan(&count)
	return count, err
}

const permissionColumns = `id, name, resource, action, scope, category, conditions, is_system_perm, is_active, created_at`

func (r *Repository) scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	var conditions []byte
	err := row.Scan(&perm.ID, &perm.Name, &perm.Resource, &perm.Action, &perm.Scope,
		&perm.Category, &conditions, &perm.IsSystemPerm, &perm.IsActive, &perm.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &perm.Conditions); err != nil {
			return Permission{}, fmt.Errorf("rbac: decode permission conditions: %w", err)
		}
	}
	return perm, nil
}

// GetPermission fetches a permission by ID.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
	return r.scanPermission(row)
}

// ListPermissions returns all permissions ordered by resource then action.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY resource, action, scope`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		perm, err := r.scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// CreatePermission inserts a new permission.
func (r *Repository) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	conditions, err := json.Marshal(perm.Conditions)
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: encode permission conditions: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO permissions (name, resource, action, scope, category, conditions, is_system_perm, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+permissionColumns,
		perm.Name, perm.Resource, perm.Action, perm.Scope, perm.Category, conditions, perm.IsSystemPerm, perm.IsActive)
	created, err := r.scanPermission(row)
	if err != nil {
		return Permission{}, mapStoreError(err)
	}
	return created, nil
}

// UpdatePermission updates mutable fields of an existing permission.
func (r *Repository) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	conditions, err := json.Marshal(perm.Conditions)
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: encode permission conditions: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE permissions SET scope = $2, category = $3, conditions = $4, is_active = $5
		 WHERE id = $1
		 RETURNING `+permissionColumns,
		perm.ID, perm.Scope, perm.Category, conditions, perm.IsActive)
	return r.scanPermission(row)
}

// DeletePermission removes a permission by ID.
func (r *Repository) DeletePermission(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPermissionReferences returns the number of role attachments and user
// grants still pointing at a permission.
func (r *Repository) CountPermissionReferences(ctx context.Context, permissionID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1)
		      + (SELECT COUNT(*) FROM user_permissions WHERE permission_id = $1)`,
		permissionID).Scan(&count)
	return count, err
}

// RolePermissions returns the permissions attached directly to a role.
func (r *Repository) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.name, p.resource, p.action, p.scope, p.category, p.conditions, p.is_system_perm, p.is_active, p.created_at
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = $1`,
		roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		perm, err := r.scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// AttachPermission links a permission to a role.
func (r *Repository) AttachPermission(ctx context.Context, roleID, permissionID, grantedBy int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id, granted_by)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (role_id, permission_id) DO NOTHING`,
		roleID, permissionID, grantedBy)
	return err
}

// DetachPermission removes a permission from a role.
func (r *Repository) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

// UserAssignments returns every role assignment for a user, expired or not.
// Callers filter with ActiveAt.
func (r *Repository) UserAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, role_id, effect, scope, expires_at, assigned_by, conditions, created_at
		 FROM user_role_assignments WHERE user_id = $1`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		var conditions []byte
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.Effect, &a.Scope, &a.ExpiresAt,
			&a.AssignedBy, &conditions, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &a.Conditions); err != nil {
				return nil, fmt.Errorf("rbac: decode assignment conditions: %w", err)
			}
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// AssignRole inserts a user-role assignment.
func (r *Repository) AssignRole(ctx context.Context, assignment RoleAssignment) (RoleAssignment, error) {
	conditions, err := json.Marshal(assignment.Conditions)
	if err != nil {
		return RoleAssignment{}, fmt.Errorf("rbac: encode assignment conditions: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO user_role_assignments (user_id, role_id, effect, scope, expires_at, assigned_by, conditions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		assignment.UserID, assignment.RoleID, assignment.Effect, assignment.Scope,
		assignment.ExpiresAt, assignment.AssignedBy, conditions)
	if err := row.Scan(&assignment.ID, &assignment.CreatedAt); err != nil {
		return RoleAssignment{}, mapStoreError(err)
	}
	return assignment, nil
}

// RevokeRole hard-deletes a user-role assignment.
func (r *Repository) RevokeRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_role_assignments WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UserDirectGrants returns direct permission grants joined with their permissions.
func (r *Repository) UserDirectGrants(ctx context.Context, userID int64) ([]DirectGrant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT up.id, up.user_id, up.permission_id, up.effect, up.scope, up.expires_at, up.granted_by, up.reason, up.created_at,
		        p.id, p.name, p.resource, p.action, p.scope, p.category, p.conditions, p.is_system_perm, p.is_active, p.created_at
		 FROM user_permissions up
		 JOIN permissions p ON p.id = up.permission_id
		 WHERE up.user_id = $1`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []DirectGrant
	for rows.Next() {
		var g DirectGrant
		var conditions []byte
		if err := rows.Scan(&g.Grant.ID, &g.Grant.UserID, &g.Grant.PermissionID, &g.Grant.Effect,
			&g.Grant.Scope, &g.Grant.ExpiresAt, &g.Grant.GrantedBy, &g.Grant.Reason, &g.Grant.CreatedAt,
			&g.Permission.ID, &g.Permission.Name, &g.Permission.Resource, &g.Permission.Action,
			&g.Permission.Scope, &g.Permission.Category, &conditions, &g.Permission.IsSystemPerm,
			&g.Permission.IsActive, &g.Permission.CreatedAt); err != nil {
			return nil, err
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &g.Permission.Conditions); err != nil {
				return nil, fmt.Errorf("rbac: decode permission conditions: %w", err)
			}
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// GrantPermission inserts a direct user permission.
func (r *Repository) GrantPermission(ctx context.Context, grant UserPermission) (UserPermission, error) {
	conditions, err := json.Marshal(grant.Conditions)
	if err != nil {
		return UserPermission{}, fmt.Errorf("rbac: encode grant conditions: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO user_permissions (user_id, permission_id, effect, scope, expires_at, granted_by, reason, conditions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		grant.UserID, grant.PermissionID, grant.Effect, grant.Scope, grant.ExpiresAt,
		grant.GrantedBy, grant.Reason, conditions)
	if err := row.Scan(&grant.ID, &grant.CreatedAt); err != nil {
		return UserPermission{}, mapStoreError(err)
	}
	return grant, nil
}

// RevokePermission hard-deletes a direct user permission.
func (r *Repository) RevokePermission(ctx context.Context, userID, permissionID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResourceGrant returns the ACL entry for a concrete resource, or nil when absent.
func (r *Repository) ResourceGrant(ctx context.Context, userID int64, resourceType, resourceID string) (*ResourceAccess, error) {
	var access ResourceAccess
	var permissions []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, resource_type, resource_id, permissions, is_active, expires_at, granted_by, created_at
		 FROM resource_access
		 WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3`,
		userID, resourceType, resourceID).
		Scan(&access.ID, &access.UserID, &access.ResourceType, &access.ResourceID, &permissions,
			&access.IsActive, &access.ExpiresAt, &access.GrantedBy, &access.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &access.Permissions); err != nil {
			return nil, fmt.Errorf("rbac: decode resource permissions: %w", err)
		}
	}
	return &access, nil
}

// GrantResourceAccess upserts the ACL entry for a concrete resource.
func (r *Repository) GrantResourceAccess(ctx context.Context, access ResourceAccess) (ResourceAccess, error) {
	permissions, err := json.Marshal(access.Permissions)
	if err != nil {
		return ResourceAccess{}, fmt.Errorf("rbac: encode resource permissions: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO resource_access (user_id, resource_type, resource_id, permissions, is_active, expires_at, granted_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, resource_type, resource_id)
		 DO UPDATE SET permissions = EXCLUDED.permissions, is_active = EXCLUDED.is_active, expires_at = EXCLUDED.expires_at
		 RETURNING id, created_at`,
		access.UserID, access.ResourceType, access.ResourceID, permissions,
		access.IsActive, access.ExpiresAt, access.GrantedBy)
	if err := row.Scan(&access.ID, &access.CreatedAt); err != nil {
		return ResourceAccess{}, mapStoreError(err)
	}
	return access, nil
}

// RevokeResourceAccess hard-deletes the ACL entry for a concrete resource.
func (r *Repository) RevokeResourceAccess(ctx context.Context, userID int64, resourceType, resourceID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM resource_access WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3`,
		userID, resourceType, resourceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// mapStoreError converts unique and foreign key violations into domain errors.
func mapStoreError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: duplicate record", ErrInvalidInput)
		case "23503":
			return fmt.Errorf("%w: unknown reference", ErrNotFound)
		}
	}
	return err
}
