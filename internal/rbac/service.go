package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Service orchestrates administrative mutations on the permission store.
// Unlike the check path, mutations surface errors to the caller so the
// admin surface can report them.
type Service struct {
	store    Store
	resolver *Resolver
	cache    *PermissionCache
	logger   *slog.Logger
	validate *validator.Validate
	clock    func() time.Time
}

// NewService constructs a Service. cache may be nil.
func NewService(store Store, resolver *Resolver, cache *PermissionCache, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		cache:    cache,
		logger:   logger,
		validate: validator.New(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// CreateRoleInput carries the payload for CreateRole.
type CreateRoleInput struct {
	Name        string         `validate:"required,min=2,max=100"`
	DisplayName string         `validate:"required,max=200"`
	ParentID    *int64         `validate:"omitempty,gt=0"`
	Priority    int            `validate:"gte=0"`
	Metadata    map[string]any `validate:"-"`
}

// CreateRole inserts a new role after validating the parent reference.
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput) (Role, error) {
	if err := s.validate.Struct(input); err != nil {
		return Role{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if input.ParentID != nil {
		if _, err := s.store.GetRole(ctx, *input.ParentID); err != nil {
			return Role{}, fmt.Errorf("rbac: parent role: %w", err)
		}
	}
	role := Role{
		Name:        strings.TrimSpace(input.Name),
		DisplayName: strings.TrimSpace(input.DisplayName),
		ParentID:    input.ParentID,
		IsActive:    true,
		Priority:    input.Priority,
		Metadata:    input.Metadata,
	}
	return s.store.CreateRole(ctx, role)
}

// UpdateRoleInput carries the payload for UpdateRole. Nil pointers leave the
// current value unchanged.
type UpdateRoleInput struct {
	DisplayName *string        `validate:"omitempty,max=200"`
	ParentID    *int64         `validate:"omitempty,gt=0"`
	ClearParent bool           `validate:"-"`
	Priority    *int           `validate:"omitempty,gte=0"`
	IsActive    *bool          `validate:"-"`
	Metadata    map[string]any `validate:"-"`
}

// UpdateRole mutates a role. System roles are immutable, and a parent change
// runs cycle validation before touching the store.
func (s *Service) UpdateRole(ctx context.Context, id int64, input UpdateRoleInput) (Role, error) {
	if err := s.validate.Struct(input); err != nil {
		return Role{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if role.IsSystemRole {
		return Role{}, ErrSystemRecord
	}
	if input.DisplayName != nil {
		role.DisplayName = strings.TrimSpace(*input.DisplayName)
	}
	if input.ClearParent {
		role.ParentID = nil
	} else if input.ParentID != nil {
		if err := s.resolver.ValidateParent(ctx, id, *input.ParentID); err != nil {
			return Role{}, err
		}
		role.ParentID = input.ParentID
	}
	if input.Priority != nil {
		role.Priority = *input.Priority
	}
	if input.IsActive != nil {
		role.IsActive = *input.IsActive
	}
	if input.Metadata != nil {
		role.Metadata = input.Metadata
	}
	updated, err := s.store.UpdateRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	s.invalidateAll(ctx)
	return updated, nil
}

// DeleteRole removes a leaf role with no active assignments. System roles
// are never deletable.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return ErrSystemRecord
	}
	children, err := s.store.CountRoleChildren(ctx, id)
	if err != nil {
		return err
	}
	if children > 0 {
		return ErrRoleInUse
	}
	assignments, err := s.store.CountActiveAssignments(ctx, id)
	if err != nil {
		return err
	}
	if assignments > 0 {
		return ErrRoleInUse
	}
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	return nil
}

// ListRoles returns all roles ordered by priority descending, then name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// RoleTree returns the full-depth hierarchy for display.
func (s *Service) RoleTree(ctx context.Context) ([]*RoleNode, error) {
	return s.resolver.RoleTree(ctx)
}

// CreatePermissionInput carries the payload for CreatePermission.
type CreatePermissionInput struct {
	Name       string         `validate:"required,min=2,max=150"`
	Resource   string         `validate:"required,max=100"`
	Action     string         `validate:"required,max=100"`
	Scope      string         `validate:"omitempty,max=100"`
	Category   string         `validate:"omitempty,max=100"`
	Conditions map[string]any `validate:"-"`
}

// CreatePermission inserts a new permission.
func (s *Service) CreatePermission(ctx context.Context, input CreatePermissionInput) (Permission, error) {
	if err := s.validate.Struct(input); err != nil {
		return Permission{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	perm := Permission{
		Name:       strings.TrimSpace(input.Name),
		Resource:   strings.TrimSpace(input.Resource),
		Action:     strings.TrimSpace(input.Action),
		Scope:      strings.TrimSpace(input.Scope),
		Category:   strings.TrimSpace(input.Category),
		Conditions: input.Conditions,
		IsActive:   true,
	}
	return s.store.CreatePermission(ctx, perm)
}

// UpdatePermissionInput carries the payload for UpdatePermission.
type UpdatePermissionInput struct {
	Scope      *string        `validate:"omitempty,max=100"`
	Category   *string        `validate:"omitempty,max=100"`
	IsActive   *bool          `validate:"-"`
	Conditions map[string]any `validate:"-"`
}

// UpdatePermission mutates a permission. System permissions are immutable.
func (s *Service) UpdatePermission(ctx context.Context, id int64, input UpdatePermissionInput) (Permission, error) {
	if err := s.validate.Struct(input); err != nil {
		return Permission{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	perm, err := s.store.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	if perm.IsSystemPerm {
		return Permission{}, ErrSystemRecord
	}
	if input.Scope != nil {
		perm.Scope = strings.TrimSpace(*input.Scope)
	}
	if input.Category != nil {
		perm.Category = strings.TrimSpace(*input.Category)
	}
	if input.IsActive != nil {
		perm.IsActive = *input.IsActive
	}
	if input.Conditions != nil {
		perm.Conditions = input.Conditions
	}
	updated, err := s.store.UpdatePermission(ctx, perm)
	if err != nil {
		return Permission{}, err
	}
	s.invalidateAll(ctx)
	return updated, nil
}

// DeletePermission removes a permission no role or user references. System
// permissions are never deletable.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	perm, err := s.store.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystemPerm {
		return ErrSystemRecord
	}
	references, err := s.store.CountPermissionReferences(ctx, id)
	if err != nil {
		return err
	}
	if references > 0 {
		return ErrPermissionInUse
	}
	if err := s.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	return nil
}

// ListPermissions returns all permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// SetRolePermissions replaces the permission set of a role with the given
// IDs, attaching and detaching only the difference.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, grantedBy int64) error {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	current, err := s.store.RolePermissions(ctx, roleID)
	if err != nil {
		return err
	}
	existing := make(map[int64]struct{}, len(current))
	for _, perm := range current {
		existing[perm.ID] = struct{}{}
	}
	keep := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		keep[id] = struct{}{}
		if _, ok := existing[id]; !ok {
			if _, err := s.store.GetPermission(ctx, id); err != nil {
				return fmt.Errorf("rbac: permission %d: %w", id, err)
			}
			if err := s.store.AttachPermission(ctx, roleID, id, grantedBy); err != nil {
				return err
			}
		}
	}
	for id := range existing {
		if _, ok := keep[id]; !ok {
			if err := s.store.DetachPermission(ctx, roleID, id); err != nil {
				return err
			}
		}
	}
	s.invalidateAll(ctx)
	return nil
}

// AssignRoleInput carries the payload for AssignRole.
type AssignRoleInput struct {
	UserID     int64          `validate:"required,gt=0"`
	RoleID     int64          `validate:"required,gt=0"`
	Scope      string         `validate:"omitempty,max=100"`
	ExpiresAt  *time.Time     `validate:"-"`
	Conditions map[string]any `validate:"-"`
}

// AssignRole grants a role to a user. The role must exist and be active, and
// an expiry, when present, must lie in the future.
func (s *Service) AssignRole(ctx context.Context, input AssignRoleInput, assignedBy int64) (RoleAssignment, error) {
	if err := s.validate.Struct(input); err != nil {
		return RoleAssignment{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.clock()) {
		return RoleAssignment{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, input.RoleID)
	if err != nil {
		return RoleAssignment{}, err
	}
	if !role.IsActive {
		return RoleAssignment{}, fmt.Errorf("%w: role %s is inactive", ErrInvalidInput, role.Name)
	}
	assignment := RoleAssignment{
		UserID:     input.UserID,
		RoleID:     input.RoleID,
		Effect:     EffectAllow,
		Scope:      strings.TrimSpace(input.Scope),
		ExpiresAt:  input.ExpiresAt,
		AssignedBy: assignedBy,
		Conditions: input.Conditions,
	}
	created, err := s.store.AssignRole(ctx, assignment)
	if err != nil {
		return RoleAssignment{}, err
	}
	s.invalidateUser(ctx, input.UserID)
	return created, nil
}

// RevokeRole removes a role from a user.
func (s *Service) RevokeRole(ctx context.Context, userID, roleID int64) error {
	if err := s.store.RevokeRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidateUser(ctx, userID)
	return nil
}

// GrantPermissionInput carries the payload for GrantPermission.
type GrantPermissionInput struct {
	UserID       int64          `validate:"required,gt=0"`
	PermissionID int64          `validate:"required,gt=0"`
	Scope        string         `validate:"omitempty,max=100"`
	ExpiresAt    *time.Time     `validate:"-"`
	Reason       string         `validate:"required,max=500"`
	Conditions   map[string]any `validate:"-"`
}

// GrantPermission gives a user a direct permission, bypassing roles. A
// reason is mandatory for the audit trail.
func (s *Service) GrantPermission(ctx context.Context, input GrantPermissionInput, grantedBy int64) (UserPermission, error) {
	if err := s.validate.Struct(input); err != nil {
		return UserPermission{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.clock()) {
		return UserPermission{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}
	if _, err := s.store.GetPermission(ctx, input.PermissionID); err != nil {
		return UserPermission{}, err
	}
	grant := UserPermission{
		UserID:       input.UserID,
		PermissionID: input.PermissionID,
		Effect:       EffectAllow,
		Scope:        strings.TrimSpace(input.Scope),
		ExpiresAt:    input.ExpiresAt,
		GrantedBy:    grantedBy,
		Reason:       strings.TrimSpace(input.Reason),
		Conditions:   input.Conditions,
	}
	created, err := s.store.GrantPermission(ctx, grant)
	if err != nil {
		return UserPermission{}, err
	}
	s.invalidateUser(ctx, input.UserID)
	return created, nil
}

// RevokePermission removes a direct permission from a user.
func (s *Service) RevokePermission(ctx context.Context, userID, permissionID int64) error {
	if err := s.store.RevokePermission(ctx, userID, permissionID); err != nil {
		return err
	}
	s.invalidateUser(ctx, userID)
	return nil
}

// GrantResourceAccessInput carries the payload for GrantResourceAccess.
type GrantResourceAccessInput struct {
	UserID       int64           `validate:"required,gt=0"`
	ResourceType string          `validate:"required,max=100"`
	ResourceID   string          `validate:"required,max=100"`
	Permissions  map[string]bool `validate:"required,min=1"`
	ExpiresAt    *time.Time      `validate:"-"`
}

// GrantResourceAccess upserts a per-resource ACL entry for a user.
func (s *Service) GrantResourceAccess(ctx context.Context, input GrantResourceAccessInput, grantedBy int64) (ResourceAccess, error) {
	if err := s.validate.Struct(input); err != nil {
		return ResourceAccess{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.clock()) {
		return ResourceAccess{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}
	access := ResourceAccess{
		UserID:       input.UserID,
		ResourceType: strings.TrimSpace(input.ResourceType),
		ResourceID:   strings.TrimSpace(input.ResourceID),
		Permissions:  input.Permissions,
		IsActive:     true,
		ExpiresAt:    input.ExpiresAt,
		GrantedBy:    grantedBy,
	}
	return s.store.GrantResourceAccess(ctx, access)
}

// RevokeResourceAccess removes a per-resource ACL entry.
func (s *Service) RevokeResourceAccess(ctx context.Context, userID int64, resourceType, resourceID string) error {
	return s.store.RevokeResourceAccess(ctx, userID, resourceType, resourceID)
}

// Cache invalidation is best-effort. A stale entry expires via TTL; a failed
// invalidation must not fail the mutation that already committed.
func (s *Service) invalidateUser(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateUser(ctx, userID); err != nil && s.logger != nil {
		s.logger.Warn("permission cache invalidation failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *Service) invalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAll(ctx); err != nil && s.logger != nil {
		s.logger.Warn("permission cache flush failed", slog.Any("error", err))
	}
}
