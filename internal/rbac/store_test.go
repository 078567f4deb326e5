package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// fakeStore is an in-memory Store with per-method error injection.
type fakeStore struct {
	roles       map[int64]Role
	permissions map[int64]Permission
	rolePerms   map[int64][]int64
	assignments map[int64][]RoleAssignment
	grants      map[int64][]DirectGrant
	resources   map[string]*ResourceAccess

	attached map[int64][]int64
	detached map[int64][]int64

	errs map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles:       map[int64]Role{},
		permissions: map[int64]Permission{},
		rolePerms:   map[int64][]int64{},
		assignments: map[int64][]RoleAssignment{},
		grants:      map[int64][]DirectGrant{},
		resources:   map[string]*ResourceAccess{},
		attached:    map[int64][]int64{},
		detached:    map[int64][]int64{},
		errs:        map[string]error{},
	}
}

func (s *fakeStore) failOn(method string) {
	s.errs[method] = errors.New(method + " failed")
}

func (s *fakeStore) err(method string) error {
	return s.errs[method]
}

func resourceKey(userID int64, resourceType, resourceID string) string {
	return fmt.Sprintf("%d/%s/%s", userID, resourceType, resourceID)
}

func (s *fakeStore) GetRole(ctx context.Context, id int64) (Role, error) {
	if err := s.err("GetRole"); err != nil {
		return Role{}, err
	}
	role, ok := s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (s *fakeStore) GetRoleByName(ctx context.Context, name string) (Role, error) {
	for _, role := range s.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return Role{}, ErrNotFound
}

func (s *fakeStore) ListRoles(ctx context.Context) ([]Role, error) {
	if err := s.err("ListRoles"); err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(s.roles))
	for _, role := range s.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority > roles[j].Priority
		}
		return roles[i].Name < roles[j].Name
	})
	return roles, nil
}

func (s *fakeStore) CreateRole(ctx context.Context, role Role) (Role, error) {
	if err := s.err("CreateRole"); err != nil {
		return Role{}, err
	}
	role.ID = int64(len(s.roles) + 1)
	s.roles[role.ID] = role
	return role, nil
}

func (s *fakeStore) UpdateRole(ctx context.Context, role Role) (Role, error) {
	if err := s.err("UpdateRole"); err != nil {
		return Role{}, err
	}
	if _, ok := s.roles[role.ID]; !ok {
		return Role{}, ErrNotFound
	}
	s.roles[role.ID] = role
	return role, nil
}

func (s *fakeStore) DeleteRole(ctx context.Context, id int64) error {
	if err := s.err("DeleteRole"); err != nil {
		return err
	}
	if _, ok := s.roles[id]; !ok {
		return ErrNotFound
	}
	delete(s.roles, id)
	return nil
}

func (s *fakeStore) CountRoleChildren(ctx context.Context, id int64) (int, error) {
	count := 0
	for _, role := range s.roles {
		if role.ParentID != nil && *role.ParentID == id {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) CountActiveAssignments(ctx context.Context, roleID int64) (int, error) {
	count := 0
	for _, list := range s.assignments {
		for _, a := range list {
			if a.RoleID == roleID {
				count++
			}
		}
	}
	return count, nil
}

func (s *fakeStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	if err := s.err("GetPermission"); err != nil {
		return Permission{}, err
	}
	perm, ok := s.permissions[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return perm, nil
}

func (s *fakeStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	perms := make([]Permission, 0, len(s.permissions))
	for _, perm := range s.permissions {
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	return perms, nil
}

func (s *fakeStore) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	if err := s.err("CreatePermission"); err != nil {
		return Permission{}, err
	}
	perm.ID = int64(len(s.permissions) + 1)
	s.permissions[perm.ID] = perm
	return perm, nil
}

func (s *fakeStore) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	if _, ok := s.permissions[perm.ID]; !ok {
		return Permission{}, ErrNotFound
	}
	s.permissions[perm.ID] = perm
	return perm, nil
}

func (s *fakeStore) DeletePermission(ctx context.Context, id int64) error {
	if _, ok := s.permissions[id]; !ok {
		return ErrNotFound
	}
	delete(s.permissions, id)
	return nil
}

func (s *fakeStore) CountPermissionReferences(ctx context.Context, permissionID int64) (int, error) {
	if err := s.err("CountPermissionReferences"); err != nil {
		return 0, err
	}
	count := 0
	for _, ids := range s.rolePerms {
		for _, id := range ids {
			if id == permissionID {
				count++
			}
		}
	}
	for _, list := range s.grants {
		for _, g := range list {
			if g.Grant.PermissionID == permissionID {
				count++
			}
		}
	}
	return count, nil
}

func (s *fakeStore) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	if err := s.err("RolePermissions"); err != nil {
		return nil, err
	}
	var perms []Permission
	for _, id := range s.rolePerms[roleID] {
		if perm, ok := s.permissions[id]; ok {
			perms = append(perms, perm)
		}
	}
	return perms, nil
}

func (s *fakeStore) AttachPermission(ctx context.Context, roleID, permissionID, grantedBy int64) error {
	if err := s.err("AttachPermission"); err != nil {
		return err
	}
	s.rolePerms[roleID] = append(s.rolePerms[roleID], permissionID)
	s.attached[roleID] = append(s.attached[roleID], permissionID)
	return nil
}

func (s *fakeStore) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	if err := s.err("DetachPermission"); err != nil {
		return err
	}
	kept := s.rolePerms[roleID][:0]
	for _, id := range s.rolePerms[roleID] {
		if id != permissionID {
			kept = append(kept, id)
		}
	}
	s.rolePerms[roleID] = kept
	s.detached[roleID] = append(s.detached[roleID], permissionID)
	return nil
}

func (s *fakeStore) UserAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	if err := s.err("UserAssignments"); err != nil {
		return nil, err
	}
	return s.assignments[userID], nil
}

func (s *fakeStore) AssignRole(ctx context.Context, assignment RoleAssignment) (RoleAssignment, error) {
	if err := s.err("AssignRole"); err != nil {
		return RoleAssignment{}, err
	}
	assignment.ID = int64(len(s.assignments[assignment.UserID]) + 1)
	s.assignments[assignment.UserID] = append(s.assignments[assignment.UserID], assignment)
	return assignment, nil
}

func (s *fakeStore) RevokeRole(ctx context.Context, userID, roleID int64) error {
	kept := s.assignments[userID][:0]
	found := false
	for _, a := range s.assignments[userID] {
		if a.RoleID == roleID {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if !found {
		return ErrNotFound
	}
	s.assignments[userID] = kept
	return nil
}

func (s *fakeStore) UserDirectGrants(ctx context.Context, userID int64) ([]DirectGrant, error) {
	if err := s.err("UserDirectGrants"); err != nil {
		return nil, err
	}
	return s.grants[userID], nil
}

func (s *fakeStore) GrantPermission(ctx context.Context, grant UserPermission) (UserPermission, error) {
	if err := s.err("GrantPermission"); err != nil {
		return UserPermission{}, err
	}
	grant.ID = int64(len(s.grants[grant.UserID]) + 1)
	perm := s.permissions[grant.PermissionID]
	s.grants[grant.UserID] = append(s.grants[grant.UserID], DirectGrant{Grant: grant, Permission: perm})
	return grant, nil
}

func (s *fakeStore) RevokePermission(ctx context.Context, userID, permissionID int64) error {
	kept := s.grants[userID][:0]
	found := false
	for _, g := range s.grants[userID] {
		if g.Grant.PermissionID == permissionID {
			found = true
			continue
		}
		kept = append(kept, g)
	}
	if !found {
		return ErrNotFound
	}
	s.grants[userID] = kept
	return nil
}

func (s *fakeStore) ResourceGrant(ctx context.Context, userID int64, resourceType, resourceID string) (*ResourceAccess, error) {
	if err := s.err("ResourceGrant"); err != nil {
		return nil, err
	}
	return s.resources[resourceKey(userID, resourceType, resourceID)], nil
}

func (s *fakeStore) GrantResourceAccess(ctx context.Context, access ResourceAccess) (ResourceAccess, error) {
	access.ID = int64(len(s.resources) + 1)
	s.resources[resourceKey(access.UserID, access.ResourceType, access.ResourceID)] = &access
	return access, nil
}

func (s *fakeStore) RevokeResourceAccess(ctx context.Context, userID int64, resourceType, resourceID string) error {
	key := resourceKey(userID, resourceType, resourceID)
	if _, ok := s.resources[key]; !ok {
		return ErrNotFound
	}
	delete(s.resources, key)
	return nil
}
