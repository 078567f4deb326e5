package rbac

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(store Store) *Service {
	s := NewService(store, testResolver(store), nil, slog.Default())
	s.clock = func() time.Time { return testNow }
	return s
}

func TestCreateRoleValidation(t *testing.T) {
	svc := testService(newFakeStore())
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, CreateRoleInput{Name: "x", DisplayName: "Too Short"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateRole(ctx, CreateRoleInput{Name: "editors", DisplayName: ""})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateRoleUnknownParent(t *testing.T) {
	svc := testService(newFakeStore())
	_, err := svc.CreateRole(context.Background(), CreateRoleInput{
		Name: "editors", DisplayName: "Editors", ParentID: int64Ptr(99),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRoleSystemRoleImmutable(t *testing.T) {
	store := newFakeStore()
	store.roles[1] = Role{ID: 1, Name: "superadmin", IsSystemRole: true, IsActive: true}

	svc := testService(store)
	name := "renamed"
	_, err := svc.UpdateRole(context.Background(), 1, UpdateRoleInput{DisplayName: &name})
	assert.ErrorIs(t, err, ErrSystemRecord)
}

func TestUpdateRoleParentCycleRejected(t *testing.T) {
	store := newFakeStore()
	store.roles[1] = Role{ID: 1, Name: "a", IsActive: true}
	store.roles[2] = Role{ID: 2, Name: "b", ParentID: int64Ptr(1), IsActive: true}

	svc := testService(store)
	_, err := svc.UpdateRole(context.Background(), 1, UpdateRoleInput{ParentID: int64Ptr(2)})
	assert.ErrorIs(t, err, ErrCircularHierarchy)

	// The store must be untouched after the rejected update.
	role, getErr := store.GetRole(context.Background(), 1)
	require.NoError(t, getErr)
	assert.Nil(t, role.ParentID)
}

func TestDeleteRoleGuards(t *testing.T) {
	store := newFakeStore()
	store.roles[1] = Role{ID: 1, Name: "parent", IsActive: true}
	store.roles[2] = Role{ID: 2, Name: "child", ParentID: int64Ptr(1), IsActive: true}
	store.roles[3] = Role{ID: 3, Name: "assigned", IsActive: true}
	store.roles[4] = Role{ID: 4, Name: "leaf", IsActive: true}
	store.roles[5] = Role{ID: 5, Name: "system", IsSystemRole: true, IsActive: true}
	store.assignments[7] = []RoleAssignment{{UserID: 7, RoleID: 3, Effect: EffectAllow}}

	svc := testService(store)
	ctx := context.Background()

	assert.ErrorIs(t, svc.DeleteRole(ctx, 1), ErrRoleInUse)
	assert.ErrorIs(t, svc.DeleteRole(ctx, 3), ErrRoleInUse)
	assert.ErrorIs(t, svc.DeleteRole(ctx, 5), ErrSystemRecord)
	assert.NoError(t, svc.DeleteRole(ctx, 4))
}

func TestSetRolePermissionsDiff(t *testing.T) {
	store := newFakeStore()
	store.roles[1] = Role{ID: 1, Name: "editors", IsActive: true}
	store.permissions[10] = Permission{ID: 10, Resource: "a", Action: "read", IsActive: true}
	store.permissions[11] = Permission{ID: 11, Resource: "a", Action: "write", IsActive: true}
	store.permissions[12] = Permission{ID: 12, Resource: "a", Action: "delete", IsActive: true}
	store.rolePerms[1] = []int64{10, 11}

	svc := testService(store)
	require.NoError(t, svc.SetRolePermissions(context.Background(), 1, []int64{11, 12}, 99))

	assert.Equal(t, []int64{12}, store.attached[1])
	assert.Equal(t, []int64{10}, store.detached[1])
}

func TestSetRolePermissionsUnknownPermission(t *testing.T) {
	store := newFakeStore()
	store.roles[1] = Role{ID: 1, Name: "editors", IsActive: true}

	svc := testService(store)
	err := svc.SetRolePermissions(context.Background(), 1, []int64{77}, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignRoleRules(t *testing.T) {
	store := newFakeStore()
	store.roles[1] = Role{ID: 1, Name: "editors", IsActive: true}
	store.roles[2] = Role{ID: 2, Name: "retired", IsActive: false}

	svc := testService(store)
	ctx := context.Background()

	past := testNow.Add(-time.Hour)
	_, err := svc.AssignRole(ctx, AssignRoleInput{UserID: 7, RoleID: 1, ExpiresAt: &past}, 99)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.AssignRole(ctx, AssignRoleInput{UserID: 7, RoleID: 2}, 99)
	assert.ErrorIs(t, err, ErrInvalidInput)

	future := testNow.Add(time.Hour)
	created, err := svc.AssignRole(ctx, AssignRoleInput{UserID: 7, RoleID: 1, ExpiresAt: &future}, 99)
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, created.Effect)
	assert.Equal(t, int64(99), created.AssignedBy)
}

func TestGrantPermissionRequiresReason(t *testing.T) {
	store := newFakeStore()
	store.permissions[10] = Permission{ID: 10, Resource: "a", Action: "read", IsActive: true}

	svc := testService(store)
	ctx := context.Background()

	_, err := svc.GrantPermission(ctx, GrantPermissionInput{UserID: 7, PermissionID: 10}, 99)
	assert.ErrorIs(t, err, ErrInvalidInput)

	created, err := svc.GrantPermission(ctx, GrantPermissionInput{
		UserID: 7, PermissionID: 10, Reason: "incident response",
	}, 99)
	require.NoError(t, err)
	assert.Equal(t, "incident response", created.Reason)
	assert.Equal(t, EffectAllow, created.Effect)
}

func TestGrantResourceAccessValidation(t *testing.T) {
	svc := testService(newFakeStore())
	ctx := context.Background()

	_, err := svc.GrantResourceAccess(ctx, GrantResourceAccessInput{
		UserID: 7, ResourceType: "documents", ResourceID: "doc-1",
	}, 99)
	assert.ErrorIs(t, err, ErrInvalidInput, "empty permission map is rejected")

	created, err := svc.GrantResourceAccess(ctx, GrantResourceAccessInput{
		UserID: 7, ResourceType: "documents", ResourceID: "doc-1",
		Permissions: map[string]bool{"read": true},
	}, 99)
	require.NoError(t, err)
	assert.True(t, created.IsActive)
}

func TestUpdatePermissionSystemImmutable(t *testing.T) {
	store := newFakeStore()
	store.permissions[10] = Permission{ID: 10, Resource: "a", Action: "read", IsSystemPerm: true, IsActive: true}

	svc := testService(store)
	active := false
	_, err := svc.UpdatePermission(context.Background(), 10, UpdatePermissionInput{IsActive: &active})
	assert.ErrorIs(t, err, ErrSystemRecord)

	assert.ErrorIs(t, svc.DeletePermission(context.Background(), 10), ErrSystemRecord)
}

func TestDeletePermissionGuards(t *testing.T) {
	store := newFakeStore()
	store.permissions[10] = Permission{ID: 10, Resource: "a", Action: "read", IsActive: true}
	store.permissions[11] = Permission{ID: 11, Resource: "a", Action: "write", IsActive: true}
	store.permissions[12] = Permission{ID: 12, Resource: "a", Action: "delete", IsActive: true}
	store.rolePerms[1] = []int64{10}
	store.grants[7] = []DirectGrant{{
		Grant:      UserPermission{UserID: 7, PermissionID: 11, Effect: EffectAllow},
		Permission: store.permissions[11],
	}}

	svc := testService(store)
	ctx := context.Background()

	assert.ErrorIs(t, svc.DeletePermission(ctx, 10), ErrPermissionInUse, "attached to a role")
	assert.ErrorIs(t, svc.DeletePermission(ctx, 11), ErrPermissionInUse, "granted to a user")
	assert.NoError(t, svc.DeletePermission(ctx, 12), "unreferenced")

	// The rejected deletions must leave the permissions in place.
	_, err := store.GetPermission(ctx, 10)
	require.NoError(t, err)
	_, err = store.GetPermission(ctx, 11)
	require.NoError(t, err)
}
