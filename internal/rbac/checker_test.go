package rbac

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordedCheck struct {
	resource string
	action   string
	allowed  bool
}

type fakeMetrics struct {
	checks []recordedCheck
}

func (m *fakeMetrics) ObservePermissionCheck(resource, action string, allowed bool, duration time.Duration) {
	m.checks = append(m.checks, recordedCheck{resource: resource, action: action, allowed: allowed})
}

func testChecker(store Store) *Checker {
	c := NewChecker(store, testResolver(store), nil, slog.Default(), nil)
	c.clock = func() time.Time { return testNow }
	return c
}

// viewerStore models a viewer role holding tasks:read but not tasks:delete.
func viewerStore() *fakeStore {
	store := newFakeStore()
	store.roles[1] = Role{ID: 1, Name: "viewer", IsActive: true}
	store.permissions[10] = Permission{ID: 10, Resource: "tasks", Action: "read", IsActive: true}
	store.rolePerms[1] = []int64{10}
	store.assignments[7] = []RoleAssignment{{UserID: 7, RoleID: 1, Effect: EffectAllow}}
	return store
}

func TestCheckRoleDerivedPermission(t *testing.T) {
	checker := testChecker(viewerStore())
	ctx := context.Background()

	assert.True(t, checker.Check(ctx, CheckRequest{UserID: 7, Resource: "tasks", Action: "read"}))
	assert.False(t, checker.Check(ctx, CheckRequest{UserID: 7, Resource: "tasks", Action: "delete"}))
	assert.False(t, checker.Check(ctx, CheckRequest{UserID: 99, Resource: "tasks", Action: "read"}))
}

func TestCheckExpiredAssignmentDenies(t *testing.T) {
	store := viewerStore()
	past := testNow.Add(-time.Minute)
	store.assignments[7] = []RoleAssignment{{UserID: 7, RoleID: 1, Effect: EffectAllow, ExpiresAt: &past}}

	checker := testChecker(store)
	assert.False(t, checker.Check(context.Background(), CheckRequest{UserID: 7, Resource: "tasks", Action: "read"}))
}

func TestCheckDirectGrantWithoutAnyRole(t *testing.T) {
	store := newFakeStore()
	perm := Permission{ID: 20, Resource: "exports", Action: "run", IsActive: true}
	store.permissions[20] = perm
	store.grants[5] = []DirectGrant{{
		Grant:      UserPermission{ID: 1, UserID: 5, PermissionID: 20, Effect: EffectAllow},
		Permission: perm,
	}}

	checker := testChecker(store)
	assert.True(t, checker.Check(context.Background(), CheckRequest{UserID: 5, Resource: "exports", Action: "run"}))
}

func TestCheckDirectGrantScope(t *testing.T) {
	store := newFakeStore()
	perm := Permission{ID: 20, Resource: "exports", Action: "run", Scope: "finance", IsActive: true}
	store.permissions[20] = perm
	store.grants[5] = []DirectGrant{{
		Grant:      UserPermission{ID: 1, UserID: 5, PermissionID: 20, Effect: EffectAllow, Scope: "finance"},
		Permission: perm,
	}}

	checker := testChecker(store)
	ctx := context.Background()

	assert.True(t, checker.Check(ctx, CheckRequest{UserID: 5, Resource: "exports", Action: "run", Scope: "finance"}))
	assert.False(t, checker.Check(ctx, CheckRequest{UserID: 5, Resource: "exports", Action: "run", Scope: "hr"}))
	// An unscoped request matches any grant scope.
	assert.True(t, checker.Check(ctx, CheckRequest{UserID: 5, Resource: "exports", Action: "run"}))
}

func TestCheckGlobalScopeMatchesEverything(t *testing.T) {
	store := newFakeStore()
	store.roles[1] = Role{ID: 1, Name: "admin", IsActive: true}
	store.permissions[10] = Permission{ID: 10, Resource: "tasks", Action: "read", Scope: ScopeGlobal, IsActive: true}
	store.rolePerms[1] = []int64{10}
	store.assignments[7] = []RoleAssignment{{UserID: 7, RoleID: 1, Effect: EffectAllow}}

	checker := testChecker(store)
	assert.True(t, checker.Check(context.Background(), CheckRequest{UserID: 7, Resource: "tasks", Action: "read", Scope: "team-9"}))
}

func TestCheckResourceACLOnlyWithResourceID(t *testing.T) {
	store := newFakeStore()
	store.resources[resourceKey(5, "documents", "doc-1")] = &ResourceAccess{
		ID: 1, UserID: 5, ResourceType: "documents", ResourceID: "doc-1",
		Permissions: map[string]bool{"read": true}, IsActive: true,
	}

	checker := testChecker(store)
	ctx := context.Background()

	assert.True(t, checker.Check(ctx, CheckRequest{UserID: 5, Resource: "documents", Action: "read", ResourceID: "doc-1"}))
	// Without a concrete resource the ACL is never consulted.
	assert.False(t, checker.Check(ctx, CheckRequest{UserID: 5, Resource: "documents", Action: "read"}))
	assert.False(t, checker.Check(ctx, CheckRequest{UserID: 5, Resource: "documents", Action: "write", ResourceID: "doc-1"}))
}

func TestCheckResourceACLWildcard(t *testing.T) {
	store := newFakeStore()
	store.resources[resourceKey(5, "documents", "doc-1")] = &ResourceAccess{
		ID: 1, UserID: 5, ResourceType: "documents", ResourceID: "doc-1",
		Permissions: map[string]bool{WildcardAction: true}, IsActive: true,
	}

	checker := testChecker(store)
	assert.True(t, checker.Check(context.Background(), CheckRequest{UserID: 5, Resource: "documents", Action: "archive", ResourceID: "doc-1"}))
}

func TestCheckFailsClosedOnStoreError(t *testing.T) {
	store := viewerStore()
	store.failOn("UserDirectGrants")

	checker := testChecker(store)
	assert.False(t, checker.Check(context.Background(), CheckRequest{UserID: 7, Resource: "tasks", Action: "read"}))
}

func TestCheckRejectsIncompleteRequest(t *testing.T) {
	checker := testChecker(newFakeStore())
	ctx := context.Background()

	assert.False(t, checker.Check(ctx, CheckRequest{Resource: "tasks", Action: "read"}))
	assert.False(t, checker.Check(ctx, CheckRequest{UserID: 7, Action: "read"}))
	assert.False(t, checker.Check(ctx, CheckRequest{UserID: 7, Resource: "tasks"}))
}

func TestCheckRecordsMetrics(t *testing.T) {
	metrics := &fakeMetrics{}
	store := viewerStore()
	checker := NewChecker(store, testResolver(store), nil, slog.Default(), metrics)
	checker.clock = func() time.Time { return testNow }

	ctx := context.Background()
	checker.Check(ctx, CheckRequest{UserID: 7, Resource: "tasks", Action: "read"})
	checker.Check(ctx, CheckRequest{UserID: 7, Resource: "tasks", Action: "delete"})

	assert.Equal(t, []recordedCheck{
		{resource: "tasks", action: "read", allowed: true},
		{resource: "tasks", action: "delete", allowed: false},
	}, metrics.checks)
}

func TestCheckInactivePermissionDenies(t *testing.T) {
	store := viewerStore()
	perm := store.permissions[10]
	perm.IsActive = false
	store.permissions[10] = perm

	checker := testChecker(store)
	assert.False(t, checker.Check(context.Background(), CheckRequest{UserID: 7, Resource: "tasks", Action: "read"}))
}
