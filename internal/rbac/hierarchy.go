package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Resolver materializes role hierarchies and effective permission sets.
//
// Two traversals exist side by side: EffectivePermissions walks a single
// parent level, which is what the check path enforces, while RoleTree walks
// the full hierarchy for organizational display. Grandparent permissions do
// not confer access.
type Resolver struct {
	store  Store
	logger *slog.Logger
	clock  func() time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// EffectivePermissions returns the de-duplicated permission set a user holds
// through active role assignments. For each assigned role the role's own
// permissions and its direct parent's permissions are included; grandparents
// are not consulted.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) ([]Permission, error) {
	assignments, err := r.store.UserAssignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: load assignments: %w", err)
	}
	now := r.clock()
	seen := make(map[int64]Permission)
	for _, assignment := range assignments {
		if !assignment.ActiveAt(now) {
			continue
		}
		role, err := r.store.GetRole(ctx, assignment.RoleID)
		if err != nil {
			return nil, fmt.Errorf("rbac: load role %d: %w", assignment.RoleID, err)
		}
		if !role.IsActive {
			continue
		}
		if err := r.collectRolePermissions(ctx, role.ID, seen); err != nil {
			return nil, err
		}
		if role.ParentID != nil {
			if err := r.collectRolePermissions(ctx, *role.ParentID, seen); err != nil {
				return nil, err
			}
		}
	}
	perms := make([]Permission, 0, len(seen))
	for _, perm := range seen {
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	return perms, nil
}

func (r *Resolver) collectRolePermissions(ctx context.Context, roleID int64, seen map[int64]Permission) error {
	perms, err := r.store.RolePermissions(ctx, roleID)
	if err != nil {
		return fmt.Errorf("rbac: load role %d permissions: %w", roleID, err)
	}
	for _, perm := range perms {
		seen[perm.ID] = perm
	}
	return nil
}

// ValidateParent rejects a parent assignment that would create a cycle. It
// walks the prospective parent's chain toward the root; encountering the
// role itself means the assignment would close a loop. The walk keeps a
// visited set so a pre-existing corrupt chain terminates instead of
// spinning. Reads never re-validate, so this must run on every write.
func (r *Resolver) ValidateParent(ctx context.Context, roleID, parentID int64) error {
	if roleID == parentID {
		return ErrCircularHierarchy
	}
	visited := map[int64]struct{}{roleID: {}}
	current := parentID
	for {
		if _, ok := visited[current]; ok {
			return ErrCircularHierarchy
		}
		visited[current] = struct{}{}
		role, err := r.store.GetRole(ctx, current)
		if err != nil {
			return fmt.Errorf("rbac: validate parent chain at role %d: %w", current, err)
		}
		if role.ParentID == nil {
			return nil
		}
		current = *role.ParentID
	}
}

// RoleTree builds the full-depth hierarchy for display. Roots and children
// are ordered by priority descending, then name.
func (r *Resolver) RoleTree(ctx context.Context) ([]*RoleNode, error) {
	roles, err := r.store.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	nodes := make(map[int64]*RoleNode, len(roles))
	for _, role := range roles {
		nodes[role.ID] = &RoleNode{Role: role}
	}
	var roots []*RoleNode
	for _, role := range roles {
		node := nodes[role.ID]
		if role.ParentID != nil {
			if parent, ok := nodes[*role.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
			if r.logger != nil {
				r.logger.Warn("role references missing parent",
					slog.Int64("role_id", role.ID), slog.Int64("parent_id", *role.ParentID))
			}
		}
		roots = append(roots, node)
	}
	sortNodes(roots)
	for _, node := range nodes {
		sortNodes(node.Children)
	}
	return roots, nil
}

func sortNodes(nodes []*RoleNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Role.Priority != nodes[j].Role.Priority {
			return nodes[i].Role.Priority > nodes[j].Role.Priority
		}
		return nodes[i].Role.Name < nodes[j].Role.Name
	})
}
