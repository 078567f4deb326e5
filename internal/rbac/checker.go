package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CheckMetrics receives the outcome of every permission check. Implemented
// by the observability package; nil disables instrumentation.
type CheckMetrics interface {
	ObservePermissionCheck(resource, action string, allowed bool, duration time.Duration)
}

// Checker answers allow/deny questions. Precedence, first match wins:
// direct user grants, then role-derived grants, then the per-resource ACL
// (only when the request names a concrete resource). Every failure path
// resolves to deny; the engine never fails open.
type Checker struct {
	store    Store
	resolver *Resolver
	cache    *PermissionCache
	logger   *slog.Logger
	metrics  CheckMetrics
	clock    func() time.Time
}

// NewChecker constructs a Checker. cache and metrics may be nil.
func NewChecker(store Store, resolver *Resolver, cache *PermissionCache, logger *slog.Logger, metrics CheckMetrics) *Checker {
	return &Checker{
		store:    store,
		resolver: resolver,
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Check reports whether the user may perform the requested action. Errors
// during resolution are logged and resolve to deny.
func (c *Checker) Check(ctx context.Context, req CheckRequest) bool {
	start := c.clock()
	allowed, err := c.evaluate(ctx, req)
	if err != nil {
		allowed = false
		if c.logger != nil {
			c.logger.Error("permission check failed closed",
				slog.Int64("user_id", req.UserID),
				slog.String("resource", req.Resource),
				slog.String("action", req.Action),
				slog.Any("error", err))
		}
	}
	if c.metrics != nil {
		c.metrics.ObservePermissionCheck(req.Resource, req.Action, allowed, c.clock().Sub(start))
	}
	return allowed
}

func (c *Checker) evaluate(ctx context.Context, req CheckRequest) (bool, error) {
	if req.UserID <= 0 || req.Resource == "" || req.Action == "" {
		return false, fmt.Errorf("rbac: check requires user, resource and action")
	}
	now := c.clock()

	grants, err := c.store.UserDirectGrants(ctx, req.UserID)
	if err != nil {
		return false, fmt.Errorf("rbac: load direct grants: %w", err)
	}
	for _, grant := range grants {
		if !grant.Grant.ActiveAt(now) {
			continue
		}
		if !scopeMatches(req.Scope, grant.Grant.Scope) {
			continue
		}
		if permissionMatches(grant.Permission, req) {
			return true, nil
		}
	}

	perms, err := c.effectivePermissions(ctx, req.UserID)
	if err != nil {
		return false, err
	}
	for _, perm := range perms {
		if permissionMatches(perm, req) {
			return true, nil
		}
	}

	if req.ResourceID != "" {
		access, err := c.store.ResourceGrant(ctx, req.UserID, req.Resource, req.ResourceID)
		if err != nil {
			return false, fmt.Errorf("rbac: load resource grant: %w", err)
		}
		if access != nil && access.ActiveAt(now) && access.Allows(req.Action) {
			return true, nil
		}
	}

	return false, nil
}

// effectivePermissions consults the cache before falling back to the
// resolver. Cache failures degrade to a resolver read; they never deny.
func (c *Checker) effectivePermissions(ctx context.Context, userID int64) ([]Permission, error) {
	if c.cache != nil {
		perms, hit, err := c.cache.Get(ctx, userID)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("permission cache read failed", slog.Int64("user_id", userID), slog.Any("error", err))
			}
		} else if hit {
			return perms, nil
		}
	}
	perms, err := c.resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, userID, perms); err != nil && c.logger != nil {
			c.logger.Warn("permission cache write failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	return perms, nil
}
