package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "rbac:perms:version"

// PermissionCache keeps effective permission sets in Redis so repeated
// checks for the same user avoid rebuilding the set from the store.
//
// Per-user writes invalidate a single key; role-level mutations bump a
// version counter that implicitly drops every cached set.
type PermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPermissionCache constructs a cache with the given entry TTL.
func NewPermissionCache(client *redis.Client, ttl time.Duration) *PermissionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PermissionCache{client: client, ttl: ttl}
}

func (c *PermissionCache) userKey(ctx context.Context, userID int64) (string, error) {
	version, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err != nil && err != redis.Nil {
		return "", err
	}
	return fmt.Sprintf("rbac:perms:v%d:user:%d", version, userID), nil
}

// Get returns the cached permission set for a user. The second return value
// reports a hit.
func (c *PermissionCache) Get(ctx context.Context, userID int64) ([]Permission, bool, error) {
	key, err := c.userKey(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var perms []Permission
	if err := json.Unmarshal(payload, &perms); err != nil {
		return nil, false, err
	}
	return perms, true, nil
}

// Set stores the permission set for a user.
func (c *PermissionCache) Set(ctx context.Context, userID int64, perms []Permission) error {
	key, err := c.userKey(ctx, userID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(perms)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

// InvalidateUser drops the cached set for a single user.
func (c *PermissionCache) InvalidateUser(ctx context.Context, userID int64) error {
	key, err := c.userKey(ctx, userID)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, key).Err()
}

// InvalidateAll drops every cached set by bumping the version counter.
// Superseded keys expire via their TTL.
func (c *PermissionCache) InvalidateAll(ctx context.Context) error {
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
