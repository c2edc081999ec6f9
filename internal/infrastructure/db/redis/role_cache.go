package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
)

const defaultRoleTTL = 30 * time.Minute

// RoleCache stores the last resolved role per identity.
// Key format: role:<user_id>
type RoleCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRoleCache creates a RoleCache; ttl <= 0 uses thirty minutes.
func NewRoleCache(client *redis.Client, ttl time.Duration) *RoleCache {
	if ttl <= 0 {
		ttl = defaultRoleTTL
	}
	return &RoleCache{client: client, ttl: ttl}
}

// Get returns the stored tag verbatim; callers validate it.
func (c *RoleCache) Get(ctx context.Context, userID string) (domain.Role, bool, error) {
	v, err := c.client.Get(ctx, c.key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("role cache get: %w", err)
	}
	return domain.Role(v), true, nil
}

func (c *RoleCache) Set(ctx context.Context, userID string, role domain.Role) error {
	if err := c.client.Set(ctx, c.key(userID), string(role), c.ttl).Err(); err != nil {
		return fmt.Errorf("role cache set: %w", err)
	}
	return nil
}

func (c *RoleCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("role cache invalidate: %w", err)
	}
	return nil
}

func (c *RoleCache) key(userID string) string {
	return "role:" + userID
}
