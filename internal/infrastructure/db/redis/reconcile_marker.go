package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
)

const defaultMarkerTTL = time.Hour

// ReconcileMarker remembers reconciled identities in Redis.
// Key format: reconciled:<user_id>:<role>
type ReconcileMarker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReconcileMarker creates a ReconcileMarker; ttl <= 0 uses one hour.
func NewReconcileMarker(client *redis.Client, ttl time.Duration) *ReconcileMarker {
	if ttl <= 0 {
		ttl = defaultMarkerTTL
	}
	return &ReconcileMarker{client: client, ttl: ttl}
}

// IsReconciled reports whether records for this identity and role were already ensured.
func (m *ReconcileMarker) IsReconciled(ctx context.Context, userID string, role domain.Role) (bool, error) {
	n, err := m.client.Exists(ctx, m.key(userID, role)).Result()
	if err != nil {
		return false, fmt.Errorf("reconcile marker check: %w", err)
	}
	return n > 0, nil
}

// Mark records a successful reconciliation (expires after ttl).
func (m *ReconcileMarker) Mark(ctx context.Context, userID string, role domain.Role) error {
	return m.client.Set(ctx, m.key(userID, role), "1", m.ttl).Err()
}

func (m *ReconcileMarker) key(userID string, role domain.Role) string {
	return fmt.Sprintf("reconciled:%s:%s", userID, role)
}
