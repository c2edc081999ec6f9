package ports

import (
	"context"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
)

// RoleCache holds the last resolved role per identity. Get reports ok=false
// on a miss; the stored value is returned verbatim and may be an invalid tag.
type RoleCache interface {
	Get(ctx context.Context, userID string) (role domain.Role, ok bool, err error)
	Set(ctx context.Context, userID string, role domain.Role) error
	Invalidate(ctx context.Context, userID string) error
}

// ReconcileMarker remembers identities whose records were already reconciled
// for a role so repeated transitions skip the procedure call.
type ReconcileMarker interface {
	IsReconciled(ctx context.Context, userID string, role domain.Role) (bool, error)
	Mark(ctx context.Context, userID string, role domain.Role) error
}
