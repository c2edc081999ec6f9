package ports

import (
	"context"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
)

// SessionService is the session lifecycle as seen by the HTTP layer.
type SessionService interface {
	Role() domain.RoleState
	Subscribe(fn func(domain.RoleState)) (unsubscribe func())
	Recover(reason domain.RecoveryTrigger) bool
	SignOut(ctx context.Context) error
	EnsureUserRecords(ctx context.Context, role domain.Role, fields domain.ProfileFields) domain.ReconcileResult
}

// SessionSink accepts access tokens from the client.
type SessionSink interface {
	Apply(ctx context.Context, token string) (*Session, error)
}
