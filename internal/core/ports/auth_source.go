package ports

import (
	"context"
	"time"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
)

// Session is an authenticated session as reported by the Auth Source.
type Session struct {
	AccessToken string
	Identity    domain.Identity
	ExpiresAt   time.Time
}

// AuthEventKind classifies a session transition.
type AuthEventKind string

const (
	AuthInitialSession AuthEventKind = "initial_session"
	AuthSignedIn       AuthEventKind = "signed_in"
	AuthTokenRefreshed AuthEventKind = "token_refreshed"
	AuthSignedOut      AuthEventKind = "signed_out"
)

// AuthEvent is delivered to OnSessionChange subscribers. Session is nil for sign-out.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// AuthSource is the external identity provider.
type AuthSource interface {
	// CurrentSession returns the active session, or nil when signed out.
	CurrentSession(ctx context.Context) (*Session, error)
	// OnSessionChange registers fn for every transition and returns a function removing it.
	OnSessionChange(fn func(AuthEvent)) (unsubscribe func())
	SignOut(ctx context.Context) error
}
