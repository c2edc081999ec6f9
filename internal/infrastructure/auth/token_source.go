// Package auth implements the identity provider port on top of HS256 access
// tokens.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

// Claims is the access token payload.
type Claims struct {
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken validates an HS256 token and returns the session it carries.
func ParseToken(secret []byte, token string) (*ports.Session, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !tkn.Valid {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}

	s := &ports.Session{
		AccessToken: token,
		Identity: domain.Identity{
			ID:       claims.Subject,
			Email:    claims.Email,
			Metadata: metadata(claims.UserMetadata),
		},
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

func metadata(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// TokenSource is an in-process AuthSource fed with access tokens by the
// session endpoints.
type TokenSource struct {
	secret []byte
	now    func() time.Time
	log    zerolog.Logger

	mu      sync.Mutex
	current *ports.Session

	emitMu    sync.Mutex
	listeners map[int]func(ports.AuthEvent)
	nextID    int
}

func NewTokenSource(secret string, log zerolog.Logger) *TokenSource {
	return &TokenSource{
		secret:    []byte(secret),
		now:       time.Now,
		log:       log,
		listeners: make(map[int]func(ports.AuthEvent)),
	}
}

// Apply installs token as the current session. It reports signed_in when the
// identity changes and token_refreshed when it stays the same.
func (s *TokenSource) Apply(_ context.Context, token string) (*ports.Session, error) {
	sess, err := ParseToken(s.secret, token)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	kind := ports.AuthSignedIn
	if s.current != nil && s.current.Identity.ID == sess.Identity.ID {
		kind = ports.AuthTokenRefreshed
	}
	s.current = sess
	s.emitLocked(ports.AuthEvent{Kind: kind, Session: copySession(sess)})

	s.log.Info().Str("user_id", sess.Identity.ID).Str("event", string(kind)).Msg("session applied")
	return copySession(sess), nil
}

// CurrentSession implements ports.AuthSource. An expired session is reported
// as none.
func (s *TokenSource) CurrentSession(_ context.Context) (*ports.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, nil
	}
	if !s.current.ExpiresAt.IsZero() && !s.now().Before(s.current.ExpiresAt) {
		return nil, nil
	}
	return copySession(s.current), nil
}

// SignOut implements ports.AuthSource.
func (s *TokenSource) SignOut(_ context.Context) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil
	}
	userID := s.current.Identity.ID
	s.current = nil
	s.emitLocked(ports.AuthEvent{Kind: ports.AuthSignedOut})

	s.log.Info().Str("user_id", userID).Msg("signed out")
	return nil
}

// OnSessionChange implements ports.AuthSource.
func (s *TokenSource) OnSessionChange(fn func(ports.AuthEvent)) func() {
	s.emitMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.emitMu.Unlock()
	return func() {
		s.emitMu.Lock()
		delete(s.listeners, id)
		s.emitMu.Unlock()
	}
}

// emitLocked must be called with s.mu held; it releases it so listeners may
// call back into the source.
func (s *TokenSource) emitLocked(ev ports.AuthEvent) {
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()
	for _, fn := range s.listeners {
		fn(ev)
	}
}

func copySession(in *ports.Session) *ports.Session {
	if in == nil {
		return nil
	}
	out := *in
	if in.Identity.Metadata != nil {
		out.Identity.Metadata = make(map[string]string, len(in.Identity.Metadata))
		for k, v := range in.Identity.Metadata {
			out.Identity.Metadata[k] = v
		}
	}
	return &out
}
