package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
)

const testSecret = "router-secret"

type routerSession struct {
	state    domain.RoleState
	signOuts int
	triggers int
}

func (s *routerSession) Role() domain.RoleState { return s.state }
func (s *routerSession) Subscribe(func(domain.RoleState)) func() { return func() {} }
func (s *routerSession) Recover(domain.RecoveryTrigger) bool {
	s.triggers++
	return true
}
func (s *routerSession) SignOut(context.Context) error {
	s.signOuts++
	return nil
}
func (s *routerSession) EnsureUserRecords(_ context.Context, role domain.Role, _ domain.ProfileFields) domain.ReconcileResult {
	return domain.ReconcileResult{Role: role}
}

func bearerFor(t *testing.T, sub string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + signed
}

// NewRouter registers the prometheus collectors, so it is built once here.
func TestRouter_SessionRoutesRequireOwner(t *testing.T) {
	session := &routerSession{state: domain.RoleState{
		Phase:    domain.PhaseResolved,
		Role:     domain.RoleAdmin,
		Identity: &domain.Identity{ID: "u1", Email: "boss@example.com"},
	}}
	e := NewRouter(Dependencies{
		Log:       zerolog.Nop(),
		JWTSecret: testSecret,
		Session:   session,
		Tables:    func(string) bool { return false },
	})

	do := func(method, path, body, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		if auth != "" {
			req.Header.Set(echo.HeaderAuthorization, auth)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	routes := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/v1/session/role", ""},
		{http.MethodDelete, "/v1/auth/session", ""},
		{http.MethodPost, "/v1/session/recover", `{"trigger":"online"}`},
	}

	for _, r := range routes {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			if rec := do(r.method, r.path, r.body, ""); rec.Code != http.StatusUnauthorized {
				t.Fatalf("anonymous: expected 401, got %d %s", rec.Code, rec.Body.String())
			} else if strings.Contains(rec.Body.String(), "boss@example.com") {
				t.Fatalf("anonymous: identity leaked: %s", rec.Body.String())
			}
			if rec := do(r.method, r.path, r.body, bearerFor(t, "u2")); rec.Code != http.StatusForbidden {
				t.Fatalf("other identity: expected 403, got %d %s", rec.Code, rec.Body.String())
			}
		})
	}
	if session.signOuts != 0 || session.triggers != 0 {
		t.Fatalf("service reached by unauthorised callers: signOuts=%d triggers=%d", session.signOuts, session.triggers)
	}

	if rec := do(http.MethodGet, "/v1/session/role", "", bearerFor(t, "u1")); rec.Code != http.StatusOK {
		t.Fatalf("owner: expected 200, got %d", rec.Code)
	}
	if rec := do(http.MethodDelete, "/v1/auth/session", "", bearerFor(t, "u1")); rec.Code != http.StatusNoContent || session.signOuts != 1 {
		t.Fatalf("owner sign-out: got %d / %d", rec.Code, session.signOuts)
	}
}
