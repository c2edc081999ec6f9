package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
)

// RoleReader exposes the published session role.
type RoleReader interface {
	Role() domain.RoleState
}

// RequireRole enforces role-based access control on the resolved session role.
// While the role is still resolving the request is rejected with 503 so the
// client retries instead of treating it as a denial.
func RequireRole(reader RoleReader, allowedRoles ...domain.Role) echo.MiddlewareFunc {
	allowed := make(map[domain.Role]struct{}, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[r] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			st := reader.Role()
			switch st.Phase {
			case domain.PhaseResolved:
			case domain.PhaseUnknown, domain.PhaseResolving:
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "role resolution in progress"})
			default:
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": domain.ErrNoSession.Error()})
			}

			if _, ok := allowed[st.Role]; !ok {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			if uid, _ := c.Get(ContextUserID).(string); uid != "" && st.Identity != nil && st.Identity.ID != uid {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "token does not match the active session"})
			}
			c.Set("role", st.Role)
			return next(c)
		}
	}
}
