package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/greenlawn/marketplace-session/internal/api/middleware"
	"github.com/greenlawn/marketplace-session/internal/core/domain"
)

// ctxIdentity checks the bearer identity injected by the Auth middleware
// against the active session. A token for a different identity than the one
// the session resolved is rejected before any service call.
func ctxIdentity(c echo.Context, st domain.RoleState) (domain.Identity, error) {
	userID, _ := c.Get(middleware.ContextUserID).(string)
	if userID == "" {
		return domain.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	if st.Identity == nil {
		return domain.Identity{}, domain.ErrNoSession
	}
	if st.Identity.ID != userID {
		return domain.Identity{}, domain.ErrForbidden
	}
	return *st.Identity, nil
}

// ctxCaller is the looser check for recovery: the request must carry a token,
// and while a session is held the token must belong to it. With no session a
// caller may still ask for one to be recovered.
func ctxCaller(c echo.Context, st domain.RoleState) error {
	userID, _ := c.Get(middleware.ContextUserID).(string)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	if st.Identity != nil && st.Identity.ID != userID {
		return domain.ErrForbidden
	}
	return nil
}
