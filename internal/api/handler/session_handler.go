package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
)

// SessionHandler exposes the session lifecycle to the UI layer.
type SessionHandler struct {
	service ports.SessionService
	sink    ports.SessionSink
}

func NewSessionHandler(service ports.SessionService, sink ports.SessionSink) *SessionHandler {
	return &SessionHandler{service: service, sink: sink}
}

// --- Request / Response types ---

type signInRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

type signInResponse struct {
	UserID    string     `json:"user_id"`
	Email     string     `json:"email,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type recoverRequest struct {
	Trigger string `json:"trigger" validate:"required,oneof=visibility online focus"`
}

type recoverResponse struct {
	Accepted bool `json:"accepted"`
}

type ensureRecordsRequest struct {
	IntendedRole string `json:"intended_role" validate:"required,oneof=client landscaper"`
	FirstName    string `json:"first_name" validate:"max=100"`
	LastName     string `json:"last_name" validate:"max=100"`
	Phone        string `json:"phone" validate:"max=32"`
}

// --- Handlers ---

// SignIn installs the access token as the current session: sign-in for a new
// identity, token refresh for the same one.
func (h *SessionHandler) SignIn(c echo.Context) error {
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sess, err := h.sink.Apply(c.Request().Context(), req.AccessToken)
	if err != nil {
		return err
	}

	resp := signInResponse{UserID: sess.Identity.ID, Email: sess.Identity.Email}
	if !sess.ExpiresAt.IsZero() {
		resp.ExpiresAt = &sess.ExpiresAt
	}
	return c.JSON(http.StatusOK, resp)
}

// SignOut ends the session. Only the signed-in identity may end it.
func (h *SessionHandler) SignOut(c echo.Context) error {
	if _, err := ctxIdentity(c, h.service.Role()); err != nil {
		return err
	}
	if err := h.service.SignOut(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Role returns the published role state to the identity it belongs to.
func (h *SessionHandler) Role(c echo.Context) error {
	st := h.service.Role()
	if _, err := ctxIdentity(c, st); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

// Recover offers a session recovery. A debounced or overlapping request is
// answered with accepted=false.
func (h *SessionHandler) Recover(c echo.Context) error {
	var req recoverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	trigger, err := domain.ParseRecoveryTrigger(req.Trigger)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := ctxCaller(c, h.service.Role()); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, recoverResponse{Accepted: h.service.Recover(trigger)})
}

// EnsureRecords runs record reconciliation for the session identity before a
// write-guarded flow. Admin is never an accepted intended role here.
func (h *SessionHandler) EnsureRecords(c echo.Context) error {
	var req ensureRecordsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if _, err := ctxIdentity(c, h.service.Role()); err != nil {
		return err
	}

	role, err := domain.ParseRole(req.IntendedRole)
	if err != nil {
		return err
	}

	res := h.service.EnsureUserRecords(c.Request().Context(), role, domain.ProfileFields{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if res.Err != nil {
		return res.Err
	}
	return c.JSON(http.StatusOK, res)
}
