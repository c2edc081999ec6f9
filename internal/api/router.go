package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/greenlawn/marketplace-session/internal/api/handler"
	"github.com/greenlawn/marketplace-session/internal/api/middleware"
	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
	"github.com/greenlawn/marketplace-session/internal/core/realtime"
	"github.com/greenlawn/marketplace-session/internal/infrastructure/http/handlers"
)

// Dependencies are the collaborators the HTTP surface is built from.
type Dependencies struct {
	Log       zerolog.Logger
	JWTSecret string
	Session   ports.SessionService
	Sink      ports.SessionSink
	Registry  *realtime.Registry
	Fetcher   ports.RowFetcher
	// Tables reports whether a table may be streamed.
	Tables func(table string) bool
	// Readiness lists the dependencies /health/ready pings.
	Readiness map[string]handlers.Pinger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(d Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.Logger())
	e.Use(echoprometheus.NewMiddleware("http"))

	// --- Handlers ---
	sessionHandler := handler.NewSessionHandler(d.Session, d.Sink)
	realtimeHandler := handler.NewRealtimeHandler(d.Session, d.Registry, d.Fetcher, d.Tables, d.Log)
	authMiddleware := middleware.Auth(d.JWTSecret)
	anyRole := middleware.RequireRole(d.Session, domain.RoleClient, domain.RoleLandscaper, domain.RoleAdmin)

	v1 := e.Group("/v1")

	// --- Session lifecycle ---
	v1.POST("/auth/session", sessionHandler.SignIn)
	v1.DELETE("/auth/session", sessionHandler.SignOut, authMiddleware)
	v1.GET("/session/role", sessionHandler.Role, authMiddleware)
	v1.POST("/session/recover", sessionHandler.Recover, authMiddleware)
	v1.POST("/session/records", sessionHandler.EnsureRecords, authMiddleware)

	// --- Realtime collections ---
	v1.GET("/realtime/:table", realtimeHandler.Stream, authMiddleware, anyRole)

	// --- Health probes (no auth required) ---
	healthHandler := handlers.NewHealthHandler()
	healthDepsHandler := handlers.NewHealthDependenciesHandler(d.Readiness)

	e.GET("/health", healthHandler.Liveness)            // liveness  – is the process alive?
	e.GET("/health/ready", healthDepsHandler.Readiness) // readiness – are dependencies up?
	e.GET("/metrics", echoprometheus.NewHandler())

	return e
}
