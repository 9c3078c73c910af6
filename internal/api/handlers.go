// Package api contains the HTTP handlers of the tenant dashboard backend:
// the local tenant-data function, the onboarding REST API and health.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/errhandler"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/notify"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/onboarding"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/repository"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the dependencies of the HTTP API.
type Server struct {
	Engine     *onboarding.Engine
	Errors     *errhandler.Handler
	Dispatcher repository.Dispatcher
	// Function is the tenant-data function name served under /functions/v1.
	Function string
	// DB and Notifications are optional.
	DB            Pinger
	Notifications *notify.Console
	Logger        Logger
}

// Register mounts every route on e. authMW guards the function and the
// onboarding API; nil leaves them open.
func (s *Server) Register(e *echo.Echo, authMW echo.MiddlewareFunc) {
	e.GET("/health", s.HandleHealth)
	e.GET("/health/errors", s.HandleSystemHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	var mw []echo.MiddlewareFunc
	if authMW != nil {
		mw = append(mw, authMW)
	}

	if s.Dispatcher != nil {
		fn := e.Group("/functions/v1", mw...)
		fn.POST("/:function", s.InvokeFunction)
	}

	g := e.Group("/api/v1", mw...)
	g.GET("/onboarding", s.GetOnboarding)
	g.POST("/onboarding/initialize", s.InitializeOnboarding)
	g.GET("/onboarding/progress", s.GetProgress)
	g.PUT("/onboarding/steps/:id", s.UpdateStep)
	g.POST("/onboarding/steps/:id/complete", s.CompleteStep)
	g.POST("/onboarding/complete", s.CompleteOnboarding)
	g.GET("/onboarding/integrity", s.ValidateIntegrity)
	g.GET("/templates/:plan", s.ListTemplates)
	g.GET("/notifications", s.ListNotifications)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Database  string    `json:"database,omitempty"`
}

// HandleHealth reports liveness and, when configured, database reachability.
func (s *Server) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "tenant-dash",
	}
	code := http.StatusOK
	if s.DB != nil {
		status.Database = "ok"
		if err := s.DB.Ping(c.Request().Context()); err != nil {
			status.Status = "degraded"
			status.Database = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, status)
}

// HandleSystemHealth returns the error handler's view of system health and
// the most recent reports.
func (s *Server) HandleSystemHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"health": s.Errors.SystemHealth(),
		"recent": s.Errors.RecentErrors(10),
	})
}

// ListNotifications returns the notifications delivered by this process.
func (s *Server) ListNotifications(c echo.Context) error {
	if s.Notifications == nil {
		return c.JSON(http.StatusOK, []notify.Notification{})
	}
	return c.JSON(http.StatusOK, s.Notifications.Recent())
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
	ErrorID  string `json:"error_id,omitempty"`
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(c echo.Context, status int, detail, errorID string) error {
	problem := ProblemDetails{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
		ErrorID:  errorID,
	}
	body, err := json.Marshal(problem)
	if err != nil {
		return err
	}
	return c.Blob(status, "application/problem+json", body)
}
