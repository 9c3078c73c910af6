package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/auth"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/errhandler"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/templates"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

// StepUpdate is the body of PUT /api/v1/onboarding/steps/:id.
type StepUpdate struct {
	Status models.StepStatus `json:"status"`
	Data   map[string]any    `json:"data,omitempty"`
}

// ProgressResponse is the body of GET /api/v1/onboarding/progress.
type ProgressResponse struct {
	TenantID   string `json:"tenant_id"`
	Percentage int    `json:"percentage"`
}

func tenantID(c echo.Context) (string, bool) {
	return auth.TenantIDFromContext(c.Request().Context())
}

// fail reports err to the error handler and renders it as problem details.
func (s *Server) fail(c echo.Context, operation string, err error) error {
	tenant, _ := tenantID(c)
	report := s.Errors.HandleError(err, errhandler.Context{
		Component: "api",
		Operation: operation,
		TenantID:  tenant,
	}, errhandler.Options{Silent: true})
	return writeError(c, statusFor(err), report.UserMessage, report.ID)
}

func statusFor(err error) int {
	var gerr *gateway.Error
	switch {
	case gateway.IsValidationError(err):
		return http.StatusBadRequest
	case errors.As(err, &gerr) && gerr.Code == "not_found":
		return http.StatusNotFound
	case gateway.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) unauthorized(c echo.Context) error {
	return writeError(c, http.StatusUnauthorized, "Tenant ID not found in context", "")
}

// GetOnboarding returns the workflow with its ordered steps
// (GET /api/v1/onboarding)
func (s *Server) GetOnboarding(c echo.Context) error {
	tenant, ok := tenantID(c)
	if !ok {
		return s.unauthorized(c)
	}
	data, err := s.Engine.GetCompleteData(c.Request().Context(), tenant)
	if err != nil {
		return s.fail(c, "getCompleteData", err)
	}
	return c.JSON(http.StatusOK, data)
}

// InitializeOnboarding seeds the workflow from the tenant's plan
// (POST /api/v1/onboarding/initialize)
func (s *Server) InitializeOnboarding(c echo.Context) error {
	tenant, ok := tenantID(c)
	if !ok {
		return s.unauthorized(c)
	}
	data, err := s.Engine.InitializeWorkflow(c.Request().Context(), tenant)
	if err != nil {
		return s.fail(c, "initializeWorkflow", err)
	}
	return c.JSON(http.StatusOK, data)
}

// GetProgress returns the completion percentage
// (GET /api/v1/onboarding/progress)
func (s *Server) GetProgress(c echo.Context) error {
	tenant, ok := tenantID(c)
	if !ok {
		return s.unauthorized(c)
	}
	pct, err := s.Engine.GetProgress(c.Request().Context(), tenant)
	if err != nil {
		return s.fail(c, "getProgress", err)
	}
	return c.JSON(http.StatusOK, ProgressResponse{TenantID: tenant, Percentage: pct})
}

// UpdateStep moves a step to a new status
// (PUT /api/v1/onboarding/steps/:id)
func (s *Server) UpdateStep(c echo.Context) error {
	tenant, ok := tenantID(c)
	if !ok {
		return s.unauthorized(c)
	}
	var body StepUpdate
	if err := new(echo.DefaultBinder).BindBody(c, &body); err != nil {
		return writeError(c, http.StatusBadRequest, "Invalid request body: "+err.Error(), "")
	}
	step, err := s.Engine.UpdateStepStatus(c.Request().Context(), c.Param("id"), body.Status, body.Data, tenant)
	if err != nil {
		return s.fail(c, "updateStepStatus", err)
	}
	return c.JSON(http.StatusOK, step)
}

// CompleteStep marks a step completed, merging optional data
// (POST /api/v1/onboarding/steps/:id/complete)
func (s *Server) CompleteStep(c echo.Context) error {
	tenant, ok := tenantID(c)
	if !ok {
		return s.unauthorized(c)
	}
	var data map[string]any
	if c.Request().ContentLength > 0 {
		if err := new(echo.DefaultBinder).BindBody(c, &data); err != nil {
			return writeError(c, http.StatusBadRequest, "Invalid request body: "+err.Error(), "")
		}
	}
	step, err := s.Engine.CompleteStep(c.Request().Context(), c.Param("id"), data, tenant)
	if err != nil {
		return s.fail(c, "completeStep", err)
	}
	return c.JSON(http.StatusOK, step)
}

// CompleteOnboarding finishes the tenant's workflow
// (POST /api/v1/onboarding/complete)
func (s *Server) CompleteOnboarding(c echo.Context) error {
	tenant, ok := tenantID(c)
	if !ok {
		return s.unauthorized(c)
	}
	ctx := c.Request().Context()
	workflowID, err := s.Engine.EnsureWorkflow(ctx, tenant)
	if err != nil {
		return s.fail(c, "ensureWorkflow", err)
	}
	wf, err := s.Engine.CompleteWorkflow(ctx, workflowID, tenant)
	if err != nil {
		return s.fail(c, "completeWorkflow", err)
	}
	return c.JSON(http.StatusOK, wf)
}

// ValidateIntegrity checks and repairs the tenant's onboarding data
// (GET /api/v1/onboarding/integrity)
func (s *Server) ValidateIntegrity(c echo.Context) error {
	tenant, ok := tenantID(c)
	if !ok {
		return s.unauthorized(c)
	}
	return c.JSON(http.StatusOK, s.Engine.ValidateIntegrity(c.Request().Context(), tenant))
}

// ListTemplates returns the step templates of a subscription plan
// (GET /api/v1/templates/:plan)
func (s *Server) ListTemplates(c echo.Context) error {
	return c.JSON(http.StatusOK, templates.TemplatesForPlan(models.SubscriptionPlan(c.Param("plan"))))
}
