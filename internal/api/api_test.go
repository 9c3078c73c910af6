package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/auth"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/errhandler"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway/gatewaytest"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/logging"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/notify"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/onboarding"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/repository"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

func withTenant(id string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(auth.WithTenantID(req.Context(), id)))
			return next(c)
		}
	}
}

type fixture struct {
	e        *echo.Echo
	server   *Server
	backend  *gatewaytest.Backend
	console  *notify.Console
	dispatch *fakeDispatcher
}

func newFixture(t *testing.T, tenant string) *fixture {
	t.Helper()
	backend := gatewaytest.NewBackend()
	backend.AddTenant("t-1", string(models.PlanKisanBasic))
	backend.AddTenant("t-2", string(models.PlanAIEnterprise))

	console := notify.NewConsole(logging.Nop(), 0)
	engine := onboarding.New(gateway.New(backend, logging.Nop()), onboarding.Config{
		Sleep: func(context.Context, time.Duration) error { return nil },
	}, logging.Nop(), console)

	f := &fixture{
		e:        echo.New(),
		backend:  backend,
		console:  console,
		dispatch: &fakeDispatcher{},
	}
	f.server = &Server{
		Engine:        engine,
		Errors:        errhandler.New(errhandler.Config{}, nil, logging.Nop()),
		Dispatcher:    f.dispatch,
		Notifications: console,
		Logger:        logging.Nop(),
	}
	var mw echo.MiddlewareFunc
	if tenant != "" {
		mw = withTenant(tenant)
	}
	f.server.Register(f.e, mw)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type fakeDispatcher struct {
	data any
	err  error
	envs []gateway.Envelope
}

func (d *fakeDispatcher) Dispatch(_ context.Context, env gateway.Envelope) (any, error) {
	d.envs = append(d.envs, env)
	return d.data, d.err
}

func TestOnboardingFlow(t *testing.T) {
	f := newFixture(t, "t-1")

	rec := f.do(t, http.MethodPost, "/api/v1/onboarding/initialize", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode[onboarding.CompleteData](t, rec)
	require.Len(t, data.Steps, 6)
	assert.Equal(t, 6, data.Workflow.TotalSteps)
	assert.Equal(t, "Business Verification", data.Steps[0].DisplayName)

	rec = f.do(t, http.MethodPost, "/api/v1/onboarding/steps/"+data.Steps[0].ID+"/complete", `{"company_name":"Acme Agro"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	step := decode[models.OnboardingStep](t, rec)
	assert.Equal(t, models.StepCompleted, step.StepStatus)
	assert.Equal(t, "Acme Agro", step.StepData["company_name"])

	rec = f.do(t, http.MethodGet, "/api/v1/onboarding/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ProgressResponse{TenantID: "t-1", Percentage: 17}, decode[ProgressResponse](t, rec))

	rec = f.do(t, http.MethodPut, "/api/v1/onboarding/steps/"+data.Steps[1].ID, `{"status":"in_progress"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/onboarding", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data = decode[onboarding.CompleteData](t, rec)
	assert.Equal(t, models.WorkflowInProgress, data.Workflow.Status)
	assert.Equal(t, 2, data.Workflow.CurrentStep)

	rec = f.do(t, http.MethodGet, "/api/v1/onboarding/integrity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[onboarding.IntegrityReport](t, rec).IsValid)

	rec = f.do(t, http.MethodPost, "/api/v1/onboarding/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.WorkflowCompleted, decode[models.OnboardingWorkflow](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/api/v1/notifications", "")
	notes := decode[[]notify.Notification](t, rec)
	require.Len(t, notes, 2)
	assert.Equal(t, "Step completed", notes[0].Title)
	assert.Equal(t, "Onboarding complete", notes[1].Title)
}

func TestUpdateStep_InvalidStatusIsProblem(t *testing.T) {
	f := newFixture(t, "t-1")

	rec := f.do(t, http.MethodPut, "/api/v1/onboarding/steps/s-1", `{"status":"archived"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))

	problem := decode[ProblemDetails](t, rec)
	assert.Equal(t, http.StatusBadRequest, problem.Status)
	assert.Equal(t, "/api/v1/onboarding/steps/s-1", problem.Instance)
	require.NotEmpty(t, problem.ErrorID)
	assert.Equal(t, 1, f.server.Errors.ErrorCount(problem.ErrorID))
}

func TestBackendFailureIsBadGateway(t *testing.T) {
	f := newFixture(t, "t-1")
	f.backend.Fail(gateway.OpEnsureWorkflow, "", 10, errors.New("connection refused"))

	rec := f.do(t, http.MethodGet, "/api/v1/onboarding/progress", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	problem := decode[ProblemDetails](t, rec)
	assert.Equal(t, "Network error. Please check your connection and try again.", problem.Detail)
	assert.Equal(t, 3, f.backend.CallCount(gateway.OpEnsureWorkflow, ""))
}

func TestMissingTenantIsUnauthorized(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/api/v1/onboarding", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListTemplates(t *testing.T) {
	f := newFixture(t, "t-1")

	rec := f.do(t, http.MethodGet, "/api/v1/templates/AI_Enterprise", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tpls := decode[[]models.StepTemplate](t, rec)
	require.Len(t, tpls, 7)
	assert.Equal(t, models.StepSecurityConfiguration, tpls[6].StepName)

	rec = f.do(t, http.MethodGet, "/api/v1/templates/Kisan_Basic", "")
	assert.Len(t, decode[[]models.StepTemplate](t, rec), 6)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "t-1")
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthStatus](t, rec).Status)

	f.server.DB = failingPinger{}
	rec = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.server.Errors.HandleError("boom", errhandler.Context{Component: "test"}, errhandler.Options{Severity: errhandler.SeverityCritical})
	rec = f.do(t, http.MethodGet, "/health/errors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"critical"`)

	rec = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenantdash_errors_reported_total")
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestInvokeFunction(t *testing.T) {
	f := newFixture(t, "t-1")
	f.dispatch.data = map[string]any{"workflow_id": "wf-1", "created": true}

	rec := f.do(t, http.MethodPost, "/functions/v1/tenant-data", `{"operation":"ensure_workflow","tenant_id":"t-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[FunctionResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{"workflow_id": "wf-1", "created": true}, resp.Data)
	require.Len(t, f.dispatch.envs, 1)
	assert.Equal(t, gateway.OpEnsureWorkflow, f.dispatch.envs[0].Operation)

	rec = f.do(t, http.MethodPost, "/functions/v1/tenant-data", `{"operation":"ensure_workflow","tenant_id":"t-2"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/functions/v1/tenant-data", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Request body is required", decode[FunctionResponse](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/functions/v1/other", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.dispatch.err = &repository.RequestError{Code: repository.CodeNotFound, Message: "Workflow not found"}
	rec = f.do(t, http.MethodPost, "/functions/v1/tenant-data", `{"operation":"complete_workflow","workflow_id":"x","tenant_id":"t-1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp = decode[FunctionResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "not_found", resp.Code)

	f.dispatch.err = errors.New("deadlock detected")
	rec = f.do(t, http.MethodPost, "/functions/v1/tenant-data", `{"operation":"ensure_workflow","tenant_id":"t-1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLocalTransport_ThroughGateway(t *testing.T) {
	d := &fakeDispatcher{data: []map[string]any{}}
	client := gateway.New(NewLocalTransport(d), logging.Nop())

	raw, err := client.Call(context.Background(), "t-1", gateway.Request{Table: "onboarding_steps", Operation: gateway.OpSelect})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
	assert.Equal(t, "t-1", d.envs[0].TenantID)

	d.err = &repository.RequestError{Code: repository.CodeNotFound, Message: "Record not found in onboarding_steps"}
	_, err = client.Call(context.Background(), "t-1", gateway.Request{Table: "onboarding_steps", Operation: gateway.OpDelete, ID: "s-1"})
	var gerr *gateway.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "not_found", gerr.Code)
	assert.True(t, gateway.IsClientError(err))

	d.err = errors.New("Record is required")
	_, err = client.Call(context.Background(), "t-1", gateway.Request{Table: "onboarding_steps", Operation: gateway.OpSelect})
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "internal", gerr.Code)
	assert.False(t, gateway.IsClientError(err), "the backend code wins over the message heuristic")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewLocalTransport(d).Invoke(ctx, []byte(`{}`))
	assert.ErrorIs(t, err, context.Canceled)
}
