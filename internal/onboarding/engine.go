// Package onboarding manages the single onboarding workflow of a tenant:
// get-or-create, step transitions, progress and integrity repair.
package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/templates"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

const (
	WorkflowsTable = "onboarding_workflows"
	StepsTable     = templates.StepsTable
	TenantsTable   = "tenants"
)

// ErrNoWorkflowID is returned when ensure_workflow answers without an id.
var ErrNoWorkflowID = errors.New("ensure_workflow returned no workflow_id")

// Gateway is the tenant-data call surface the engine depends on.
type Gateway interface {
	Call(ctx context.Context, tenantID string, req gateway.Request) (json.RawMessage, error)
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Notifier shows user-visible success messages.
type Notifier interface {
	Success(title, message string)
}

// Config tunes an Engine. Zero values fall back to defaults.
type Config struct {
	Retry       RetryPolicy
	DefaultPlan models.SubscriptionPlan
	Plans       PlanResolver
	// Sleep and Now are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Engine is the onboarding workflow engine. It is safe for concurrent use.
type Engine struct {
	gw          Gateway
	logger      Logger
	notifier    Notifier
	policy      RetryPolicy
	plans       PlanResolver
	defaultPlan models.SubscriptionPlan
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
	flight      singleflight.Group
	tracer      trace.Tracer
}

// New creates an Engine over gw.
func New(gw Gateway, cfg Config, logger Logger, notifier Notifier) *Engine {
	e := &Engine{
		gw:          gw,
		logger:      logger,
		notifier:    notifier,
		policy:      cfg.Retry,
		plans:       cfg.Plans,
		defaultPlan: cfg.DefaultPlan,
		sleep:       cfg.Sleep,
		now:         cfg.Now,
		tracer:      otel.Tracer("github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/onboarding"),
	}
	if e.policy.MaxAttempts < 1 {
		e.policy = DefaultRetryPolicy()
	}
	if e.defaultPlan == "" {
		e.defaultPlan = models.PlanKisanBasic
	}
	if e.plans == nil {
		e.plans = NewGatewayPlanResolver(gw, e.defaultPlan)
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	return e
}

type nopNotifier struct{}

func (nopNotifier) Success(string, string) {}

// Step is a step row with its presentation label.
type Step struct {
	models.OnboardingStep
	DisplayName string `json:"display_name"`
}

// CompleteData is a workflow with its steps ordered by step number.
type CompleteData struct {
	Workflow *models.OnboardingWorkflow `json:"workflow"`
	Steps    []Step                     `json:"steps"`
}

func (e *Engine) span(ctx context.Context, op, tenantID string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "onboarding."+op, trace.WithAttributes(attribute.String("tenant.id", tenantID)))
}

// EnsureWorkflow returns the id of the tenant's workflow, creating it when
// missing. Concurrent calls for one tenant share a single backend request.
func (e *Engine) EnsureWorkflow(ctx context.Context, tenantID string) (string, error) {
	ctx, span := e.span(ctx, "ensureWorkflow", tenantID)
	defer span.End()

	var id string
	err := e.withRetry(ctx, "ensureWorkflow", func(ctx context.Context) error {
		var err error
		id, err = e.ensure(ctx, tenantID)
		return err
	})
	return id, err
}

func (e *Engine) ensure(ctx context.Context, tenantID string) (string, error) {
	v, err, _ := e.flight.Do(tenantID, func() (any, error) {
		out, err := gateway.Decode[struct {
			WorkflowID string `json:"workflow_id"`
			Created    bool   `json:"created"`
		}](e.gw.Call(ctx, tenantID, gateway.Request{Operation: gateway.OpEnsureWorkflow}))
		if err != nil {
			return "", err
		}
		if out.WorkflowID == "" {
			return "", ErrNoWorkflowID
		}
		if out.Created {
			e.logger.Info("onboarding workflow created", "tenant_id", tenantID, "workflow_id", out.WorkflowID)
		}
		return out.WorkflowID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GetOnboardingWorkflow returns the tenant's workflow or nil when none
// exists. It never creates one.
func (e *Engine) GetOnboardingWorkflow(ctx context.Context, tenantID string) (*models.OnboardingWorkflow, error) {
	var wf *models.OnboardingWorkflow
	err := e.withRetry(ctx, "getOnboardingWorkflow", func(ctx context.Context) error {
		var err error
		wf, err = e.fetchWorkflow(ctx, tenantID, "")
		return err
	})
	return wf, err
}

// GetSteps returns the steps of a workflow ordered by step number.
func (e *Engine) GetSteps(ctx context.Context, workflowID, tenantID string) ([]models.OnboardingStep, error) {
	var steps []models.OnboardingStep
	err := e.withRetry(ctx, "getSteps", func(ctx context.Context) error {
		var err error
		steps, err = e.fetchSteps(ctx, tenantID, workflowID)
		return err
	})
	return steps, err
}

func (e *Engine) fetchWorkflow(ctx context.Context, tenantID, workflowID string) (*models.OnboardingWorkflow, error) {
	filters := map[string]any{}
	if workflowID != "" {
		filters["id"] = workflowID
	}
	rows, err := gateway.Decode[[]models.OnboardingWorkflow](e.gw.Call(ctx, tenantID, gateway.Request{
		Table:     WorkflowsTable,
		Operation: gateway.OpSelect,
		Filters:   filters,
	}))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (e *Engine) fetchSteps(ctx context.Context, tenantID, workflowID string) ([]models.OnboardingStep, error) {
	steps, err := gateway.Decode[[]models.OnboardingStep](e.gw.Call(ctx, tenantID, gateway.Request{
		Table:     StepsTable,
		Operation: gateway.OpSelect,
		Filters:   map[string]any{"workflow_id": workflowID},
	}))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })
	return steps, nil
}

// GetCompleteData ensures the workflow exists and returns it with its
// ordered steps. A failure that looks like missing or half-created state
// triggers a full re-initialization instead of an error.
func (e *Engine) GetCompleteData(ctx context.Context, tenantID string) (*CompleteData, error) {
	ctx, span := e.span(ctx, "getCompleteData", tenantID)
	defer span.End()

	var data *CompleteData
	err := e.withRetry(ctx, "getCompleteData", func(ctx context.Context) error {
		var err error
		data, err = e.completeData(ctx, tenantID)
		if err != nil && recoverable(err) {
			e.logger.Warn("onboarding state incomplete, re-initializing", "tenant_id", tenantID, "error", err)
			data, err = e.initialize(ctx, tenantID)
		}
		return err
	})
	return data, err
}

// recoverable matches the failures the backend produces while a workflow
// is missing or half-provisioned.
func recoverable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "workflow") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "Request body is required")
}

func (e *Engine) completeData(ctx context.Context, tenantID string) (*CompleteData, error) {
	workflowID, err := e.ensure(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var (
		wf    *models.OnboardingWorkflow
		steps []models.OnboardingStep
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		wf, err = e.fetchWorkflow(gctx, tenantID, workflowID)
		return err
	})
	g.Go(func() error {
		var err error
		steps, err = e.fetchSteps(gctx, tenantID, workflowID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("onboarding workflow %s not found", workflowID)
	}

	out := &CompleteData{Workflow: wf, Steps: make([]Step, len(steps))}
	for i, s := range steps {
		out.Steps[i] = Step{OnboardingStep: s, DisplayName: templates.DisplayName(s.StepName)}
	}
	return out, nil
}

// InitializeWorkflow ensures the workflow, seeds the steps of the tenant's
// plan that are missing, and records the step count.
func (e *Engine) InitializeWorkflow(ctx context.Context, tenantID string) (*CompleteData, error) {
	ctx, span := e.span(ctx, "initializeWorkflow", tenantID)
	defer span.End()

	var data *CompleteData
	err := e.withRetry(ctx, "initializeWorkflow", func(ctx context.Context) error {
		var err error
		data, err = e.initialize(ctx, tenantID)
		return err
	})
	return data, err
}

func (e *Engine) initialize(ctx context.Context, tenantID string) (*CompleteData, error) {
	workflowID, err := e.ensure(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	steps, err := e.fetchSteps(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}
	// A previous attempt may have stopped part way; only the missing step
	// numbers are inserted.
	plan := e.plans.ResolvePlan(ctx, tenantID)
	existing := len(steps)
	steps, err = templates.CreateMissingSteps(ctx, e.gw, workflowID, tenantID, plan, steps)
	if err != nil {
		return nil, err
	}
	if len(steps) > existing {
		e.logger.Info("seeded onboarding steps", "tenant_id", tenantID, "workflow_id", workflowID, "plan", plan, "existing", existing, "created", len(steps)-existing)
	}

	wf, err := e.fetchWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("onboarding workflow %s not found after ensure", workflowID)
	}
	if wf.TotalSteps != len(steps) {
		updated, err := gateway.Decode[models.OnboardingWorkflow](e.gw.Call(ctx, tenantID, gateway.Request{
			Table:     WorkflowsTable,
			Operation: gateway.OpUpdate,
			ID:        workflowID,
			Data: map[string]any{
				"total_steps":  len(steps),
				"current_step": nextStepNumber(steps),
			},
		}))
		if err != nil {
			return nil, err
		}
		wf = &updated
	}

	out := &CompleteData{Workflow: wf, Steps: make([]Step, len(steps))}
	for i, s := range steps {
		out.Steps[i] = Step{OnboardingStep: s, DisplayName: templates.DisplayName(s.StepName)}
	}
	return out, nil
}

// nextStepNumber is the first step still open, or the last step when all
// are done.
func nextStepNumber(steps []models.OnboardingStep) int {
	if len(steps) == 0 {
		return 1
	}
	for _, s := range steps {
		if s.StepStatus != models.StepCompleted && s.StepStatus != models.StepSkipped {
			return s.StepNumber
		}
	}
	return steps[len(steps)-1].StepNumber
}

// UpdateStepStatus writes a step's status, merges data into its step_data
// and stamps started_at/completed_at. Only a transition to completed
// notifies the user.
func (e *Engine) UpdateStepStatus(ctx context.Context, stepID string, status models.StepStatus, data map[string]any, tenantID string) (*models.OnboardingStep, error) {
	ctx, span := e.span(ctx, "updateStepStatus", tenantID)
	defer span.End()

	if !status.Valid() {
		return nil, &gateway.ValidationError{Field: "step_status", Message: "Invalid step status: " + string(status)}
	}

	var step *models.OnboardingStep
	err := e.withRetry(ctx, "updateStepStatus", func(ctx context.Context) error {
		var err error
		step, err = e.writeStep(ctx, tenantID, stepID, status, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	if status == models.StepCompleted {
		e.notifier.Success("Step completed", templates.DisplayName(step.StepName)+" has been completed.")
	}
	e.advance(ctx, tenantID, step.WorkflowID, status)
	return step, nil
}

// CompleteStep marks a step completed and always notifies.
func (e *Engine) CompleteStep(ctx context.Context, stepID string, data map[string]any, tenantID string) (*models.OnboardingStep, error) {
	return e.UpdateStepStatus(ctx, stepID, models.StepCompleted, data, tenantID)
}

func (e *Engine) writeStep(ctx context.Context, tenantID, stepID string, status models.StepStatus, data map[string]any) (*models.OnboardingStep, error) {
	now := e.now().UTC()
	update := map[string]any{
		"step_status": string(status),
		"updated_at":  now,
	}
	switch status {
	case models.StepCompleted:
		update["completed_at"] = now
	case models.StepInProgress:
		update["started_at"] = now
	}

	if data != nil {
		rows, err := gateway.Decode[[]models.OnboardingStep](e.gw.Call(ctx, tenantID, gateway.Request{
			Table:     StepsTable,
			Operation: gateway.OpSelect,
			Filters:   map[string]any{"id": stepID},
		}))
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("onboarding step %s not found", stepID)
		}
		update["step_data"] = map[string]any(rows[0].StepData.Merge(data))
	}

	step, err := gateway.Decode[models.OnboardingStep](e.gw.Call(ctx, tenantID, gateway.Request{
		Table:     StepsTable,
		Operation: gateway.OpUpdate,
		ID:        stepID,
		Data:      update,
	}))
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// advance moves the workflow's current_step and status forward after a
// step transition. Failures are logged; the step write already succeeded.
func (e *Engine) advance(ctx context.Context, tenantID, workflowID string, status models.StepStatus) {
	if workflowID == "" || (status != models.StepInProgress && status != models.StepCompleted && status != models.StepSkipped) {
		return
	}
	wf, err := e.fetchWorkflow(ctx, tenantID, workflowID)
	if err != nil || wf == nil || wf.Status == models.WorkflowCompleted {
		if err != nil {
			e.logger.Warn("could not load workflow to advance", "tenant_id", tenantID, "workflow_id", workflowID, "error", err)
		}
		return
	}
	steps, err := e.fetchSteps(ctx, tenantID, workflowID)
	if err != nil {
		e.logger.Warn("could not load steps to advance", "tenant_id", tenantID, "workflow_id", workflowID, "error", err)
		return
	}

	update := map[string]any{}
	if next := nextStepNumber(steps); next != wf.CurrentStep {
		update["current_step"] = next
	}
	if wf.Status == models.WorkflowNotStarted || wf.Status == "" {
		update["status"] = string(models.WorkflowInProgress)
	}
	if wf.StartedAt == nil {
		update["started_at"] = e.now().UTC()
	}
	if len(update) == 0 {
		return
	}
	if _, err := e.gw.Call(ctx, tenantID, gateway.Request{
		Table:     WorkflowsTable,
		Operation: gateway.OpUpdate,
		ID:        workflowID,
		Data:      update,
	}); err != nil {
		e.logger.Warn("could not advance workflow", "tenant_id", tenantID, "workflow_id", workflowID, "error", err)
	}
}

// CompleteWorkflow moves the workflow to its terminal state.
func (e *Engine) CompleteWorkflow(ctx context.Context, workflowID, tenantID string) (*models.OnboardingWorkflow, error) {
	ctx, span := e.span(ctx, "completeWorkflow", tenantID)
	defer span.End()

	var wf models.OnboardingWorkflow
	err := e.withRetry(ctx, "completeWorkflow", func(ctx context.Context) error {
		var err error
		wf, err = gateway.Decode[models.OnboardingWorkflow](e.gw.Call(ctx, tenantID, gateway.Request{
			Operation:  gateway.OpCompleteWorkflow,
			WorkflowID: workflowID,
		}))
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("onboarding workflow completed", "tenant_id", tenantID, "workflow_id", workflowID)
	e.notifier.Success("Onboarding complete", "Your organization is ready to use.")
	return &wf, nil
}

// GetProgress returns round(100 * completed / total), or 0 without steps.
func (e *Engine) GetProgress(ctx context.Context, tenantID string) (int, error) {
	var pct int
	err := e.withRetry(ctx, "getProgress", func(ctx context.Context) error {
		data, err := e.completeData(ctx, tenantID)
		if err != nil {
			return err
		}
		pct = Progress(data.Steps)
		return nil
	})
	return pct, err
}

// Progress computes the completion percentage of steps.
func Progress(steps []Step) int {
	if len(steps) == 0 {
		return 0
	}
	completed := 0
	for _, s := range steps {
		if s.StepStatus == models.StepCompleted {
			completed++
		}
	}
	return int(math.Round(100 * float64(completed) / float64(len(steps))))
}
