package onboarding

import (
	"context"
	"fmt"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/metrics"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/templates"
)

// IntegrityReport is the result of ValidateIntegrity.
type IntegrityReport struct {
	IsValid  bool     `json:"is_valid"`
	Issues   []string `json:"issues"`
	Repaired bool     `json:"repaired"`
}

// ValidateIntegrity checks that the tenant's workflow and steps are present
// and consistent. A missing workflow is re-created; partial step sets are
// only reported, against both total_steps and the plan's curriculum. It never returns an error: every failure is an issue.
func (e *Engine) ValidateIntegrity(ctx context.Context, tenantID string) (report IntegrityReport) {
	ctx, span := e.span(ctx, "validateIntegrity", tenantID)
	defer span.End()

	report.Issues = []string{}
	defer func() {
		report.IsValid = len(report.Issues) == 0
		if !report.IsValid {
			e.logger.Warn("onboarding integrity issues", "tenant_id", tenantID, "issues", report.Issues, "repaired", report.Repaired)
		}
	}()

	wf, err := e.GetOnboardingWorkflow(ctx, tenantID)
	if err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("Unable to retrieve onboarding data: %v", err))
		return report
	}

	if wf == nil {
		report.Issues = append(report.Issues, "No onboarding workflow found")
		data, err := e.InitializeWorkflow(ctx, tenantID)
		if err != nil {
			report.Issues = append(report.Issues, fmt.Sprintf("Failed to repair onboarding workflow: %v", err))
			return report
		}
		metrics.IntegrityRepairs.Inc()
		report.Repaired = true
		wf = data.Workflow
	}

	steps, err := e.GetSteps(ctx, wf.ID, tenantID)
	if err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("Unable to retrieve onboarding steps: %v", err))
		return report
	}
	if len(steps) == 0 {
		report.Issues = append(report.Issues, "No onboarding steps found")
		return report
	}
	if wf.TotalSteps != len(steps) {
		report.Issues = append(report.Issues, fmt.Sprintf("Step count mismatch: workflow expects %d steps, found %d", wf.TotalSteps, len(steps)))
	}
	plan := e.plans.ResolvePlan(ctx, tenantID)
	if want := len(templates.TemplatesForPlan(plan)); len(steps) < want {
		report.Issues = append(report.Issues, fmt.Sprintf("Incomplete step set: plan %s expects %d steps, found %d", plan, want, len(steps)))
	}
	return report
}
