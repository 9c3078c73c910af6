// Package templates maps a subscription plan to the ordered onboarding
// curriculum and seeds workflow steps from it.
package templates

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

// StepsTable is the backend table holding step rows.
const StepsTable = "onboarding_steps"

var baseTemplates = []models.StepTemplate{
	{
		StepName:             models.StepBusinessVerification,
		DisplayName:          "Business Verification",
		Description:          "Verify company registration, tax and contact details",
		IsRequired:           true,
		EstimatedTimeMinutes: 10,
		StepType:             "form",
		StepConfig: map[string]any{
			"fields":            []string{"company_name", "registration_number", "gst_number", "contact_email"},
			"requires_document": true,
		},
	},
	{
		StepName:             models.StepSubscriptionPlan,
		DisplayName:          "Subscription Plan",
		Description:          "Confirm the subscription plan and billing cycle",
		IsRequired:           true,
		EstimatedTimeMinutes: 5,
		StepType:             "selection",
		StepConfig: map[string]any{
			"billing_cycles": []string{"monthly", "annual"},
		},
	},
	{
		StepName:             models.StepBrandingConfiguration,
		DisplayName:          "Branding Configuration",
		Description:          "Upload a logo and choose the app colors",
		IsRequired:           false,
		EstimatedTimeMinutes: 8,
		StepType:             "form",
		StepConfig: map[string]any{
			"max_logo_kb": 512,
		},
	},
	{
		StepName:             models.StepFeatureSelection,
		DisplayName:          "Feature Selection",
		Description:          "Enable the modules the organization will use",
		IsRequired:           true,
		EstimatedTimeMinutes: 5,
		StepType:             "selection",
		StepConfig: map[string]any{
			"modules": []string{"farmers", "dealers", "products", "orders", "analytics"},
		},
	},
	{
		StepName:             models.StepDataImport,
		DisplayName:          "Data Import",
		Description:          "Import existing farmer and dealer records",
		IsRequired:           false,
		EstimatedTimeMinutes: 15,
		StepType:             "upload",
		StepConfig: map[string]any{
			"formats":   []string{"csv", "xlsx"},
			"skippable": true,
		},
	},
	{
		StepName:             models.StepTeamSetup,
		DisplayName:          "Team Setup",
		Description:          "Invite administrators and field staff",
		IsRequired:           true,
		EstimatedTimeMinutes: 10,
		StepType:             "invite",
		StepConfig: map[string]any{
			"roles": []string{"admin", "manager", "field_agent"},
		},
	},
}

var securityTemplate = models.StepTemplate{
	StepName:             models.StepSecurityConfiguration,
	DisplayName:          "Security Configuration",
	Description:          "Configure SSO, MFA and network restrictions",
	IsRequired:           true,
	EstimatedTimeMinutes: 20,
	StepType:             "form",
	StepConfig: map[string]any{
		"sso_providers": []string{"saml", "oidc"},
		"mfa_options":   []string{"totp", "sms"},
	},
}

// TemplatesForPlan returns the ordered step templates for plan. Every plan
// gets the base curriculum; AI_Enterprise appends security configuration.
func TemplatesForPlan(plan models.SubscriptionPlan) []models.StepTemplate {
	out := make([]models.StepTemplate, 0, len(baseTemplates)+1)
	out = append(out, baseTemplates...)
	if plan == models.PlanAIEnterprise {
		out = append(out, securityTemplate)
	}
	for i := range out {
		out[i].StepOrder = i + 1
		out[i].StepConfig = cloneMap(out[i].StepConfig)
	}
	return out
}

// cloneMap deep-copies step configuration so callers cannot mutate the
// package templates.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(v)
	}
	return v
}

// Caller is the part of the gateway the provider needs.
type Caller interface {
	Call(ctx context.Context, tenantID string, req gateway.Request) (json.RawMessage, error)
}

// CreateStepsFromTemplate inserts one pending step row per template of plan,
// one call at a time. A failure part way leaves the earlier rows in place;
// the returned error says how many were created.
func CreateStepsFromTemplate(ctx context.Context, gw Caller, workflowID, tenantID string, plan models.SubscriptionPlan) ([]models.OnboardingStep, error) {
	return CreateMissingSteps(ctx, gw, workflowID, tenantID, plan, nil)
}

// CreateMissingSteps inserts the templates of plan whose step number is not
// among existing and returns existing plus the new rows ordered by step
// number. It completes a seed that failed part way.
func CreateMissingSteps(ctx context.Context, gw Caller, workflowID, tenantID string, plan models.SubscriptionPlan, existing []models.OnboardingStep) ([]models.OnboardingStep, error) {
	tpls := TemplatesForPlan(plan)
	have := make(map[int]bool, len(existing))
	for _, s := range existing {
		have[s.StepNumber] = true
	}

	steps := make([]models.OnboardingStep, 0, max(len(tpls), len(existing)))
	steps = append(steps, existing...)
	for _, tpl := range tpls {
		if have[tpl.StepOrder] {
			continue
		}
		step, err := gateway.Decode[models.OnboardingStep](gw.Call(ctx, tenantID, gateway.Request{
			Table:     StepsTable,
			Operation: gateway.OpInsert,
			Data: map[string]any{
				"workflow_id": workflowID,
				"step_number": tpl.StepOrder,
				"step_name":   tpl.StepName,
				"step_status": string(models.StepPending),
				"step_data":   map[string]any{},
			},
		}))
		if err != nil {
			return steps, fmt.Errorf("create step %d (%s) after %d of %d: %w", tpl.StepOrder, tpl.StepName, len(steps), len(tpls), err)
		}
		steps = append(steps, step)
	}
	slices.SortFunc(steps, func(a, b models.OnboardingStep) int { return cmp.Compare(a.StepNumber, b.StepNumber) })
	return steps, nil
}

var (
	displayNames = map[string]string{}
	stepNames    = map[string]string{}
)

func init() {
	for _, tpl := range append(append([]models.StepTemplate{}, baseTemplates...), securityTemplate) {
		displayNames[tpl.StepName] = tpl.DisplayName
		stepNames[tpl.DisplayName] = tpl.StepName
	}
}

// DisplayName returns the human label of a step. Unknown names are title-cased.
func DisplayName(stepName string) string {
	if name, ok := displayNames[stepName]; ok {
		return name
	}
	words := strings.Split(stepName, "_")
	for i, w := range words {
		if r, size := utf8.DecodeRuneInString(w); r != utf8.RuneError {
			words[i] = string(unicode.ToUpper(r)) + w[size:]
		}
	}
	return strings.Join(words, " ")
}

// StepName returns the machine key for a display label.
func StepName(displayName string) (string, bool) {
	name, ok := stepNames[displayName]
	return name, ok
}
