package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/onboarding"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/templates"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

// withRemote connects, runs fn with the tenant and signs out afterwards.
func (a *app) withRemote(cmd *cobra.Command, plans onboarding.PlanResolver, fn func(ctx context.Context, r *remote, tenantID string) error) error {
	tenantID, err := a.requireTenant()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	r, err := a.connect(ctx, plans)
	if err != nil {
		return a.fail(cmd.Name(), err)
	}
	defer r.sessions.Stop()

	if err := fn(ctx, r, tenantID); err != nil {
		return a.fail(cmd.Name(), err)
	}
	return nil
}

func parsePlan(s string) (models.SubscriptionPlan, error) {
	switch p := models.SubscriptionPlan(s); p {
	case models.PlanKisanBasic, models.PlanShaktiGrowth, models.PlanAIEnterprise:
		return p, nil
	}
	return "", fmt.Errorf("unknown plan %q", s)
}

func newInitCmd(a *app) *cobra.Command {
	var plan string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the tenant's onboarding workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var plans onboarding.PlanResolver
			if plan != "" {
				p, err := parsePlan(plan)
				if err != nil {
					return err
				}
				plans = onboarding.PlanResolverFunc(func(context.Context, string) models.SubscriptionPlan { return p })
			}
			return a.withRemote(cmd, plans, func(ctx context.Context, r *remote, tenantID string) error {
				data, err := r.engine.InitializeWorkflow(ctx, tenantID)
				if err != nil {
					return err
				}
				return printSteps(cmd, data)
			})
		},
	}
	cmd.Flags().StringVar(&plan, "plan", "", "Subscription plan to seed steps for (defaults to the tenant's plan)")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the onboarding workflow and its steps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd, nil, func(ctx context.Context, r *remote, tenantID string) error {
				data, err := r.engine.GetCompleteData(ctx, tenantID)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), data)
				}
				return printSteps(cmd, data)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newProgressCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Print the onboarding completion percentage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd, nil, func(ctx context.Context, r *remote, tenantID string) error {
				pct, err := r.engine.GetProgress(ctx, tenantID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d%%\n", pct)
				return nil
			})
		},
	}
}

func newCompleteStepCmd(a *app) *cobra.Command {
	var rawData string
	cmd := &cobra.Command{
		Use:   "complete-step <step-id>",
		Short: "Mark a step completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseData(rawData)
			if err != nil {
				return err
			}
			return a.withRemote(cmd, nil, func(ctx context.Context, r *remote, tenantID string) error {
				step, err := r.engine.CompleteStep(ctx, args[0], data, tenantID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", templates.DisplayName(step.StepName), step.StepStatus)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rawData, "data", "", "Step data as a JSON object")
	return cmd
}

func parseData(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("--data must be a JSON object: %w", err)
	}
	return data, nil
}

func newCompleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "complete",
		Short: "Mark the onboarding workflow completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd, nil, func(ctx context.Context, r *remote, tenantID string) error {
				wf, err := r.engine.GetOnboardingWorkflow(ctx, tenantID)
				if err != nil {
					return err
				}
				if wf == nil {
					return errors.New("no onboarding workflow found")
				}
				wf, err = r.engine.CompleteWorkflow(ctx, wf.ID, tenantID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "workflow %s %s\n", wf.ID, wf.Status)
				return nil
			})
		},
	}
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check onboarding data integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd, nil, func(ctx context.Context, r *remote, tenantID string) error {
				return printJSON(cmd.OutOrStdout(), r.engine.ValidateIntegrity(ctx, tenantID))
			})
		},
	}
}

func newTemplatesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "templates <plan>",
		Short: "List the onboarding steps of a subscription plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := parsePlan(args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER\tSTEP\tMINUTES\tREQUIRED")
			for _, t := range templates.TemplatesForPlan(plan) {
				fmt.Fprintf(w, "%d\t%s\t%d\t%t\n", t.StepOrder, t.DisplayName, t.EstimatedTimeMinutes, t.IsRequired)
			}
			return w.Flush()
		},
	}
}

func printSteps(cmd *cobra.Command, data *onboarding.CompleteData) error {
	out := cmd.OutOrStdout()
	if data == nil || data.Workflow == nil {
		fmt.Fprintln(out, "no onboarding workflow")
		return nil
	}
	wf := data.Workflow
	fmt.Fprintf(out, "workflow %s %s (step %d of %d, %d%%)\n",
		wf.ID, wf.Status, wf.CurrentStep, wf.TotalSteps, onboarding.Progress(data.Steps))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTEP\tSTATUS\tID")
	for _, s := range data.Steps {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.StepNumber, s.DisplayName, s.StepStatus, s.ID)
	}
	return w.Flush()
}
