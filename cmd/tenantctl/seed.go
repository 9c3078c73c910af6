package main

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/api"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/repository"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

func newSeedCmd(a *app) *cobra.Command {
	var (
		domain string
		name   string
		plan   string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Migrate the local database and seed a development tenant",
		Long: `seed applies the schema to the configured Postgres database, creates
a tenant for --domain unless one exists and initializes its onboarding
workflow through the in-process tenant-data function.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePlan(plan)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := a.logger.With("component", "seed")

			// Connect to DB
			pool, err := pgxpool.New(ctx, a.cfg.DSN())
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()

			store := repository.NewStore(pool)
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			// 1. Ensure Tenant Exists
			tenant, err := store.GetTenantByDomain(ctx, domain)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				logger.Info("Creating tenant", "domain", domain, "plan", p)
				tenant = &models.Tenant{Name: name, Domain: domain, SubscriptionPlan: p}
				if err := store.CreateTenant(ctx, tenant); err != nil {
					return err
				}
			case err != nil:
				return fmt.Errorf("look up tenant: %w", err)
			default:
				logger.Info("Found existing tenant", "id", tenant.ID)
			}
			a.tenantID = tenant.ID

			// 2. Initialize onboarding; existing steps are left alone.
			gw := gateway.New(api.NewLocalTransport(store), a.logger.With("component", "gateway"))
			data, err := a.newEngine(gw, nil).InitializeWorkflow(ctx, tenant.ID)
			if err != nil {
				return a.fail("seed", err)
			}

			logger.Info("Seeding complete", "tenant_id", tenant.ID, "workflow_id", data.Workflow.ID, "steps", len(data.Steps))
			return printSteps(cmd, data)
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "localhost", "Email domain of the tenant")
	cmd.Flags().StringVar(&name, "name", "Local Dev Tenant", "Tenant name")
	cmd.Flags().StringVar(&plan, "plan", string(models.PlanKisanBasic), "Subscription plan")
	return cmd
}
