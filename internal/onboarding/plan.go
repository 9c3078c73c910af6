package onboarding

import (
	"context"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

// PlanResolver finds the subscription plan that selects a tenant's
// onboarding curriculum. It never fails; unknown tenants get a default.
type PlanResolver interface {
	ResolvePlan(ctx context.Context, tenantID string) models.SubscriptionPlan
}

// PlanResolverFunc adapts a function to PlanResolver.
type PlanResolverFunc func(ctx context.Context, tenantID string) models.SubscriptionPlan

func (f PlanResolverFunc) ResolvePlan(ctx context.Context, tenantID string) models.SubscriptionPlan {
	return f(ctx, tenantID)
}

// GatewayPlanResolver reads subscription_plan from the tenants table.
type GatewayPlanResolver struct {
	gw       Gateway
	fallback models.SubscriptionPlan
}

// NewGatewayPlanResolver creates a resolver that falls back to fallback when
// the tenant row is missing, has no plan, or cannot be read.
func NewGatewayPlanResolver(gw Gateway, fallback models.SubscriptionPlan) *GatewayPlanResolver {
	return &GatewayPlanResolver{gw: gw, fallback: fallback}
}

func (r *GatewayPlanResolver) ResolvePlan(ctx context.Context, tenantID string) models.SubscriptionPlan {
	rows, err := gateway.Decode[[]models.Tenant](r.gw.Call(ctx, tenantID, gateway.Request{
		Table:     TenantsTable,
		Operation: gateway.OpSelect,
		Filters:   map[string]any{"id": tenantID},
	}))
	if err != nil || len(rows) == 0 || rows[0].SubscriptionPlan == "" {
		return r.fallback
	}
	return rows[0].SubscriptionPlan
}
