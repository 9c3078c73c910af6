package models

import (
	"time"
)

// SubscriptionPlan is the tier a tenant is subscribed to. It selects the
// onboarding curriculum.
type SubscriptionPlan string

const (
	PlanKisanBasic   SubscriptionPlan = "Kisan_Basic"
	PlanShaktiGrowth SubscriptionPlan = "Shakti_Growth"
	PlanAIEnterprise SubscriptionPlan = "AI_Enterprise"
)

type Tenant struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Domain           string           `json:"domain"`
	SubscriptionPlan SubscriptionPlan `json:"subscription_plan"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// JWTStatus is the backend's view of the caller's access token.
type JWTStatus struct {
	JWTPresent bool `json:"jwt_present"`
	IsExpired  bool `json:"is_expired"`
}
