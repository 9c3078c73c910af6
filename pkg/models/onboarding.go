// Package models defines the domain models shared by the onboarding core,
// the local tenant-data backend and the HTTP API.
package models

import (
	"time"
)

// WorkflowStatus is the lifecycle state of an onboarding workflow.
type WorkflowStatus string

const (
	WorkflowNotStarted WorkflowStatus = "not_started"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowPaused     WorkflowStatus = "paused"
)

// StepStatus is the state of a single onboarding step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

// Valid reports whether s is one of the known step states.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepSkipped, StepFailed:
		return true
	}
	return false
}

// OnboardingWorkflow is the single onboarding process instance of a tenant.
type OnboardingWorkflow struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Status      WorkflowStatus `json:"status"`
	CurrentStep int            `json:"current_step"` // 1-based
	TotalSteps  int            `json:"total_steps"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// OnboardingStep is one ordered unit of a workflow, seeded from a StepTemplate.
type OnboardingStep struct {
	ID          string     `json:"id"`
	WorkflowID  string     `json:"workflow_id"`
	TenantID    string     `json:"tenant_id,omitempty"`
	StepNumber  int        `json:"step_number"`
	StepName    string     `json:"step_name"`
	StepStatus  StepStatus `json:"step_status"`
	StepData    StepData   `json:"step_data,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StepTemplate is a code-defined step definition used to seed a workflow.
type StepTemplate struct {
	StepName             string         `json:"step_name"`
	DisplayName          string         `json:"display_name"`
	StepOrder            int            `json:"step_order"`
	Description          string         `json:"description"`
	IsRequired           bool           `json:"is_required"`
	EstimatedTimeMinutes int            `json:"estimated_time_minutes"`
	StepType             string         `json:"step_type"`
	StepConfig           map[string]any `json:"step_config,omitempty"`
}
