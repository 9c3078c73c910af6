package gateway

import "strings"

// Operation is the action the tenant-data function performs.
type Operation string

const (
	OpSelect            Operation = "select"
	OpInsert            Operation = "insert"
	OpUpdate            Operation = "update"
	OpDelete            Operation = "delete"
	OpEnsureWorkflow    Operation = "ensure_workflow"
	OpCompleteWorkflow  Operation = "complete_workflow"
	OpCalculateProgress Operation = "calculate_progress"
)

// Known reports whether op is part of the function's vocabulary.
func (op Operation) Known() bool {
	switch op {
	case OpSelect, OpInsert, OpUpdate, OpDelete,
		OpEnsureWorkflow, OpCompleteWorkflow, OpCalculateProgress:
		return true
	}
	return false
}

// WorkflowScoped reports whether op acts on the onboarding workflow itself
// and therefore needs no table name.
func (op Operation) WorkflowScoped() bool {
	return op == OpEnsureWorkflow || op == OpCompleteWorkflow || op == OpCalculateProgress
}

// Request is a single tenant-data call. The gateway adds tenant_id when it
// serializes the envelope.
type Request struct {
	Table      string         `json:"table,omitempty"`
	Operation  Operation      `json:"operation"`
	Data       map[string]any `json:"data,omitempty"`
	Filters    map[string]any `json:"filters,omitempty"`
	ID         string         `json:"id,omitempty"`
	WorkflowID string         `json:"workflow_id,omitempty"`
}

// Envelope is the wire body sent to the function.
type Envelope struct {
	Request
	TenantID string `json:"tenant_id"`
}

// Validate checks the envelope before anything leaves the process.
func Validate(tenantID string, req Request) error {
	if strings.TrimSpace(tenantID) == "" {
		return &ValidationError{Field: "tenant_id", Message: "Tenant ID is required"}
	}
	if req.Operation == "" {
		return &ValidationError{Field: "operation", Message: "Operation is required"}
	}
	if !req.Operation.Known() {
		return &ValidationError{Field: "operation", Message: "Invalid operation: " + string(req.Operation)}
	}
	if !req.Operation.WorkflowScoped() && strings.TrimSpace(req.Table) == "" {
		return &ValidationError{Field: "table", Message: "Table is required for " + string(req.Operation) + " operation"}
	}
	switch req.Operation {
	case OpInsert:
		if req.Data == nil {
			return &ValidationError{Field: "data", Message: "Data is required for insert operation"}
		}
	case OpUpdate:
		if req.Data == nil {
			return &ValidationError{Field: "data", Message: "Data is required for update operation"}
		}
		if req.ID == "" {
			return &ValidationError{Field: "id", Message: "ID is required for update operation"}
		}
	case OpDelete:
		if req.ID == "" {
			return &ValidationError{Field: "id", Message: "ID is required for delete operation"}
		}
	case OpCompleteWorkflow, OpCalculateProgress:
		if req.WorkflowID == "" {
			return &ValidationError{Field: "workflow_id", Message: "Workflow ID is required for " + string(req.Operation) + " operation"}
		}
	}
	return nil
}
