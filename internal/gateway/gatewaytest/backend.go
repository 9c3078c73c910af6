// Package gatewaytest provides an in-memory tenant-data backend that
// satisfies gateway.Transport, for tests of code built on the gateway.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
)

const (
	TableTenants   = "tenants"
	TableWorkflows = "onboarding_workflows"
	TableSteps     = "onboarding_steps"
)

// Row is one stored record.
type Row = map[string]any

type failure struct {
	skip      int
	remaining int
	err       error
}

// Backend is an in-memory fake of the tenant-data function.
type Backend struct {
	mu       sync.Mutex
	tables   map[string][]Row
	calls    []gateway.Envelope
	failures map[string]*failure

	// ReverseSelects returns select results in reverse insertion order, to
	// exercise callers that must not rely on backend ordering.
	ReverseSelects bool
	// Now stamps timestamps; defaults to time.Now.
	Now func() time.Time
}

// NewBackend creates an empty Backend.
func NewBackend() *Backend {
	return &Backend{
		tables:   make(map[string][]Row),
		failures: make(map[string]*failure),
		Now:      time.Now,
	}
}

func failureKey(op gateway.Operation, table string) string {
	return string(op) + "/" + table
}

// Fail makes the next times calls of op on table (empty table matches any)
// fail at the transport level with err.
func (b *Backend) Fail(op gateway.Operation, table string, times int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[failureKey(op, table)] = &failure{remaining: times, err: err}
}

// FailAfter lets the next skip calls of op on table through and then fails
// the following times calls with err.
func (b *Backend) FailAfter(op gateway.Operation, table string, skip, times int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[failureKey(op, table)] = &failure{skip: skip, remaining: times, err: err}
}

// Calls returns every envelope received so far.
func (b *Backend) Calls() []gateway.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]gateway.Envelope, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallCount counts received envelopes for op, on table when table is not empty.
func (b *Backend) CallCount(op gateway.Operation, table string) int {
	n := 0
	for _, env := range b.Calls() {
		if env.Operation == op && (table == "" || env.Table == table) {
			n++
		}
	}
	return n
}

// Rows returns a copy of the rows of table.
func (b *Backend) Rows(table string) []Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Row, 0, len(b.tables[table]))
	for _, r := range b.tables[table] {
		out = append(out, copyRow(r))
	}
	return out
}

// AddTenant stores a tenant row with the given plan.
func (b *Backend) AddTenant(id, plan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables[TableTenants] = append(b.tables[TableTenants], Row{
		"id":                id,
		"tenant_id":         id,
		"name":              id,
		"subscription_plan": plan,
	})
}

// Insert stores a row directly, bypassing the envelope path.
func (b *Backend) Insert(table string, row Row) Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insert(table, row)
}

// Invoke implements gateway.Transport.
func (b *Backend) Invoke(ctx context.Context, body []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var env gateway.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("400 Bad Request: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, env)

	for _, key := range []string{failureKey(env.Operation, env.Table), failureKey(env.Operation, "")} {
		f, ok := b.failures[key]
		if !ok || f.remaining == 0 {
			continue
		}
		if f.skip > 0 {
			f.skip--
			continue
		}
		f.remaining--
		return nil, f.err
	}

	data, err := b.dispatch(env)
	if err != nil {
		return json.Marshal(map[string]any{"success": false, "error": err.Error()})
	}
	return json.Marshal(map[string]any{"success": true, "data": data})
}

func (b *Backend) dispatch(env gateway.Envelope) (any, error) {
	switch env.Operation {
	case gateway.OpSelect:
		return b.selectRows(env), nil
	case gateway.OpInsert:
		row := copyRow(env.Data)
		row["tenant_id"] = env.TenantID
		return b.insert(env.Table, row), nil
	case gateway.OpUpdate:
		row := b.find(env.Table, env.TenantID, env.ID)
		if row == nil {
			return nil, fmt.Errorf("Record not found in %s", env.Table)
		}
		for k, v := range env.Data {
			row[k] = v
		}
		row["updated_at"] = b.Now()
		return copyRow(row), nil
	case gateway.OpDelete:
		rows := b.tables[env.Table]
		for i, r := range rows {
			if fmt.Sprint(r["id"]) == env.ID && fmt.Sprint(r["tenant_id"]) == env.TenantID {
				b.tables[env.Table] = append(rows[:i], rows[i+1:]...)
				return map[string]any{"id": env.ID}, nil
			}
		}
		return nil, fmt.Errorf("Record not found in %s", env.Table)
	case gateway.OpEnsureWorkflow:
		for _, r := range b.tables[TableWorkflows] {
			if r["tenant_id"] == env.TenantID {
				return map[string]any{"workflow_id": r["id"], "created": false}, nil
			}
		}
		row := b.insert(TableWorkflows, Row{
			"tenant_id":    env.TenantID,
			"status":       "not_started",
			"current_step": 1,
			"total_steps":  0,
			"metadata":     map[string]any{},
		})
		return map[string]any{"workflow_id": row["id"], "created": true}, nil
	case gateway.OpCompleteWorkflow:
		row := b.find(TableWorkflows, env.TenantID, env.WorkflowID)
		if row == nil {
			return nil, fmt.Errorf("Workflow not found")
		}
		now := b.Now()
		row["status"] = "completed"
		row["completed_at"] = now
		row["updated_at"] = now
		return copyRow(row), nil
	case gateway.OpCalculateProgress:
		total, completed := 0, 0
		for _, r := range b.tables[TableSteps] {
			if r["workflow_id"] == env.WorkflowID && r["tenant_id"] == env.TenantID {
				total++
				if r["step_status"] == "completed" {
					completed++
				}
			}
		}
		pct := 0
		if total > 0 {
			pct = (completed*200 + total) / (2 * total)
		}
		return map[string]any{"completed": completed, "total": total, "percentage": pct}, nil
	}
	return nil, fmt.Errorf("Invalid operation: %s", env.Operation)
}

func (b *Backend) selectRows(env gateway.Envelope) []Row {
	out := []Row{}
	for _, r := range b.tables[env.Table] {
		if fmt.Sprint(r["tenant_id"]) != env.TenantID {
			continue
		}
		match := true
		for k, v := range env.Filters {
			if fmt.Sprint(r[k]) != fmt.Sprint(v) {
				match = false
				break
			}
		}
		if match {
			out = append(out, copyRow(r))
		}
	}
	if b.ReverseSelects {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func (b *Backend) insert(table string, row Row) Row {
	row = copyRow(row)
	if _, ok := row["id"]; !ok {
		row["id"] = uuid.NewString()
	}
	now := b.Now()
	row["created_at"] = now
	row["updated_at"] = now
	b.tables[table] = append(b.tables[table], row)
	return copyRow(row)
}

func (b *Backend) find(table, tenantID, id string) Row {
	for _, r := range b.tables[table] {
		if fmt.Sprint(r["id"]) == id && fmt.Sprint(r["tenant_id"]) == tenantID {
			return r
		}
	}
	return nil
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
