package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
)

type colType int

const (
	colText colType = iota
	colUUID
	colInt
	colTime
	colJSON
)

type tableSpec struct {
	// scope is the column compared with the envelope tenant id.
	scope   string
	order   string
	columns map[string]colType
}

var tableSpecs = map[string]tableSpec{
	"tenants": {
		scope: "id",
		order: "created_at",
		columns: map[string]colType{
			"id":                colUUID,
			"name":              colText,
			"domain":            colText,
			"subscription_plan": colText,
			"created_at":        colTime,
			"updated_at":        colTime,
		},
	},
	"onboarding_workflows": {
		scope: "tenant_id",
		order: "created_at",
		columns: map[string]colType{
			"id":           colUUID,
			"tenant_id":    colUUID,
			"status":       colText,
			"current_step": colInt,
			"total_steps":  colInt,
			"started_at":   colTime,
			"completed_at": colTime,
			"metadata":     colJSON,
			"created_at":   colTime,
			"updated_at":   colTime,
		},
	},
	"onboarding_steps": {
		scope: "tenant_id",
		order: "step_number",
		columns: map[string]colType{
			"id":           colUUID,
			"workflow_id":  colUUID,
			"tenant_id":    colUUID,
			"step_number":  colInt,
			"step_name":    colText,
			"step_status":  colText,
			"step_data":    colJSON,
			"started_at":   colTime,
			"completed_at": colTime,
			"created_at":   colTime,
			"updated_at":   colTime,
		},
	},
}

// managed columns are set by the store, never by the caller.
var managed = map[string]bool{"id": true, "tenant_id": true, "created_at": true, "updated_at": true}

// Dispatch runs one tenant-data envelope. Every statement is scoped to the
// envelope tenant.
func (s *Store) Dispatch(ctx context.Context, env gateway.Envelope) (any, error) {
	if err := gateway.Validate(env.TenantID, env.Request); err != nil {
		return nil, badRequest(err.Error())
	}
	tenantID, err := uuid.Parse(strings.TrimSpace(env.TenantID))
	if err != nil {
		return nil, badRequest("Invalid tenant_id: " + env.TenantID)
	}

	switch env.Operation {
	case gateway.OpEnsureWorkflow:
		return s.ensureWorkflow(ctx, tenantID)
	case gateway.OpCompleteWorkflow:
		wfID, err := parseID("workflow_id", env.WorkflowID)
		if err != nil {
			return nil, err
		}
		return s.completeWorkflow(ctx, tenantID, wfID)
	case gateway.OpCalculateProgress:
		wfID, err := parseID("workflow_id", env.WorkflowID)
		if err != nil {
			return nil, err
		}
		return s.calculateProgress(ctx, tenantID, wfID)
	}

	spec, ok := tableSpecs[env.Table]
	if !ok {
		return nil, badRequest("Invalid table: " + env.Table)
	}
	switch env.Operation {
	case gateway.OpSelect:
		return s.selectRows(ctx, env.Table, spec, tenantID, env.Filters)
	case gateway.OpInsert:
		return s.insertRow(ctx, env.Table, spec, tenantID, env.Data)
	case gateway.OpUpdate:
		id, err := parseID("id", env.ID)
		if err != nil {
			return nil, err
		}
		return s.updateRow(ctx, env.Table, spec, tenantID, id, env.Data)
	case gateway.OpDelete:
		id, err := parseID("id", env.ID)
		if err != nil {
			return nil, err
		}
		return s.deleteRow(ctx, env.Table, spec, tenantID, id)
	}
	return nil, badRequest("Invalid operation: " + string(env.Operation))
}

func (s *Store) selectRows(ctx context.Context, table string, spec tableSpec, tenantID uuid.UUID, filters map[string]any) ([]map[string]any, error) {
	where := []string{pgx.Identifier{spec.scope}.Sanitize() + " = $1"}
	args := []any{tenantID}
	for _, col := range sortedKeys(filters) {
		typ, ok := spec.columns[col]
		if !ok {
			return nil, badRequest("Invalid filter column: " + col)
		}
		v, err := coerce(col, typ, filters[col])
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), len(args)))
	}

	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s",
		pgx.Identifier{table}.Sanitize(), strings.Join(where, " AND "), pgx.Identifier{spec.order}.Sanitize())
	return s.queryMaps(ctx, sql, args...)
}

func (s *Store) insertRow(ctx context.Context, table string, spec tableSpec, tenantID uuid.UUID, data map[string]any) (map[string]any, error) {
	cols := []string{pgx.Identifier{spec.scope}.Sanitize()}
	placeholders := []string{"$1"}
	args := []any{tenantID}
	for _, col := range sortedKeys(data) {
		if managed[col] {
			continue
		}
		typ, ok := spec.columns[col]
		if !ok {
			return nil, badRequest("Invalid column: " + col)
		}
		v, err := coerce(col, typ, data[col])
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		cols = append(cols, pgx.Identifier{col}.Sanitize())
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pgx.Identifier{table}.Sanitize(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return s.queryOne(ctx, sql, "", args...)
}

func (s *Store) updateRow(ctx context.Context, table string, spec tableSpec, tenantID, id uuid.UUID, data map[string]any) (map[string]any, error) {
	args := []any{tenantID, id}
	sets := []string{"updated_at = now()"}
	for _, col := range sortedKeys(data) {
		if managed[col] {
			continue
		}
		typ, ok := spec.columns[col]
		if !ok {
			return nil, badRequest("Invalid column: " + col)
		}
		v, err := coerce(col, typ, data[col])
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), len(args)))
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1 AND id = $2 RETURNING *",
		pgx.Identifier{table}.Sanitize(), strings.Join(sets, ", "), pgx.Identifier{spec.scope}.Sanitize())
	return s.queryOne(ctx, sql, "Record not found in "+table, args...)
}

func (s *Store) deleteRow(ctx context.Context, table string, spec tableSpec, tenantID, id uuid.UUID) (map[string]any, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND id = $2 RETURNING id",
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{spec.scope}.Sanitize())
	return s.queryOne(ctx, sql, "Record not found in "+table, tenantID, id)
}

func (s *Store) ensureWorkflow(ctx context.Context, tenantID uuid.UUID) (map[string]any, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx,
		`INSERT INTO onboarding_workflows (tenant_id) VALUES ($1)
		 ON CONFLICT (tenant_id) DO NOTHING RETURNING id`, tenantID).Scan(&id)
	if err == nil {
		return map[string]any{"workflow_id": id.String(), "created": true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ensure workflow: %w", err)
	}
	if err := s.db.QueryRow(ctx,
		`SELECT id FROM onboarding_workflows WHERE tenant_id = $1`, tenantID).Scan(&id); err != nil {
		return nil, fmt.Errorf("ensure workflow: %w", err)
	}
	return map[string]any{"workflow_id": id.String(), "created": false}, nil
}

func (s *Store) completeWorkflow(ctx context.Context, tenantID, workflowID uuid.UUID) (map[string]any, error) {
	return s.queryOne(ctx,
		`UPDATE onboarding_workflows
		 SET status = 'completed', completed_at = now(), updated_at = now()
		 WHERE tenant_id = $1 AND id = $2 RETURNING *`,
		"Workflow not found", tenantID, workflowID)
}

func (s *Store) calculateProgress(ctx context.Context, tenantID, workflowID uuid.UUID) (map[string]any, error) {
	var total, completed int
	err := s.db.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE step_status = 'completed')
		 FROM onboarding_steps WHERE tenant_id = $1 AND workflow_id = $2`,
		tenantID, workflowID).Scan(&total, &completed)
	if err != nil {
		return nil, fmt.Errorf("calculate progress: %w", err)
	}
	pct := 0
	if total > 0 {
		pct = int(math.Round(100 * float64(completed) / float64(total)))
	}
	return map[string]any{"completed": completed, "total": total, "percentage": pct}, nil
}

func (s *Store) queryMaps(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	for _, r := range out {
		normalize(r)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, nil
}

// queryOne returns the single row of sql; missing is the not-found message,
// empty when no row is an internal error.
func (s *Store) queryOne(ctx context.Context, sql, missing string, args ...any) (map[string]any, error) {
	rows, err := s.queryMaps(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if missing == "" {
			return nil, errors.New("statement returned no row")
		}
		return nil, notFound(missing)
	}
	return rows[0], nil
}

// normalize makes scanned values JSON friendly.
func normalize(r map[string]any) {
	for k, v := range r {
		switch x := v.(type) {
		case [16]byte:
			r[k] = uuid.UUID(x).String()
		case time.Time:
			r[k] = x.UTC()
		}
	}
}

func parseID(field, v string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(v))
	if err != nil {
		return uuid.Nil, badRequest(fmt.Sprintf("Invalid %s: %s", field, v))
	}
	return id, nil
}

// coerce converts a JSON-decoded value to the Go type pgx encodes for typ.
func coerce(col string, typ colType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	invalid := func() error {
		return badRequest(fmt.Sprintf("Invalid value for %s: %v", col, v))
	}
	switch typ {
	case colUUID:
		s, ok := v.(string)
		if !ok {
			return nil, invalid()
		}
		return parseID(col, s)
	case colInt:
		switch n := v.(type) {
		case float64:
			if n != math.Trunc(n) {
				return nil, invalid()
			}
			return int64(n), nil
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, invalid()
			}
			return i, nil
		}
		return nil, invalid()
	case colTime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, invalid()
			}
			return parsed, nil
		}
		return nil, invalid()
	case colJSON:
		if _, ok := v.(map[string]any); !ok {
			return nil, invalid()
		}
		return v, nil
	default:
		s, ok := v.(string)
		if !ok {
			return nil, invalid()
		}
		return s, nil
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
