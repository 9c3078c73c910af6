package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

func TestDispatch_RejectsBadRequests(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	tenant := uuid.NewString()

	cases := []struct {
		name string
		env  gateway.Envelope
		want string
	}{
		{"missing tenant", gateway.Envelope{Request: gateway.Request{Table: "tenants", Operation: gateway.OpSelect}}, "Tenant ID is required"},
		{"non uuid tenant", gateway.Envelope{TenantID: "t-1", Request: gateway.Request{Table: "tenants", Operation: gateway.OpSelect}}, "Invalid tenant_id: t-1"},
		{"unknown table", gateway.Envelope{TenantID: tenant, Request: gateway.Request{Table: "users", Operation: gateway.OpSelect}}, "Invalid table: users"},
		{"unknown filter", gateway.Envelope{TenantID: tenant, Request: gateway.Request{Table: "onboarding_steps", Operation: gateway.OpSelect, Filters: map[string]any{"password": "x"}}}, "Invalid filter column: password"},
		{"unknown column", gateway.Envelope{TenantID: tenant, Request: gateway.Request{Table: "onboarding_steps", Operation: gateway.OpInsert, Data: map[string]any{"role": "admin"}}}, "Invalid column: role"},
		{"bad int", gateway.Envelope{TenantID: tenant, Request: gateway.Request{Table: "onboarding_steps", Operation: gateway.OpInsert, Data: map[string]any{"step_number": 1.5}}}, "Invalid value for step_number: 1.5"},
		{"bad id", gateway.Envelope{TenantID: tenant, Request: gateway.Request{Table: "onboarding_steps", Operation: gateway.OpDelete, ID: "abc"}}, "Invalid id: abc"},
		{"bad workflow id", gateway.Envelope{TenantID: tenant, Request: gateway.Request{Operation: gateway.OpCalculateProgress, WorkflowID: "abc"}}, "Invalid workflow_id: abc"},
		{"bad op", gateway.Envelope{TenantID: tenant, Request: gateway.Request{Table: "tenants", Operation: "truncate"}}, "Invalid operation: truncate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Dispatch(ctx, tc.env)
			require.Error(t, err)
			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, CodeBadRequest, reqErr.ErrorCode())
			assert.Equal(t, tc.want, err.Error())
		})
	}
}

func TestCoerce(t *testing.T) {
	v, err := coerce("total_steps", colInt, float64(6))
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)

	v, err = coerce("started_at", colTime, "2026-03-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, v.(interface{ Year() int }).Year())

	v, err = coerce("completed_at", colTime, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = coerce("step_data", colJSON, "not an object")
	assert.Error(t, err)

	_, err = coerce("step_name", colText, 12)
	assert.Error(t, err)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	store := NewStore(pool)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "schema is re-runnable")
	return store
}

func TestStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acme := &models.Tenant{Name: "Acme Agro", Domain: "acme.example"}
	require.NoError(t, store.CreateTenant(ctx, acme))
	other := &models.Tenant{Name: "Other", Domain: "other.example", SubscriptionPlan: models.PlanAIEnterprise}
	require.NoError(t, store.CreateTenant(ctx, other))

	call := func(tenantID string, req gateway.Request) (any, error) {
		return store.Dispatch(ctx, gateway.Envelope{Request: req, TenantID: tenantID})
	}

	t.Run("Tenants", func(t *testing.T) {
		got, err := store.GetTenantByDomain(ctx, "acme.example")
		require.NoError(t, err)
		assert.Equal(t, acme.ID, got.ID)
		assert.Equal(t, models.PlanKisanBasic, got.SubscriptionPlan)

		got, err = store.GetTenant(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PlanAIEnterprise, got.SubscriptionPlan)

		_, err = store.GetTenantByDomain(ctx, "missing.example")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.Error(t, store.CreateTenant(ctx, &models.Tenant{Name: "dup", Domain: "acme.example"}))

		rows, err := call(acme.ID, gateway.Request{Table: "tenants", Operation: gateway.OpSelect, Filters: map[string]any{"id": acme.ID}})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Kisan_Basic", rows.([]map[string]any)[0]["subscription_plan"])
	})

	var workflowID string

	t.Run("EnsureWorkflow is idempotent", func(t *testing.T) {
		first, err := call(acme.ID, gateway.Request{Operation: gateway.OpEnsureWorkflow})
		require.NoError(t, err)
		second, err := call(acme.ID, gateway.Request{Operation: gateway.OpEnsureWorkflow})
		require.NoError(t, err)

		f, s := first.(map[string]any), second.(map[string]any)
		assert.Equal(t, true, f["created"])
		assert.Equal(t, false, s["created"])
		assert.Equal(t, f["workflow_id"], s["workflow_id"])
		workflowID = f["workflow_id"].(string)
	})

	stepIDs := map[int]string{}

	t.Run("Insert and select steps in order", func(t *testing.T) {
		for _, n := range []int{3, 1, 2} {
			row, err := call(acme.ID, gateway.Request{Table: "onboarding_steps", Operation: gateway.OpInsert, Data: map[string]any{
				"workflow_id": workflowID,
				"step_number": float64(n),
				"step_name":   models.StepBusinessVerification,
				"step_status": "pending",
				"step_data":   map[string]any{},
				"tenant_id":   other.ID,
			}})
			require.NoError(t, err)
			r := row.(map[string]any)
			assert.Equal(t, acme.ID, r["tenant_id"], "tenant_id always comes from the envelope")
			stepIDs[n] = r["id"].(string)
		}

		rows, err := call(acme.ID, gateway.Request{Table: "onboarding_steps", Operation: gateway.OpSelect, Filters: map[string]any{"workflow_id": workflowID}})
		require.NoError(t, err)
		list := rows.([]map[string]any)
		require.Len(t, list, 3)
		for i, r := range list {
			assert.EqualValues(t, i+1, r["step_number"])
		}
	})

	t.Run("Update and progress", func(t *testing.T) {
		row, err := call(acme.ID, gateway.Request{Table: "onboarding_steps", Operation: gateway.OpUpdate, ID: stepIDs[1], Data: map[string]any{
			"step_status":  "completed",
			"completed_at": "2026-03-01T10:00:00Z",
			"step_data":    map[string]any{"company_name": "Acme Agro"},
		}})
		require.NoError(t, err)
		r := row.(map[string]any)
		assert.Equal(t, "completed", r["step_status"])
		assert.Equal(t, map[string]any{"company_name": "Acme Agro"}, r["step_data"])

		progress, err := call(acme.ID, gateway.Request{Operation: gateway.OpCalculateProgress, WorkflowID: workflowID})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"completed": 1, "total": 3, "percentage": 33}, progress)
	})

	t.Run("Tenant isolation", func(t *testing.T) {
		rows, err := call(other.ID, gateway.Request{Table: "onboarding_steps", Operation: gateway.OpSelect})
		require.NoError(t, err)
		assert.Empty(t, rows)

		_, err = call(other.ID, gateway.Request{Table: "onboarding_steps", Operation: gateway.OpUpdate, ID: stepIDs[2], Data: map[string]any{"step_status": "completed"}})
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, CodeNotFound, reqErr.Code)

		_, err = call(other.ID, gateway.Request{Operation: gateway.OpCompleteWorkflow, WorkflowID: workflowID})
		assert.EqualError(t, err, "Workflow not found")
	})

	t.Run("Delete and complete", func(t *testing.T) {
		_, err := call(acme.ID, gateway.Request{Table: "onboarding_steps", Operation: gateway.OpDelete, ID: stepIDs[3]})
		require.NoError(t, err)

		row, err := call(acme.ID, gateway.Request{Operation: gateway.OpCompleteWorkflow, WorkflowID: workflowID})
		require.NoError(t, err)
		r := row.(map[string]any)
		assert.Equal(t, "completed", r["status"])
		assert.NotNil(t, r["completed_at"])
	})

	assert.NoError(t, store.Ping(ctx))
}
