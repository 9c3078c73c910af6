package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

//go:embed schema.sql
var schema string

// Store is the Postgres tenant-data backend used for local development.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new Store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

const tenantColumns = "id::text, name, domain, subscription_plan, created_at, updated_at"

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	var plan string
	err := row.Scan(&t.ID, &t.Name, &t.Domain, &plan, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.SubscriptionPlan = models.SubscriptionPlan(plan)
	return &t, nil
}

// GetTenant returns the tenant with the given id.
func (s *Store) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	return scanTenant(s.db.QueryRow(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE id::text = $1", id))
}

// GetTenantByDomain returns the tenant owning an email domain.
func (s *Store) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	return scanTenant(s.db.QueryRow(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE domain = $1", domain))
}

// CreateTenant inserts the tenant and fills in its id and timestamps. An
// empty plan defaults to Kisan_Basic.
func (s *Store) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.SubscriptionPlan == "" {
		tenant.SubscriptionPlan = models.PlanKisanBasic
	}
	err := s.db.QueryRow(ctx,
		"INSERT INTO tenants (name, domain, subscription_plan) VALUES ($1, $2, $3) RETURNING id::text, created_at, updated_at",
		tenant.Name, tenant.Domain, string(tenant.SubscriptionPlan),
	).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create tenant %s: %w", tenant.Domain, err)
	}
	return nil
}
