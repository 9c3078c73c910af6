package repository

import (
	"context"
	"errors"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

// ErrNotFound is returned when a tenant lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Request error codes, shared with the tenant-data wire contract.
const (
	CodeBadRequest = "bad_request"
	CodeNotFound   = "not_found"
)

// RequestError is a tenant-data request the store refuses to run.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// ErrorCode exposes the code to the gateway's classifier.
func (e *RequestError) ErrorCode() string { return e.Code }

func badRequest(msg string) error { return &RequestError{Code: CodeBadRequest, Message: msg} }

func notFound(msg string) error { return &RequestError{Code: CodeNotFound, Message: msg} }

// TenantRepository stores tenants.
type TenantRepository interface {
	// GetTenant returns the tenant with the given id.
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	// GetTenantByDomain returns the tenant owning an email domain.
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	// CreateTenant inserts the tenant and fills in its id and timestamps.
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
}

// Dispatcher executes tenant-data envelopes.
type Dispatcher interface {
	Dispatch(ctx context.Context, env gateway.Envelope) (any, error)
}

// Repository is the full local backend.
type Repository interface {
	TenantRepository
	Dispatcher
	Ping(ctx context.Context) error
}
