// Package metrics holds the prometheus collectors of the onboarding core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GatewayRequests counts tenant-data calls by operation and result
	// (ok, validation, client, transient).
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantdash_gateway_requests_total",
		Help: "Tenant-data gateway calls by operation and result",
	}, []string{"operation", "result"})

	// GatewayDuration tracks round-trip latency of gateway calls.
	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantdash_gateway_request_duration_seconds",
		Help:    "Tenant-data gateway call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"operation"})

	// OnboardingRetries counts retry attempts beyond the first, by engine operation.
	OnboardingRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantdash_onboarding_retries_total",
		Help: "Onboarding engine retry attempts by operation",
	}, []string{"operation"})

	// IntegrityRepairs counts workflows recreated by integrity validation.
	IntegrityRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenantdash_onboarding_integrity_repairs_total",
		Help: "Workflows recreated by integrity validation",
	})

	// SessionRefreshes counts token refreshes by trigger and result.
	SessionRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantdash_session_refreshes_total",
		Help: "Session refreshes by trigger and result",
	}, []string{"trigger", "result"})

	// SessionHealthy is 1 while the last health check succeeded.
	SessionHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tenantdash_session_healthy",
		Help: "1 when the last session health check passed",
	})

	// ErrorsReported counts error-handler reports by severity and whether
	// they were surfaced or suppressed as duplicates.
	ErrorsReported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantdash_errors_reported_total",
		Help: "Errors handled by severity and disposition",
	}, []string{"severity", "disposition"})
)
