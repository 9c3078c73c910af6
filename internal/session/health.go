package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/metrics"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

// Introspector reports the server-side view of the current token.
type Introspector interface {
	JWTStatus(ctx context.Context) (models.JWTStatus, error)
}

// ErrNoProtectedRead is reported by a HealthChecker that has no protected read to
// perform.
var ErrNoProtectedRead = errors.New("no protected read configured")

// ReadFunc performs a minimal protected read.
type ReadFunc func(ctx context.Context) error

// Health is the outcome of one check.
type Health struct {
	JWTPresent        bool      `json:"jwt_present"`
	JWTExpired        bool      `json:"jwt_expired"`
	CanAccessDatabase bool      `json:"can_access_database"`
	IsHealthy         bool      `json:"is_healthy"`
	CheckedAt         time.Time `json:"checked_at"`
	Error             string    `json:"error,omitempty"`
}

// HealthOptions tunes a HealthChecker. Zero values fall back to defaults.
type HealthOptions struct {
	Interval    time.Duration
	SettleDelay time.Duration
	Now         func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error
}

// HealthChecker checks that the session can reach protected data.
type HealthChecker struct {
	m            *Manager
	introspector Introspector
	read         ReadFunc
	logger       Logger
	opts         HealthOptions

	mu   sync.Mutex
	last Health
	done chan struct{}
	once sync.Once
}

// NewHealthChecker creates a checker. Only a successful protected read counts as
// database access; with a nil read every check is unhealthy.
func NewHealthChecker(m *Manager, introspector Introspector, read ReadFunc, opts HealthOptions, logger Logger) *HealthChecker {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}
	return &HealthChecker{
		m:            m,
		introspector: introspector,
		read:         read,
		logger:       logger,
		opts:         opts,
		done:         make(chan struct{}),
	}
}

// Check runs one health check and records the result.
func (h *HealthChecker) Check(ctx context.Context) Health {
	res := Health{CheckedAt: h.opts.Now()}
	defer func() {
		h.mu.Lock()
		h.last = res
		h.mu.Unlock()
		if res.IsHealthy {
			metrics.SessionHealthy.Set(1)
		} else {
			metrics.SessionHealthy.Set(0)
		}
	}()

	if h.m.Session() == nil {
		res.Error = ErrNoSession.Error()
		return res
	}

	status, err := h.introspector.JWTStatus(ctx)
	if err != nil {
		res.Error = err.Error()
		h.logger.Warn("JWT status check failed", "error", err)
		return res
	}
	res.JWTPresent = status.JWTPresent
	res.JWTExpired = status.IsExpired

	switch err := h.runRead(ctx); {
	case errors.Is(err, ErrNoProtectedRead):
		res.Error = err.Error()
	case err != nil:
		res.Error = err.Error()
		h.logger.Warn("Protected read failed", "error", err)
	default:
		res.CanAccessDatabase = true
	}

	res.IsHealthy = res.JWTPresent && !res.JWTExpired && res.CanAccessDatabase
	return res
}

func (h *HealthChecker) runRead(ctx context.Context) error {
	if h.read == nil {
		return ErrNoProtectedRead
	}
	return h.read(ctx)
}

// Last returns the most recent check result.
func (h *HealthChecker) Last() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// RecoverSession refreshes the session, waits for the backend to see the
// new token and checks again.
func (h *HealthChecker) RecoverSession(ctx context.Context) (Health, error) {
	if _, err := h.m.refresh(ctx, "recovery"); err != nil {
		return h.Last(), err
	}
	if err := h.opts.Sleep(ctx, h.opts.SettleDelay); err != nil {
		return h.Last(), err
	}
	return h.Check(ctx), nil
}

// Start checks every interval while a session exists.
func (h *HealthChecker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(h.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-ticker.C:
				if h.m.Session() != nil {
					h.Check(ctx)
				}
			}
		}
	}()
}

// Stop ends periodic probing.
func (h *HealthChecker) Stop() {
	h.once.Do(func() { close(h.done) })
}
