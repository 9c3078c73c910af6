package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/auth"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/logging"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/onboarding"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/session"
)

var errSignedOut = errors.New("session signed out")

func newWatchCmd(a *app) *cobra.Command {
	var localJWT bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep a session refreshed and check the tenant's data until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := a.requireTenant()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancelCause(ctx)
			defer cancel(nil)

			r, err := a.connect(ctx, nil)
			if err != nil {
				return a.fail("watch", err)
			}
			defer r.sessions.Stop()
			logger := a.logger.With("component", "watch")

			r.sessions.OnChange(func(s *session.Session) {
				if s == nil {
					logger.Info("Session cleared", "state", r.sessions.State().String())
					return
				}
				var email string
				if s.User != nil {
					email = s.User.Email
				}
				logger.Info("Session updated",
					"state", r.sessions.State().String(),
					"user", email,
					"expires_at", s.ExpiresAt.Time,
				)
			})
			r.sessions.OnSignedOut(func() {
				logger.Warn("Signed out")
				cancel(errSignedOut)
			})

			refresher := session.NewAutoRefresher(r.sessions, session.RefreshOptions{
				Lead:      a.cfg.Session.RefreshLead,
				Floor:     a.cfg.Session.RefreshFloor,
				Heartbeat: a.cfg.Session.Heartbeat,
			}, a.logger.With("component", "refresh"))
			refresher.Start(ctx)
			defer refresher.Stop()

			var introspector session.Introspector = r.transport
			if localJWT {
				introspector = auth.NewTokenIntrospector(r.sessions)
			}
			checker := session.NewHealthChecker(r.sessions, introspector, tenantRead(r.gateway, tenantID), session.HealthOptions{
				Interval:    a.cfg.Session.HealthInterval,
				SettleDelay: a.cfg.Session.SettleDelay,
			}, a.logger.With("component", "health"))

			logger.Info("Watching session", "next_refresh", refresher.NextRefresh())
			err = watchHealth(ctx, checker, a.cfg.Session.HealthInterval, logger)
			if cause := context.Cause(ctx); errors.Is(cause, errSignedOut) {
				return a.fail("watch", cause)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&localJWT, "local-jwt", false, "Read JWT status from the token claims instead of the backend")
	return cmd
}

// tenantRead reads the tenant row as the protected read of the health
// check.
func tenantRead(gw *gateway.Client, tenantID string) session.ReadFunc {
	return func(ctx context.Context) error {
		_, err := gw.Call(ctx, tenantID, gateway.Request{
			Table:     onboarding.TenantsTable,
			Operation: gateway.OpSelect,
			Filters:   map[string]any{"id": tenantID},
		})
		return err
	}
}

// watchHealth checks on every tick and tries one recovery when a check
// fails. It returns nil when ctx ends.
func watchHealth(ctx context.Context, checker *session.HealthChecker, interval time.Duration, logger *logging.Logger) error {
	check := func() {
		h := checker.Check(ctx)
		if h.IsHealthy {
			logger.Info("Session healthy")
			return
		}
		logger.Warn("Session unhealthy",
			"jwt_present", h.JWTPresent,
			"jwt_expired", h.JWTExpired,
			"can_access_database", h.CanAccessDatabase,
			"error", h.Error,
		)
		h, err := checker.RecoverSession(ctx)
		if err != nil {
			logger.Error("Session recovery failed", "error", err)
			return
		}
		logger.Info("Session recovery finished", "healthy", h.IsHealthy)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			check()
		}
	}
}
