package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/auth"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/config"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/errhandler"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/logging"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/notify"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/onboarding"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/session"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

// app is the state shared by all commands, filled in by the root command's
// pre-run hook.
type app struct {
	configPath string
	tenantID   string

	cfg           *config.Config
	logger        *logging.Logger
	notifications *notify.Console
	errors        *errhandler.Handler
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "tenantctl",
		Short: "Tenant onboarding control",
		Long: `tenantctl runs onboarding operations for a tenant against the
tenant-data function, using a session from the configured OAuth2 provider.

Examples:
  # Initialize onboarding for a tenant on its subscription plan
  tenantctl --tenant <id> init

  # Show the workflow and its steps
  tenantctl --tenant <id> status

  # Keep a session alive and report its health
  tenantctl --tenant <id> watch
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file")
	root.PersistentFlags().StringVar(&a.tenantID, "tenant", "", "Tenant ID")

	root.AddCommand(
		newInitCmd(a),
		newStatusCmd(a),
		newProgressCmd(a),
		newCompleteStepCmd(a),
		newCompleteCmd(a),
		newValidateCmd(a),
		newTemplatesCmd(a),
		newWatchCmd(a),
		newSeedCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	a.notifications = notify.NewConsole(a.logger.With("component", "notify"), 0)
	a.errors = errhandler.New(errhandler.Config{
		HistorySize:       cfg.Errors.HistorySize,
		SuppressionWindow: cfg.Errors.SuppressionWindow,
		DegradedThreshold: cfg.Errors.DegradedThreshold,
	}, a.notifications, a.logger.With("component", "errhandler"))
	return nil
}

func (a *app) requireTenant() (string, error) {
	if a.tenantID == "" {
		return "", errors.New("--tenant is required")
	}
	return a.tenantID, nil
}

// fail reports err through the error handler and returns the message a
// user should see.
func (a *app) fail(op string, err error) error {
	report := a.errors.HandleError(err, errhandler.Context{
		Component: "tenantctl",
		Operation: op,
		TenantID:  a.tenantID,
	}, errhandler.Options{Silent: true})
	return fmt.Errorf("%s: %s", op, report.UserMessage)
}

// remote is an engine talking to the hosted function with a signed-in
// session.
type remote struct {
	engine    *onboarding.Engine
	gateway   *gateway.Client
	transport *gateway.HTTPTransport
	sessions  *session.Manager
	provider  *auth.OAuthProvider
}

func (a *app) sessionOptions() session.Options {
	return session.Options{
		InitialTimeout: a.cfg.Session.InitialTimeout,
		ExpiryGrace:    a.cfg.Session.ExpiryGrace,
	}
}

// connect signs in with the configured credentials and builds the engine
// over the HTTP gateway.
func (a *app) connect(ctx context.Context, plans onboarding.PlanResolver) (*remote, error) {
	if a.cfg.Gateway.URL == "" {
		return nil, errors.New("gateway.url is required")
	}

	provider, err := auth.NewOAuthProviderFromConfig(ctx, a.cfg, a.logger.With("component", "auth"))
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(provider, a.sessionOptions(), a.logger.With("component", "session"))
	if err := sessions.Start(ctx); err != nil {
		return nil, err
	}
	if sessions.Session() == nil {
		if a.cfg.Auth.Username == "" {
			return nil, errors.New("no session: auth.username and auth.password are required")
		}
		if _, err := sessions.SignInWithPassword(ctx, a.cfg.Auth.Username, a.cfg.Auth.Password); err != nil {
			return nil, fmt.Errorf("sign in: %w", err)
		}
	}
	if !sessions.WaitForSessionReady(ctx, a.cfg.Session.ReadyTimeout) {
		return nil, session.ErrNotReady
	}

	transport := gateway.NewHTTPTransport(a.cfg.Gateway.URL, a.cfg.Gateway.Function, a.cfg.Gateway.AnonKey, sessions, a.cfg.Gateway.Timeout)
	gw := gateway.New(transport, a.logger.With("component", "gateway"))

	return &remote{
		engine:    a.newEngine(gw, plans),
		gateway:   gw,
		transport: transport,
		sessions:  sessions,
		provider:  provider,
	}, nil
}

func (a *app) newEngine(gw onboarding.Gateway, plans onboarding.PlanResolver) *onboarding.Engine {
	return onboarding.New(gw, onboarding.Config{
		Retry: onboarding.RetryPolicy{
			MaxAttempts:       a.cfg.Onboarding.MaxAttempts,
			BaseDelay:         a.cfg.Onboarding.BaseDelay,
			RetryClientErrors: a.cfg.Onboarding.RetryClientErrors,
		},
		DefaultPlan: models.SubscriptionPlan(a.cfg.Onboarding.DefaultPlan),
		Plans:       plans,
	}, a.logger.With("component", "onboarding"), a.notifications)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
