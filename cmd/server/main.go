package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/api"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/auth"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/config"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/errhandler"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/logging"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/mcp"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/notify"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/onboarding"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/repository"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

func main() {
	ctx := context.Background()

	// Parse command line flags
	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"issuer", cfg.Auth.Issuer,
		"gateway_url", cfg.Gateway.URL,
		"config_file", *configFile,
	)

	logger.Info("Starting tenant dashboard backend")

	// Initialize database connection
	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()

	store := repository.NewStore(dbPool)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("Failed to migrate schema", "error", err)
		log.Fatalf("Schema migration failed: %v", err)
	}
	logger.Info("Database connected")

	// The onboarding API talks to the tenant-data function through the
	// gateway: in-process when no remote function is configured.
	var transport gateway.Transport
	if cfg.Gateway.URL == "" {
		transport = api.NewLocalTransport(store)
		logger.Info("Using in-process tenant-data function")
	} else {
		transport = gateway.NewHTTPTransport(cfg.Gateway.URL, cfg.Gateway.Function, cfg.Gateway.AnonKey, nil, cfg.Gateway.Timeout)
		logger.Info("Using remote tenant-data function", "url", cfg.Gateway.URL, "function", cfg.Gateway.Function)
	}
	gw := gateway.New(transport, logger.With("component", "gateway"))

	notifications := notify.NewConsole(logger.With("component", "notify"), 0)
	errorsHandler := errhandler.New(errhandler.Config{
		HistorySize:       cfg.Errors.HistorySize,
		SuppressionWindow: cfg.Errors.SuppressionWindow,
		DegradedThreshold: cfg.Errors.DegradedThreshold,
	}, notifications, logger.With("component", "errhandler"))

	engine := onboarding.New(gw, onboarding.Config{
		Retry: onboarding.RetryPolicy{
			MaxAttempts:       cfg.Onboarding.MaxAttempts,
			BaseDelay:         cfg.Onboarding.BaseDelay,
			RetryClientErrors: cfg.Onboarding.RetryClientErrors,
		},
		DefaultPlan: models.SubscriptionPlan(cfg.Onboarding.DefaultPlan),
	}, logger.With("component", "onboarding"), notifications)

	logger.Info("Onboarding engine initialized")

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(otelecho.Middleware("tenant-dash"))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, store, logger.With("component", "auth"))
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		log.Fatalf("auth initialization failed: %v", err)
	}
	if authz.Bypass() {
		logger.Warn("Authentication bypass enabled", "email", auth.DevEmail)
	}

	// Register auth handlers
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	requireAuth := echo.WrapMiddleware(authz.RequireAuth)

	// Mount REST API handlers and the local tenant-data function
	server := &api.Server{
		Engine:        engine,
		Errors:        errorsHandler,
		Dispatcher:    store,
		Function:      cfg.Gateway.Function,
		DB:            store,
		Notifications: notifications,
		Logger:        logger.With("component", "api"),
	}
	server.Register(e, requireAuth)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(engine)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers), requireAuth)
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers), requireAuth)

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server. The write timeout stays off so SSE streams of the
	// MCP endpoint are not cut.
	httpServer := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     e,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		// Create shutdown context with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := httpServer.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection", "host", cfg.DB.Host, "name", cfg.DB.Name)

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
