package main

import (
	"context"
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
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"agencyflow/backend/internal/api"
	"agencyflow/backend/internal/auth"
	"agencyflow/backend/internal/config"
	"agencyflow/backend/internal/engine"
	"agencyflow/backend/internal/integrations"
	"agencyflow/backend/internal/ledger"
	"agencyflow/backend/internal/logging"
	"agencyflow/backend/internal/mcp"
	"agencyflow/backend/internal/repository"
	"agencyflow/backend/internal/tls"
)

func main() {
	ctx := context.Background()

	// Initialize logging
	logger := logging.NewLogger()

	// Parse command line flags
	envFile := flag.String("env", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"okta_domain", cfg.Auth.OktaDomain,
		"config_file", viper.ConfigFileUsed(),
	)

	logger.Info("Starting AgencyFlow Workflow Service")

	// Initialize database connection
	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database: %v", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()

	logger.Info("Database connected")

	// Initialize repository and ledger layers
	store := repository.NewPostgresStore(dbPool)
	if err := store.Init(ctx); err != nil {
		logger.Error("Failed to initialize schema: %v", err)
		log.Fatalf("Schema initialization failed: %v", err)
	}
	credits := ledger.NewPostgresLedger(dbPool)
	if err := credits.Init(ctx); err != nil {
		logger.Error("Failed to initialize ledger schema: %v", err)
		log.Fatalf("Ledger schema initialization failed: %v", err)
	}

	// Integration adapters share one outbound client per provider so the
	// circuit breaker state is provider-wide.
	adapters := integrations.NewRegistry(
		integrations.NewDataForSEOAdapter(cfg.Integrations.DataForSEOBaseURL,
			integrations.NewClient("dataforseo", cfg.Integrations.HTTPTimeout)),
		integrations.NewOpenAIAdapter(cfg.Integrations.OpenAIBaseURL,
			integrations.NewClient("openai", cfg.Integrations.HTTPTimeout)),
		integrations.NewHTTPAdapter(
			integrations.NewClient("http", cfg.Integrations.HTTPTimeout)),
	)

	// Initialize the execution engine
	eng, err := engine.New(store, credits, adapters, logger, engine.Options{
		Retry: engine.RetryPolicy{
			MaxRetries:          cfg.Engine.MaxRetries,
			InitialInterval:     cfg.Engine.InitialBackoff,
			MaxInterval:         cfg.Engine.MaxBackoff,
			Multiplier:          2,
			RandomizationFactor: 0.3,
		},
		StepTimeout:   cfg.Engine.StepTimeout,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to initialize engine: %v", err)
		log.Fatalf("Engine initialization failed: %v", err)
	}

	logger.Info("Engine initialized",
		"max_concurrent", cfg.Engine.MaxConcurrent,
		"step_timeout", cfg.Engine.StepTimeout,
	)

	// Create Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("agencyflow-backend"))

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, store, logger)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		log.Fatalf("auth initialization failed: %v", err)
	}

	// Register auth handlers
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	// Mount REST API handlers under /api/v1 with auth middleware
	apiServer := api.NewServer(store, credits, adapters, eng)
	e.GET("/health", apiServer.HandleHealth)

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	apiServer.Register(apiGroup)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(store, credits, eng)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	addr := ":8080"
	if cfg.TLS.Enable {
		// use TLS port 8443
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			// ensure certificate exists if requested
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				httpErr := server.ListenAndServe()
				serverErrors <- httpErr
				return
			}
			// generate if missing and hostnames provided
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert", "error", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received: %v", sig)

		// Create shutdown context with timeout
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error: %v", err)
			}
		}

		// Let in-flight executions reach a step boundary before exit.
		eng.Wait()

		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
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
