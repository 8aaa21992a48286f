package main

import (
	"context"
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
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"

	"seasonplan/backend/internal/api"
	"seasonplan/backend/internal/config"
	"seasonplan/backend/internal/events"
	"seasonplan/backend/internal/ingest"
	"seasonplan/backend/internal/logging"
	"seasonplan/backend/internal/mcp"
	"seasonplan/backend/internal/orchestrator"
	"seasonplan/backend/internal/pipeline"
	"seasonplan/backend/internal/repository"
	"seasonplan/backend/internal/tlsutil"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "seasonplan-server",
		Short: "Season planning pipeline service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to config file")

	if err := root.Execute(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(cfg.Server.LogLevel)
	logger.Info("starting season planning service", "addr", cfg.Server.Addr, "tls", cfg.TLS.Enable)

	// Initialize the workflow store; with no database host configured the
	// service runs entirely in memory.
	var store repository.WorkflowStore
	if cfg.DB.Host != "" {
		pool, err := initDatabase(ctx, cfg)
		if err != nil {
			return fmt.Errorf("database initialization failed: %w", err)
		}
		defer pool.Close()

		pgStore := repository.NewPostgresWorkflowStore(pool)
		if err := pgStore.Migrate(ctx); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		store = pgStore
		logger.Info("database connected", "host", cfg.DB.Host, "name", cfg.DB.Name)
	} else {
		store = repository.NewMemoryWorkflowStore()
		logger.Info("using in-memory workflow store")
	}

	hub := events.NewHub(events.WithMeter(otel.Meter("seasonplan")))
	orch := orchestrator.New(store, hub, pipeline.Default(),
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(otel.Tracer("seasonplan")),
		orchestrator.WithAgentTimeout(cfg.Pipeline.AgentTimeout),
	)
	validator := ingest.NewValidator(cfg.Upload.MaxBytes)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	e.Use(otelecho.Middleware("seasonplan"))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	apiServer := api.NewServer(orch, hub, validator, logger)
	e.GET("/healthz", apiServer.HandleHealth)

	apiGroup := e.Group("/api/v1")
	apiServer.RegisterRoutes(apiGroup)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(orch)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
	e.Any("/mcp", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	server := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     e,
		ReadTimeout: 15 * time.Second,
		// SSE responses stay open until the workflow is terminal; no write
		// timeout on purpose.
		IdleTimeout: 60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		if cfg.TLS.Enable {
			if err := tlsutil.EnsureServerCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
				serverErrors <- fmt.Errorf("failed to prepare TLS material: %w", err)
				return
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("server close error", "error", err)
			}
		}
		logger.Info("server stopped gracefully")
	}
	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
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

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
