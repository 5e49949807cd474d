package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admissions-workflow/backend/internal/api"
	"admissions-workflow/backend/internal/app"
	"admissions-workflow/backend/internal/auth"
	"admissions-workflow/backend/internal/config"
	"admissions-workflow/backend/internal/logging"
	"admissions-workflow/backend/internal/mcp"
	"admissions-workflow/backend/internal/services"
	"admissions-workflow/backend/internal/telemetry"
	"admissions-workflow/backend/internal/tls"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

const serviceName = "admissions-workflow"

func newServeCommand(c *cli) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, MCP endpoint and docs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), c.cfg, c.logger, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply the database schema on startup")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger, migrate bool) error {
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"storage", cfg.Storage.Driver,
		"okta_domain", cfg.Auth.OktaDomain,
		"okta_client_id", cfg.Auth.ClientID,
		"swagger_client_id", cfg.Auth.SwaggerClientID,
	)
	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger client id matches the backend client id; PKCE login from /docs will fail if the backend app requires a secret")
	}

	backend, err := app.Open(ctx, cfg, logger, migrate)
	if err != nil {
		return err
	}
	defer backend.Close()

	recorders, err := app.NewRecorders(cfg, backend, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := recorders.Close(); err != nil {
			logger.Warn("failed to close history sinks", "error", err)
		}
	}()

	metrics, err := telemetry.NewGlobalMetrics()
	if err != nil {
		return err
	}

	repo := backend.Graph(logger, cfg.Storage.CacheTTL)
	workflows := services.NewWorkflowService(repo, logger, metrics)
	engine := services.NewTransitionEngine(repo, recorders.Recorder, logger, metrics)
	logger.Info("Service layer initialized")

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	handler := api.NewHandler(backend.Store)
	e.GET("/health", handler.HandleHealth)

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, api.NewServer(repo, workflows, engine, recorders.Reader, logger), handler)
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(repo, workflows, engine, recorders.Reader, logger)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	mcpHandler := echo.WrapHandler(authz.RequireAuth(mcpHandlers))
	e.Any("/mcp", mcpHandler)
	e.Any("/mcp/*", mcpHandler)
	logger.Info("MCP protocol handlers mounted")

	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.OktaDomain, cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(api.OAuthRedirectHandler)))

	if cfg.TLS.Enable {
		created, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return err
		}
		if created {
			logger.Warn("generated self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable, "version", api.Version)
		if cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}
		logger.Info("Server stopped gracefully")
	}
	return nil
}
