// Package main provides the Siteflow API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/dukex/siteflow/pkg/registry"
	"github.com/dukex/siteflow/pkg/services"
	"github.com/dukex/siteflow/pkg/web"
	"github.com/dukex/siteflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	engine      *workflow.Engine
	dispatcher  *workflow.Dispatcher
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	engine *workflow.Engine,
	dispatcher *workflow.Dispatcher,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		registry:    registry,
		engine:      engine,
		dispatcher:  dispatcher,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.logger, a.persistence, a.registry)
	executionService := services.NewExecution(a.logger, a.persistence, a.dispatcher, a.engine)

	handlers := web.NewAPIHandlers(workflowService, executionService, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Siteflow API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/run", handlers.RunWorkflow)
	w.Get("/:id/executions", handlers.GetWorkflowExecutions)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)

	app.Post("/sites/:siteId/events", handlers.DispatchEvent)
	app.Post("/sites/:siteId/webhook", handlers.ReceiveWebhook)
	app.Get("/actions", handlers.GetActions)
	app.Get("/health", handlers.HealthCheck)

	return app
}

// Serve listens on port until ctx is done, then stops accepting requests and
// waits up to grace for in-flight executions.
func (a *API) Serve(ctx context.Context, port int, grace time.Duration) error {
	app := a.App()

	errs := make(chan error, 1)

	go func() {
		errs <- app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	a.logger.InfoContext(ctx, "Siteflow API listening", "port", port)

	var serveErr error

	select {
	case serveErr = <-errs:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		a.logger.ErrorContext(shutdownCtx, "Failed to stop http server", "error", err)
	}

	if err := a.engine.Shutdown(shutdownCtx); err != nil {
		a.logger.WarnContext(shutdownCtx, "Executions still running at shutdown", "error", err)
	}

	return serveErr
}
