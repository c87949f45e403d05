// Package main provides the harvester API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/keylin/harvester/pkg/eventbus"
	"github.com/keylin/harvester/pkg/orchestrator"
	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/registry"
	"github.com/keylin/harvester/pkg/services"
	"github.com/keylin/harvester/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	orch := orchestrator.NewOrchestrator(a.logger, a.persistence, a.registry, a.eventBus)

	handlers := web.NewAPIHandlers(
		services.NewSource(a.logger, a.persistence, a.validate),
		services.NewTemplate(a.logger, a.persistence, a.registry),
		services.NewContent(a.logger, a.persistence, orch),
		services.NewExecution(a.logger, a.persistence, a.eventBus),
		a.persistence,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Harvester API")
	})

	s := app.Group("/sources")
	s.Get("/", handlers.ListSources)
	s.Post("/", handlers.CreateSource)
	s.Get("/:id", handlers.GetSource)
	s.Put("/:id", handlers.UpdateSource)
	s.Delete("/:id", handlers.DeleteSource)

	t := app.Group("/templates")
	t.Get("/", handlers.ListTemplates)
	t.Post("/", handlers.CreateTemplate)
	t.Get("/:id", handlers.GetTemplate)
	t.Put("/:id", handlers.UpdateTemplate)
	t.Delete("/:id", handlers.DeleteTemplate)

	app.Get("/step-types", handlers.GetStepTypes)

	c := app.Group("/content")
	c.Get("/", handlers.ListContent)
	c.Get("/:id", handlers.GetContent)
	c.Post("/:id/retrigger", handlers.RetriggerContent)
	c.Get("/:id/executions", handlers.ListContentExecutions)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)
	e.Post("/:id/pause", handlers.PauseExecution)
	e.Post("/:id/resume", handlers.ResumeExecution)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
