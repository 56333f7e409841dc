package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/claimflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type API struct {
	logger   *slog.Logger
	engine   web.Engine
	gatherer prometheus.Gatherer
	validate *validator.Validate
	app      *fiber.App
}

func NewAPI(
	logger *slog.Logger,
	engine web.Engine,
	gatherer prometheus.Gatherer,
) *API {
	a := &API{
		logger:   logger,
		engine:   engine,
		gatherer: gatherer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	a.app = a.App()

	return a
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engine, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			_, ok := a.engine.HealthCheck(c.Context())

			return ok
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("claimflow API")
	})

	claims := app.Group("/claims")
	claims.Get("/", handlers.GetClaims)
	claims.Post("/", handlers.SubmitClaim)
	claims.Get("/:id/status", handlers.GetClaimStatus)
	claims.Get("/:id/history", handlers.GetClaimHistory)
	claims.Post("/:id/reprocess", handlers.ReprocessClaim)
	claims.Post("/:id/cancel", handlers.CancelClaim)

	app.Get("/metrics", handlers.GetMetrics)

	if a.gatherer != nil {
		app.Get("/metrics/prometheus", adaptor.HTTPHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))
	}

	app.Get("/health", handlers.HealthCheck)

	return app
}

// Start serves until Shutdown is called or the listener fails.
func (a *API) Start(port int) error {
	a.logger.Info("Starting claimflow API", "port", port)

	return a.app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.app.ShutdownWithContext(ctx)
}
