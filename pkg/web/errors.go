package web

import (
	"errors"

	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("claim_not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, problemType string, err error) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(err.Error())

	return c.Status(fiber.StatusConflict).JSON(problem)
}

// handleEngineError maps workflow engine errors onto problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case workflow.IsValidation(err), errors.Is(err, persistence.ErrInvalidIdentifier):
		return badRequest(c, err.Error())

	case workflow.IsDuplicate(err):
		return conflict(c, "duplicate_submission", err)

	case errors.Is(err, workflow.ErrAlreadyTerminal):
		return conflict(c, "already_terminal", err)

	case workflow.IsNotFound(err):
		return notFound(c, "claim not found")

	case errors.Is(err, workflow.ErrEngineClosed):
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("engine_closed").
			WithDetail("the engine is shutting down")

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	default:
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
