// Package web provides the HTTP handlers of the claim intake API.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Engine is the part of the workflow engine the handlers drive.
type Engine interface {
	Submit(ctx context.Context, claim models.ClaimContext, opts ...workflow.SubmitOption) (*workflow.Handle, error)
	Reprocess(ctx context.Context, claimID string) (*workflow.Handle, error)
	Status(ctx context.Context, claimID string) (models.WorkflowRecord, error)
	History(ctx context.Context, claimID string) ([]models.WorkflowRecord, error)
	List(ctx context.Context, filter workflow.Filter) ([]models.WorkflowRecord, int, error)
	Cancel(ctx context.Context, claimID string) error
	Metrics() models.AggregateMetrics
	HealthCheck(ctx context.Context) (string, bool)
}

type APIHandlers struct {
	engine    Engine
	validator *validator.Validate
	now       func() time.Time
}

func NewAPIHandlers(engine Engine, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		validator: validator,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *APIHandlers) SubmitClaim(c fiber.Ctx) error {
	var req SubmitClaimRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	handle, err := h.engine.Submit(c.Context(), req.ToClaim(h.now()))
	if err != nil {
		return handleEngineError(c, err)
	}

	return accepted(c, handle)
}

func (h *APIHandlers) ReprocessClaim(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Claim ID is required")
	}

	handle, err := h.engine.Reprocess(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return accepted(c, handle)
}

func accepted(c fiber.Ctx, handle *workflow.Handle) error {
	record := handle.Status()

	return c.Status(fiber.StatusAccepted).JSON(SubmitClaimResponse{
		ClaimID:    record.ClaimID,
		WorkflowID: record.WorkflowID,
		Status:     record.Status,
		Strategy:   record.Strategy,
		TotalSteps: record.TotalSteps,
		StatusURL:  "/claims/" + record.ClaimID + "/status",
	})
}

func (h *APIHandlers) GetClaims(c fiber.Ctx) error {
	var req ListClaimsRequest
	if err := c.Bind().Query(&req); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	records, total, err := h.engine.List(c.Context(), workflow.Filter{
		Status:   models.WorkflowStatus(req.Status),
		Strategy: models.Strategy(req.Strategy),
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	claims := make([]ClaimSummary, 0, len(records))
	for _, record := range records {
		claims = append(claims, TransformClaimSummary(record))
	}

	return c.JSON(fiber.Map{
		"claims":        claims,
		"total_count":   total,
		"has_next_page": req.Limit > 0 && req.Offset+len(claims) < total,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

func (h *APIHandlers) GetClaimStatus(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Claim ID is required")
	}

	record, err := h.engine.Status(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) GetClaimHistory(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Claim ID is required")
	}

	records, err := h.engine.History(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"claim_id": id,
		"records":  records,
	})
}

func (h *APIHandlers) CancelClaim(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Claim ID is required")
	}

	if err := h.engine.Cancel(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"claim_id": id,
		"message":  "cancellation requested",
	})
}

func (h *APIHandlers) GetMetrics(c fiber.Ctx) error {
	return c.JSON(newMetricsResponse(h.engine.Metrics()))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.engine.HealthCheck(c.Context())

	status := "unhealthy"
	message := "claimflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "claimflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"in_flight": h.engine.Metrics().InFlight,
		"timestamp": h.now(),
	})
}
