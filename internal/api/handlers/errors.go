package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/generation"
	"github.com/draftwise/backend/internal/ingestion"
	"github.com/draftwise/backend/internal/retrieval"
	"github.com/draftwise/backend/internal/session"
	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/internal/template"
	"github.com/draftwise/backend/pkg/logger"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, models.ErrNotFound),
		errors.Is(err, template.ErrTemplateNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, template.ErrSectionNotFound),
		errors.Is(err, retrieval.ErrScopeRequired),
		errors.Is(err, generation.ErrDocumentRequired):
		return fiber.StatusBadRequest
	case errors.Is(err, template.ErrTemplateInvalid),
		errors.Is(err, ingestion.ErrNoContent):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// errorResponse hides internal errors behind a generic message and passes
// client errors through.
func errorResponse(c *fiber.Ctx, err error, internalMsg string) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		logger.Error(internalMsg, zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(fiber.Map{"error": internalMsg})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}
