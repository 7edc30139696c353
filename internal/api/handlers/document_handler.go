package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/draftwise/backend/internal/generation"
)

type CompletenessChecker interface {
	DocumentCompleteness(ctx context.Context, docID string) (*generation.Completeness, error)
}

type PreviewRenderer interface {
	Render(ctx context.Context, docID string) ([]byte, error)
}

type DocumentHandler struct {
	completeness CompletenessChecker
	preview      PreviewRenderer
}

func NewDocumentHandler(completeness CompletenessChecker, preview PreviewRenderer) *DocumentHandler {
	return &DocumentHandler{
		completeness: completeness,
		preview:      preview,
	}
}

func (h *DocumentHandler) Completeness(c *fiber.Ctx) error {
	res, err := h.completeness.DocumentCompleteness(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err, "Failed to check document")
	}
	return c.JSON(res)
}

func (h *DocumentHandler) Preview(c *fiber.Ctx) error {
	page, err := h.preview.Render(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err, "Failed to render preview")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(page)
}
