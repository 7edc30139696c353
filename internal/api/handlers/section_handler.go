package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/draftwise/backend/internal/generation"
	"github.com/draftwise/backend/internal/middleware/validation"
)

type SectionService interface {
	GenerateSection(ctx context.Context, sessionID, sectionName, proposalID string) (*generation.SectionResult, error)
	RegenerateSection(ctx context.Context, sessionID, sectionName, conciseInput, proposalID string) (*generation.SectionResult, error)
}

type SectionHandler struct {
	service SectionService
}

func NewSectionHandler(service SectionService) *SectionHandler {
	return &SectionHandler{service: service}
}

type generateRequest struct {
	SessionID  string `json:"session_id" validate:"required,max=128"`
	Section    string `json:"section" validate:"required,max=256"`
	ProposalID string `json:"proposal_id" validate:"max=128"`
}

type regenerateRequest struct {
	generateRequest
	ConciseInput string `json:"concise_input" validate:"required,max=4000"`
}

// Generate answers 200 with the fallback text when the model pipeline fails;
// only configuration problems and unknown sessions are errors.
func (h *SectionHandler) Generate(c *fiber.Ctx) error {
	var req generateRequest
	if err := validation.Bind(c, &req); err != nil {
		return badRequest(c, err)
	}

	res, err := h.service.GenerateSection(c.UserContext(), req.SessionID, req.Section, req.ProposalID)
	if err != nil {
		return errorResponse(c, err, "Failed to generate section")
	}
	return c.JSON(res)
}

func (h *SectionHandler) Regenerate(c *fiber.Ctx) error {
	var req regenerateRequest
	if err := validation.Bind(c, &req); err != nil {
		return badRequest(c, err)
	}

	res, err := h.service.RegenerateSection(c.UserContext(), req.SessionID, req.Section, req.ConciseInput, req.ProposalID)
	if err != nil {
		return errorResponse(c, err, "Failed to regenerate section")
	}
	return c.JSON(res)
}
