package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/draftwise/backend/internal/generation"
	"github.com/draftwise/backend/internal/middleware/validation"
	"github.com/draftwise/backend/internal/session"
)

type SessionService interface {
	StoreBaseData(ctx context.Context, in generation.BaseData) (*session.Session, error)
	GetBaseData(ctx context.Context, sessionID string) (*session.Session, error)
	PatchBaseData(ctx context.Context, sessionID string, formData map[string]string, description *string) (*session.Session, error)
}

type SessionHandler struct {
	service SessionService
}

func NewSessionHandler(service SessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

type createSessionRequest struct {
	FormData           map[string]string `json:"form_data"`
	ProjectDescription string            `json:"project_description" validate:"max=20000"`
	TemplateRef        string            `json:"template_ref" validate:"required,max=128"`
	OwnerID            string            `json:"owner_id" validate:"max=128"`
	DocumentID         string            `json:"document_id" validate:"max=128"`
	ScopeID            string            `json:"scope_id" validate:"max=128"`
}

type patchSessionRequest struct {
	FormData           map[string]string `json:"form_data"`
	ProjectDescription *string           `json:"project_description" validate:"omitempty,max=20000"`
}

func (h *SessionHandler) Create(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := validation.Bind(c, &req); err != nil {
		return badRequest(c, err)
	}

	sess, err := h.service.StoreBaseData(c.UserContext(), generation.BaseData{
		FormData:           req.FormData,
		ProjectDescription: req.ProjectDescription,
		TemplateRef:        req.TemplateRef,
		OwnerID:            req.OwnerID,
		DocumentID:         req.DocumentID,
		ScopeID:            req.ScopeID,
	})
	if err != nil {
		return errorResponse(c, err, "Failed to store base data")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":    "Base data stored",
		"session_id": sess.ID,
	})
}

func (h *SessionHandler) Get(c *fiber.Ctx) error {
	sess, err := h.service.GetBaseData(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err, "Failed to load session")
	}
	return c.JSON(sess)
}

func (h *SessionHandler) Patch(c *fiber.Ctx) error {
	var req patchSessionRequest
	if err := validation.Bind(c, &req); err != nil {
		return badRequest(c, err)
	}

	sess, err := h.service.PatchBaseData(c.UserContext(), c.Params("id"), req.FormData, req.ProjectDescription)
	if err != nil {
		return errorResponse(c, err, "Failed to update session")
	}
	return c.JSON(sess)
}
