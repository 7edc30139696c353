package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/draftwise/backend/internal/template"
)

type TemplateLoader interface {
	Load(name string) (*template.Template, error)
}

type TemplateHandler struct {
	templates TemplateLoader
}

func NewTemplateHandler(templates TemplateLoader) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

func (h *TemplateHandler) Get(c *fiber.Ctx) error {
	tpl, err := h.templates.Load(c.Params("name"))
	if err != nil {
		return errorResponse(c, err, "Failed to load template")
	}
	return c.JSON(tpl)
}
