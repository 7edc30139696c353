package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/generation"
	"github.com/draftwise/backend/internal/middleware/validation"
	"github.com/draftwise/backend/pkg/logger"
)

type wsRequest struct {
	Type         string `json:"type" validate:"required,oneof=generate regenerate"`
	SessionID    string `json:"session_id" validate:"required,max=128"`
	Section      string `json:"section" validate:"required,max=256"`
	ProposalID   string `json:"proposal_id" validate:"max=128"`
	ConciseInput string `json:"concise_input" validate:"required_if=Type regenerate,max=4000"`
}

type wsFrame struct {
	Type    string                    `json:"type"`
	Content string                    `json:"content,omitempty"`
	Section string                    `json:"section,omitempty"`
	Result  *generation.SectionResult `json:"result,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

type WebSocketHandler struct {
	service SectionService
}

func NewWebSocketHandler(service SectionService) *WebSocketHandler {
	return &WebSocketHandler{service: service}
}

// HandleConnection serves generate and regenerate requests one at a time: a
// status frame, then a complete or error frame per request.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var req wsRequest
		if err := c.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		frame := h.process(context.Background(), req, func(f wsFrame) error { return c.WriteJSON(f) })
		if err := c.WriteJSON(frame); err != nil {
			logger.Error("Failed to write WebSocket frame", zap.Error(err))
			return
		}
	}
}

// process sends the status frame through status and returns the final frame.
func (h *WebSocketHandler) process(ctx context.Context, req wsRequest, status func(wsFrame) error) wsFrame {
	if err := validation.Struct(&req); err != nil {
		return wsFrame{Type: "error", Error: err.Error()}
	}

	if err := status(wsFrame{Type: "status", Section: req.Section, Content: "Generating section..."}); err != nil {
		logger.Warn("Failed to send status frame", zap.Error(err))
	}

	var (
		res *generation.SectionResult
		err error
	)
	if req.Type == "regenerate" {
		res, err = h.service.RegenerateSection(ctx, req.SessionID, req.Section, req.ConciseInput, req.ProposalID)
	} else {
		res, err = h.service.GenerateSection(ctx, req.SessionID, req.Section, req.ProposalID)
	}
	if err != nil {
		msg := "Failed to generate section"
		if statusFor(err) != fiber.StatusInternalServerError {
			msg = err.Error()
		} else {
			logger.Error(msg, zap.String("session_id", req.SessionID), zap.Error(err))
		}
		return wsFrame{Type: "error", Section: req.Section, Error: msg}
	}

	return wsFrame{Type: "complete", Section: req.Section, Result: res}
}
