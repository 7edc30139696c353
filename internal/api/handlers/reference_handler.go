package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/ingestion"
	"github.com/draftwise/backend/internal/middleware/validation"
	"github.com/draftwise/backend/pkg/logger"
)

const maxUploadBytes = 25 << 20

type Ingester interface {
	Ingest(ctx context.Context, in ingestion.Input) (*ingestion.Report, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (ingestion.SourceType, *ingestion.Extracted, error)
}

type ReferenceHandler struct {
	ingester Ingester
	fetcher  Fetcher
}

func NewReferenceHandler(ingester Ingester, fetcher Fetcher) *ReferenceHandler {
	return &ReferenceHandler{ingester: ingester, fetcher: fetcher}
}

type referenceRequest struct {
	ReferenceID string `json:"reference_id" form:"reference_id" validate:"max=64,excludesall=/\\"`
	ScopeID     string `json:"scope_id" form:"scope_id" validate:"required,max=128"`
	Title       string `json:"title" form:"title" validate:"max=512"`
	Text        string `json:"text" form:"text"`
	URL         string `json:"url" form:"url" validate:"omitempty,url,max=2048"`
}

// Upload accepts a JSON body with text or a url, or a multipart form with a
// file. Re-uploading an existing reference_id replaces its chunks.
func (h *ReferenceHandler) Upload(c *fiber.Ctx) error {
	var req referenceRequest
	if err := validation.Bind(c, &req); err != nil {
		return badRequest(c, err)
	}

	in := ingestion.Input{
		ReferenceID: req.ReferenceID,
		ScopeID:     req.ScopeID,
		Title:       req.Title,
		SourceType:  ingestion.SourceText,
		Text:        strings.TrimSpace(req.Text),
	}
	if in.ReferenceID == "" {
		in.ReferenceID = uuid.New().String()
	}

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		if err := h.readFile(c, &in); err != nil {
			return badRequest(c, err)
		}
	}
	if in.Text == "" && req.URL != "" {
		sourceType, extracted, err := h.fetcher.Fetch(c.UserContext(), req.URL)
		if err != nil {
			logger.Warn("Failed to fetch reference", zap.String("url", req.URL), zap.Error(err))
			if errors.Is(err, ingestion.ErrBlockedAddress) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url is not allowed"})
			}
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "could not fetch url"})
		}
		in.SourceType = sourceType
		in.Text = extracted.Text
		if in.Title == "" {
			in.Title = extracted.Title
		}
	}
	if in.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text, url or file is required"})
	}

	report, err := h.ingester.Ingest(c.UserContext(), in)
	if err != nil {
		return errorResponse(c, err, "Failed to ingest reference")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":      "Reference ingested",
		"reference_id": report.ReferenceID,
		"chunks":       report.Stored,
		"failed":       report.Failed,
		"replaced":     report.Deleted,
	})
}

func (h *ReferenceHandler) readFile(c *fiber.Ctx, in *ingestion.Input) error {
	fh, err := c.FormFile("file")
	if err != nil {
		if in.Text != "" {
			return nil
		}
		return fmt.Errorf("file is required: %w", err)
	}
	if fh.Size > maxUploadBytes {
		return fmt.Errorf("file exceeds %d bytes", maxUploadBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}

	in.SourceType = ingestion.DetectSourceType(fh.Filename, fh.Header.Get(fiber.HeaderContentType))
	extracted, err := ingestion.Extract(in.SourceType, data)
	if err != nil {
		logger.Warn("Failed to extract reference text",
			zap.String("filename", fh.Filename),
			zap.String("source_type", string(in.SourceType)),
			zap.Error(err),
		)
		return fmt.Errorf("could not read %s: %w", fh.Filename, err)
	}

	in.Text = extracted.Text
	if in.Title == "" {
		in.Title = extracted.Title
	}
	if in.Title == "" {
		in.Title = fh.Filename
	}
	return nil
}
