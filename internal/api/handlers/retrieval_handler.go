package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/draftwise/backend/internal/middleware/validation"
	"github.com/draftwise/backend/internal/retrieval"
)

type Retriever interface {
	Retrieve(ctx context.Context, query, scopeID string) (*retrieval.Result, error)
}

type RetrievalHandler struct {
	retriever Retriever
}

func NewRetrievalHandler(retriever Retriever) *RetrievalHandler {
	return &RetrievalHandler{retriever: retriever}
}

type retrieveRequest struct {
	Query   string `json:"query" validate:"required,max=5000"`
	ScopeID string `json:"scope_id" validate:"required,max=128"`
}

type retrievedChunk struct {
	ID          string  `json:"id"`
	ReferenceID string  `json:"reference_id"`
	ChunkIndex  int     `json:"chunk_index"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
	Vector      float64 `json:"vector_score"`
	Lexical     float64 `json:"lexical_score"`
}

func (h *RetrievalHandler) Retrieve(c *fiber.Ctx) error {
	var req retrieveRequest
	if err := validation.Bind(c, &req); err != nil {
		return badRequest(c, err)
	}

	res, err := h.retriever.Retrieve(c.UserContext(), req.Query, req.ScopeID)
	if err != nil {
		return errorResponse(c, err, "Failed to retrieve context")
	}

	chunks := make([]retrievedChunk, 0, len(res.Chunks))
	for _, ch := range res.Chunks {
		chunks = append(chunks, retrievedChunk{
			ID:          ch.ID,
			ReferenceID: ch.ReferenceID,
			ChunkIndex:  ch.ChunkIndex,
			Text:        ch.Text,
			Score:       ch.Score,
			Vector:      ch.VectorScore,
			Lexical:     ch.LexicalScore,
		})
	}

	return c.JSON(fiber.Map{
		"log_id":  res.LogID,
		"context": res.Context,
		"chunks":  chunks,
	})
}
