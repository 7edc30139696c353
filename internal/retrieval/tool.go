// Package retrieval implements the research tool writers use for grounding:
// hybrid search over a scope's reference chunks, with every retrieval logged.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/metrics"
	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/pkg/logger"
)

const (
	MinTopK = 5
	MaxTopK = 10
)

var ErrScopeRequired = errors.New("retrieval scope is required")

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type ChunkStore interface {
	SearchChunks(ctx context.Context, scopeID, query string, embedding []float32, topK int) ([]models.ScoredChunk, error)
}

type LogStore interface {
	InsertRetrievalLog(ctx context.Context, log *models.RetrievalLog) error
	SetRetrievalAnswer(ctx context.Context, id, answer string) error
}

type Result struct {
	// LogID is empty when the retrieval log could not be written.
	LogID   string
	Chunks  []models.ScoredChunk
	Context string
}

type Tool struct {
	embedder Embedder
	chunks   ChunkStore
	logs     LogStore
	topK     int
}

func NewTool(embedder Embedder, chunks ChunkStore, logs LogStore, topK int) *Tool {
	return &Tool{
		embedder: embedder,
		chunks:   chunks,
		logs:     logs,
		topK:     ClampTopK(topK),
	}
}

func ClampTopK(k int) int {
	if k < MinTopK {
		return MinTopK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}

// Retrieve ranks the scope's chunks against query. An empty corpus yields an
// empty Context and no error.
func (t *Tool) Retrieve(ctx context.Context, query, scopeID string) (*Result, error) {
	if strings.TrimSpace(scopeID) == "" {
		return nil, ErrScopeRequired
	}
	start := time.Now()

	embedding, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := t.chunks.SearchChunks(ctx, scopeID, query, embedding, t.topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	result := &Result{
		Chunks:  chunks,
		Context: FormatContext(chunks),
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	entry := &models.RetrievalLog{
		ID:               uuid.New().String(),
		ScopeID:          scopeID,
		Query:            query,
		RetrievedContext: result.Context,
		ChunkIDs:         ids,
	}
	if err := t.logs.InsertRetrievalLog(ctx, entry); err != nil {
		logger.Warn("Failed to write retrieval log", zap.String("scope_id", scopeID), zap.Error(err))
	} else {
		result.LogID = entry.ID
	}

	metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	metrics.RetrievalResultsCount.Observe(float64(len(chunks)))

	logger.Info("Retrieval completed",
		zap.String("scope_id", scopeID),
		zap.Int("chunks", len(chunks)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// RecordAnswer back-fills the final generated text onto a retrieval log.
func (t *Tool) RecordAnswer(ctx context.Context, logID, answer string) error {
	if logID == "" {
		return nil
	}
	return t.logs.SetRetrievalAnswer(ctx, logID, answer)
}

// FormatContext concatenates chunks with their source attribution.
func FormatContext(chunks []models.ScoredChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[%d] (source: %s, chunk %d, score %.3f)\n%s",
			i+1, c.ReferenceID, c.ChunkIndex, c.Score, strings.TrimSpace(c.Text))
	}
	return strings.Join(parts, "\n\n")
}
