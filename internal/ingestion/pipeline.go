// Package ingestion turns reference text into sentence-aligned chunks with
// embeddings computed by a bounded worker pool.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/draftwise/backend/internal/metrics"
	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/pkg/logger"
)

const DefaultWorkers = 5

var ErrNoContent = errors.New("reference has no extractable text")

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type ChunkWriter interface {
	DeleteChunks(ctx context.Context, referenceID string) (int64, error)
	InsertChunk(ctx context.Context, chunk *models.Chunk) error
}

type ReferenceStore interface {
	CreateReference(ctx context.Context, ref *models.Reference) error
	UpdateReferenceStatus(ctx context.Context, id string, status models.ReferenceStatus, errText string, chunkCount int) error
}

type Input struct {
	ReferenceID string
	ScopeID     string
	Title       string
	SourceType  SourceType
	Text        string
}

type Report struct {
	ReferenceID string
	Deleted     int64
	Produced    int
	Stored      int
	Failed      int
	Duration    time.Duration
}

type Pipeline struct {
	embedder   Embedder
	chunks     ChunkWriter
	references ReferenceStore
	chunkSize  int
	workers    int
}

func NewPipeline(embedder Embedder, chunks ChunkWriter, references ReferenceStore, chunkSize, workers int) *Pipeline {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pipeline{
		embedder:   embedder,
		chunks:     chunks,
		references: references,
		chunkSize:  chunkSize,
		workers:    workers,
	}
}

// Ingest replaces every chunk of the reference with freshly embedded ones.
// Chunks are stored as their embeddings complete, in no particular order. A
// chunk whose embedding or insert fails is skipped; only a failure of the
// whole run marks the reference as errored.
func (p *Pipeline) Ingest(ctx context.Context, in Input) (*Report, error) {
	start := time.Now()
	log := logger.GetLogger().With(zap.String("reference_id", in.ReferenceID))

	if in.ReferenceID == "" || in.ScopeID == "" {
		return nil, fmt.Errorf("reference id and scope id are required")
	}

	ref := &models.Reference{
		ID:         in.ReferenceID,
		ScopeID:    in.ScopeID,
		Title:      in.Title,
		SourceType: string(in.SourceType),
		Status:     models.ReferenceProcessing,
	}
	if err := p.references.CreateReference(ctx, ref); err != nil {
		return nil, fmt.Errorf("failed to register reference: %w", err)
	}

	report, err := p.run(ctx, log, in)
	if report == nil {
		report = &Report{ReferenceID: in.ReferenceID}
	}
	report.Duration = time.Since(start)

	status, errText := models.ReferenceReady, ""
	if err != nil {
		status, errText = models.ReferenceError, err.Error()
	}
	// The run may have been cancelled; the status write must still land.
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if uerr := p.references.UpdateReferenceStatus(statusCtx, in.ReferenceID, status, errText, report.Stored); uerr != nil {
		log.Error("Failed to update reference status", zap.Error(uerr))
	}
	metrics.ReferencesProcessed.WithLabelValues(string(status)).Inc()

	if err != nil {
		log.Error("Reference ingestion failed", zap.Error(err))
		return report, err
	}

	log.Info("Reference ingested",
		zap.Int64("replaced", report.Deleted),
		zap.Int("produced", report.Produced),
		zap.Int("stored", report.Stored),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, in Input) (*Report, error) {
	report := &Report{ReferenceID: in.ReferenceID}

	deleted, err := p.chunks.DeleteChunks(ctx, in.ReferenceID)
	if err != nil {
		return report, fmt.Errorf("failed to delete previous chunks: %w", err)
	}
	report.Deleted = deleted

	texts, err := Chunk(in.Text, p.chunkSize)
	if err != nil {
		return report, err
	}
	if len(texts) == 0 {
		return report, ErrNoContent
	}
	report.Produced = len(texts)

	var stored, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(p.workers)

	for i, text := range texts {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			embedding, err := p.embedder.Embed(ctx, text)
			if err != nil {
				failed.Add(1)
				metrics.ChunksIngested.WithLabelValues("embed_failed").Inc()
				log.Warn("Skipping chunk, embedding failed", zap.Int("chunk_index", i), zap.Error(err))
				return nil
			}

			chunk := &models.Chunk{
				ID:          fmt.Sprintf("%s_chunk_%d", in.ReferenceID, i),
				ReferenceID: in.ReferenceID,
				ScopeID:     in.ScopeID,
				ChunkIndex:  i,
				Text:        text,
				Embedding:   embedding,
				CreatedAt:   time.Now(),
			}
			if err := p.chunks.InsertChunk(ctx, chunk); err != nil {
				failed.Add(1)
				metrics.ChunksIngested.WithLabelValues("store_failed").Inc()
				log.Warn("Skipping chunk, insert failed", zap.Int("chunk_index", i), zap.Error(err))
				return nil
			}

			stored.Add(1)
			metrics.ChunksIngested.WithLabelValues("stored").Inc()
			return nil
		})
	}
	_ = g.Wait()

	report.Stored = int(stored.Load())
	report.Failed = int(failed.Load())

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("ingestion interrupted: %w", err)
	}
	return report, nil
}
