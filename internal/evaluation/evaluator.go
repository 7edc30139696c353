// Package evaluation scores back-filled retrieval logs offline: how closely
// does the final section text follow the context it was grounded on.
package evaluation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/search/hybrid"
	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/pkg/logger"
)

const (
	Grounded          = "grounded"
	PartiallyGrounded = "partially_grounded"
	Ungrounded        = "ungrounded"
)

// Thresholds for classify. A log is grounded only when both signals agree.
const (
	groundedSimilarity = 0.75
	groundedOverlap    = 0.5
	partialSimilarity  = 0.5
	partialOverlap     = 0.25
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type LogStore interface {
	ListAnsweredLogs(ctx context.Context, limit int) ([]models.RetrievalLog, error)
	InsertEvaluationResult(ctx context.Context, result *models.EvaluationResult) error
}

type Evaluator struct {
	logs     LogStore
	embedder Embedder
}

type Report struct {
	Total                int
	GroundedCount        int
	PartialCount         int
	UngroundedCount      int
	Failed               int
	AvgSimilarity        float64
	AvgOverlap           float64
	GroundedPercentage   float64
	PartialPercentage    float64
	UngroundedPercentage float64
}

func NewEvaluator(logs LogStore, embedder Embedder) *Evaluator {
	return &Evaluator{
		logs:     logs,
		embedder: embedder,
	}
}

// EvaluateLog scores one log. It does not persist the result.
func (e *Evaluator) EvaluateLog(ctx context.Context, log models.RetrievalLog) (*models.EvaluationResult, error) {
	result := &models.EvaluationResult{LogID: log.ID}

	if log.RetrievedContext == "" || log.Answer == "" {
		result.Classification = Ungrounded
		return result, nil
	}

	sim, err := e.similarity(ctx, log.RetrievedContext, log.Answer)
	if err != nil {
		return nil, err
	}
	result.ContextSimilarity = sim
	result.LexicalOverlap = LexicalOverlap(log.RetrievedContext, log.Answer)
	result.Classification = Classify(result.ContextSimilarity, result.LexicalOverlap)
	return result, nil
}

// Run evaluates up to limit answered logs that have no result yet and stores
// a result for each one it could score.
func (e *Evaluator) Run(ctx context.Context, limit int) (*Report, error) {
	logs, err := e.logs.ListAnsweredLogs(ctx, limit)
	if err != nil {
		return nil, err
	}
	logger.Info("Running retrieval evaluation", zap.Int("logs", len(logs)))

	report := &Report{}
	var totalSim, totalOverlap float64

	for i, l := range logs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := e.EvaluateLog(ctx, l)
		if err != nil {
			logger.Error("Failed to evaluate retrieval log", zap.String("log_id", l.ID), zap.Error(err))
			report.Failed++
			continue
		}
		if err := e.logs.InsertEvaluationResult(ctx, result); err != nil {
			logger.Error("Failed to store evaluation result", zap.String("log_id", l.ID), zap.Error(err))
			report.Failed++
			continue
		}

		report.Total++
		switch result.Classification {
		case Grounded:
			report.GroundedCount++
		case PartiallyGrounded:
			report.PartialCount++
		default:
			report.UngroundedCount++
		}
		totalSim += result.ContextSimilarity
		totalOverlap += result.LexicalOverlap

		logger.Debug("Log evaluated",
			zap.Int("index", i+1),
			zap.String("log_id", l.ID),
			zap.String("classification", result.Classification),
		)
	}

	if report.Total > 0 {
		n := float64(report.Total)
		report.AvgSimilarity = totalSim / n
		report.AvgOverlap = totalOverlap / n
		report.GroundedPercentage = float64(report.GroundedCount) / n * 100
		report.PartialPercentage = float64(report.PartialCount) / n * 100
		report.UngroundedPercentage = float64(report.UngroundedCount) / n * 100
	}

	logger.Info("Retrieval evaluation completed",
		zap.Int("total", report.Total),
		zap.Int("grounded", report.GroundedCount),
		zap.Int("partially_grounded", report.PartialCount),
		zap.Int("ungrounded", report.UngroundedCount),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (e *Evaluator) similarity(ctx context.Context, a, b string) (float64, error) {
	embA, err := e.embedder.Embed(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("failed to embed context: %w", err)
	}
	embB, err := e.embedder.Embed(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("failed to embed answer: %w", err)
	}
	return hybrid.CosineSimilarity(embA, embB), nil
}

// LexicalOverlap is the share of the answer's distinct terms that also occur
// in the context.
func LexicalOverlap(retrieved, answer string) float64 {
	terms := hybrid.Terms(answer)
	if len(terms) == 0 {
		return 0
	}
	present := make(map[string]bool)
	for _, tok := range hybrid.Tokenize(retrieved) {
		present[tok] = true
	}
	hits := 0
	for _, t := range terms {
		if present[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func Classify(similarity, overlap float64) string {
	switch {
	case similarity >= groundedSimilarity && overlap >= groundedOverlap:
		return Grounded
	case similarity >= partialSimilarity || overlap >= partialOverlap:
		return PartiallyGrounded
	default:
		return Ungrounded
	}
}

func (r *Report) String() string {
	return fmt.Sprintf(`
Retrieval Evaluation Report
===========================

Evaluated logs: %d (failed: %d)

Classifications:
- Grounded: %d (%.1f%%)
- Partially grounded: %d (%.1f%%)
- Ungrounded: %d (%.1f%%)

Average context similarity: %.3f
Average lexical overlap: %.3f
`,
		r.Total, r.Failed,
		r.GroundedCount, r.GroundedPercentage,
		r.PartialCount, r.PartialPercentage,
		r.UngroundedCount, r.UngroundedPercentage,
		r.AvgSimilarity,
		r.AvgOverlap,
	)
}
