package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/pkg/logger"
)

func (c *Client) InsertRetrievalLog(ctx context.Context, log *models.RetrievalLog) error {
	chunkIDs, err := json.Marshal(log.ChunkIDs)
	if err != nil {
		return fmt.Errorf("failed to encode chunk ids: %w", err)
	}
	if log.ChunkIDs == nil {
		chunkIDs = []byte("[]")
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO retrieval_logs (id, scope_id, query, retrieved_context, chunk_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		log.ID,
		log.ScopeID,
		log.Query,
		log.RetrievedContext,
		string(chunkIDs),
		log.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert retrieval log: %w", err)
	}

	logger.Debug("Retrieval logged",
		zap.String("log_id", log.ID),
		zap.String("scope_id", log.ScopeID),
		zap.Int("chunks", len(log.ChunkIDs)),
	)
	return nil
}

// SetRetrievalAnswer back-fills the final generated text for a retrieval.
func (c *Client) SetRetrievalAnswer(ctx context.Context, id, answer string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE retrieval_logs SET answer = ?, answered_at = ? WHERE id = ?`,
		answer, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to back-fill retrieval answer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("retrieval log %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (c *Client) GetRetrievalLog(ctx context.Context, id string) (*models.RetrievalLog, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, scope_id, query, retrieved_context, chunk_ids, answer, created_at, answered_at
		FROM retrieval_logs WHERE id = ?
	`, id)

	log, err := scanRetrievalLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("retrieval log %s: %w", id, models.ErrNotFound)
	}
	return log, err
}

// ListAnsweredLogs returns back-filled logs without an evaluation result yet.
func (c *Client) ListAnsweredLogs(ctx context.Context, limit int) ([]models.RetrievalLog, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT l.id, l.scope_id, l.query, l.retrieved_context, l.chunk_ids, l.answer, l.created_at, l.answered_at
		FROM retrieval_logs l
		LEFT JOIN evaluation_results e ON e.log_id = l.id
		WHERE l.answered_at IS NOT NULL AND e.id IS NULL
		ORDER BY l.answered_at
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list answered logs: %w", err)
	}
	defer rows.Close()

	var logs []models.RetrievalLog
	for rows.Next() {
		log, err := scanRetrievalLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate retrieval logs: %w", err)
	}
	return logs, nil
}

func (c *Client) InsertEvaluationResult(ctx context.Context, result *models.EvaluationResult) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO evaluation_results (log_id, context_similarity, lexical_overlap, classification, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		result.LogID,
		result.ContextSimilarity,
		result.LexicalOverlap,
		result.Classification,
		result.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation result: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRetrievalLog(s scanner) (*models.RetrievalLog, error) {
	var log models.RetrievalLog
	var chunkIDs string
	var answer sql.NullString
	var createdAt int64
	var answeredAt sql.NullInt64

	err := s.Scan(&log.ID, &log.ScopeID, &log.Query, &log.RetrievedContext, &chunkIDs, &answer, &createdAt, &answeredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan retrieval log: %w", err)
	}

	if err := json.Unmarshal([]byte(chunkIDs), &log.ChunkIDs); err != nil {
		logger.Warn("Undecodable chunk ids on retrieval log", zap.String("log_id", log.ID), zap.Error(err))
	}
	log.Answer = answer.String
	log.CreatedAt = time.Unix(createdAt, 0)
	if answeredAt.Valid {
		t := time.Unix(answeredAt.Int64, 0)
		log.AnsweredAt = &t
	}
	return &log, nil
}
