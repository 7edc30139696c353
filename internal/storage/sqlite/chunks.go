package sqlite

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/search/hybrid"
	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/pkg/logger"
)

func (c *Client) DeleteChunks(ctx context.Context, referenceID string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM reference_chunks WHERE reference_id = ?`, referenceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

func (c *Client) InsertChunk(ctx context.Context, chunk *models.Chunk) error {
	blob, err := encodeEmbedding(chunk.Embedding)
	if err != nil {
		return err
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now()
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO reference_chunks (id, reference_id, scope_id, chunk_index, text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		chunk.ID,
		chunk.ReferenceID,
		chunk.ScopeID,
		chunk.ChunkIndex,
		chunk.Text,
		blob,
		chunk.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

func (c *Client) CountChunks(ctx context.Context, referenceID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reference_chunks WHERE reference_id = ?`, referenceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (c *Client) ListChunks(ctx context.Context, referenceID string) ([]models.Chunk, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, reference_id, scope_id, chunk_index, text, embedding, created_at
		FROM reference_chunks WHERE reference_id = ? ORDER BY chunk_index
	`, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// SearchChunks ranks every chunk in the scope with the hybrid score.
func (c *Client) SearchChunks(ctx context.Context, scopeID, query string, embedding []float32, topK int) ([]models.ScoredChunk, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, reference_id, scope_id, chunk_index, text, embedding, created_at
		FROM reference_chunks WHERE scope_id = ?
	`, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.Chunk, len(chunks))
	candidates := make([]hybrid.Candidate, 0, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
		candidates = append(candidates, hybrid.Candidate{
			ID:          ch.ID,
			ReferenceID: ch.ReferenceID,
			Text:        ch.Text,
			Embedding:   ch.Embedding,
		})
	}

	ranked := hybrid.Rank(query, embedding, candidates, topK)
	out := make([]models.ScoredChunk, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, models.ScoredChunk{
			Chunk:        byID[r.ID],
			Score:        r.Score,
			VectorScore:  r.Vector,
			LexicalScore: r.Lexical,
		})
	}
	return out, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanChunks(rows rowScanner) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for rows.Next() {
		var ch models.Chunk
		var blob []byte
		var createdAt int64

		if err := rows.Scan(&ch.ID, &ch.ReferenceID, &ch.ScopeID, &ch.ChunkIndex, &ch.Text, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		emb, err := decodeEmbedding(blob)
		if err != nil {
			logger.Warn("Skipping chunk with undecodable embedding", zap.String("chunk_id", ch.ID), zap.Error(err))
			continue
		}
		ch.Embedding = emb
		ch.CreatedAt = time.Unix(createdAt, 0)
		chunks = append(chunks, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return chunks, nil
}

func encodeEmbedding(v []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("failed to encode embedding: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	v := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &v); err != nil {
		return nil, fmt.Errorf("failed to decode embedding: %w", err)
	}
	return v, nil
}
