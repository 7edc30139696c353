package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"

	"github.com/draftwise/backend/internal/search/hybrid"
	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/pkg/utils"
)

type ChunkRecord struct {
	ID          string            `gorm:"type:varchar(128);primaryKey"`
	ReferenceID string            `gorm:"type:varchar(64);not null;index"`
	ScopeID     string            `gorm:"type:varchar(128);not null;index"`
	ChunkIndex  int               `gorm:"default:0"`
	Text        string            `gorm:"type:text"`
	Embedding   pgvector.Vector   `gorm:"type:vector"`
	Stats       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"autoCreateTime"`
}

func (ChunkRecord) TableName() string {
	return "reference_chunks"
}

type scoredRecord struct {
	ChunkRecord
	VectorScore  float64
	LexicalScore float64
	Score        float64
}

func toRecord(ch *models.Chunk) *ChunkRecord {
	return &ChunkRecord{
		ID:          ch.ID,
		ReferenceID: ch.ReferenceID,
		ScopeID:     ch.ScopeID,
		ChunkIndex:  ch.ChunkIndex,
		Text:        ch.Text,
		Embedding:   pgvector.NewVector(ch.Embedding),
		Stats: datatypes.JSONMap{
			"words": utils.CountWords(ch.Text),
			"chars": utils.CountChars(ch.Text),
		},
		CreatedAt: ch.CreatedAt,
	}
}

func (r *ChunkRecord) toChunk() models.Chunk {
	return models.Chunk{
		ID:          r.ID,
		ReferenceID: r.ReferenceID,
		ScopeID:     r.ScopeID,
		ChunkIndex:  r.ChunkIndex,
		Text:        r.Text,
		Embedding:   r.Embedding.Slice(),
		CreatedAt:   r.CreatedAt,
	}
}

func (c *Client) DeleteChunks(ctx context.Context, referenceID string) (int64, error) {
	res := c.db.WithContext(ctx).Where("reference_id = ?", referenceID).Delete(&ChunkRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (c *Client) InsertChunk(ctx context.Context, chunk *models.Chunk) error {
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now()
	}
	if err := c.db.WithContext(ctx).Create(toRecord(chunk)).Error; err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

// searchSQL blends cosine similarity with ts_rank. plainto_tsquery ANDs the
// query terms, so a chunk missing any term gets a lexical score of zero.
const searchSQL = `
SELECT *, ? * vector_score + ? * lexical_score AS score
FROM (
	SELECT c.*,
		1 - (c.embedding <=> ?) AS vector_score,
		CASE WHEN to_tsvector('english', c.text) @@ q.query
			THEN ts_rank(to_tsvector('english', c.text), q.query)
			ELSE 0 END AS lexical_score
	FROM reference_chunks c, plainto_tsquery('english', ?) AS q(query)
	WHERE c.scope_id = ?
) ranked
ORDER BY score DESC, id
LIMIT ?`

func (c *Client) SearchChunks(ctx context.Context, scopeID, query string, embedding []float32, topK int) ([]models.ScoredChunk, error) {
	var rows []scoredRecord
	err := c.db.WithContext(ctx).Raw(searchSQL,
		hybrid.VectorWeight, hybrid.LexicalWeight,
		pgvector.NewVector(embedding), query, scopeID, topK,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	out := make([]models.ScoredChunk, 0, len(rows))
	for i := range rows {
		out = append(out, models.ScoredChunk{
			Chunk:        rows[i].toChunk(),
			Score:        rows[i].Score,
			VectorScore:  rows[i].VectorScore,
			LexicalScore: rows[i].LexicalScore,
		})
	}
	return out, nil
}
