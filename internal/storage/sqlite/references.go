package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/draftwise/backend/internal/storage/models"
)

func (c *Client) CreateReference(ctx context.Context, ref *models.Reference) error {
	now := time.Now()
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = now
	}
	ref.UpdatedAt = now

	query := `
		INSERT INTO reference_docs (id, scope_id, title, source_type, status, error, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scope_id = excluded.scope_id,
			title = excluded.title,
			source_type = excluded.source_type,
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at
	`

	_, err := c.db.ExecContext(ctx, query,
		ref.ID,
		ref.ScopeID,
		ref.Title,
		ref.SourceType,
		string(ref.Status),
		ref.Error,
		ref.ChunkCount,
		ref.CreatedAt.Unix(),
		ref.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create reference: %w", err)
	}
	return nil
}

func (c *Client) UpdateReferenceStatus(ctx context.Context, id string, status models.ReferenceStatus, errText string, chunkCount int) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE reference_docs SET status = ?, error = ?, chunk_count = ?, updated_at = ? WHERE id = ?`,
		string(status), errText, chunkCount, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update reference status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reference %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (c *Client) GetReference(ctx context.Context, id string) (*models.Reference, error) {
	query := `
		SELECT id, scope_id, title, source_type, status, error, chunk_count, created_at, updated_at
		FROM reference_docs WHERE id = ?
	`

	var ref models.Reference
	var title, sourceType, errText sql.NullString
	var status string
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&ref.ID,
		&ref.ScopeID,
		&title,
		&sourceType,
		&status,
		&errText,
		&ref.ChunkCount,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reference %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reference: %w", err)
	}

	ref.Title = title.String
	ref.SourceType = sourceType.String
	ref.Error = errText.String
	ref.Status = models.ReferenceStatus(status)
	ref.CreatedAt = time.Unix(createdAt, 0)
	ref.UpdatedAt = time.Unix(updatedAt, 0)

	return &ref, nil
}
