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

// EnsureDocument creates the document row if it does not exist yet. An
// existing row keeps its sections and version; its form data is replaced.
func (c *Client) EnsureDocument(ctx context.Context, doc *models.Document) error {
	formData, err := json.Marshal(orEmpty(doc.FormData))
	if err != nil {
		return fmt.Errorf("failed to encode form data: %w", err)
	}
	sections, err := models.EncodeSections(doc.GeneratedSections)
	if err != nil {
		return err
	}

	status := doc.Status
	if status == "" {
		status = models.DocumentDraft
	}
	now := time.Now().Unix()

	query := `
		INSERT INTO documents (id, owner_id, template_ref, form_data, generated_sections, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			form_data = excluded.form_data,
			template_ref = COALESCE(NULLIF(excluded.template_ref, ''), documents.template_ref),
			updated_at = excluded.updated_at
	`

	_, err = c.db.ExecContext(ctx, query,
		doc.ID,
		doc.OwnerID,
		doc.TemplateRef,
		string(formData),
		sections,
		string(status),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure document: %w", err)
	}

	logger.Debug("Document ensured", zap.String("doc_id", doc.ID))
	return nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query := `
		SELECT id, owner_id, template_ref, form_data, generated_sections, status, version, created_at, updated_at
		FROM documents WHERE id = ?
	`

	var doc models.Document
	var ownerID, templateRef sql.NullString
	var formData, sections, status string
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID,
		&ownerID,
		&templateRef,
		&formData,
		&sections,
		&status,
		&doc.Version,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.OwnerID = ownerID.String
	doc.TemplateRef = templateRef.String
	doc.Status = models.DocumentStatus(status)
	doc.GeneratedSections = decodeSections(id, sections)
	doc.FormData = map[string]string{}
	if err := json.Unmarshal([]byte(formData), &doc.FormData); err != nil {
		logger.Warn("Undecodable form data, using empty map", zap.String("doc_id", id), zap.Error(err))
		doc.FormData = map[string]string{}
	}
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)

	return &doc, nil
}

// GetSections returns the generated sections map and the version it was read at.
func (c *Client) GetSections(ctx context.Context, docID string) (map[string]string, int64, error) {
	var raw string
	var version int64

	err := c.db.QueryRowContext(ctx,
		`SELECT generated_sections, version FROM documents WHERE id = ?`, docID,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("document %s: %w", docID, models.ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get sections: %w", err)
	}

	return decodeSections(docID, raw), version, nil
}

// SetSections writes the whole map if the row is still at version. It
// returns models.ErrVersionConflict when another writer got there first.
func (c *Client) SetSections(ctx context.Context, docID string, sections map[string]string, version int64, status models.DocumentStatus) error {
	raw, err := models.EncodeSections(sections)
	if err != nil {
		return err
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE documents
		SET generated_sections = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, raw, string(status), time.Now().Unix(), docID, version)
	if err != nil {
		return fmt.Errorf("failed to set sections: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		var exists int
		err := c.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, docID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("document %s: %w", docID, models.ErrNotFound)
		}
		return fmt.Errorf("document %s at version %d: %w", docID, version, models.ErrVersionConflict)
	}

	logger.Debug("Document sections written",
		zap.String("doc_id", docID),
		zap.Int64("version", version+1),
		zap.Int("sections", len(sections)),
	)
	return nil
}

// SetRawSections stores generated_sections verbatim. Only used to load
// legacy rows.
func (c *Client) SetRawSections(ctx context.Context, docID, raw string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE documents SET generated_sections = ? WHERE id = ?`, raw, docID)
	if err != nil {
		return fmt.Errorf("failed to set raw sections: %w", err)
	}
	return nil
}

func decodeSections(docID, raw string) map[string]string {
	sections, ok := models.DecodeSections(raw)
	if !ok {
		logger.Warn("Undecodable generated_sections, using empty map",
			zap.String("doc_id", docID),
			zap.String("raw", raw),
		)
	}
	return sections
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
