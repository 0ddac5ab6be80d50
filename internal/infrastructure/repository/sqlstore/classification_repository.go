package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const classificationColumns = `id, document_id, category_id, confidence_score, is_manual_override, classification_status, ai_reasoning, method, created_at, updated_at`

type ClassificationRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewClassificationRepository(db *sql.DB, dialect Dialect) *ClassificationRepository {
	return &ClassificationRepository{db: db, dialect: dialect}
}

// Complete moves the document from processing to completed and upserts its
// single classification row in one transaction. A row flagged as a manual
// override is never replaced; Complete then reports false but the document is
// still completed. A document that is no longer processing gets nothing
// written and the error is ErrConflict.
// On update the existing id and created_at are kept and copied back into cls.
func (r *ClassificationRepository) Complete(ctx context.Context, cls *domain.Classification) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin classification tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, rebind(r.dialect, `
UPDATE documents
SET processing_status = 'completed', updated_at = ?
WHERE id = ? AND processing_status = 'processing'
`), cls.UpdatedAt, cls.DocumentID)
	if err != nil {
		return false, fmt.Errorf("complete processing: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete processing rows affected: %w", err)
	}
	if rows == 0 {
		return false, r.notProcessing(ctx, tx, cls.DocumentID)
	}

	stored, err := r.upsert(ctx, tx, cls)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit classification: %w", err)
	}
	return stored, nil
}

func (r *ClassificationRepository) upsert(ctx context.Context, tx *sql.Tx, cls *domain.Classification) (bool, error) {
	row := tx.QueryRowContext(ctx, rebind(r.dialect, `
INSERT INTO document_classifications (`+classificationColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (document_id) DO UPDATE SET
	category_id = excluded.category_id,
	confidence_score = excluded.confidence_score,
	classification_status = excluded.classification_status,
	ai_reasoning = excluded.ai_reasoning,
	method = excluded.method,
	updated_at = excluded.updated_at
WHERE document_classifications.is_manual_override = FALSE
RETURNING id, created_at
`),
		cls.ID, cls.DocumentID, cls.CategoryID, domain.ClampConfidence(cls.Confidence), cls.IsManualOverride,
		string(cls.ClassificationStatus), cls.AIReasoning, string(cls.Method), cls.CreatedAt, cls.UpdatedAt,
	)

	var id string
	var createdAt time.Time
	if err := row.Scan(&id, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("save classification: %w", err)
	}
	cls.ID, cls.CreatedAt = id, createdAt
	return true, nil
}

func (r *ClassificationRepository) notProcessing(ctx context.Context, tx *sql.Tx, documentID string) error {
	var exists int
	err := tx.QueryRowContext(ctx, rebind(r.dialect, `SELECT 1 FROM documents WHERE id = ?`), documentID).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.WrapError(domain.ErrDocumentNotFound, "complete classification", fmt.Errorf("id=%s", documentID))
	case err != nil:
		return fmt.Errorf("complete classification lookup: %w", err)
	default:
		return domain.WrapError(domain.ErrConflict, "complete classification", fmt.Errorf("document %s is not processing", documentID))
	}
}

func (r *ClassificationRepository) GetByDocumentID(ctx context.Context, documentID string) (*domain.Classification, error) {
	row := r.db.QueryRowContext(ctx, rebind(r.dialect, `SELECT `+classificationColumns+` FROM document_classifications WHERE document_id = ?`), documentID)

	var cls domain.Classification
	var status, method string
	err := row.Scan(
		&cls.ID,
		&cls.DocumentID,
		&cls.CategoryID,
		&cls.Confidence,
		&cls.IsManualOverride,
		&status,
		&cls.AIReasoning,
		&method,
		&cls.CreatedAt,
		&cls.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNoClassification, "get classification", fmt.Errorf("document_id=%s", documentID))
		}
		return nil, fmt.Errorf("scan classification: %w", err)
	}
	cls.ClassificationStatus = domain.ClassificationStatus(status)
	cls.Method = domain.ClassificationMethod(method)
	return &cls, nil
}
