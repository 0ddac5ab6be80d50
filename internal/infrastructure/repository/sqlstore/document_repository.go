package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const documentColumns = `id, user_id, storage_key, original_name, mime_type, size_bytes, processing_status, extracted_text, ocr_status, ocr_completed_at, created_at, updated_at`

type DocumentRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewDocumentRepository(db *sql.DB, dialect Dialect) *DocumentRepository {
	return &DocumentRepository{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *DocumentRepository) q(query string) string {
	return rebind(r.dialect, query)
}

// Create inserts the document and bumps the owner's usage counters. The owner
// row is created on first upload.
func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, r.q(`
INSERT INTO users (id, document_count, storage_used_bytes, last_upload_at, created_at, updated_at)
VALUES (?, 1, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	document_count = users.document_count + 1,
	storage_used_bytes = users.storage_used_bytes + excluded.storage_used_bytes,
	last_upload_at = excluded.last_upload_at,
	updated_at = excluded.updated_at
`), doc.UserID, doc.SizeBytes, doc.CreatedAt, doc.CreatedAt, doc.UpdatedAt); err != nil {
		return fmt.Errorf("update usage counters: %w", err)
	}

	if _, err := tx.ExecContext(ctx, r.q(`
INSERT INTO documents (`+documentColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
`),
		doc.ID, doc.UserID, doc.StorageKey, doc.OriginalName, doc.MimeType, doc.SizeBytes,
		string(doc.ProcessingStatus), nullString(doc.ExtractedText), string(doc.OCRStatus), nullTime(doc.OCRCompletedAt),
		doc.CreatedAt, doc.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByUser(ctx context.Context, userID string, filter domain.DocumentFilter) ([]domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = ?`
	args := []any{userID}
	if filter.ProcessingStatus != "" {
		query += " AND processing_status = ?"
		args = append(args, string(filter.ProcessingStatus))
	}
	if filter.OCRStatus != "" {
		query += " AND ocr_status = ?"
		args = append(args, string(filter.OCRStatus))
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// ClaimProcessing moves processing_status pending -> processing. Only one
// concurrent caller can observe true.
func (r *DocumentRepository) ClaimProcessing(ctx context.Context, id string) (bool, error) {
	return r.claim(ctx, "processing_status", id)
}

func (r *DocumentRepository) ClaimOCR(ctx context.Context, id string) (bool, error) {
	return r.claim(ctx, "ocr_status", id)
}

func (r *DocumentRepository) claim(ctx context.Context, column, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, r.q(`
UPDATE documents
SET `+column+` = 'processing', updated_at = ?
WHERE id = ? AND `+column+` = 'pending'
`), r.now(), id)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", column, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s rows affected: %w", column, err)
	}
	return rows == 1, nil
}

func (r *DocumentRepository) FinishProcessing(ctx context.Context, id string, status domain.ProcessingStatus) error {
	if !status.Terminal() {
		return domain.WrapError(domain.ErrInvalidInput, "finish processing", fmt.Errorf("status %q is not terminal", status))
	}
	result, err := r.db.ExecContext(ctx, r.q(`
UPDATE documents
SET processing_status = ?, updated_at = ?
WHERE id = ? AND processing_status = 'processing'
`), string(status), r.now(), id)
	if err != nil {
		return fmt.Errorf("finish processing: %w", err)
	}
	return r.expectTransition(ctx, result, id, "finish processing")
}

func (r *DocumentRepository) CompleteOCR(ctx context.Context, id, text string, completedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, r.q(`
UPDATE documents
SET ocr_status = 'completed', extracted_text = ?, ocr_completed_at = ?, updated_at = ?
WHERE id = ? AND ocr_status = 'processing'
`), text, completedAt, r.now(), id)
	if err != nil {
		return fmt.Errorf("complete ocr: %w", err)
	}
	return r.expectTransition(ctx, result, id, "complete ocr")
}

// FailOCR leaves extracted_text as it was.
func (r *DocumentRepository) FailOCR(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.q(`
UPDATE documents
SET ocr_status = 'failed', updated_at = ?
WHERE id = ? AND ocr_status = 'processing'
`), r.now(), id)
	if err != nil {
		return fmt.Errorf("fail ocr: %w", err)
	}
	return r.expectTransition(ctx, result, id, "fail ocr")
}

func (r *DocumentRepository) ResetProcessing(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.q(`
UPDATE documents
SET processing_status = 'pending', updated_at = ?
WHERE id = ?
`), r.now(), id)
	if err != nil {
		return fmt.Errorf("reset processing: %w", err)
	}
	return expectRow(result, id, "reset processing")
}

func (r *DocumentRepository) ResetOCR(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.q(`
UPDATE documents
SET ocr_status = 'pending', extracted_text = NULL, ocr_completed_at = NULL, updated_at = ?
WHERE id = ?
`), r.now(), id)
	if err != nil {
		return fmt.Errorf("reset ocr: %w", err)
	}
	return expectRow(result, id, "reset ocr")
}

// expectTransition tells a missing document apart from one that is no
// longer in the processing state.
func (r *DocumentRepository) expectTransition(ctx context.Context, result sql.Result, id, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows > 0 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, r.q(`SELECT 1 FROM documents WHERE id = ?`), id).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.WrapError(domain.ErrDocumentNotFound, op, fmt.Errorf("id=%s", id))
	case err != nil:
		return fmt.Errorf("%s lookup: %w", op, err)
	default:
		return domain.WrapError(domain.ErrConflict, op, fmt.Errorf("document %s is not processing", id))
	}
}

func expectRow(result sql.Result, id, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var doc domain.Document
	var processingStatus, ocrStatus string
	var extracted sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.StorageKey,
		&doc.OriginalName,
		&doc.MimeType,
		&doc.SizeBytes,
		&processingStatus,
		&extracted,
		&ocrStatus,
		&completedAt,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	doc.ProcessingStatus = domain.ProcessingStatus(strings.TrimSpace(processingStatus))
	doc.OCRStatus = domain.OCRStatus(strings.TrimSpace(ocrStatus))
	if extracted.Valid {
		doc.ExtractedText = &extracted.String
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		doc.OCRCompletedAt = &t
	}
	return doc, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
