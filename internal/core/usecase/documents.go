package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type DocumentQueryUseCase struct {
	docs            ports.DocumentRepository
	classifications ports.ClassificationRepository
	categories      ports.CategoryRepository
	blobs           ports.BlobStore
	urlTTL          time.Duration
}

func NewDocumentQueryUseCase(
	docs ports.DocumentRepository,
	classifications ports.ClassificationRepository,
	categories ports.CategoryRepository,
	blobs ports.BlobStore,
	urlTTL time.Duration,
) *DocumentQueryUseCase {
	if urlTTL <= 0 {
		urlTTL = time.Hour
	}
	return &DocumentQueryUseCase{
		docs:            docs,
		classifications: classifications,
		categories:      categories,
		blobs:           blobs,
		urlTTL:          urlTTL,
	}
}

func (uc *DocumentQueryUseCase) GetDocument(ctx context.Context, caller domain.Caller, documentID string) (domain.DocumentView, error) {
	doc, err := loadOwnedDocument(ctx, uc.docs, caller, documentID)
	if err != nil {
		return domain.DocumentView{}, err
	}
	view := domain.DocumentView{Document: *doc}

	cls, err := uc.classifications.GetByDocumentID(ctx, doc.ID)
	switch {
	case err == nil:
		view.Classification = cls
		category, catErr := uc.categories.GetByID(ctx, cls.CategoryID)
		if catErr != nil {
			return domain.DocumentView{}, fmt.Errorf("load category: %w", catErr)
		}
		view.Category = category
	case domain.IsKind(err, domain.ErrNoClassification):
	default:
		return domain.DocumentView{}, fmt.Errorf("load classification: %w", err)
	}

	view.FileURL = uc.signedURL(ctx, doc)
	return view, nil
}

// signedURL never fails the read; a missing URL is reported as nil.
func (uc *DocumentQueryUseCase) signedURL(ctx context.Context, doc *domain.Document) *string {
	url, err := uc.blobs.SignedURL(ctx, doc.StorageKey, uc.urlTTL)
	if err != nil {
		if alt, ok := legacyKey(doc.StorageKey); ok {
			url, err = uc.blobs.SignedURL(ctx, alt, uc.urlTTL)
		}
	}
	if err != nil {
		slog.Warn("signed_url_failed", "document_id", doc.ID, "error", err)
		return nil
	}
	return &url
}

func (uc *DocumentQueryUseCase) ListDocuments(ctx context.Context, caller domain.Caller, filter domain.DocumentFilter) ([]domain.Document, error) {
	if !caller.Valid() {
		return nil, domain.WrapError(domain.ErrUnauthorized, "list documents", errors.New("caller identity is required"))
	}
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	docs, err := uc.docs.ListByUser(ctx, caller.UserID, filter)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func normalizeFilter(filter domain.DocumentFilter) (domain.DocumentFilter, error) {
	if filter.ProcessingStatus != "" && !filter.ProcessingStatus.Valid() {
		return filter, domain.WrapError(domain.ErrInvalidInput, "list documents", fmt.Errorf("unknown processing status %q", filter.ProcessingStatus))
	}
	if filter.OCRStatus != "" && !filter.OCRStatus.Valid() {
		return filter, domain.WrapError(domain.ErrInvalidInput, "list documents", fmt.Errorf("unknown ocr status %q", filter.OCRStatus))
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter, nil
}

// loadOwnedDocument is the common entry check for every per-document
// operation: an explicit caller, a document id, and ownership.
func loadOwnedDocument(ctx context.Context, docs ports.DocumentRepository, caller domain.Caller, documentID string) (*domain.Document, error) {
	if !caller.Valid() {
		return nil, domain.WrapError(domain.ErrUnauthorized, "load document", errors.New("caller identity is required"))
	}
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load document", errors.New("document id is required"))
	}
	doc, err := docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	if !doc.OwnedBy(caller.UserID) {
		return nil, domain.WrapError(domain.ErrForbidden, "load document", fmt.Errorf("document %s belongs to another user", documentID))
	}
	return doc, nil
}
