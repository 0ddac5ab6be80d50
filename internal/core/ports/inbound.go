package ports

import (
	"context"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// DocumentIngestor is the inbound contract for batch uploads.
type DocumentIngestor interface {
	UploadBatch(ctx context.Context, caller domain.Caller, files []domain.UploadFile) (domain.BatchResult, error)
}

// StageController triggers and rewinds the asynchronous stages of a document.
// Triggers return once the task is handed off; they never wait for the stage.
type StageController interface {
	TriggerClassification(ctx context.Context, caller domain.Caller, documentID string) (domain.TriggerReceipt, error)
	TriggerExtraction(ctx context.Context, caller domain.Caller, documentID string) (domain.TriggerReceipt, error)
	ResetExtraction(ctx context.Context, caller domain.Caller, documentID string) error
	ResetClassification(ctx context.Context, caller domain.Caller, documentID string) error
}

// DocumentClassifier runs the classification stage for one document.
type DocumentClassifier interface {
	ClassifyDocument(ctx context.Context, caller domain.Caller, documentID string) (domain.ClassificationReport, error)
}

// DocumentExtractor runs the extraction stage for one document.
type DocumentExtractor interface {
	ExtractDocument(ctx context.Context, caller domain.Caller, documentID string) (domain.ExtractionReport, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetDocument(ctx context.Context, caller domain.Caller, documentID string) (domain.DocumentView, error)
	ListDocuments(ctx context.Context, caller domain.Caller, filter domain.DocumentFilter) ([]domain.Document, error)
}
