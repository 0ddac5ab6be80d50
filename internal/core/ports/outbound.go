package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// DocumentRepository persists document state. Status transitions into
// processing are compare-and-set claims; terminal writes only apply to a
// document that is still processing.
type DocumentRepository interface {
	// Create inserts the document and bumps the owner's usage counters in one transaction.
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByUser(ctx context.Context, userID string, filter domain.DocumentFilter) ([]domain.Document, error)

	ClaimProcessing(ctx context.Context, id string) (bool, error)
	FinishProcessing(ctx context.Context, id string, status domain.ProcessingStatus) error
	ResetProcessing(ctx context.Context, id string) error

	ClaimOCR(ctx context.Context, id string) (bool, error)
	CompleteOCR(ctx context.Context, id, text string, completedAt time.Time) error
	FailOCR(ctx context.Context, id string) error
	ResetOCR(ctx context.Context, id string) error
}

// CategoryRepository reads categories and seeds the system taxonomy.
type CategoryRepository interface {
	// FindByName matches system categories and those owned by userID. An empty
	// userID restricts the lookup to system categories.
	FindByName(ctx context.Context, userID, name string) (*domain.Category, error)
	GetByID(ctx context.Context, id string) (*domain.Category, error)
	UpsertSystem(ctx context.Context, spec domain.CategorySpec) (*domain.Category, error)
}

// ClassificationRepository keeps one authoritative classification per document.
type ClassificationRepository interface {
	// Complete upserts by document id and moves the document's processing
	// stage to completed atomically. It returns false when an existing manual
	// override was kept instead. A document that is no longer processing is
	// an ErrConflict and nothing is written.
	Complete(ctx context.Context, cls *domain.Classification) (bool, error)
	GetByDocumentID(ctx context.Context, documentID string) (*domain.Classification, error)
}

// BlobStore stores uploaded file bytes under opaque keys.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// AIClassifier asks an AI service for a label from a closed taxonomy.
type AIClassifier interface {
	Classify(ctx context.Context, req domain.AIRequest) (domain.Label, error)
}

// ExtractionEngine turns a file on local disk into text.
type ExtractionEngine interface {
	Extract(ctx context.Context, path string) (domain.ExtractionResult, error)
}

// TaskDispatcher hands stage work to a worker without waiting for it.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, task domain.Task) error
}

// TaskConsumer delivers dispatched tasks to a handler until ctx is done.
type TaskConsumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.Task) error) error
}
