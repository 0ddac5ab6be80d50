package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type ExtractionOptions struct {
	TempDir       string
	EngineTimeout time.Duration
	BlobTimeout   time.Duration
}

func (o ExtractionOptions) normalize() ExtractionOptions {
	out := o
	if out.EngineTimeout <= 0 {
		out.EngineTimeout = 5 * time.Minute
	}
	if out.BlobTimeout <= 0 {
		out.BlobTimeout = time.Minute
	}
	return out
}

type ExtractDocumentUseCase struct {
	docs   ports.DocumentRepository
	blobs  ports.BlobStore
	engine ports.ExtractionEngine
	opts   ExtractionOptions

	now func() time.Time
}

func NewExtractDocumentUseCase(
	docs ports.DocumentRepository,
	blobs ports.BlobStore,
	engine ports.ExtractionEngine,
	opts ExtractionOptions,
) *ExtractDocumentUseCase {
	return &ExtractDocumentUseCase{
		docs:   docs,
		blobs:  blobs,
		engine: engine,
		opts:   opts.normalize(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (uc *ExtractDocumentUseCase) ExtractDocument(ctx context.Context, caller domain.Caller, documentID string) (domain.ExtractionReport, error) {
	report := domain.ExtractionReport{DocumentID: documentID}

	doc, err := loadOwnedDocument(ctx, uc.docs, caller, documentID)
	if err != nil {
		report.Outcome = domain.OutcomeFailed
		return report, err
	}
	report.Status = doc.OCRStatus

	if doc.OCRStatus == domain.OCRCompleted && doc.HasExtractedText() {
		report.Outcome = domain.OutcomeCached
		report.Text = *doc.ExtractedText
		return report, nil
	}

	claimed, err := uc.docs.ClaimOCR(ctx, doc.ID)
	if err != nil {
		report.Outcome = domain.OutcomeFailed
		return report, fmt.Errorf("claim ocr: %w", err)
	}
	if !claimed {
		report.Outcome = domain.OutcomeSkipped
		report.Status = uc.currentStatus(ctx, doc)
		return report, nil
	}
	report.Status = domain.OCRProcessing

	result, err := uc.run(ctx, doc)
	if err != nil {
		return uc.fail(ctx, report, err)
	}

	if err := uc.docs.CompleteOCR(ctx, doc.ID, result.Text, uc.now()); err != nil {
		return uc.fail(ctx, report, fmt.Errorf("persist extracted text: %w", err))
	}

	report.Outcome = domain.OutcomeSucceeded
	report.Status = domain.OCRCompleted
	report.Text = result.Text
	report.Metadata = result.Metadata
	return report, nil
}

func (uc *ExtractDocumentUseCase) run(ctx context.Context, doc *domain.Document) (domain.ExtractionResult, error) {
	var result domain.ExtractionResult
	err := withTempFile(
		uc.opts.TempDir,
		doc.ID,
		tempExtension(doc),
		func(w io.Writer) error {
			return uc.download(ctx, doc.StorageKey, w)
		},
		func(path string) error {
			var err error
			result, err = uc.invokeEngine(ctx, path)
			return err
		},
	)
	return result, err
}

func (uc *ExtractDocumentUseCase) download(ctx context.Context, key string, dst io.Writer) error {
	blobCtx, cancel := context.WithTimeout(ctx, uc.opts.BlobTimeout)
	defer cancel()

	body, err := openBlob(blobCtx, uc.blobs, key)
	if err != nil {
		return err
	}
	defer body.Close()

	if _, err := io.Copy(dst, body); err != nil {
		return storageError("download blob", err)
	}
	return nil
}

func (uc *ExtractDocumentUseCase) invokeEngine(ctx context.Context, path string) (domain.ExtractionResult, error) {
	engineCtx, cancel := context.WithTimeout(ctx, uc.opts.EngineTimeout)
	defer cancel()

	result, err := uc.engine.Extract(engineCtx, path)
	if err == nil {
		// ocr_status=completed always carries text.
		if strings.TrimSpace(result.Text) == "" {
			return domain.ExtractionResult{}, &domain.ExternalProcessError{Err: errors.New("engine returned no text")}
		}
		return result, nil
	}

	var procErr *domain.ExternalProcessError
	isProcErr := errors.As(err, &procErr)
	if errors.Is(engineCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		if isProcErr && procErr.TimedOut {
			return domain.ExtractionResult{}, err
		}
		return domain.ExtractionResult{}, &domain.ExternalProcessError{
			TimedOut: true,
			Err:      fmt.Errorf("no result within %s: %w", uc.opts.EngineTimeout, err),
		}
	}
	if isProcErr || domain.IsKind(err, domain.ErrExternalProcess) {
		return domain.ExtractionResult{}, err
	}
	return domain.ExtractionResult{}, &domain.ExternalProcessError{Err: err}
}

func (uc *ExtractDocumentUseCase) currentStatus(ctx context.Context, doc *domain.Document) domain.OCRStatus {
	fresh, err := uc.docs.GetByID(ctx, doc.ID)
	if err != nil {
		return doc.OCRStatus
	}
	return fresh.OCRStatus
}

// fail marks ocr_status=failed and leaves extracted_text untouched.
func (uc *ExtractDocumentUseCase) fail(ctx context.Context, report domain.ExtractionReport, cause error) (domain.ExtractionReport, error) {
	report.Outcome = domain.OutcomeFailed
	report.Status = domain.OCRFailed

	slog.WarnContext(ctx, "extraction_failed", "document_id", report.DocumentID, "error", cause)

	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if failErr := uc.docs.FailOCR(statusCtx, report.DocumentID); failErr != nil {
		return report, fmt.Errorf("%w; mark failed status: %v", cause, failErr)
	}
	return report, cause
}

func tempExtension(doc *domain.Document) string {
	if ext := filepath.Ext(doc.StorageKey); ext != "" {
		return ext
	}
	if ext, ok := extensionFor(doc.MimeType); ok {
		return ext
	}
	return filepath.Ext(doc.OriginalName)
}
