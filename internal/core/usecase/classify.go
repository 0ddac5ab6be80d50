package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const (
	maxDescriptorChars = 4000
	statusWriteTimeout = 10 * time.Second
)

type ClassifyDocumentUseCase struct {
	docs            ports.DocumentRepository
	classifications ports.ClassificationRepository
	resolver        *CategoryResolver
	ai              ports.AIClassifier
	rules           RuleClassifier
	taxonomy        []string
	aiTimeout       time.Duration

	now   func() time.Time
	newID func() string
}

// NewClassifyDocumentUseCase builds the orchestrator. ai may be nil, in which
// case every document goes straight to the rule-based classifier.
func NewClassifyDocumentUseCase(
	docs ports.DocumentRepository,
	classifications ports.ClassificationRepository,
	resolver *CategoryResolver,
	ai ports.AIClassifier,
	taxonomy []string,
	aiTimeout time.Duration,
) *ClassifyDocumentUseCase {
	if aiTimeout <= 0 {
		aiTimeout = 30 * time.Second
	}
	return &ClassifyDocumentUseCase{
		docs:            docs,
		classifications: classifications,
		resolver:        resolver,
		ai:              ai,
		taxonomy:        taxonomy,
		aiTimeout:       aiTimeout,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
}

func (uc *ClassifyDocumentUseCase) ClassifyDocument(ctx context.Context, caller domain.Caller, documentID string) (domain.ClassificationReport, error) {
	report := domain.ClassificationReport{DocumentID: documentID}

	doc, err := loadOwnedDocument(ctx, uc.docs, caller, documentID)
	if err != nil {
		report.Outcome = domain.OutcomeFailed
		return report, err
	}
	report.Status = doc.ProcessingStatus

	claimed, err := uc.docs.ClaimProcessing(ctx, doc.ID)
	if err != nil {
		report.Outcome = domain.OutcomeFailed
		return report, fmt.Errorf("claim processing: %w", err)
	}
	if !claimed {
		report.Outcome = domain.OutcomeSkipped
		report.Status = uc.currentStatus(ctx, doc)
		return report, nil
	}
	report.Status = domain.ProcessingProcessing

	label, method, fallbackReason, err := uc.label(ctx, doc)
	if err != nil {
		return uc.fail(ctx, report, err)
	}

	cls, category, err := uc.persist(ctx, caller, doc, label, method)
	if err != nil {
		return uc.fail(ctx, report, err)
	}

	report.Status = domain.ProcessingCompleted
	report.Classification = cls
	report.CategoryName = category.Name
	report.FallbackReason = fallbackReason
	report.Outcome = domain.OutcomeSucceeded
	if method == domain.MethodRules {
		report.Outcome = domain.OutcomeFallback
	}
	return report, nil
}

// label asks the AI service first. Any AI failure (transport error, timeout,
// non-conforming output) falls back to the rule classifier. Only cancellation
// of the caller's own context is returned as an error.
func (uc *ClassifyDocumentUseCase) label(ctx context.Context, doc *domain.Document) (domain.Label, domain.ClassificationMethod, string, error) {
	if uc.ai == nil {
		return uc.rules.Classify(doc.OriginalName), domain.MethodRules, "ai classifier disabled", nil
	}

	aiCtx, cancel := context.WithTimeout(ctx, uc.aiTimeout)
	defer cancel()

	label, err := uc.ai.Classify(aiCtx, domain.AIRequest{
		Taxonomy:   uc.taxonomy,
		Descriptor: buildDescriptor(doc),
	})
	if err == nil {
		err = validateLabel(label)
	}
	if err == nil {
		return label, domain.MethodAI, "", nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Label{}, "", "", fmt.Errorf("classify document: %w", ctxErr)
	}

	slog.WarnContext(ctx, "ai_classification_fallback",
		"document_id", doc.ID,
		"error", err,
	)
	return uc.rules.Classify(doc.OriginalName), domain.MethodRules, err.Error(), nil
}

func (uc *ClassifyDocumentUseCase) persist(
	ctx context.Context,
	caller domain.Caller,
	doc *domain.Document,
	label domain.Label,
	method domain.ClassificationMethod,
) (*domain.Classification, *domain.Category, error) {
	category, fellBack, err := uc.resolver.Resolve(ctx, caller.UserID, label.Category)
	if err != nil {
		return nil, nil, err
	}
	if fellBack {
		slog.InfoContext(ctx, "category_fallback_other", "document_id", doc.ID, "requested", label.Category)
	}

	now := uc.now()
	cls := &domain.Classification{
		ID:                   uc.newID(),
		DocumentID:           doc.ID,
		CategoryID:           category.ID,
		Confidence:           domain.ClampConfidence(label.Confidence),
		ClassificationStatus: domain.ClassificationCompleted,
		AIReasoning:          label.Reasoning,
		Method:               method,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	// A reset while the stage ran surfaces here as ErrConflict with nothing
	// written.
	stored, err := uc.classifications.Complete(ctx, cls)
	if err != nil {
		return nil, nil, fmt.Errorf("complete classification: %w", err)
	}
	if stored {
		return cls, category, nil
	}

	slog.InfoContext(ctx, "manual_classification_kept", "document_id", doc.ID)
	kept, err := uc.classifications.GetByDocumentID(ctx, doc.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load kept classification: %w", err)
	}
	keptCategory := category
	if kept.CategoryID != category.ID {
		if keptCategory, err = uc.categoryByID(ctx, kept.CategoryID); err != nil {
			return nil, nil, err
		}
	}
	return kept, keptCategory, nil
}

func (uc *ClassifyDocumentUseCase) categoryByID(ctx context.Context, id string) (*domain.Category, error) {
	category, err := uc.resolver.categories.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load category %s: %w", id, err)
	}
	return category, nil
}

func (uc *ClassifyDocumentUseCase) currentStatus(ctx context.Context, doc *domain.Document) domain.ProcessingStatus {
	fresh, err := uc.docs.GetByID(ctx, doc.ID)
	if err != nil {
		return doc.ProcessingStatus
	}
	return fresh.ProcessingStatus
}

func (uc *ClassifyDocumentUseCase) fail(ctx context.Context, report domain.ClassificationReport, cause error) (domain.ClassificationReport, error) {
	report.Outcome = domain.OutcomeFailed
	report.Status = domain.ProcessingFailed

	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if failErr := uc.docs.FinishProcessing(statusCtx, report.DocumentID, domain.ProcessingFailed); failErr != nil {
		return report, fmt.Errorf("%w; mark failed status: %v", cause, failErr)
	}
	return report, cause
}

func validateLabel(label domain.Label) error {
	if strings.TrimSpace(label.Category) == "" {
		return domain.WrapError(domain.ErrAIService, "validate label", errors.New("empty category"))
	}
	if math.IsNaN(label.Confidence) || label.Confidence < 0 || label.Confidence > 1 {
		return domain.WrapError(domain.ErrAIService, "validate label", fmt.Errorf("confidence %v outside [0,1]", label.Confidence))
	}
	return nil
}

// buildDescriptor prefers extracted text; otherwise it describes the file
// from its metadata so classification never waits on extraction.
func buildDescriptor(doc *domain.Document) string {
	if doc.HasExtractedText() {
		return truncateRunes(*doc.ExtractedText, maxDescriptorChars)
	}
	return fmt.Sprintf(
		"Document: %s\nType: %s\nSize: %d bytes\nFilename: %s",
		doc.OriginalName, doc.MimeType, doc.SizeBytes, doc.StorageKey,
	)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
