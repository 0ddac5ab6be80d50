package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// StageUseCase hands classification and extraction work to the dispatcher
// and implements the explicit resets that permit reprocessing.
type StageUseCase struct {
	docs       ports.DocumentRepository
	dispatcher ports.TaskDispatcher

	now       func() time.Time
	newTaskID func() string
}

func NewStageUseCase(docs ports.DocumentRepository, dispatcher ports.TaskDispatcher) *StageUseCase {
	return &StageUseCase{
		docs:       docs,
		dispatcher: dispatcher,
		now:        func() time.Time { return time.Now().UTC() },
		newTaskID:  newTaskID,
	}
}

// TriggerClassification dispatches a classify task unless the stage has
// already left pending, in which case the call is a no-op.
func (uc *StageUseCase) TriggerClassification(ctx context.Context, caller domain.Caller, documentID string) (domain.TriggerReceipt, error) {
	doc, err := loadOwnedDocument(ctx, uc.docs, caller, documentID)
	if err != nil {
		return domain.TriggerReceipt{}, err
	}
	receipt := domain.TriggerReceipt{
		DocumentID: doc.ID,
		Kind:       domain.TaskClassify,
		Status:     string(doc.ProcessingStatus),
	}
	if doc.ProcessingStatus != domain.ProcessingPending {
		return receipt, nil
	}
	return uc.dispatch(ctx, caller, receipt)
}

// TriggerExtraction dispatches an extract task unless extraction has already
// left pending.
func (uc *StageUseCase) TriggerExtraction(ctx context.Context, caller domain.Caller, documentID string) (domain.TriggerReceipt, error) {
	doc, err := loadOwnedDocument(ctx, uc.docs, caller, documentID)
	if err != nil {
		return domain.TriggerReceipt{}, err
	}
	receipt := domain.TriggerReceipt{
		DocumentID: doc.ID,
		Kind:       domain.TaskExtract,
		Status:     string(doc.OCRStatus),
	}
	if doc.OCRStatus != domain.OCRPending {
		return receipt, nil
	}
	return uc.dispatch(ctx, caller, receipt)
}

// ResetExtraction rewinds ocr_status to pending and clears the extracted text.
func (uc *StageUseCase) ResetExtraction(ctx context.Context, caller domain.Caller, documentID string) error {
	doc, err := loadOwnedDocument(ctx, uc.docs, caller, documentID)
	if err != nil {
		return err
	}
	if err := uc.docs.ResetOCR(ctx, doc.ID); err != nil {
		return fmt.Errorf("reset ocr: %w", err)
	}
	slog.Info("extraction_reset", "document_id", doc.ID, "previous_status", string(doc.OCRStatus))
	return nil
}

// ResetClassification rewinds processing_status to pending so classification can be re-triggered.
func (uc *StageUseCase) ResetClassification(ctx context.Context, caller domain.Caller, documentID string) error {
	doc, err := loadOwnedDocument(ctx, uc.docs, caller, documentID)
	if err != nil {
		return err
	}
	if err := uc.docs.ResetProcessing(ctx, doc.ID); err != nil {
		return fmt.Errorf("reset processing: %w", err)
	}
	slog.Info("classification_reset", "document_id", doc.ID, "previous_status", string(doc.ProcessingStatus))
	return nil
}

func (uc *StageUseCase) dispatch(ctx context.Context, caller domain.Caller, receipt domain.TriggerReceipt) (domain.TriggerReceipt, error) {
	task := domain.Task{
		ID:         uc.newTaskID(),
		Kind:       receipt.Kind,
		DocumentID: receipt.DocumentID,
		UserID:     caller.UserID,
		EnqueuedAt: uc.now(),
	}
	if err := uc.dispatcher.Dispatch(ctx, task); err != nil {
		return receipt, fmt.Errorf("dispatch %s task: %w", task.Kind, err)
	}
	receipt.Dispatched = true
	receipt.TaskID = task.ID
	return receipt, nil
}

func newTaskID() string {
	return ulid.Make().String()
}
