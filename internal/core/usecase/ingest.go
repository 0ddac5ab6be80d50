package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type IngestOptions struct {
	MaxFiles     int
	MaxFileBytes int64
	Concurrency  int
	BlobTimeout  time.Duration
}

func (o IngestOptions) normalize() IngestOptions {
	out := o
	if out.MaxFiles <= 0 {
		out.MaxFiles = 10
	}
	if out.MaxFileBytes <= 0 {
		out.MaxFileBytes = 50 << 20
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 4
	}
	if out.BlobTimeout <= 0 {
		out.BlobTimeout = time.Minute
	}
	return out
}

type IngestDocumentUseCase struct {
	docs       ports.DocumentRepository
	blobs      ports.BlobStore
	dispatcher ports.TaskDispatcher
	opts       IngestOptions

	now       func() time.Time
	newID     func() string
	newTaskID func() string
}

func NewIngestDocumentUseCase(
	docs ports.DocumentRepository,
	blobs ports.BlobStore,
	dispatcher ports.TaskDispatcher,
	opts IngestOptions,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		docs:       docs,
		blobs:      blobs,
		dispatcher: dispatcher,
		opts:       opts.normalize(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		newTaskID:  newTaskID,
	}
}

type fileOutcome struct {
	uploaded *domain.UploadedFile
	failure  *domain.FileError
}

// UploadBatch stores each file independently. A bad file is reported in
// Errors and never aborts its siblings; only a malformed batch as a whole
// is returned as an error.
func (uc *IngestDocumentUseCase) UploadBatch(ctx context.Context, caller domain.Caller, files []domain.UploadFile) (domain.BatchResult, error) {
	if !caller.Valid() {
		return domain.BatchResult{}, domain.WrapError(domain.ErrUnauthorized, "upload batch", errors.New("caller identity is required"))
	}
	if len(files) == 0 {
		return domain.BatchResult{}, domain.WrapError(domain.ErrInvalidInput, "upload batch", errors.New("no files provided"))
	}
	if len(files) > uc.opts.MaxFiles {
		return domain.BatchResult{}, domain.WrapError(domain.ErrInvalidInput, "upload batch", fmt.Errorf("maximum %d files allowed per upload", uc.opts.MaxFiles))
	}

	outcomes := make([]fileOutcome, len(files))
	var g errgroup.Group
	g.SetLimit(uc.opts.Concurrency)
	for i, file := range files {
		g.Go(func() error {
			outcomes[i] = uc.uploadOne(ctx, caller, file)
			return nil
		})
	}
	_ = g.Wait()

	result := domain.BatchResult{
		Total:   len(files),
		Results: []domain.UploadedFile{},
		Errors:  []domain.FileError{},
	}
	for _, outcome := range outcomes {
		switch {
		case outcome.uploaded != nil:
			result.Results = append(result.Results, *outcome.uploaded)
		case outcome.failure != nil:
			result.Errors = append(result.Errors, *outcome.failure)
		}
	}
	result.Uploaded = len(result.Results)
	result.Success = result.Uploaded > 0
	return result, nil
}

func (uc *IngestDocumentUseCase) uploadOne(ctx context.Context, caller domain.Caller, file domain.UploadFile) fileOutcome {
	filename := strings.TrimSpace(file.Filename)
	mimeType, ext, err := uc.validate(filename, file)
	if err != nil {
		return failed(filename, err.Error())
	}

	id := uc.newID()
	key := canonicalStorageKey(caller.UserID, id, ext)
	if err := uc.store(ctx, key, file, mimeType); err != nil {
		slog.Warn("upload_store_failed", "filename", filename, "key", key, "error", err)
		if errors.Is(err, errFileTooLarge) {
			return failed(filename, uc.tooLargeMessage())
		}
		return failed(filename, "failed to store file")
	}

	now := uc.now()
	doc := &domain.Document{
		ID:               id,
		UserID:           caller.UserID,
		StorageKey:       key,
		OriginalName:     filename,
		MimeType:         mimeType,
		SizeBytes:        file.Size,
		ProcessingStatus: domain.ProcessingPending,
		OCRStatus:        domain.OCRPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := uc.docs.Create(ctx, doc); err != nil {
		slog.Error("upload_record_failed", "filename", filename, "orphan_key", key, "error", err)
		return failed(filename, "failed to record document")
	}

	return fileOutcome{uploaded: &domain.UploadedFile{
		ID:         doc.ID,
		Filename:   filename,
		Size:       doc.SizeBytes,
		Type:       mimeType,
		Status:     "uploaded",
		StorageKey: key,
		Dispatch:   uc.dispatchStages(ctx, doc),
	}}
}

func (uc *IngestDocumentUseCase) validate(filename string, file domain.UploadFile) (string, string, error) {
	if filename == "" {
		return "", "", errors.New("filename is required")
	}
	if file.Body == nil || file.Size <= 0 {
		return "", "", errors.New("file is empty")
	}
	if file.Size > uc.opts.MaxFileBytes {
		return "", "", errors.New(uc.tooLargeMessage())
	}
	mimeType := normalizeMimeType(file.MimeType)
	ext, ok := extensionFor(mimeType)
	if !ok {
		return "", "", fmt.Errorf("file type %q is not supported", file.MimeType)
	}
	return mimeType, ext, nil
}

func (uc *IngestDocumentUseCase) store(ctx context.Context, key string, file domain.UploadFile, mimeType string) error {
	blobCtx, cancel := context.WithTimeout(ctx, uc.opts.BlobTimeout)
	defer cancel()

	body := &cappedReader{r: file.Body, remaining: uc.opts.MaxFileBytes}
	if err := uc.blobs.Put(blobCtx, key, body, file.Size, mimeType); err != nil {
		if body.exceeded {
			return errFileTooLarge
		}
		return storageError("put blob", err)
	}
	return nil
}

// dispatchStages fires classification then extraction without waiting for
// either. Failures are logged and reported, never returned.
func (uc *IngestDocumentUseCase) dispatchStages(ctx context.Context, doc *domain.Document) domain.DispatchState {
	failures := 0
	for _, kind := range []domain.TaskKind{domain.TaskClassify, domain.TaskExtract} {
		task := domain.Task{
			ID:         uc.newTaskID(),
			Kind:       kind,
			DocumentID: doc.ID,
			UserID:     doc.UserID,
			EnqueuedAt: uc.now(),
		}
		if err := uc.dispatcher.Dispatch(ctx, task); err != nil {
			failures++
			slog.Error("stage_dispatch_failed",
				"document_id", doc.ID,
				"kind", string(kind),
				"error", err,
			)
		}
	}
	switch failures {
	case 0:
		return domain.DispatchQueued
	case 1:
		return domain.DispatchPartial
	default:
		return domain.DispatchFailed
	}
}

func (uc *IngestDocumentUseCase) tooLargeMessage() string {
	return fmt.Sprintf("file too large, maximum size is %dMB", uc.opts.MaxFileBytes>>20)
}

func failed(filename, message string) fileOutcome {
	return fileOutcome{failure: &domain.FileError{Filename: filename, Error: message}}
}

var errFileTooLarge = errors.New("file exceeds size limit")

// cappedReader fails once more than remaining bytes are read.
type cappedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		c.exceeded = true
		return 0, errFileTooLarge
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		c.exceeded = true
		return n, errFileTooLarge
	}
	return n, err
}
