package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const (
	testUserID  = "7d1f5c2e-8a43-4b8e-9f0a-2c6d4e1b3a57"
	otherUserID = "0b9e6a31-54c7-4f2d-8e1a-9d3c7b5f2e64"
)

func testCaller() domain.Caller {
	return domain.Caller{UserID: testUserID}
}

type docRepoFake struct {
	mu   sync.Mutex
	docs map[string]*domain.Document

	createErr error
	claimErr  error

	created      []string
	finishCalls  []domain.ProcessingStatus
	failOCRCalls int
	resetOCR     int
	resetProc    int
}

func newDocRepoFake(docs ...*domain.Document) *docRepoFake {
	f := &docRepoFake{docs: map[string]*domain.Document{}}
	for _, doc := range docs {
		copyDoc := *doc
		f.docs[doc.ID] = &copyDoc
	}
	return f
}

func (f *docRepoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	f.created = append(f.created, doc.ID)
	return nil
}

func (f *docRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *docRepoFake) ListByUser(_ context.Context, userID string, filter domain.DocumentFilter) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Document{}
	for _, doc := range f.docs {
		if doc.UserID != userID {
			continue
		}
		if filter.ProcessingStatus != "" && doc.ProcessingStatus != filter.ProcessingStatus {
			continue
		}
		out = append(out, *doc)
	}
	return out, nil
}

func (f *docRepoFake) ClaimProcessing(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return false, f.claimErr
	}
	doc, ok := f.docs[id]
	if !ok || doc.ProcessingStatus != domain.ProcessingPending {
		return false, nil
	}
	doc.ProcessingStatus = domain.ProcessingProcessing
	return true, nil
}

func (f *docRepoFake) FinishProcessing(_ context.Context, id string, status domain.ProcessingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishCalls = append(f.finishCalls, status)
	doc, ok := f.docs[id]
	if !ok || doc.ProcessingStatus != domain.ProcessingProcessing {
		return domain.WrapError(domain.ErrConflict, "finish processing", errors.New("not processing"))
	}
	doc.ProcessingStatus = status
	return nil
}

func (f *docRepoFake) ResetProcessing(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetProc++
	if doc, ok := f.docs[id]; ok {
		doc.ProcessingStatus = domain.ProcessingPending
	}
	return nil
}

func (f *docRepoFake) ClaimOCR(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.OCRStatus != domain.OCRPending {
		return false, nil
	}
	doc.OCRStatus = domain.OCRProcessing
	return true, nil
}

func (f *docRepoFake) CompleteOCR(_ context.Context, id, text string, completedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.OCRStatus != domain.OCRProcessing {
		return domain.WrapError(domain.ErrConflict, "complete ocr", errors.New("not processing"))
	}
	doc.OCRStatus = domain.OCRCompleted
	doc.ExtractedText = &text
	doc.OCRCompletedAt = &completedAt
	return nil
}

func (f *docRepoFake) FailOCR(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOCRCalls++
	doc, ok := f.docs[id]
	if !ok || doc.OCRStatus != domain.OCRProcessing {
		return domain.WrapError(domain.ErrConflict, "fail ocr", errors.New("not processing"))
	}
	doc.OCRStatus = domain.OCRFailed
	return nil
}

func (f *docRepoFake) ResetOCR(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetOCR++
	if doc, ok := f.docs[id]; ok {
		doc.OCRStatus = domain.OCRPending
		doc.ExtractedText = nil
		doc.OCRCompletedAt = nil
	}
	return nil
}

func (f *docRepoFake) get(id string) domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.docs[id]
}

type categoryRepoFake struct {
	byName map[string]*domain.Category
	err    error
}

func newCategoryRepoFake(names ...string) *categoryRepoFake {
	f := &categoryRepoFake{byName: map[string]*domain.Category{}}
	for _, name := range names {
		f.byName[name] = &domain.Category{ID: "cat-" + name, Name: name, IsSystem: true}
	}
	return f
}

func (f *categoryRepoFake) FindByName(_ context.Context, _ string, name string) (*domain.Category, error) {
	if f.err != nil {
		return nil, f.err
	}
	category, ok := f.byName[name]
	if !ok {
		return nil, domain.WrapError(domain.ErrCategoryNotFound, "find category", fmt.Errorf("name %q", name))
	}
	return category, nil
}

func (f *categoryRepoFake) GetByID(_ context.Context, id string) (*domain.Category, error) {
	for _, category := range f.byName {
		if category.ID == id {
			return category, nil
		}
	}
	return nil, domain.WrapError(domain.ErrCategoryNotFound, "get category", fmt.Errorf("id %s", id))
}

func (f *categoryRepoFake) UpsertSystem(_ context.Context, spec domain.CategorySpec) (*domain.Category, error) {
	category := &domain.Category{ID: "cat-" + spec.Name, Name: spec.Name, IsSystem: true}
	f.byName[spec.Name] = category
	return category, nil
}

type classificationRepoFake struct {
	mu    sync.Mutex
	byDoc map[string]*domain.Classification
	saves int

	// docs, when set, gets its processing stage completed alongside the write.
	docs        *docRepoFake
	completeErr error
}

func newClassificationRepoFake() *classificationRepoFake {
	return &classificationRepoFake{byDoc: map[string]*domain.Classification{}}
}

func (f *classificationRepoFake) Complete(_ context.Context, cls *domain.Classification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return false, f.completeErr
	}
	if f.docs != nil {
		f.docs.mu.Lock()
		defer f.docs.mu.Unlock()
		doc, ok := f.docs.docs[cls.DocumentID]
		if !ok || doc.ProcessingStatus != domain.ProcessingProcessing {
			return false, domain.WrapError(domain.ErrConflict, "complete classification", errors.New("not processing"))
		}
		doc.ProcessingStatus = domain.ProcessingCompleted
	}
	f.saves++
	if existing, ok := f.byDoc[cls.DocumentID]; ok && existing.IsManualOverride {
		return false, nil
	}
	copyCls := *cls
	f.byDoc[cls.DocumentID] = &copyCls
	return true, nil
}

func (f *classificationRepoFake) GetByDocumentID(_ context.Context, documentID string) (*domain.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cls, ok := f.byDoc[documentID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNoClassification, "get classification", fmt.Errorf("document %s", documentID))
	}
	copyCls := *cls
	return &copyCls, nil
}

type blobStoreFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	gets    []string
}

func newBlobStoreFake() *blobStoreFake {
	return &blobStoreFake{objects: map[string][]byte{}}
}

func (f *blobStoreFake) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = raw
	return nil
}

func (f *blobStoreFake) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, key)
	raw, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *blobStoreFake) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return "", fmt.Errorf("object %s not found", key)
	}
	return "https://blobs.test/" + key + "?sig=abc", nil
}

type dispatcherFake struct {
	mu     sync.Mutex
	tasks  []domain.Task
	failOn map[domain.TaskKind]bool
}

func (f *dispatcherFake) Dispatch(_ context.Context, task domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[task.Kind] {
		return domain.WrapError(domain.ErrTemporary, "dispatch", errors.New("queue unavailable"))
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *dispatcherFake) count(kind domain.TaskKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, task := range f.tasks {
		if task.Kind == kind {
			n++
		}
	}
	return n
}

type aiClassifierFake struct {
	label    domain.Label
	err      error
	block    bool
	requests []domain.AIRequest
}

func (f *aiClassifierFake) Classify(ctx context.Context, req domain.AIRequest) (domain.Label, error) {
	f.requests = append(f.requests, req)
	if f.block {
		<-ctx.Done()
		return domain.Label{}, ctx.Err()
	}
	if f.err != nil {
		return domain.Label{}, f.err
	}
	return f.label, nil
}

func pendingDocument(id, name string) *domain.Document {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Document{
		ID:               id,
		UserID:           testUserID,
		StorageKey:       "documents/" + testUserID + "/" + id + ".pdf",
		OriginalName:     name,
		MimeType:         "application/pdf",
		SizeBytes:        1024,
		ProcessingStatus: domain.ProcessingPending,
		OCRStatus:        domain.OCRPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
