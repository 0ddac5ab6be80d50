package usecase

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

type engineFake struct {
	calls    atomic.Int32
	text     string
	err      error
	block    bool
	release  chan struct{}
	seenPath string
	seenBody string
	mu       sync.Mutex
}

func (f *engineFake) Extract(ctx context.Context, path string) (domain.ExtractionResult, error) {
	f.calls.Add(1)
	raw, _ := os.ReadFile(path)
	f.mu.Lock()
	f.seenPath = path
	f.seenBody = string(raw)
	f.mu.Unlock()

	if f.release != nil {
		<-f.release
	}
	if f.block {
		<-ctx.Done()
		return domain.ExtractionResult{}, ctx.Err()
	}
	if f.err != nil {
		return domain.ExtractionResult{}, f.err
	}
	return domain.ExtractionResult{Text: f.text, Metadata: map[string]any{"pages": 1}}, nil
}

type extractFixture struct {
	uc     *ExtractDocumentUseCase
	docs   *docRepoFake
	blobs  *blobStoreFake
	engine *engineFake
	tmp    string
}

func newExtractFixture(t *testing.T, doc *domain.Document, engine *engineFake, timeout time.Duration) extractFixture {
	t.Helper()
	tmp := t.TempDir()
	blobs := newBlobStoreFake()
	blobs.objects[doc.StorageKey] = []byte("%PDF-1.4 body")
	docs := newDocRepoFake(doc)
	return extractFixture{
		uc:     NewExtractDocumentUseCase(docs, blobs, engine, ExtractionOptions{TempDir: tmp, EngineTimeout: timeout}),
		docs:   docs,
		blobs:  blobs,
		engine: engine,
		tmp:    tmp,
	}
}

func assertTempDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp dir to be empty, found %d entries", len(entries))
	}
}

func TestExtractDocumentStoresText(t *testing.T) {
	doc := pendingDocument("doc-x", "scan.pdf")
	f := newExtractFixture(t, doc, &engineFake{text: "Total due: 42.00"}, time.Second)

	report, err := f.uc.ExtractDocument(context.Background(), testCaller(), "doc-x")
	if err != nil {
		t.Fatalf("ExtractDocument returned error: %v", err)
	}
	if report.Outcome != domain.OutcomeSucceeded || report.Text != "Total due: 42.00" {
		t.Fatalf("unexpected report: %+v", report)
	}
	stored := f.docs.get("doc-x")
	if stored.OCRStatus != domain.OCRCompleted || stored.ExtractedText == nil || *stored.ExtractedText != "Total due: 42.00" {
		t.Fatalf("unexpected stored document: %+v", stored)
	}
	if stored.OCRCompletedAt == nil {
		t.Fatalf("completion time must be recorded")
	}
	if f.engine.seenBody != "%PDF-1.4 body" {
		t.Fatalf("engine saw %q", f.engine.seenBody)
	}
	if !strings.HasSuffix(f.engine.seenPath, ".pdf") || !strings.Contains(f.engine.seenPath, "doc-x") {
		t.Fatalf("unexpected temp path %q", f.engine.seenPath)
	}
	assertTempDirEmpty(t, f.tmp)
}

func TestExtractDocumentReturnsCachedText(t *testing.T) {
	doc := pendingDocument("doc-cached", "scan.pdf")
	text := "already extracted"
	doc.OCRStatus = domain.OCRCompleted
	doc.ExtractedText = &text
	f := newExtractFixture(t, doc, &engineFake{text: "new"}, time.Second)

	for i := 0; i < 2; i++ {
		report, err := f.uc.ExtractDocument(context.Background(), testCaller(), "doc-cached")
		if err != nil {
			t.Fatalf("ExtractDocument returned error: %v", err)
		}
		if report.Outcome != domain.OutcomeCached || report.Text != text {
			t.Fatalf("unexpected report: %+v", report)
		}
	}
	if f.engine.calls.Load() != 0 || len(f.blobs.gets) != 0 {
		t.Fatalf("cached extraction must not touch blob store or engine")
	}
}

func TestExtractDocumentTimeoutMarksFailed(t *testing.T) {
	doc := pendingDocument("doc-slow", "scan.pdf")
	f := newExtractFixture(t, doc, &engineFake{block: true}, 30*time.Millisecond)

	report, err := f.uc.ExtractDocument(context.Background(), testCaller(), "doc-slow")
	var procErr *domain.ExternalProcessError
	if !errors.As(err, &procErr) || !procErr.TimedOut {
		t.Fatalf("expected timed out process error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrExternalProcess) {
		t.Fatalf("expected external process kind")
	}
	if report.Outcome != domain.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %q", report.Outcome)
	}
	stored := f.docs.get("doc-slow")
	if stored.OCRStatus != domain.OCRFailed || stored.ExtractedText != nil {
		t.Fatalf("unexpected stored document: %+v", stored)
	}
	assertTempDirEmpty(t, f.tmp)
}

func TestExtractDocumentEngineErrorKeepsStderr(t *testing.T) {
	doc := pendingDocument("doc-bad", "scan.pdf")
	engine := &engineFake{err: &domain.ExternalProcessError{Command: "extract", ExitCode: 2, Stderr: "unsupported encryption"}}
	f := newExtractFixture(t, doc, engine, time.Second)

	_, err := f.uc.ExtractDocument(context.Background(), testCaller(), "doc-bad")
	if err == nil || !strings.Contains(err.Error(), "unsupported encryption") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	if f.docs.get("doc-bad").OCRStatus != domain.OCRFailed {
		t.Fatalf("expected failed ocr status")
	}
	assertTempDirEmpty(t, f.tmp)
}

func TestExtractDocumentEmptyEngineResultMarksFailed(t *testing.T) {
	doc := pendingDocument("doc-blank", "scan.pdf")
	f := newExtractFixture(t, doc, &engineFake{text: "  \n"}, time.Second)

	report, err := f.uc.ExtractDocument(context.Background(), testCaller(), "doc-blank")
	if !domain.IsKind(err, domain.ErrExternalProcess) || !strings.Contains(err.Error(), "engine returned no text") {
		t.Fatalf("expected external process error, got %v", err)
	}
	if report.Outcome != domain.OutcomeFailed {
		t.Fatalf("unexpected outcome %q", report.Outcome)
	}
	stored := f.docs.get("doc-blank")
	if stored.OCRStatus != domain.OCRFailed || stored.ExtractedText != nil {
		t.Fatalf("expected failed status without text, got %+v", stored)
	}

	if err := f.docs.ResetOCR(context.Background(), "doc-blank"); err != nil {
		t.Fatalf("ResetOCR() error = %v", err)
	}
	f.engine.text = "recovered"
	report, err = f.uc.ExtractDocument(context.Background(), testCaller(), "doc-blank")
	if err != nil || report.Outcome != domain.OutcomeSucceeded || report.Text != "recovered" {
		t.Fatalf("expected retry to succeed, got %+v %v", report, err)
	}
	if f.engine.calls.Load() != 2 {
		t.Fatalf("expected two engine calls, got %d", f.engine.calls.Load())
	}
	assertTempDirEmpty(t, f.tmp)
}

func TestExtractDocumentConcurrentRunsInvokeEngineOnce(t *testing.T) {
	doc := pendingDocument("doc-race", "scan.pdf")
	engine := &engineFake{text: "once", release: make(chan struct{})}
	f := newExtractFixture(t, doc, engine, time.Second)

	const runs = 5
	reports := make([]domain.ExtractionReport, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], _ = f.uc.ExtractDocument(context.Background(), testCaller(), "doc-race")
		}(i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for engine.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(engine.release)
	wg.Wait()

	if got := engine.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one engine call, got %d", got)
	}
	succeeded := 0
	for _, report := range reports {
		switch report.Outcome {
		case domain.OutcomeSucceeded:
			succeeded++
		case domain.OutcomeSkipped, domain.OutcomeCached:
		default:
			t.Fatalf("unexpected outcome %q", report.Outcome)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected one succeeded run, got %d", succeeded)
	}
}

func TestExtractDocumentLegacyKeyFallback(t *testing.T) {
	doc := pendingDocument("doc-legacy", "old.pdf")
	doc.StorageKey = "1699999999-old.pdf"
	f := newExtractFixture(t, doc, &engineFake{text: "legacy"}, time.Second)
	delete(f.blobs.objects, doc.StorageKey)
	f.blobs.objects["temp/1699999999-old.pdf"] = []byte("legacy body")

	report, err := f.uc.ExtractDocument(context.Background(), testCaller(), "doc-legacy")
	if err != nil {
		t.Fatalf("ExtractDocument returned error: %v", err)
	}
	if report.Outcome != domain.OutcomeSucceeded || f.engine.seenBody != "legacy body" {
		t.Fatalf("expected legacy blob to be used, got %+v body=%q", report, f.engine.seenBody)
	}
	if len(f.blobs.gets) != 2 || f.blobs.gets[1] != "temp/1699999999-old.pdf" {
		t.Fatalf("unexpected blob lookups %v", f.blobs.gets)
	}
}

func TestExtractDocumentMissingBlobIsStorageError(t *testing.T) {
	doc := pendingDocument("doc-missing", "scan.pdf")
	engine := &engineFake{text: "never"}
	f := newExtractFixture(t, doc, engine, time.Second)
	delete(f.blobs.objects, doc.StorageKey)

	_, err := f.uc.ExtractDocument(context.Background(), testCaller(), "doc-missing")
	if !domain.IsKind(err, domain.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if engine.calls.Load() != 0 {
		t.Fatalf("engine must not run without a blob")
	}
	if len(f.blobs.gets) != 1 {
		t.Fatalf("canonical keys must not try the legacy prefix, got %v", f.blobs.gets)
	}
	if f.docs.get("doc-missing").OCRStatus != domain.OCRFailed {
		t.Fatalf("expected failed ocr status")
	}
	assertTempDirEmpty(t, f.tmp)
}

func TestWithTempFileRemovesOnFillError(t *testing.T) {
	dir := t.TempDir()
	var path string
	err := withTempFile(dir, "doc/../x", ".p df", func(io.Writer) error {
		return errors.New("fill failed")
	}, func(p string) error {
		path = p
		return nil
	})
	if err == nil || path != "" {
		t.Fatalf("expected fill error before use, got %v", err)
	}
	assertTempDirEmpty(t, dir)
}
