package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const testUserID = "0b8f3c4e-5a7d-4c1e-9f2a-6d3b8e1c2a4f"

type classifierFake struct {
	calls  []string
	report domain.ClassificationReport
	err    error
}

func (f *classifierFake) ClassifyDocument(_ context.Context, caller domain.Caller, documentID string) (domain.ClassificationReport, error) {
	f.calls = append(f.calls, caller.UserID+"/"+documentID)
	return f.report, f.err
}

type extractorFake struct {
	calls    int
	deadline bool
	report   domain.ExtractionReport
	err      error
}

func (f *extractorFake) ExtractDocument(ctx context.Context, _ domain.Caller, _ string) (domain.ExtractionReport, error) {
	f.calls++
	_, f.deadline = ctx.Deadline()
	return f.report, f.err
}

type metricsFake struct {
	mu       sync.Mutex
	started  []string
	finished []string
	lags     []time.Duration
}

func (m *metricsFake) StartStage(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, stage)
}

func (m *metricsFake) FinishStage(_ string, stage, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, stage+":"+outcome)
}

func (m *metricsFake) ObserveQueueLag(_ string, _ string, lag time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lags = append(m.lags, lag)
}

func TestHandleRoutesClassifyTask(t *testing.T) {
	cls := &classifierFake{report: domain.ClassificationReport{Outcome: domain.OutcomeFallback}}
	metrics := &metricsFake{}
	h := NewHandler("worker", cls, &extractorFake{}, metrics, time.Minute)
	now := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)
	h.now = func() time.Time { return now }

	err := h.Handle(context.Background(), domain.Task{
		ID:         "t1",
		Kind:       domain.TaskClassify,
		DocumentID: "doc-1",
		UserID:     testUserID,
		EnqueuedAt: now.Add(-5 * time.Second),
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(cls.calls) != 1 || cls.calls[0] != testUserID+"/doc-1" {
		t.Fatalf("unexpected classifier calls %v", cls.calls)
	}
	if len(metrics.finished) != 1 || metrics.finished[0] != "classify:fallback" {
		t.Fatalf("unexpected finished metrics %v", metrics.finished)
	}
	if len(metrics.lags) != 1 || metrics.lags[0] != 5*time.Second {
		t.Fatalf("unexpected lag %v", metrics.lags)
	}
}

func TestHandleExtractAppliesTimeoutAndReturnsError(t *testing.T) {
	ext := &extractorFake{
		report: domain.ExtractionReport{Outcome: domain.OutcomeFailed},
		err:    &domain.ExternalProcessError{TimedOut: true},
	}
	metrics := &metricsFake{}
	h := NewHandler("worker", &classifierFake{}, ext, metrics, time.Minute)

	err := h.Handle(context.Background(), domain.Task{Kind: domain.TaskExtract, DocumentID: "doc-2", UserID: testUserID})
	if !domain.IsKind(err, domain.ErrExternalProcess) {
		t.Fatalf("expected external process error, got %v", err)
	}
	if !ext.deadline {
		t.Fatalf("expected stage deadline on context")
	}
	if len(metrics.lags) != 0 {
		t.Fatalf("zero enqueue time must not record lag")
	}
	if metrics.finished[0] != "extract:failed" {
		t.Fatalf("unexpected finished metrics %v", metrics.finished)
	}
}

func TestHandleRejectsTaskWithoutIdentity(t *testing.T) {
	cls := &classifierFake{}
	h := NewHandler("worker", cls, &extractorFake{}, nil, 0)

	err := h.Handle(context.Background(), domain.Task{Kind: domain.TaskClassify, DocumentID: "doc-1"})
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if len(cls.calls) != 0 {
		t.Fatalf("classifier must not run without identity")
	}
}

func TestHandleUnknownKind(t *testing.T) {
	h := NewHandler("worker", &classifierFake{}, &extractorFake{}, nil, 0)
	err := h.Handle(context.Background(), domain.Task{Kind: "index", DocumentID: "doc-1", UserID: testUserID})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
