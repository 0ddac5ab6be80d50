package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/observability/logging"
)

// StageMetrics is the subset of metrics.WorkerMetrics the handler records.
type StageMetrics interface {
	StartStage(stage string)
	FinishStage(service, stage, outcome string, duration time.Duration)
	ObserveQueueLag(service, stage string, lag time.Duration)
}

// Handler turns dispatched tasks into stage runs. It is shared by the NATS
// consumer and the in-process pool.
type Handler struct {
	service    string
	classifier ports.DocumentClassifier
	extractor  ports.DocumentExtractor
	metrics    StageMetrics
	// stageTimeout caps one task end to end; the stages apply their own
	// tighter AI and engine budgets inside it.
	stageTimeout time.Duration
	now          func() time.Time
}

func NewHandler(service string, classifier ports.DocumentClassifier, extractor ports.DocumentExtractor, metrics StageMetrics, stageTimeout time.Duration) *Handler {
	if stageTimeout <= 0 {
		stageTimeout = 10 * time.Minute
	}
	return &Handler{
		service:      service,
		classifier:   classifier,
		extractor:    extractor,
		metrics:      metrics,
		stageTimeout: stageTimeout,
		now:          time.Now,
	}
}

func (h *Handler) Handle(ctx context.Context, task domain.Task) error {
	caller, err := domain.NewCaller(task.UserID)
	if err != nil {
		return fmt.Errorf("task %s: %w", task.ID, err)
	}
	stage := string(task.Kind)
	ctx = logging.WithTask(ctx, stage, task.ID, task.DocumentID)

	if h.metrics != nil {
		if !task.EnqueuedAt.IsZero() {
			h.metrics.ObserveQueueLag(h.service, stage, h.now().Sub(task.EnqueuedAt))
		}
		h.metrics.StartStage(stage)
	}

	runCtx, cancel := context.WithTimeout(ctx, h.stageTimeout)
	defer cancel()

	start := h.now()
	outcome, err := h.run(runCtx, caller, task)
	duration := h.now().Sub(start)

	if h.metrics != nil {
		h.metrics.FinishStage(h.service, stage, string(outcome), duration)
	}

	slog.InfoContext(ctx, "stage_finished",
		"user_id", caller.UserID,
		"outcome", string(outcome),
		"duration_ms", float64(duration.Microseconds())/1000.0,
	)
	return err
}

func (h *Handler) run(ctx context.Context, caller domain.Caller, task domain.Task) (domain.StageOutcome, error) {
	switch task.Kind {
	case domain.TaskClassify:
		report, err := h.classifier.ClassifyDocument(ctx, caller, task.DocumentID)
		return report.Outcome, err
	case domain.TaskExtract:
		report, err := h.extractor.ExtractDocument(ctx, caller, task.DocumentID)
		return report.Outcome, err
	default:
		return domain.OutcomeFailed, domain.WrapError(domain.ErrInvalidInput, "handle task", fmt.Errorf("unknown task kind %q", task.Kind))
	}
}
