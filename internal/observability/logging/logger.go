package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

func NewJSONLogger(service, level string) *slog.Logger {
	return NewLogger(os.Stdout, service, level)
}

// NewLogger writes JSON records to w. Records logged with a context from
// WithTask carry the task's stage, task_id and document_id.
func NewLogger(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(taskHandler{Handler: handler}).With("service", service)
}

type taskAttrsKey struct{}

// WithTask tags ctx with the stage task being run.
func WithTask(ctx context.Context, stage, taskID, documentID string) context.Context {
	attrs := []slog.Attr{slog.String("stage", stage)}
	if taskID != "" {
		attrs = append(attrs, slog.String("task_id", taskID))
	}
	if documentID != "" {
		attrs = append(attrs, slog.String("document_id", documentID))
	}
	return context.WithValue(ctx, taskAttrsKey{}, attrs)
}

type taskHandler struct {
	slog.Handler
}

func (h taskHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(taskAttrsKey{}).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h taskHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return taskHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h taskHandler) WithGroup(name string) slog.Handler {
	return taskHandler{Handler: h.Handler.WithGroup(name)}
}

// ParseLevel falls back to info for unknown names.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
