package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

const queueGroup = "pipeline-workers"

// Queue publishes stage tasks to {prefix}.classify and {prefix}.extract and
// consumes them through a queue group, so each task reaches one worker.
type Queue struct {
	conn     *nats.Conn
	prefix   string
	executor *resilience.Executor
}

type Options struct {
	Name                 string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subjectPrefix string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.Name
	if name == "" {
		name = "document-pipeline"
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		prefix:   normalizePrefix(subjectPrefix),
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Dispatch publishes the task and returns once NATS has accepted it.
func (q *Queue) Dispatch(ctx context.Context, task domain.Task) error {
	if !task.Kind.Valid() {
		return domain.WrapError(domain.ErrInvalidInput, "nats dispatch", fmt.Errorf("unknown task kind %q", task.Kind))
	}
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	subject := subjectFor(q.prefix, task.Kind)

	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return resilience.WrapTemporary("nats publish", err, classifyNATSError)
	}
	return nil
}

// Consume subscribes to both stage subjects and blocks until ctx is done,
// then drains in-flight messages.
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, domain.Task) error) error {
	onMsg := func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		task, err := decodeTask(msg.Data)
		if err != nil {
			slog.Error("task_decode_failed", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ctx, task); err != nil {
			slog.Error("task_handler_failed",
				"task_id", task.ID,
				"kind", string(task.Kind),
				"document_id", task.DocumentID,
				"error", err,
			)
		}
	}

	var subs []*nats.Subscription
	for _, kind := range []domain.TaskKind{domain.TaskClassify, domain.TaskExtract} {
		sub, err := q.conn.QueueSubscribe(subjectFor(q.prefix, kind), queueGroup, onMsg)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return fmt.Errorf("nats subscribe: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	var drainErr error
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			drainErr = errors.Join(drainErr, fmt.Errorf("nats drain subscription: %w", err))
		}
	}
	if drainErr != nil {
		return drainErr
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return "documents"
	}
	return prefix
}

func subjectFor(prefix string, kind domain.TaskKind) string {
	return prefix + "." + string(kind)
}

func encodeTask(task domain.Task) ([]byte, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return payload, nil
}

func decodeTask(data []byte) (domain.Task, error) {
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return domain.Task{}, fmt.Errorf("decode task: %w", err)
	}
	if !task.Kind.Valid() {
		return domain.Task{}, fmt.Errorf("decode task: unknown kind %q", task.Kind)
	}
	if strings.TrimSpace(task.DocumentID) == "" {
		return domain.Task{}, errors.New("decode task: document id is required")
	}
	return task, nil
}
