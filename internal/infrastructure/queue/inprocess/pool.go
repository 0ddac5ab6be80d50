package inprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// Handler runs one stage task.
type Handler func(context.Context, domain.Task) error

// Pool is a bounded channel worker pool used as the task dispatcher when the
// API and workers share one process.
type Pool struct {
	handler Handler
	workers int

	ch     chan domain.Task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan domain.Task, n)
		}
	}
}

func NewPool(handler Handler, opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		handler: handler,
		workers: 4,
		ch:      make(chan domain.Task, 256),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(p)
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i + 1)
	}
	return p
}

func (p *Pool) run(workerID int) {
	defer p.wg.Done()
	for task := range p.ch {
		if err := p.handler(p.ctx, task); err != nil {
			slog.Error("task_handler_failed",
				"worker_id", workerID,
				"task_id", task.ID,
				"kind", string(task.Kind),
				"document_id", task.DocumentID,
				"error", err,
			)
		}
	}
}

// Dispatch never blocks: a full queue is reported as a temporary failure.
func (p *Pool) Dispatch(_ context.Context, task domain.Task) error {
	if !task.Kind.Valid() {
		return domain.WrapError(domain.ErrInvalidInput, "inprocess dispatch", fmt.Errorf("unknown task kind %q", task.Kind))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.WrapError(domain.ErrTemporary, "inprocess dispatch", errors.New("pool is shutting down"))
	}
	select {
	case p.ch <- task:
		return nil
	default:
		return domain.WrapError(domain.ErrTemporary, "inprocess dispatch", errors.New("task queue is full"))
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish. When
// ctx expires first, running handlers are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
