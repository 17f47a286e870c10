// Package jobs runs questions in the background and tracks their outcome in
// the queries table.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned when submitting to a pool that is not running.
var ErrPoolClosed = errors.New("worker pool is not running")

// Task is the future of a submitted unit of work.
type Task struct {
	fn   func(ctx context.Context) error
	done chan struct{}
	err  error
}

func newTask(fn func(ctx context.Context) error) *Task {
	return &Task{fn: fn, done: make(chan struct{})}
}

// Done is closed once the task has run.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err is the task's result. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task has run or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) run(ctx context.Context) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("panic: %v", r)
		}
	}()
	t.err = t.fn(ctx)
}

// Pool is a fixed set of workers fed by a buffered queue.
type Pool struct {
	workers int
	queue   chan *Task
	log     *zap.Logger

	mu      sync.RWMutex
	running bool
	g       *errgroup.Group
	cancel  context.CancelFunc
}

func NewPool(workers, queueSize int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		workers: workers,
		queue:   make(chan *Task, queueSize),
		log:     log,
	}
}

// Start launches the workers. Tasks run with a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.g != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.g = &errgroup.Group{}
	for i := 0; i < p.workers; i++ {
		id := i
		p.g.Go(func() error {
			p.work(ctx, id)
			return nil
		})
	}
	p.running = true
	p.log.Info("worker pool started", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.queue)))
}

func (p *Pool) work(ctx context.Context, id int) {
	for task := range p.queue {
		p.log.Debug("worker picked up task", zap.Int("worker", id))
		task.run(ctx)
	}
}

// Submit enqueues fn. It blocks while the queue is full, until ctx ends.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) (*Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return nil, ErrPoolClosed
	}

	task := newTask(fn)
	select {
	case p.queue <- task:
		return task, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop closes the queue and waits for queued tasks to finish. When ctx ends
// first, running tasks are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.queue)
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.g.Wait() }()

	select {
	case err := <-done:
		p.cancel()
		p.log.Info("worker pool stopped")
		return err
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
