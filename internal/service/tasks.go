package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"audiobook-feed/internal/metrics"
)

// DefaultTaskConcurrency bounds the background tasks running at once.
const DefaultTaskConcurrency = 4

// Task is a unit of background work.
type Task func(ctx context.Context) error

// TaskQueue runs fire-and-forget work with bounded concurrency. Task errors
// are reported on an internal channel drained into the log. Tasks are never
// cancelled; Close waits for them.
type TaskQueue struct {
	sem     *semaphore.Weighted
	errs    chan error
	onError func(error)
	metrics *metrics.Metrics

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	drained chan struct{}
}

// NewTaskQueue creates a queue running at most limit tasks concurrently.
// onError receives every task error; nil logs them.
func NewTaskQueue(limit int64, onError func(error), m *metrics.Metrics) *TaskQueue {
	if limit <= 0 {
		limit = DefaultTaskConcurrency
	}
	if onError == nil {
		onError = func(err error) {
			slog.Error("Background task failed", "error", err)
		}
	}
	q := &TaskQueue{
		sem:     semaphore.NewWeighted(limit),
		errs:    make(chan error, 16),
		onError: onError,
		metrics: m,
		drained: make(chan struct{}),
	}
	go q.drain()
	return q
}

func (q *TaskQueue) drain() {
	defer close(q.drained)
	for err := range q.errs {
		q.onError(err)
	}
}

// Submit schedules task under name and returns immediately. It reports false
// when the queue is closed.
func (q *TaskQueue) Submit(name string, task Task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		slog.Warn("Task submitted after close", "task", name)
		return false
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()

		ctx := context.Background()
		if err := q.sem.Acquire(ctx, 1); err != nil {
			q.errs <- fmt.Errorf("%s: acquire slot: %w", name, err)
			return
		}
		defer q.sem.Release(1)

		if err := task(ctx); err != nil {
			q.metrics.BackgroundTask(name, "error")
			q.errs <- fmt.Errorf("%s: %w", name, err)
			return
		}
		q.metrics.BackgroundTask(name, "ok")
	}()
	return true
}

// Wait blocks until every submitted task has finished.
func (q *TaskQueue) Wait() {
	q.wg.Wait()
}

// Close rejects new tasks, waits for running ones and flushes their errors.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.drained
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.wg.Wait()
	close(q.errs)
	<-q.drained
}
