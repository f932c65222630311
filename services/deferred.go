package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"linkrec/metrics"
)

// Task ist eine nachgelagerte Aufgabe. Der Kontext trägt das Task-Timeout, nicht das der Anfrage.
type Task func(ctx context.Context) error

// Deferrer nimmt Aufgaben an, die nach der aktuellen Anfrage ausgeführt werden.
type Deferrer interface {
	Submit(name string, fn Task)
}

type deferredTask struct {
	name string
	fn   Task
}

// DeferredQueue führt Aufgaben mit einer festen Anzahl Worker im Hintergrund aus.
// Fehler werden geloggt; ist die Queue voll oder geschlossen, läuft die Aufgabe sofort im Aufrufer.
type DeferredQueue struct {
	tasks   chan deferredTask
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDeferredQueue startet workers Goroutinen.
func NewDeferredQueue(workers, buffer int, timeout time.Duration, logger *zap.Logger) *DeferredQueue {
	if workers < 1 {
		workers = 1
	}
	q := &DeferredQueue{
		tasks:   make(chan deferredTask, buffer),
		timeout: timeout,
		logger:  logger,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer q.wg.Done()
			for t := range q.tasks {
				q.run(t)
			}
		}()
	}
	return q
}

func (q *DeferredQueue) Submit(name string, fn Task) {
	t := deferredTask{name: name, fn: fn}

	q.mu.RLock()
	if !q.closed {
		select {
		case q.tasks <- t:
			q.mu.RUnlock()
			return
		default:
		}
	}
	q.mu.RUnlock()

	q.logger.Warn("Deferred queue unavailable, running task inline", zap.String("task", name))
	q.run(t)
}

// Close nimmt keine neuen Aufgaben mehr an und wartet, bis alle angenommenen erledigt sind.
func (q *DeferredQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *DeferredQueue) run(t deferredTask) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return t.fn(ctx)
	}()
	if err != nil {
		metrics.DeferredTasksTotal.WithLabelValues("failed").Inc()
		q.logger.Error("Deferred task failed", zap.String("task", t.name), zap.Error(err))
		return
	}
	metrics.DeferredTasksTotal.WithLabelValues("ok").Inc()
}
