// Package taskqueue delivers durable tasks to their handlers.
//
// Tasks live in the store. A Worker claims the oldest pending task, runs
// the handler registered for its queue and records the outcome. A handler
// error puts the task back to pending until it has been delivered
// MaxDeliveries times. Tasks left running by a crashed worker are
// requeued when Run starts.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/mailchimp/Firebase/internal/store"
)

const (
	// MaxDeliveries is the default delivery limit per task.
	MaxDeliveries = 3
	// PollInterval is the default wait between empty polls.
	PollInterval = 500 * time.Millisecond
)

// Handler processes one task payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Store is the task storage a Worker drives.
type Store interface {
	ClaimTask(ctx context.Context) (*store.Task, error)
	CompleteTask(ctx context.Context, id string) error
	FailTask(ctx context.Context, id, reason string, maxAttempts int) (bool, error)
	RequeueRunning(ctx context.Context) (int64, error)
}

// Worker polls a Store and dispatches tasks one at a time.
type Worker struct {
	store         Store
	clock         clock.Clock
	poll          time.Duration
	maxDeliveries int
	logger        *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock sets the clock used between polls.
func WithClock(c clock.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

// WithPollInterval overrides PollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithMaxDeliveries overrides MaxDeliveries.
func WithMaxDeliveries(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxDeliveries = n
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// NewWorker returns a Worker with no handlers.
func NewWorker(s Store, opts ...Option) *Worker {
	w := &Worker{
		store:         s,
		clock:         clock.WallClock,
		poll:          PollInterval,
		maxDeliveries: MaxDeliveries,
		logger:        slog.Default(),
		handlers:      map[string]Handler{},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "taskqueue")
	return w
}

// Handle registers h for queue, replacing any earlier handler.
func (w *Worker) Handle(queue string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[queue] = h
}

// Run requeues interrupted tasks, then processes tasks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	n, err := w.store.RequeueRunning(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Info("requeued interrupted tasks", "count", n)
	}

	for {
		if _, err := w.Drain(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(w.poll):
		}
	}
}

// Drain processes tasks until none is pending and returns how many were
// delivered. Successors enqueued by handlers are processed in the same
// call.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		task, err := w.store.ClaimTask(ctx)
		if err != nil {
			return delivered, err
		}
		if task == nil {
			return delivered, nil
		}
		delivered++
		if err := w.deliver(ctx, task); err != nil {
			return delivered, err
		}
	}
}

// deliver runs one task. Only storage errors are returned; handler errors
// are recorded on the task.
func (w *Worker) deliver(ctx context.Context, task *store.Task) error {
	log := w.logger.With("task_id", task.ID, "queue", task.Queue, "attempt", task.Attempts)

	w.mu.RLock()
	h, ok := w.handlers[task.Queue]
	w.mu.RUnlock()
	if !ok {
		log.Error("no handler for queue")
		_, err := w.store.FailTask(ctx, task.ID, "no handler for queue "+task.Queue, 0)
		return err
	}

	herr := runHandler(ctx, h, task.Payload)
	if herr == nil {
		log.Debug("task done")
		return w.store.CompleteTask(ctx, task.ID)
	}

	requeued, err := w.store.FailTask(ctx, task.ID, herr.Error(), w.maxDeliveries)
	if err != nil {
		return err
	}
	if requeued {
		log.Warn("task failed, will be redelivered", "error", herr, "max_deliveries", w.maxDeliveries)
	} else {
		log.Error("task failed permanently", "error", herr, "max_deliveries", w.maxDeliveries)
	}
	return nil
}

// runHandler converts a handler panic into an error so one bad payload
// cannot stop the worker.
func runHandler(ctx context.Context, h Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, payload)
}
