package persistence

import (
	"context"
	"log/slog"
	"time"
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue serializes database writes behind the in-memory state so the
// callers rarely block on disk. When the queue is full Enqueue blocks in
// submission order; commands are only dropped once the queue is stopped.
type WriterQueue struct {
	logger *slog.Logger
	queue  chan writeCmd
	done   chan struct{}
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if capacity <= 0 {
		capacity = 256
	}

	return &WriterQueue{
		logger: logger,
		queue:  make(chan writeCmd, capacity),
		done:   make(chan struct{}),
	}
}

func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	cmd := writeCmd{name: name, fn: fn}
	select {
	case w.queue <- cmd:
	case <-w.done:
		w.logger.Warn("db write dropped, queue stopped", "cmd", name)
	}
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-w.queue:
				w.runWithRetry(ctx, cmd)
			}
		}
	}()
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := cmd.fn(ctx); err != nil {
			w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
			if attempt == maxAttempts {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}

			continue
		}

		return
	}
}
