package automation

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one scheduled loop. RunTick is never invoked concurrently with
// itself.
type Task interface {
	Name() string
	Enabled() bool
	Interval() time.Duration
	RunTick(ctx context.Context)
}

// disabledPoll is how often a disabled task is re-checked for the
// enabled flag flipping at runtime.
const disabledPoll = 30 * time.Second

// Scheduler drives each task on its own loop. A tick that overruns its
// interval starts the next tick immediately and increments the task's
// skew counter.
type Scheduler struct {
	logger *slog.Logger
	tasks  []Task

	mu   sync.Mutex
	skew map[string]*atomic.Int64

	wg sync.WaitGroup
}

func NewScheduler(logger *slog.Logger, tasks ...Task) *Scheduler {
	return &Scheduler{
		logger: logger.With("component", "scheduler"),
		tasks:  tasks,
		skew:   make(map[string]*atomic.Int64),
	}
}

// Run starts every task loop and blocks until ctx ends and all loops
// have drained.
func (s *Scheduler) Run(ctx context.Context) {
	for _, task := range s.tasks {
		s.wg.Add(1)
		go func(task Task) {
			defer s.wg.Done()
			s.runTask(ctx, task)
		}(task)
	}
	s.wg.Wait()
}

// Skew reports how many ticks of the named task overran their interval.
func (s *Scheduler) Skew(name string) int64 {
	s.mu.Lock()
	counter, ok := s.skew[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}

	return counter.Load()
}

func (s *Scheduler) skewCounter(name string) *atomic.Int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.skew[name]
	if !ok {
		counter = &atomic.Int64{}
		s.skew[name] = counter
	}

	return counter
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	counter := s.skewCounter(task.Name())

	for ctx.Err() == nil {
		if !task.Enabled() {
			if !sleepCtx(ctx, disabledPoll) {
				return
			}

			continue
		}

		interval := task.Interval()
		start := time.Now()
		task.RunTick(ctx)
		elapsed := time.Since(start)

		if elapsed >= interval {
			counter.Add(1)
			s.logger.Warn("task tick overran its interval",
				"task", task.Name(), "elapsed", elapsed, "interval", interval)

			continue
		}
		if !sleepCtx(ctx, interval-elapsed) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
