package automation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const taskCleanup = "retention-cleanup"

// Purger is the retention cleaner the task drives; the persistence
// cleaner satisfies it.
type Purger interface {
	RunOnce(ctx context.Context, now time.Time) error
}

// CleanupTask runs the retention purge at a daily local time and
// optionally on an extra interval.
type CleanupTask struct {
	logger *slog.Logger
	purger Purger

	mu       sync.Mutex
	settings CleanupSettings
	lastDay  string
}

func NewCleanupTask(logger *slog.Logger, purger Purger, settings CleanupSettings) *CleanupTask {
	return &CleanupTask{
		logger:   logger.With("component", "automation", "task", taskCleanup),
		purger:   purger,
		settings: settings,
	}
}

func (t *CleanupTask) Configure(settings CleanupSettings) {
	t.mu.Lock()
	t.settings = settings
	t.mu.Unlock()
}

func (t *CleanupTask) Name() string { return taskCleanup }

func (t *CleanupTask) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.settings.DailyAt != "" || t.settings.IntervalMinutes > 0
}

func (t *CleanupTask) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settings.IntervalMinutes > 0 {
		return minutes(t.settings.IntervalMinutes, 60)
	}

	// Daily-only mode polls each minute for the configured wall time.
	return time.Minute
}

func (t *CleanupTask) RunTick(ctx context.Context) {
	t.mu.Lock()
	settings := t.settings
	t.mu.Unlock()

	now := time.Now()
	run := settings.IntervalMinutes > 0

	// The daily run fires on the first tick at or past the configured
	// wall time, once per calendar day.
	if settings.DailyAt != "" && now.Format("15:04") >= settings.DailyAt {
		day := now.Format("2006-01-02")
		t.mu.Lock()
		if t.lastDay != day {
			t.lastDay = day
			run = true
		}
		t.mu.Unlock()
	}

	if !run {
		return
	}
	if err := t.purger.RunOnce(ctx, now); err != nil {
		t.logger.Error("retention purge failed", "error", err)
	}
}
