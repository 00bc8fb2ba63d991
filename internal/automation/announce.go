package automation

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"meshgate/internal/domain"
)

const taskAnnounce = "auto-announce"

// AnnounceTask broadcasts a fixed text on a channel, either every N
// minutes or at configured day/hour slots.
type AnnounceTask struct {
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	settings AnnounceSettings
	lastSlot string
}

func NewAnnounceTask(deps Deps, settings AnnounceSettings) *AnnounceTask {
	return &AnnounceTask{deps: deps, logger: deps.taskLogger(taskAnnounce), settings: settings}
}

func (t *AnnounceTask) Configure(settings AnnounceSettings) {
	t.mu.Lock()
	t.settings = settings
	t.mu.Unlock()
}

func (t *AnnounceTask) Name() string { return taskAnnounce }

func (t *AnnounceTask) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.settings.Enabled && t.settings.Text != ""
}

func (t *AnnounceTask) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.matrixModeLocked() {
		// Matrix mode polls each minute and fires on slot edges.
		return time.Minute
	}

	return minutes(t.settings.IntervalMinutes, 1440)
}

func (t *AnnounceTask) matrixModeLocked() bool {
	return len(t.settings.Hours) > 0
}

func (t *AnnounceTask) RunTick(ctx context.Context) {
	if !t.deps.Radio.Ready() {
		return
	}

	t.mu.Lock()
	settings := t.settings
	matrix := t.matrixModeLocked()
	t.mu.Unlock()

	if matrix && !t.matrixDue(settings, time.Now()) {
		return
	}

	if _, err := t.deps.Radio.SendText(ctx, domain.BroadcastNodeNum, settings.Channel, settings.Text); err != nil {
		t.logger.Warn("announce failed", "error", err)
		t.deps.audit(taskAnnounce, domain.BroadcastNodeNum, domain.AuditOutcomeError, err.Error())

		return
	}
	t.deps.audit(taskAnnounce, domain.BroadcastNodeNum, domain.AuditOutcomeSent, settings.Text)
}

// matrixDue fires once per configured day/hour slot.
func (t *AnnounceTask) matrixDue(settings AnnounceSettings, now time.Time) bool {
	if len(settings.Days) > 0 && !slices.Contains(settings.Days, int(now.Weekday())) {
		return false
	}
	if !slices.Contains(settings.Hours, now.Hour()) {
		return false
	}

	slot := now.Format("2006-01-02T15")
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastSlot == slot {
		return false
	}
	t.lastSlot = slot

	return true
}
