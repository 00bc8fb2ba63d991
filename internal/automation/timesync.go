package automation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"meshgate/internal/domain"
)

const taskTimeSync = "auto-timesync"

// TimeSyncTask pushes the gateway's UTC clock to filtered nodes.
type TimeSyncTask struct {
	deps   Deps
	logger *slog.Logger

	mu          sync.Mutex
	settings    TimeSyncSettings
	filter      NodeFilter
	filterError error
}

func NewTimeSyncTask(deps Deps, settings TimeSyncSettings) *TimeSyncTask {
	t := &TimeSyncTask{deps: deps, logger: deps.taskLogger(taskTimeSync)}
	t.Configure(settings)

	return t
}

func (t *TimeSyncTask) Configure(settings TimeSyncSettings) {
	filter, err := CompileFilter(settings.Filter)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.settings = settings
	t.filter = filter
	t.filterError = err
	if err != nil {
		t.logger.Error("filter rejected, task suspended", "error", err)
	}
}

func (t *TimeSyncTask) Name() string { return taskTimeSync }

func (t *TimeSyncTask) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.settings.Enabled && t.filterError == nil
}

func (t *TimeSyncTask) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return minutes(t.settings.IntervalMinutes, 360)
}

func (t *TimeSyncTask) RunTick(ctx context.Context) {
	if !t.deps.Radio.Ready() {
		return
	}

	t.mu.Lock()
	filter := t.filter
	t.mu.Unlock()

	for _, node := range t.deps.Store.Nodes() {
		if ctx.Err() != nil {
			return
		}
		if node.IsLocal || node.IsIgnored || !filter.Matches(node) {
			continue
		}

		if err := t.deps.Radio.SetTime(ctx, node.NodeNum, time.Now().UTC()); err != nil {
			t.logger.Warn("time sync failed", "node", node.NodeID(), "error", err)
			t.deps.audit(taskTimeSync, node.NodeNum, domain.AuditOutcomeError, err.Error())

			continue
		}
		t.deps.audit(taskTimeSync, node.NodeNum, domain.AuditOutcomeSent, "")
	}
}
