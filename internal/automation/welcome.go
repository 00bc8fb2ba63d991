package automation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"meshgate/internal/domain"
)

const (
	taskWelcome = "auto-welcome"
	// welcomeInitKey flags that the first-enable bulk mark already ran.
	welcomeInitKey = "automation.welcome.initialized"
)

// WelcomeTask DMs newly observed nodes once. On the first enable every
// node already known is bulk-marked welcomed, so enabling the feature on
// an established mesh does not trigger a greeting storm.
type WelcomeTask struct {
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	settings WelcomeSettings
}

func NewWelcomeTask(deps Deps, settings WelcomeSettings) *WelcomeTask {
	return &WelcomeTask{deps: deps, logger: deps.taskLogger(taskWelcome), settings: settings}
}

func (t *WelcomeTask) Configure(settings WelcomeSettings) {
	t.mu.Lock()
	t.settings = settings
	t.mu.Unlock()
}

func (t *WelcomeTask) Name() string { return taskWelcome }

func (t *WelcomeTask) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.settings.Enabled && t.settings.Text != ""
}

func (t *WelcomeTask) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return minutes(t.settings.IntervalMinutes, 5)
}

func (t *WelcomeTask) RunTick(ctx context.Context) {
	if !t.ensureInitialized(ctx) {
		return
	}
	if !t.deps.Radio.Ready() {
		return
	}

	t.mu.Lock()
	settings := t.settings
	t.mu.Unlock()

	for _, node := range t.deps.Store.Nodes() {
		if ctx.Err() != nil {
			return
		}
		if node.Welcomed || node.IsLocal || node.IsIgnored {
			continue
		}
		if settings.RequireLongName && node.LongName == "" {
			// Wait for the node user record before greeting.
			continue
		}
		if settings.MaxHops > 0 {
			if node.HopsAway == nil || int(*node.HopsAway) > settings.MaxHops {
				t.deps.audit(taskWelcome, node.NodeNum, domain.AuditOutcomeSkippedFilter, "outside hop budget")

				continue
			}
		}

		if _, err := t.deps.Radio.SendText(ctx, node.NodeNum, 0, settings.Text); err != nil {
			t.logger.Warn("welcome failed", "node", node.NodeID(), "error", err)
			t.deps.audit(taskWelcome, node.NodeNum, domain.AuditOutcomeError, err.Error())

			continue
		}
		t.deps.Store.Mutate(node.NodeNum, func(n *domain.Node) { n.Welcomed = true })
		t.deps.audit(taskWelcome, node.NodeNum, domain.AuditOutcomeSent, "")
	}
}

// ensureInitialized bulk-marks all current nodes exactly once.
func (t *WelcomeTask) ensureInitialized(ctx context.Context) bool {
	if t.deps.Settings == nil {
		return true
	}

	_, found, err := t.deps.Settings.Get(ctx, welcomeInitKey)
	if err != nil {
		t.logger.Warn("read welcome init flag failed", "error", err)

		return false
	}
	if found {
		return true
	}

	marked := 0
	for _, node := range t.deps.Store.Nodes() {
		if node.Welcomed {
			continue
		}
		t.deps.Store.Mutate(node.NodeNum, func(n *domain.Node) { n.Welcomed = true })
		marked++
	}
	t.logger.Info("welcome enabled, existing nodes bulk-marked", "count", marked)

	if err := t.deps.Settings.Set(ctx, welcomeInitKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		t.logger.Warn("store welcome init flag failed", "error", err)
	}

	// The tick that initialises does not greet; new nodes are picked up
	// from the next tick on.
	return false
}
