package automation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"meshgate/internal/domain"
)

const taskTimers = "timer-trigger"

// Timers runs cron-style triggers that either send a text or execute a
// script on each firing.
type Timers struct {
	deps   Deps
	logger *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
	ctx  context.Context
}

func NewTimers(deps Deps, settings TimerSettings) *Timers {
	t := &Timers{deps: deps, logger: deps.taskLogger(taskTimers)}
	t.Configure(settings)

	return t
}

// Configure rebuilds the cron table. Entries with invalid expressions
// are dropped with a logged error.
func (t *Timers) Configure(settings TimerSettings) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cron != nil {
		t.cron.Stop()
		t.cron = nil
	}
	if !settings.Enabled || len(settings.Entries) == 0 {
		return
	}

	runner := cron.New()
	for _, entry := range settings.Entries {
		entry := entry
		if _, err := runner.AddFunc(entry.Cron, func() { t.fire(entry) }); err != nil {
			t.logger.Error("timer entry dropped", "cron", entry.Cron, "error", err)
		}
	}
	t.cron = runner
	if t.ctx != nil {
		runner.Start()
	}
}

// Run starts the cron table and blocks until ctx ends.
func (t *Timers) Run(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	if t.cron != nil {
		t.cron.Start()
	}
	t.mu.Unlock()

	<-ctx.Done()

	t.mu.Lock()
	if t.cron != nil {
		t.cron.Stop()
	}
	t.ctx = nil
	t.mu.Unlock()
}

func (t *Timers) fire(entry TimerEntry) {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if entry.Script != "" {
		if _, err := runScript(ctx, entry.Script, nil); err != nil {
			t.logger.Warn("timer script failed", "cron", entry.Cron, "error", err)
			t.deps.audit(taskTimers, 0, domain.AuditOutcomeError, err.Error())

			return
		}
		t.deps.audit(taskTimers, 0, domain.AuditOutcomeSent, entry.Cron)

		return
	}

	if entry.Text == "" || !t.deps.Radio.Ready() {
		return
	}
	if _, err := t.deps.Radio.SendText(ctx, domain.BroadcastNodeNum, entry.Channel, entry.Text); err != nil {
		t.logger.Warn("timer send failed", "cron", entry.Cron, "error", err)
		t.deps.audit(taskTimers, 0, domain.AuditOutcomeError, err.Error())

		return
	}
	t.deps.audit(taskTimers, 0, domain.AuditOutcomeSent, entry.Cron)
}
