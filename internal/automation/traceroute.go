package automation

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"meshgate/internal/domain"
)

const taskTraceroute = "auto-traceroute"

// TracerouteTask maps the mesh by probing routes to filtered nodes, a
// bounded number per tick.
type TracerouteTask struct {
	deps   Deps
	logger *slog.Logger

	mu          sync.Mutex
	settings    TracerouteSettings
	filter      NodeFilter
	lastProbed  map[uint32]time.Time
	filterError error
}

func NewTracerouteTask(deps Deps, settings TracerouteSettings) *TracerouteTask {
	t := &TracerouteTask{
		deps:       deps,
		logger:     deps.taskLogger(taskTraceroute),
		lastProbed: make(map[uint32]time.Time),
	}
	t.Configure(settings)

	return t
}

// Configure swaps settings at runtime; a bad name regex disables the
// task until fixed.
func (t *TracerouteTask) Configure(settings TracerouteSettings) {
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

func (t *TracerouteTask) Name() string { return taskTraceroute }

func (t *TracerouteTask) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.settings.Enabled && t.filterError == nil
}

func (t *TracerouteTask) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return minutes(t.settings.IntervalMinutes, 60)
}

func (t *TracerouteTask) RunTick(ctx context.Context) {
	if !t.deps.Radio.Ready() {
		return
	}

	t.mu.Lock()
	settings := t.settings
	filter := t.filter
	t.mu.Unlock()

	cooldown := minutes(settings.PerNodeCooldownMins, 720)
	now := time.Now()

	candidates := make([]domain.Node, 0)
	for _, node := range t.deps.Store.Nodes() {
		if node.IsLocal || node.IsIgnored {
			continue
		}
		if !filter.Matches(node) {
			t.deps.audit(taskTraceroute, node.NodeNum, domain.AuditOutcomeSkippedFilter, "")

			continue
		}
		candidates = append(candidates, node)
	}

	if settings.SortByHopsDesc {
		sort.SliceStable(candidates, func(i, j int) bool {
			return hopsOf(candidates[i]) > hopsOf(candidates[j])
		})
	}

	budget := settings.Budget
	if budget <= 0 {
		budget = 1
	}

	sent := 0
	for _, node := range candidates {
		if ctx.Err() != nil {
			return
		}
		if sent >= budget {
			t.deps.audit(taskTraceroute, node.NodeNum, domain.AuditOutcomeSkippedRateLimit, "tick budget exhausted")

			continue
		}
		if last, ok := t.probedAt(node.NodeNum); ok && now.Sub(last) < cooldown {
			t.deps.audit(taskTraceroute, node.NodeNum, domain.AuditOutcomeSkippedRateLimit, "per-node cooldown")

			continue
		}

		t.markProbed(node.NodeNum, now)
		sent++

		if _, err := t.deps.Radio.SendTraceroute(ctx, node.NodeNum, settings.Channel); err != nil {
			t.logger.Warn("traceroute failed", "node", node.NodeID(), "error", err)
			t.deps.audit(taskTraceroute, node.NodeNum, domain.AuditOutcomeError, err.Error())

			continue
		}
		t.deps.audit(taskTraceroute, node.NodeNum, domain.AuditOutcomeSent, "")
	}

	if sent > 0 {
		t.logger.Info("traceroute tick complete", "sent", sent, "candidates", len(candidates))
	}
}

func (t *TracerouteTask) probedAt(nodeNum uint32) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.lastProbed[nodeNum]

	return at, ok
}

func (t *TracerouteTask) markProbed(nodeNum uint32, at time.Time) {
	t.mu.Lock()
	t.lastProbed[nodeNum] = at
	t.mu.Unlock()
}

func hopsOf(node domain.Node) uint32 {
	if node.HopsAway == nil {
		return 0
	}

	return *node.HopsAway
}

// minutes converts a configured minute count with a fallback default.
func minutes(n, def int) time.Duration {
	if n <= 0 {
		return time.Duration(def) * time.Minute
	}

	return time.Duration(n) * time.Minute
}
