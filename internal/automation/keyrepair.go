package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meshgate/internal/domain"
)

const taskKeyRepair = "auto-keyrepair"

// KeyRepairTask tries to heal nodes flagged with duplicate or
// low-entropy keys by forcing fresh nodeinfo exchanges; when exchanges
// are exhausted and auto-purge is on, the node is dropped so the next
// announcement re-creates it with whatever key it presents.
type KeyRepairTask struct {
	deps   Deps
	logger *slog.Logger

	mu        sync.Mutex
	settings  KeyRepairSettings
	exchanges map[uint32]int
}

func NewKeyRepairTask(deps Deps, settings KeyRepairSettings) *KeyRepairTask {
	return &KeyRepairTask{
		deps:      deps,
		logger:    deps.taskLogger(taskKeyRepair),
		settings:  settings,
		exchanges: make(map[uint32]int),
	}
}

func (t *KeyRepairTask) Configure(settings KeyRepairSettings) {
	t.mu.Lock()
	t.settings = settings
	t.mu.Unlock()
}

func (t *KeyRepairTask) Name() string { return taskKeyRepair }

func (t *KeyRepairTask) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.settings.Enabled
}

func (t *KeyRepairTask) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return minutes(t.settings.IntervalMinutes, 120)
}

func (t *KeyRepairTask) RunTick(ctx context.Context) {
	if !t.deps.Radio.Ready() {
		return
	}

	t.mu.Lock()
	settings := t.settings
	t.mu.Unlock()

	maxExchanges := settings.MaxExchanges
	if maxExchanges <= 0 {
		maxExchanges = 3
	}

	for _, node := range t.deps.Store.Nodes() {
		if ctx.Err() != nil {
			return
		}
		if node.IsLocal || node.IsIgnored {
			continue
		}
		if !node.KeyIsLowEntropy && !node.DuplicateKeyDetected {
			// A clean rescan resets the exchange budget.
			t.resetExchanges(node.NodeNum)

			continue
		}

		attempts := t.exchangeCount(node.NodeNum)
		if attempts < maxExchanges {
			t.bumpExchanges(node.NodeNum)
			if err := t.deps.Radio.RequestNodeInfo(ctx, node.NodeNum); err != nil {
				t.logger.Warn("key exchange request failed", "node", node.NodeID(), "error", err)
				t.deps.audit(taskKeyRepair, node.NodeNum, domain.AuditOutcomeError, err.Error())

				continue
			}
			t.deps.audit(taskKeyRepair, node.NodeNum, domain.AuditOutcomeSent,
				fmt.Sprintf("exchange %d/%d", attempts+1, maxExchanges))

			continue
		}

		if !settings.AutoPurge {
			continue
		}

		t.logger.Info("purging node with unrepairable key",
			"node", node.NodeID(), "detail", node.KeySecurityIssueDetails)
		t.deps.Store.Purge(node.NodeNum)
		t.resetExchanges(node.NodeNum)
		t.deps.audit(taskKeyRepair, node.NodeNum, "purged", node.KeySecurityIssueDetails)
	}
}

func (t *KeyRepairTask) exchangeCount(nodeNum uint32) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.exchanges[nodeNum]
}

func (t *KeyRepairTask) bumpExchanges(nodeNum uint32) {
	t.mu.Lock()
	t.exchanges[nodeNum]++
	t.mu.Unlock()
}

func (t *KeyRepairTask) resetExchanges(nodeNum uint32) {
	t.mu.Lock()
	delete(t.exchanges, nodeNum)
	t.mu.Unlock()
}
