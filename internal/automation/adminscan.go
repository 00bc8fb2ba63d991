package automation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"meshgate/internal/domain"
	"meshgate/internal/radio"
)

const taskAdminScan = "admin-scanner"

// AdminScanTask probes nodes without a remote-admin verdict with a
// device-metadata request. A reply proves remote admin works; a timeout
// records a negative verdict for the expiration window.
type AdminScanTask struct {
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	settings AdminScanSettings
}

func NewAdminScanTask(deps Deps, settings AdminScanSettings) *AdminScanTask {
	return &AdminScanTask{deps: deps, logger: deps.taskLogger(taskAdminScan), settings: settings}
}

func (t *AdminScanTask) Configure(settings AdminScanSettings) {
	t.mu.Lock()
	t.settings = settings
	t.mu.Unlock()
}

func (t *AdminScanTask) Name() string { return taskAdminScan }

func (t *AdminScanTask) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.settings.Enabled
}

func (t *AdminScanTask) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return minutes(t.settings.IntervalMinutes, 30)
}

func (t *AdminScanTask) RunTick(ctx context.Context) {
	if !t.deps.Radio.Ready() {
		return
	}

	t.mu.Lock()
	settings := t.settings
	t.mu.Unlock()

	minAge := minutes(settings.MinNodeAgeMinutes, 60)
	negativeTTL := minutes(settings.NegativeTTLMinutes, 1440)
	budget := settings.Budget
	if budget <= 0 {
		budget = 2
	}

	now := time.Now()
	probed := 0

	for _, node := range t.deps.Store.Nodes() {
		if ctx.Err() != nil || probed >= budget {
			return
		}
		if node.IsLocal || node.IsIgnored {
			continue
		}
		if node.LastHeard.IsZero() || now.Sub(node.LastHeard) < minAge {
			continue
		}
		if !scanDue(node, now, negativeTTL) {
			continue
		}

		probed++
		t.probe(ctx, node)
	}
}

// scanDue wants nodes with no verdict, or an expired negative one.
func scanDue(node domain.Node, now time.Time, negativeTTL time.Duration) bool {
	if node.HasRemoteAdmin == nil {
		return true
	}
	if *node.HasRemoteAdmin {
		return false
	}

	return now.Sub(node.RemoteAdminCheckedAt) >= negativeTTL
}

func (t *AdminScanTask) probe(ctx context.Context, node domain.Node) {
	metadata, err := t.deps.Radio.GetDeviceMetadata(ctx, node.NodeNum)
	now := time.Now()

	switch {
	case err == nil && metadata != nil:
		t.logger.Info("remote admin confirmed",
			"node", node.NodeID(), "firmware", metadata.GetFirmwareVersion())
		verdict := true
		t.deps.Store.Mutate(node.NodeNum, func(n *domain.Node) {
			n.HasRemoteAdmin = &verdict
			n.RemoteAdminCheckedAt = now
			if fw := metadata.GetFirmwareVersion(); fw != "" {
				n.FirmwareVersion = fw
			}
		})
		t.deps.audit(taskAdminScan, node.NodeNum, "confirmed", metadata.GetFirmwareVersion())
	case errors.Is(err, radio.ErrTimeout) || errors.Is(err, radio.ErrAdminDenied) ||
		errors.Is(err, radio.ErrFirmwareNotSupported):
		verdict := false
		t.deps.Store.Mutate(node.NodeNum, func(n *domain.Node) {
			n.HasRemoteAdmin = &verdict
			n.RemoteAdminCheckedAt = now
		})
		t.deps.audit(taskAdminScan, node.NodeNum, "negative", errString(err))
	default:
		// Transient failure (disconnect, cancel): no verdict recorded.
		t.logger.Debug("admin probe inconclusive", "node", node.NodeID(), "error", err)
		t.deps.audit(taskAdminScan, node.NodeNum, domain.AuditOutcomeError, errString(err))
	}
}

func errString(err error) string {
	if err == nil {
		return "empty metadata"
	}

	return err.Error()
}
