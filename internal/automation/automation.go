// Package automation runs the background tasks that keep the mesh tidy:
// scheduled traceroutes, time sync, key repair, admin scanning,
// announcements, welcomes, responders, timers and geofences. Tasks are
// driven by the Scheduler and act on the mesh through the radio session.
package automation

import (
	"context"
	"log/slog"
	"time"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"

	"meshgate/internal/bus"
	"meshgate/internal/domain"
	"meshgate/internal/radio"
)

// RadioControl is the slice of the radio session the tasks use. Tests
// substitute a scripted fake.
type RadioControl interface {
	Ready() bool
	SendText(ctx context.Context, to uint32, channel uint32, text string) (string, error)
	SendTraceroute(ctx context.Context, to uint32, channel uint32) (radio.TracerouteEvent, error)
	RequestNodeInfo(ctx context.Context, to uint32) error
	SetTime(ctx context.Context, to uint32, at time.Time) error
	GetDeviceMetadata(ctx context.Context, to uint32) (*meshtasticpb.DeviceMetadata, error)
}

// Deps carries the collaborators shared by all tasks.
type Deps struct {
	Logger   *slog.Logger
	Bus      bus.MessageBus
	Store    *domain.MeshStore
	Radio    RadioControl
	Settings domain.SettingsRepository
	Audit    domain.AuditRepository
	Writer   domain.AsyncWriter
}

func (d Deps) taskLogger(task string) *slog.Logger {
	return d.Logger.With("component", "automation", "task", task)
}

func (d Deps) audit(task string, target uint32, outcome, detail string) {
	if d.Writer == nil || d.Audit == nil {
		return
	}
	entry := domain.AuditEntry{
		At:            time.Now(),
		Task:          task,
		TargetNodeNum: target,
		Outcome:       outcome,
		Detail:        detail,
	}
	d.Writer.Enqueue("audit.append", func(ctx context.Context) error {
		return d.Audit.Append(ctx, entry)
	})
}
