package persistence

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"meshgate/internal/domain"
)

func TestCleanerRunOnce_FavoriteNodesKeepTelemetryLonger(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	nodeRepo := NewNodeRepo(db)
	telemetryRepo := NewTelemetryRepo(db)
	now := time.Now().UTC().Truncate(time.Millisecond)

	if err := nodeRepo.Upsert(ctx, domain.Node{NodeNum: 1, IsFavorite: true, UpdatedAt: now}); err != nil {
		t.Fatalf("upsert favorite: %v", err)
	}
	if err := nodeRepo.Upsert(ctx, domain.Node{NodeNum: 2, UpdatedAt: now}); err != nil {
		t.Fatalf("upsert plain: %v", err)
	}

	aged := now.Add(-48 * time.Hour)
	for _, nodeID := range []string{domain.NodeID(1), domain.NodeID(2)} {
		if err := telemetryRepo.Insert(ctx, domain.TelemetrySample{
			NodeID: nodeID, Type: domain.TelemetryBattery, Timestamp: aged, Value: 80,
		}); err != nil {
			t.Fatalf("insert telemetry %s: %v", nodeID, err)
		}
	}

	cleaner := NewCleaner(db, slog.Default(), RetentionPolicy{
		Telemetry:         24 * time.Hour,
		TelemetryFavorite: 7 * 24 * time.Hour,
	})
	if err := cleaner.RunOnce(ctx, now); err != nil {
		t.Fatalf("run cleanup: %v", err)
	}

	kept, err := telemetryRepo.ListByNode(ctx, domain.NodeID(1), domain.TelemetryBattery, time.Time{})
	if err != nil {
		t.Fatalf("list favorite telemetry: %v", err)
	}
	if len(kept) != 1 {
		t.Fatalf("expected favorite telemetry to survive, got %d rows", len(kept))
	}

	purged, err := telemetryRepo.ListByNode(ctx, domain.NodeID(2), domain.TelemetryBattery, time.Time{})
	if err != nil {
		t.Fatalf("list plain telemetry: %v", err)
	}
	if len(purged) != 0 {
		t.Fatalf("expected plain telemetry to be purged, got %d rows", len(purged))
	}
}

func TestCleanerRunOnce_PurgesAgedMessages(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	msgRepo := NewMessageRepo(db)
	now := time.Now().UTC().Truncate(time.Millisecond)

	if _, err := msgRepo.Insert(ctx, domain.Message{
		ID: "old", FromNodeNum: 1, ToNodeNum: 2, Channel: 0,
		RxTime: now.Add(-72 * time.Hour), CreatedAt: now.Add(-72 * time.Hour),
	}); err != nil {
		t.Fatalf("insert old: %v", err)
	}
	if _, err := msgRepo.Insert(ctx, domain.Message{
		ID: "fresh", FromNodeNum: 1, ToNodeNum: 2, Channel: 0,
		RxTime: now, CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert fresh: %v", err)
	}

	cleaner := NewCleaner(db, slog.Default(), RetentionPolicy{Messages: 24 * time.Hour})
	if err := cleaner.RunOnce(ctx, now); err != nil {
		t.Fatalf("run cleanup: %v", err)
	}

	old, err := msgRepo.ByID(ctx, "old")
	if err != nil {
		t.Fatalf("by id old: %v", err)
	}
	if old != nil {
		t.Fatalf("expected aged message to be purged")
	}
	fresh, err := msgRepo.ByID(ctx, "fresh")
	if err != nil {
		t.Fatalf("by id fresh: %v", err)
	}
	if fresh == nil {
		t.Fatalf("expected fresh message to survive")
	}
}
