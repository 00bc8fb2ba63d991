package persistence

import (
	"context"
	"testing"
	"time"

	"meshgate/internal/domain"
)

func TestNodeRepoUpsertAndList_RoundTripsPositionAndFlags(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewNodeRepo(db)

	now := time.Now().UTC().Truncate(time.Millisecond)
	prec := uint32(16)
	alt := 42.0
	remoteAdmin := true

	n := domain.Node{
		NodeNum:   0xabcd1234,
		LongName:  "Alpha",
		ShortName: "ALPH",
		HwModel:   "TBEAM",
		Role:      "ROUTER",
		LastHeard: now,
		PublicKey: []byte{1, 2, 3},
		Position: &domain.Position{
			Latitude:      37.7749,
			Longitude:     -122.4194,
			Altitude:      &alt,
			PrecisionBits: &prec,
			Time:          now,
		},
		IsFavorite:              true,
		DuplicateKeyDetected:    true,
		KeySecurityIssueDetails: "key shared with !00000002",
		HasRemoteAdmin:          &remoteAdmin,
		RemoteAdminCheckedAt:    now,
		UpdatedAt:               now,
	}
	if err := repo.Upsert(ctx, n); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Second upsert of the same node must replace, not duplicate.
	n.ShortName = "ALP2"
	if err := repo.Upsert(ctx, n); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	nodes, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected one node, got %d", len(nodes))
	}
	got := nodes[0]
	if got.NodeNum != 0xabcd1234 || got.ShortName != "ALP2" {
		t.Fatalf("unexpected node: %+v", got)
	}
	if got.Position == nil || got.Position.Latitude != 37.7749 {
		t.Fatalf("expected position to roundtrip, got %+v", got.Position)
	}
	if got.Position.PrecisionBits == nil || *got.Position.PrecisionBits != 16 {
		t.Fatalf("expected precision bits to roundtrip, got %v", got.Position.PrecisionBits)
	}
	if !got.DuplicateKeyDetected || got.KeySecurityIssueDetails == "" {
		t.Fatalf("expected key security flags to roundtrip")
	}
	if got.HasRemoteAdmin == nil || !*got.HasRemoteAdmin {
		t.Fatalf("expected remote admin verdict to roundtrip")
	}
}

func TestNodeRepoDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewNodeRepo(db)

	if err := repo.Upsert(ctx, domain.Node{NodeNum: 7, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.Delete(ctx, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	nodes, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("expected empty node table, got %d", len(nodes))
	}
}
