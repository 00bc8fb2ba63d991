package domain

import (
	"testing"
	"time"
)

func TestApplyObservationMergesSparseUpdates(t *testing.T) {
	store := NewMeshStore(nil, nil, nil, nil)
	now := time.Now()

	store.ApplyObservation(NodeObservation{
		NodeNum:   7,
		LongName:  "Gateway West",
		ShortName: "GW",
		HwModel:   "TBEAM",
		LastHeard: now,
	}, now)

	// A bare telemetry sighting must not wipe names.
	snr := -7.5
	store.ApplyObservation(NodeObservation{NodeNum: 7, SNR: &snr, LastHeard: now.Add(time.Minute)}, now.Add(time.Minute))

	node, ok := store.Node(7)
	if !ok {
		t.Fatalf("node missing")
	}
	if node.LongName != "Gateway West" || node.ShortName != "GW" {
		t.Fatalf("names wiped by sparse update: %+v", node)
	}
	if node.SNR == nil || *node.SNR != -7.5 {
		t.Fatalf("snr not applied")
	}
	if !node.LastHeard.Equal(now.Add(time.Minute)) {
		t.Fatalf("last heard not advanced")
	}
}

func TestApplyObservationNeverRewindsLastHeard(t *testing.T) {
	store := NewMeshStore(nil, nil, nil, nil)
	now := time.Now()

	store.ApplyObservation(NodeObservation{NodeNum: 1, LastHeard: now}, now)
	store.ApplyObservation(NodeObservation{NodeNum: 1, LastHeard: now.Add(-time.Hour)}, now)

	node, _ := store.Node(1)
	if !node.LastHeard.Equal(now) {
		t.Fatalf("last heard rewound to %v", node.LastHeard)
	}
}

func TestChannelZeroSynthesized(t *testing.T) {
	store := NewMeshStore(nil, nil, nil, nil)

	if err := store.ApplyChannel(Channel{Index: 3, Name: "Ops", Role: ChannelRoleSecondary}); err != nil {
		t.Fatalf("apply channel: %v", err)
	}

	primary, ok := store.Channel(0)
	if !ok {
		t.Fatalf("channel 0 missing after observing channel 3")
	}
	if primary.Role != ChannelRolePrimary {
		t.Fatalf("synthesized channel 0 role = %v", primary.Role)
	}
	if primary.Name != "" {
		t.Fatalf("synthesized channel 0 must keep an empty name")
	}
}

func TestChannelIndexValidation(t *testing.T) {
	store := NewMeshStore(nil, nil, nil, nil)
	if err := store.ApplyChannel(Channel{Index: 8}); err == nil {
		t.Fatalf("channel index 8 accepted")
	}
	if err := store.ApplyChannel(Channel{Index: -1}); err == nil {
		t.Fatalf("channel index -1 accepted")
	}
}

func TestMobilityLatchedOnMovement(t *testing.T) {
	store := NewMeshStore(nil, nil, nil, nil)
	t0 := time.Now()

	store.ApplyObservation(NodeObservation{
		NodeNum:  9,
		Position: &Position{Latitude: 50.0, Longitude: 30.0, Time: t0},
	}, t0)
	store.ApplyObservation(NodeObservation{
		NodeNum:  9,
		Position: &Position{Latitude: 50.1, Longitude: 30.0, Time: t0.Add(time.Minute)},
	}, t0.Add(time.Minute))

	node, _ := store.Node(9)
	if !node.IsMobile {
		t.Fatalf("node moved ~11km but is not marked mobile")
	}
}

func TestHasPKC(t *testing.T) {
	if (Node{}).HasPKC() {
		t.Fatalf("keyless remote node must not have PKC")
	}
	if !(Node{IsLocal: true}).HasPKC() {
		t.Fatalf("local node always has PKC")
	}
	if !(Node{PublicKey: []byte{1}}).HasPKC() {
		t.Fatalf("node with key must have PKC")
	}
}

func TestEffectivePositionPrefersOverride(t *testing.T) {
	alt := 120.0
	n := Node{
		Position:               &Position{Latitude: 1, Longitude: 2},
		PositionOverride:       &PositionOverride{Latitude: 10, Longitude: 20, Altitude: &alt},
		PositionOverrideActive: true,
	}
	lat, lon, gotAlt, ok := n.EffectivePosition()
	if !ok || lat != 10 || lon != 20 || gotAlt == nil || *gotAlt != 120 {
		t.Fatalf("override not preferred: %v %v %v %v", lat, lon, gotAlt, ok)
	}

	n.PositionOverrideActive = false
	lat, lon, _, ok = n.EffectivePosition()
	if !ok || lat != 1 || lon != 2 {
		t.Fatalf("observed position not used when override inactive")
	}
}
