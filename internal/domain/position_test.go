package domain

import (
	"testing"
	"time"
)

func uint32p(v uint32) *uint32 { return &v }

func TestAcceptPositionLaw(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	cases := []struct {
		name    string
		oldPrec *uint32
		oldAge  time.Duration
		newPrec *uint32
		want    bool
	}{
		{"higher precision always wins", uint32p(10), time.Minute, uint32p(32), true},
		{"equal precision accepted", uint32p(16), time.Minute, uint32p(16), true},
		{"downgrade rejected while fresh", uint32p(32), time.Hour, uint32p(10), false},
		{"downgrade accepted once aged", uint32p(32), 13 * time.Hour, uint32p(10), true},
		{"downgrade accepted at exactly 12h", uint32p(32), 12 * time.Hour, uint32p(10), true},
		{"downgrade rejected one second early", uint32p(32), 12*time.Hour - time.Second, uint32p(10), false},
		{"zero precision is a valid minimum", uint32p(0), time.Minute, uint32p(0), true},
		{"downgrade to zero rejected while fresh", uint32p(1), time.Minute, uint32p(0), false},
		{"missing new precision treated as full", uint32p(10), time.Minute, nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			existing := &Position{
				Latitude:      1,
				Longitude:     2,
				PrecisionBits: tc.oldPrec,
				Time:          now.Add(-tc.oldAge),
			}
			incoming := Position{Latitude: 3, Longitude: 4, PrecisionBits: tc.newPrec, Time: now}
			if got := AcceptPosition(existing, incoming, now); got != tc.want {
				t.Fatalf("accept = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAcceptPositionNoExisting(t *testing.T) {
	if !AcceptPosition(nil, Position{Latitude: 1, Longitude: 2}, time.Now()) {
		t.Fatalf("first position must be accepted")
	}
}

func TestAcceptPositionExistingWithoutMetadata(t *testing.T) {
	now := time.Now()
	existing := &Position{Latitude: 1, Longitude: 2, Time: now}
	if !AcceptPosition(existing, Position{PrecisionBits: uint32p(0)}, now) {
		t.Fatalf("existing position without precision metadata must not shield")
	}
}

func TestAcceptPositionExistingWithoutTimestamp(t *testing.T) {
	// A missing timestamp means infinite age, so even a downgrade lands.
	existing := &Position{Latitude: 1, Longitude: 2, PrecisionBits: uint32p(32)}
	if !AcceptPosition(existing, Position{PrecisionBits: uint32p(1)}, time.Now()) {
		t.Fatalf("existing position without timestamp must not shield")
	}
}

func TestStorePositionDowngradeAgedOut(t *testing.T) {
	store := NewMeshStore(nil, nil, nil, nil)
	t0 := time.Unix(1_700_000_000, 0)

	store.ApplyObservation(NodeObservation{
		NodeNum:  0x100,
		Position: &Position{Latitude: 50.0, Longitude: 30.0, PrecisionBits: uint32p(32), Time: t0},
	}, t0)

	later := t0.Add(12*time.Hour + time.Second)
	_, accepted := store.ApplyObservation(NodeObservation{
		NodeNum:  0x100,
		Position: &Position{Latitude: 51.0, Longitude: 31.0, PrecisionBits: uint32p(10), Time: later},
	}, later)
	if !accepted {
		t.Fatalf("aged-out downgrade must be accepted")
	}

	node, _ := store.Node(0x100)
	if node.Position.Latitude != 51.0 || node.Position.Longitude != 31.0 {
		t.Fatalf("coordinates not replaced: %+v", node.Position)
	}
}

func TestValidateCoordinates(t *testing.T) {
	if err := ValidateCoordinates(45, 90); err != nil {
		t.Fatalf("valid coordinates rejected: %v", err)
	}
	if err := ValidateCoordinates(91, 0); err == nil {
		t.Fatalf("latitude above range accepted")
	}
	if err := ValidateCoordinates(0, -181); err == nil {
		t.Fatalf("longitude below range accepted")
	}
}
