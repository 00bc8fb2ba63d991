package domain

import (
	"fmt"
	"time"
)

// BroadcastNodeNum is the all-ones destination the mesh uses for channel
// broadcasts.
const BroadcastNodeNum = ^uint32(0)

// DirectChannel is the sentinel stored on direct messages irrespective of
// the transport channel they traversed.
const DirectChannel = -1

// NodeID renders a node number in the canonical "!1234abcd" form.
func NodeID(nodeNum uint32) string {
	return fmt.Sprintf("!%08x", nodeNum)
}

// Position is an observed node position with its precision metadata.
type Position struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64
	// PrecisionBits is nil when the report carried no precision metadata.
	// Zero is a valid minimum precision, distinct from absent.
	PrecisionBits *uint32
	GPSAccuracy   *uint32
	HDOP          *uint32
	Channel       *uint32
	// Time is when the position was taken, millisecond resolution.
	Time time.Time
}

// PositionOverride is an operator-pinned position that shadows observations.
type PositionOverride struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Private   bool
}

// Node is a mesh participant keyed by its 32-bit node number.
type Node struct {
	NodeNum   uint32
	LongName  string
	ShortName string
	HwModel   string
	Role      string
	LastHeard time.Time
	HopsAway  *uint32
	SNR       *float64
	PublicKey []byte

	IsFavorite bool
	IsIgnored  bool
	IsLocal    bool

	FirmwareVersion  string
	RebootCount      *uint32
	ChannelLastHeard *uint32
	ViaMQTT          bool

	Position               *Position
	PositionOverride       *PositionOverride
	PositionOverrideActive bool

	// IsMobile is derived from observed position spread.
	IsMobile bool

	KeyIsLowEntropy         bool
	DuplicateKeyDetected    bool
	KeySecurityIssueDetails string

	// HasRemoteAdmin is nil while no verdict has been reached.
	HasRemoteAdmin       *bool
	RemoteAdminCheckedAt time.Time

	Welcomed  bool
	UpdatedAt time.Time
}

// NodeID is the derived "!%08x" identifier.
func (n Node) NodeID() string {
	return NodeID(n.NodeNum)
}

// HasPKC reports whether per-contact public-key crypto is available: the
// node published a key, or it is the local node.
func (n Node) HasPKC() bool {
	return n.IsLocal || len(n.PublicKey) > 0
}

// EffectivePosition is the override when active, else the last observation.
// The private flag on overrides is enforced at the external boundary; the
// store only tags it.
func (n Node) EffectivePosition() (lat, lon float64, alt *float64, ok bool) {
	if n.PositionOverrideActive && n.PositionOverride != nil {
		o := n.PositionOverride

		return o.Latitude, o.Longitude, o.Altitude, true
	}
	if n.Position != nil {
		p := n.Position

		return p.Latitude, p.Longitude, p.Altitude, true
	}

	return 0, 0, nil, false
}

// ChannelRole mirrors the device channel roles.
type ChannelRole int

const (
	ChannelRoleDisabled  ChannelRole = 0
	ChannelRolePrimary   ChannelRole = 1
	ChannelRoleSecondary ChannelRole = 2
)

// Channel is one of the 8 transmission groups announced by the device.
type Channel struct {
	Index           int
	Name            string
	PSK             []byte
	Role            ChannelRole
	UplinkEnabled   bool
	DownlinkEnabled bool
	// PositionPrecision is the per-channel precision cap, 0..32.
	PositionPrecision uint32
}

// DeliveryState tracks local-link and mesh-reported message delivery.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryConfirmed DeliveryState = "confirmed"
	DeliveryFailed    DeliveryState = "failed"
)

// Message is a stored mesh packet of interest, keyed by its stringified
// 32-bit packet id.
type Message struct {
	ID          string
	FromNodeNum uint32
	ToNodeNum   uint32
	Text        string
	// Channel is the transport channel index, or DirectChannel (-1) for DMs.
	Channel   int
	Portnum   string
	RequestID *uint32
	Timestamp time.Time
	RxTime    time.Time
	HopStart  *uint32
	HopLimit  *uint32
	RelayNode *uint32
	ReplyID   *uint32
	Emoji     bool
	ViaMQTT   bool
	RxSNR     *float64
	RxRSSI    *int

	WantAck              bool
	AckFailed            bool
	RoutingErrorReceived bool
	DeliveryState        DeliveryState
	AckFromNode          *uint32

	CreatedAt   time.Time
	DecryptedBy string
}

func (m Message) FromNodeID() string { return NodeID(m.FromNodeNum) }
func (m Message) ToNodeID() string   { return NodeID(m.ToNodeNum) }

// IsDirect reports whether the message is stored as a DM.
func (m Message) IsDirect() bool { return m.Channel == DirectChannel }

// SortTime is the retrieval ordering key, coalesce(rxTime, timestamp).
func (m Message) SortTime() time.Time {
	if !m.RxTime.IsZero() {
		return m.RxTime
	}

	return m.Timestamp
}

// UnparseableHopCount marks traceroutes whose stored route failed to parse.
const UnparseableHopCount = 999

// Traceroute is one recorded route discovery result.
type Traceroute struct {
	ID          int64
	FromNodeNum uint32
	ToNodeNum   uint32
	Timestamp   time.Time
	// Route is the forward route as node numbers, persisted as JSON.
	Route      []uint32
	SNRTowards []int32
	RouteBack  []uint32
	SNRBack    []int32
}

// HopCount derives the display hop count from the stored route.
func (t Traceroute) HopCount() int {
	if t.Route == nil {
		return UnparseableHopCount
	}

	return len(t.Route)
}

// RouteSegment is a derived directed link between two nodes.
type RouteSegment struct {
	FromNodeNum  uint32
	ToNodeNum    uint32
	LastSeen     time.Time
	HopsObserved int
}

// NeighborRecord keeps the latest neighbor report per unordered node pair.
type NeighborRecord struct {
	NodeNum         uint32
	NeighborNodeNum uint32
	SNR             float64
	LastHeard       time.Time
}

// Telemetry type names as stored in the telemetry table.
const (
	TelemetryBattery            = "battery"
	TelemetryVoltage            = "voltage"
	TelemetryChannelUtilization = "channel_utilization"
	TelemetryAirUtilTx          = "air_util_tx"
	TelemetryTemperature        = "temperature"
	TelemetryHumidity           = "humidity"
	TelemetryPressure           = "pressure"
	TelemetryLatitude           = "latitude"
	TelemetryLongitude          = "longitude"
	TelemetryAltitude           = "altitude"
	TelemetryGroundSpeed        = "ground_speed"
	TelemetryGroundTrack        = "ground_track"
	TelemetryNumPacketsRx       = "numPacketsRx"
	TelemetryNumPacketsRxBad    = "numPacketsRxBad"
	TelemetryNumRxDupe          = "numRxDupe"
	TelemetryNumPacketsTx       = "numPacketsTx"
	TelemetryNumTxDropped       = "numTxDropped"
	TelemetryNumTxRelay         = "numTxRelay"
	TelemetryNumTxRelayCanceled = "numTxRelayCanceled"
	TelemetryEstimatedLatitude  = "estimated_latitude"
	TelemetryEstimatedLongitude = "estimated_longitude"
)

// TelemetrySample is one stored metric observation.
type TelemetrySample struct {
	NodeID        string
	Type          string
	Timestamp     time.Time
	Value         float64
	Unit          string
	PacketID      *uint32
	Channel       *uint32
	PrecisionBits *uint32
	GPSAccuracy   *uint32
}

// AuditEntry records one automation decision.
type AuditEntry struct {
	At            time.Time
	Task          string
	TargetNodeNum uint32
	Outcome       string
	Detail        string
}

// Audit outcome values used by the automation tasks.
const (
	AuditOutcomeSent             = "sent"
	AuditOutcomeSkippedRateLimit = "skipped-rate-limit"
	AuditOutcomeSkippedFilter    = "skipped-filter"
	AuditOutcomeError            = "error"
)

// DeviceMetadata is a captured snapshot of the gateway device description.
type DeviceMetadata struct {
	FirmwareVersion    string
	DeviceStateVersion uint32
	HasWifi            bool
	HasBluetooth       bool
	HasEthernet        bool
	CanShutdown        bool
	Role               string
	HwModel            string
}
