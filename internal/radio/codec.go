package radio

import (
	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"

	"meshgate/internal/domain"
)

// ConfigRecordKind tags capture records the virtual device replays verbatim.
type ConfigRecordKind int

const (
	ConfigRecordNone ConfigRecordKind = iota
	ConfigRecordConfig
	ConfigRecordModuleConfig
	ConfigRecordFileInfo
)

// AckEvent is a routing or queue-status acknowledgement correlated by the
// original packet id.
type AckEvent struct {
	RequestID   uint32
	From        uint32
	ErrorReason string
	// Implicit marks an ack the gateway raised for its own queue rather
	// than one heard from the destination.
	Implicit bool
}

func (a AckEvent) Failed() bool { return a.ErrorReason != "" }

// TracerouteEvent is a decoded route-discovery reply with endpoint folding.
type TracerouteEvent struct {
	From       uint32
	To         uint32
	PacketID   uint32
	RequestID  uint32
	Route      []uint32
	SNRTowards []int32
	RouteBack  []uint32
	SNRBack    []int32
}

// AdminEvent is an inbound admin-app payload with its correlation ids.
type AdminEvent struct {
	From      uint32
	To        uint32
	PacketID  uint32
	RequestID uint32
	ReplyID   uint32
	Message   *meshtasticpb.AdminMessage
}

// DecodedFrame is one parsed from-radio record. At most a handful of the
// optional events are set per frame.
type DecodedFrame struct {
	Raw []byte

	MyNodeNum        uint32
	NodeUpdate       *domain.NodeObservation
	Channel          *domain.Channel
	Metadata         *domain.DeviceMetadata
	ConfigRecord     ConfigRecordKind
	ConfigCompleteID uint32
	Rebooted         bool

	Message   *domain.Message
	Telemetry []domain.TelemetrySample
	Neighbors []domain.NeighborRecord

	Ack        *AckEvent
	Admin      *AdminEvent
	Traceroute *TracerouteEvent
}

// EncodedPacket is an outbound to-radio frame with its tracking metadata.
type EncodedPacket struct {
	Payload  []byte
	PacketID uint32
	WantAck  bool
	Dest     uint32
}

// Codec translates between transport payloads and session events.
type Codec interface {
	EncodeWantConfig() (payload []byte, configID uint32, err error)
	EncodeHeartbeat() ([]byte, error)
	EncodeText(to uint32, channel uint32, text string) (EncodedPacket, error)
	EncodeAdmin(to uint32, wantResponse bool, msg *meshtasticpb.AdminMessage) (EncodedPacket, error)
	EncodeTraceroute(to uint32, channel uint32) (EncodedPacket, error)
	DecodeFromRadio(payload []byte) (DecodedFrame, error)
	DecodeToRadio(payload []byte) (*meshtasticpb.ToRadio, error)
	EncodeToRadioPacket(packet *meshtasticpb.MeshPacket) (EncodedPacket, error)

	// Replay-side encoders used by the virtual device server.
	EncodeMyInfoRecord(nodeNum uint32) ([]byte, error)
	EncodeNodeInfoRecord(n domain.Node) ([]byte, error)
	EncodeChannelRecord(c domain.Channel) ([]byte, error)
	EncodeMetadataRecord(md domain.DeviceMetadata) ([]byte, error)
	EncodeConfigCompleteRecord(id uint32) ([]byte, error)
	EncodeRoutingErrorRecord(to uint32, requestID uint32, reason meshtasticpb.Routing_Error) ([]byte, error)
}
