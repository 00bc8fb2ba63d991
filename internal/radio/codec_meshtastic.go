package radio

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/proto"

	"meshgate/internal/domain"
)

const positionScale = 1e-7

// MeshtasticCodec implements Codec for Meshtastic protobuf frames.
type MeshtasticCodec struct {
	packetID     atomic.Uint32
	localNodeNum atomic.Uint32
}

func NewMeshtasticCodec() (*MeshtasticCodec, error) {
	var seedRaw [4]byte
	if _, err := rand.Read(seedRaw[:]); err != nil {
		return nil, fmt.Errorf("seed codec packet id: %w", err)
	}
	c := &MeshtasticCodec{}
	c.packetID.Store(binary.BigEndian.Uint32(seedRaw[:]))

	return c, nil
}

// nextID yields a fresh packet/request id in [1, 2^31).
func (c *MeshtasticCodec) nextID() uint32 {
	for {
		id := c.packetID.Add(1) & 0x7fffffff
		if id != 0 {
			return id
		}
	}
}

func (c *MeshtasticCodec) LocalNodeNum() uint32 {
	return c.localNodeNum.Load()
}

func (c *MeshtasticCodec) EncodeWantConfig() ([]byte, uint32, error) {
	id := c.nextID()
	wire := &meshtasticpb.ToRadio{PayloadVariant: &meshtasticpb.ToRadio_WantConfigId{WantConfigId: id}}
	payload, err := proto.Marshal(wire)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal want-config: %w", err)
	}

	return payload, id, nil
}

func (c *MeshtasticCodec) EncodeHeartbeat() ([]byte, error) {
	wire := &meshtasticpb.ToRadio{PayloadVariant: &meshtasticpb.ToRadio_Heartbeat{Heartbeat: &meshtasticpb.Heartbeat{}}}

	return proto.Marshal(wire)
}

func (c *MeshtasticCodec) EncodeText(to uint32, channel uint32, text string) (EncodedPacket, error) {
	packet := &meshtasticpb.MeshPacket{
		To:      to,
		Channel: channel,
		Id:      c.nextID(),
		WantAck: to != domain.BroadcastNodeNum,
		PayloadVariant: &meshtasticpb.MeshPacket_Decoded{Decoded: &meshtasticpb.Data{
			Portnum: meshtasticpb.PortNum_TEXT_MESSAGE_APP,
			Payload: []byte(text),
		}},
	}

	return c.marshalPacket(packet)
}

func (c *MeshtasticCodec) EncodeAdmin(to uint32, wantResponse bool, msg *meshtasticpb.AdminMessage) (EncodedPacket, error) {
	if msg == nil {
		return EncodedPacket{}, fmt.Errorf("admin payload is required")
	}
	encodedAdmin, err := proto.Marshal(msg)
	if err != nil {
		return EncodedPacket{}, fmt.Errorf("marshal admin payload: %w", err)
	}
	packet := &meshtasticpb.MeshPacket{
		To:       to,
		Id:       c.nextID(),
		WantAck:  true,
		Priority: meshtasticpb.MeshPacket_RELIABLE,
		PayloadVariant: &meshtasticpb.MeshPacket_Decoded{Decoded: &meshtasticpb.Data{
			Portnum:      meshtasticpb.PortNum_ADMIN_APP,
			Payload:      encodedAdmin,
			WantResponse: wantResponse,
		}},
	}

	return c.marshalPacket(packet)
}

func (c *MeshtasticCodec) EncodeTraceroute(to uint32, channel uint32) (EncodedPacket, error) {
	packet := &meshtasticpb.MeshPacket{
		To:      to,
		Channel: channel,
		Id:      c.nextID(),
		WantAck: true,
		PayloadVariant: &meshtasticpb.MeshPacket_Decoded{Decoded: &meshtasticpb.Data{
			Portnum:      meshtasticpb.PortNum_TRACEROUTE_APP,
			WantResponse: true,
		}},
	}

	return c.marshalPacket(packet)
}

func (c *MeshtasticCodec) DecodeToRadio(payload []byte) (*meshtasticpb.ToRadio, error) {
	var wire meshtasticpb.ToRadio
	if err := proto.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("decode toradio protobuf: %w", err)
	}

	return &wire, nil
}

// EncodeToRadioPacket re-frames a funneled mesh packet under a fresh id so
// the session owns the correlation space.
func (c *MeshtasticCodec) EncodeToRadioPacket(packet *meshtasticpb.MeshPacket) (EncodedPacket, error) {
	if packet == nil {
		return EncodedPacket{}, fmt.Errorf("mesh packet is required")
	}
	clone := proto.Clone(packet).(*meshtasticpb.MeshPacket)
	clone.Id = c.nextID()

	return c.marshalPacket(clone)
}

func (c *MeshtasticCodec) marshalPacket(packet *meshtasticpb.MeshPacket) (EncodedPacket, error) {
	wire := &meshtasticpb.ToRadio{PayloadVariant: &meshtasticpb.ToRadio_Packet{Packet: packet}}
	payload, err := proto.Marshal(wire)
	if err != nil {
		return EncodedPacket{}, fmt.Errorf("marshal mesh packet: %w", err)
	}

	return EncodedPacket{
		Payload:  payload,
		PacketID: packet.GetId(),
		WantAck:  packet.GetWantAck(),
		Dest:     packet.GetTo(),
	}, nil
}

func (c *MeshtasticCodec) EncodeMyInfoRecord(nodeNum uint32) ([]byte, error) {
	wire := &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_MyInfo{
		MyInfo: &meshtasticpb.MyNodeInfo{MyNodeNum: nodeNum},
	}}

	return proto.Marshal(wire)
}

func (c *MeshtasticCodec) EncodeNodeInfoRecord(n domain.Node) ([]byte, error) {
	info := &meshtasticpb.NodeInfo{
		Num: n.NodeNum,
		User: &meshtasticpb.User{
			Id:        n.NodeID(),
			LongName:  n.LongName,
			ShortName: n.ShortName,
			PublicKey: n.PublicKey,
		},
		IsFavorite: n.IsFavorite,
		IsIgnored:  n.IsIgnored,
		ViaMqtt:    n.ViaMQTT,
	}
	if !n.LastHeard.IsZero() {
		info.LastHeard = uint32(n.LastHeard.Unix())
	}
	if n.SNR != nil {
		info.Snr = float32(*n.SNR)
	}
	if n.HopsAway != nil {
		v := *n.HopsAway
		info.HopsAway = &v
	}
	if lat, lon, alt, ok := n.EffectivePosition(); ok {
		latI := int32(lat / positionScale)
		lonI := int32(lon / positionScale)
		pos := &meshtasticpb.Position{LatitudeI: &latI, LongitudeI: &lonI}
		if alt != nil {
			altI := int32(*alt)
			pos.Altitude = &altI
		}
		info.Position = pos
	}
	wire := &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_NodeInfo{NodeInfo: info}}

	return proto.Marshal(wire)
}

func (c *MeshtasticCodec) EncodeChannelRecord(ch domain.Channel) ([]byte, error) {
	wire := &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_Channel{
		Channel: &meshtasticpb.Channel{
			Index: int32(ch.Index),
			Role:  meshtasticpb.Channel_Role(ch.Role),
			Settings: &meshtasticpb.ChannelSettings{
				Name:            ch.Name,
				Psk:             ch.PSK,
				UplinkEnabled:   ch.UplinkEnabled,
				DownlinkEnabled: ch.DownlinkEnabled,
				ModuleSettings:  &meshtasticpb.ModuleSettings{PositionPrecision: ch.PositionPrecision},
			},
		},
	}}

	return proto.Marshal(wire)
}

func (c *MeshtasticCodec) EncodeMetadataRecord(md domain.DeviceMetadata) ([]byte, error) {
	wire := &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_Metadata{
		Metadata: &meshtasticpb.DeviceMetadata{
			FirmwareVersion:    md.FirmwareVersion,
			DeviceStateVersion: md.DeviceStateVersion,
			HasWifi:            md.HasWifi,
			HasBluetooth:       md.HasBluetooth,
			HasEthernet:        md.HasEthernet,
			CanShutdown:        md.CanShutdown,
		},
	}}

	return proto.Marshal(wire)
}

func (c *MeshtasticCodec) EncodeConfigCompleteRecord(id uint32) ([]byte, error) {
	wire := &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_ConfigCompleteId{ConfigCompleteId: id}}

	return proto.Marshal(wire)
}

// EncodeRoutingErrorRecord fabricates the rejection a physical gateway
// would send for a refused packet.
func (c *MeshtasticCodec) EncodeRoutingErrorRecord(to uint32, requestID uint32, reason meshtasticpb.Routing_Error) ([]byte, error) {
	routing := &meshtasticpb.Routing{Variant: &meshtasticpb.Routing_ErrorReason{ErrorReason: reason}}
	routingRaw, err := proto.Marshal(routing)
	if err != nil {
		return nil, fmt.Errorf("marshal routing error: %w", err)
	}
	packet := &meshtasticpb.MeshPacket{
		From: c.localNodeNum.Load(),
		To:   to,
		Id:   c.nextID(),
		PayloadVariant: &meshtasticpb.MeshPacket_Decoded{Decoded: &meshtasticpb.Data{
			Portnum:   meshtasticpb.PortNum_ROUTING_APP,
			Payload:   routingRaw,
			RequestId: requestID,
		}},
	}
	wire := &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_Packet{Packet: packet}}

	return proto.Marshal(wire)
}

func (c *MeshtasticCodec) DecodeFromRadio(payload []byte) (DecodedFrame, error) {
	out := DecodedFrame{Raw: payload}

	var wire meshtasticpb.FromRadio
	if err := proto.Unmarshal(payload, &wire); err != nil {
		return out, fmt.Errorf("decode fromradio protobuf: %w", err)
	}

	now := time.Now()

	if my := wire.GetMyInfo(); my != nil && my.GetMyNodeNum() != 0 {
		c.localNodeNum.Store(my.GetMyNodeNum())
		out.MyNodeNum = my.GetMyNodeNum()
	}
	if nodeInfo := wire.GetNodeInfo(); nodeInfo != nil {
		obs := decodeNodeInfo(nodeInfo, now)
		out.NodeUpdate = &obs
	}
	if channelInfo := wire.GetChannel(); channelInfo != nil {
		if ch, ok := decodeChannelInfo(channelInfo); ok {
			out.Channel = &ch
		}
	}
	if metadata := wire.GetMetadata(); metadata != nil {
		md := decodeDeviceMetadata(metadata)
		out.Metadata = &md
	}
	if wire.GetConfig() != nil {
		out.ConfigRecord = ConfigRecordConfig
	}
	if wire.GetModuleConfig() != nil {
		out.ConfigRecord = ConfigRecordModuleConfig
	}
	if wire.GetFileInfo() != nil {
		out.ConfigRecord = ConfigRecordFileInfo
	}
	if configID := wire.GetConfigCompleteId(); configID != 0 {
		out.ConfigCompleteID = configID
	}
	if wire.GetRebooted() {
		out.Rebooted = true
	}
	if queueStatus := wire.GetQueueStatus(); queueStatus != nil {
		if ack, ok := decodeQueueStatus(queueStatus); ok {
			out.Ack = &ack
		}
	}
	if packet := wire.GetPacket(); packet != nil {
		c.decodePacket(packet, now, &out)
	}

	return out, nil
}

func (c *MeshtasticCodec) decodePacket(packet *meshtasticpb.MeshPacket, now time.Time, out *DecodedFrame) {
	decoded := packet.GetDecoded()
	if decoded == nil {
		return
	}
	if ack, ok := decodePacketAck(packet, decoded); ok {
		out.Ack = &ack
	}

	switch decoded.GetPortnum() {
	case meshtasticpb.PortNum_TEXT_MESSAGE_APP,
		meshtasticpb.PortNum_TEXT_MESSAGE_COMPRESSED_APP,
		meshtasticpb.PortNum_DETECTION_SENSOR_APP,
		meshtasticpb.PortNum_ALERT_APP:
		if msg, ok := decodeTextMessage(packet, decoded, now); ok {
			out.Message = &msg
		}
	case meshtasticpb.PortNum_NODEINFO_APP:
		if obs, ok := decodeUserPayload(packet, decoded.GetPayload(), now); ok {
			out.NodeUpdate = &obs
		}
	case meshtasticpb.PortNum_POSITION_APP:
		if obs, samples, ok := decodePositionPayload(packet, decoded.GetPayload(), now); ok {
			out.NodeUpdate = &obs
			out.Telemetry = append(out.Telemetry, samples...)
		}
	case meshtasticpb.PortNum_TELEMETRY_APP:
		if obs, samples, ok := decodeTelemetryPayload(packet, decoded.GetPayload(), now); ok {
			out.NodeUpdate = &obs
			out.Telemetry = append(out.Telemetry, samples...)
		}
	case meshtasticpb.PortNum_NEIGHBORINFO_APP:
		out.Neighbors = decodeNeighborInfo(decoded.GetPayload(), now)
	case meshtasticpb.PortNum_ADMIN_APP:
		var admin meshtasticpb.AdminMessage
		if err := proto.Unmarshal(decoded.GetPayload(), &admin); err != nil {
			return
		}
		out.Admin = &AdminEvent{
			From:      packet.GetFrom(),
			To:        packet.GetTo(),
			PacketID:  packet.GetId(),
			RequestID: decoded.GetRequestId(),
			ReplyID:   decoded.GetReplyId(),
			Message:   &admin,
		}
	case meshtasticpb.PortNum_TRACEROUTE_APP:
		if event, ok := decodeTracerouteEvent(packet, decoded); ok {
			out.Traceroute = &event
		}
	}
}

func decodeTextMessage(packet *meshtasticpb.MeshPacket, decoded *meshtasticpb.Data, now time.Time) (domain.Message, bool) {
	text := strings.TrimSpace(string(decoded.GetPayload()))
	if text == "" {
		return domain.Message{}, false
	}

	msg := domain.Message{
		FromNodeNum:   packet.GetFrom(),
		ToNodeNum:     packet.GetTo(),
		Text:          text,
		Portnum:       decoded.GetPortnum().String(),
		RxTime:        packetTimestamp(packet.GetRxTime(), now),
		WantAck:       packet.GetWantAck(),
		ViaMQTT:       packet.GetViaMqtt(),
		Emoji:         decoded.GetEmoji() != 0,
		CreatedAt:     now,
		DeliveryState: domain.DeliveryPending,
	}
	// A zero packet id cannot key a row; the message is still published
	// but never stored.
	if packet.GetId() != 0 {
		msg.ID = strconv.FormatUint(uint64(packet.GetId()), 10)
	}
	if packet.GetTo() == domain.BroadcastNodeNum {
		msg.Channel = int(packet.GetChannel())
	} else {
		msg.Channel = domain.DirectChannel
	}
	if rid := decoded.GetRequestId(); rid != 0 {
		v := rid
		msg.RequestID = &v
	}
	if rid := decoded.GetReplyId(); rid != 0 {
		v := rid
		msg.ReplyID = &v
	}
	if hs := packet.GetHopStart(); hs != 0 {
		v := hs
		msg.HopStart = &v
	}
	if hl := packet.GetHopLimit(); hl != 0 {
		v := hl
		msg.HopLimit = &v
	}
	if relay := packet.GetRelayNode(); relay != 0 {
		v := relay
		msg.RelayNode = &v
	}
	if snr := packet.GetRxSnr(); snr != 0 {
		v := float64(snr)
		msg.RxSNR = &v
	}
	if rssi := packet.GetRxRssi(); rssi != 0 {
		v := int(rssi)
		msg.RxRSSI = &v
	}

	return msg, true
}

func decodeNodeInfo(nodeInfo *meshtasticpb.NodeInfo, now time.Time) domain.NodeObservation {
	user := nodeInfo.GetUser()
	obs := domain.NodeObservation{
		NodeNum:   nodeInfo.GetNum(),
		LongName:  strings.TrimSpace(user.GetLongName()),
		ShortName: strings.TrimSpace(user.GetShortName()),
		LastHeard: packetTimestamp(nodeInfo.GetLastHeard(), now),
		PublicKey: user.GetPublicKey(),
		ViaMQTT:   nodeInfo.GetViaMqtt(),
	}
	if model := user.GetHwModel(); model != meshtasticpb.HardwareModel_UNSET {
		obs.HwModel = model.String()
	}
	if role := strings.TrimSpace(user.GetRole().String()); role != "" {
		obs.Role = role
	}
	fav := nodeInfo.GetIsFavorite()
	ign := nodeInfo.GetIsIgnored()
	obs.IsFavorite = &fav
	obs.IsIgnored = &ign
	if nodeInfo.HopsAway != nil {
		v := nodeInfo.GetHopsAway()
		obs.HopsAway = &v
	}
	if snr := nodeInfo.GetSnr(); snr != 0 {
		v := float64(snr)
		obs.SNR = &v
	}
	if pos := decodePosition(nodeInfo.GetPosition(), now); pos != nil {
		obs.Position = pos
	}

	return obs
}

func decodeUserPayload(packet *meshtasticpb.MeshPacket, payload []byte, now time.Time) (domain.NodeObservation, bool) {
	if packet.GetFrom() == 0 {
		return domain.NodeObservation{}, false
	}
	var user meshtasticpb.User
	if err := proto.Unmarshal(payload, &user); err != nil {
		return domain.NodeObservation{}, false
	}

	obs := domain.NodeObservation{
		NodeNum:   packet.GetFrom(),
		LongName:  strings.TrimSpace(user.GetLongName()),
		ShortName: strings.TrimSpace(user.GetShortName()),
		LastHeard: packetTimestamp(packet.GetRxTime(), now),
		PublicKey: user.GetPublicKey(),
		ViaMQTT:   packet.GetViaMqtt(),
	}
	if model := user.GetHwModel(); model != meshtasticpb.HardwareModel_UNSET {
		obs.HwModel = model.String()
	}
	if role := strings.TrimSpace(user.GetRole().String()); role != "" {
		obs.Role = role
	}
	ch := packet.GetChannel()
	obs.Channel = &ch
	if snr := packet.GetRxSnr(); snr != 0 {
		v := float64(snr)
		obs.SNR = &v
	}

	return obs, true
}

func decodePositionPayload(packet *meshtasticpb.MeshPacket, payload []byte, now time.Time) (domain.NodeObservation, []domain.TelemetrySample, bool) {
	if packet.GetFrom() == 0 {
		return domain.NodeObservation{}, nil, false
	}
	var position meshtasticpb.Position
	if err := proto.Unmarshal(payload, &position); err != nil {
		return domain.NodeObservation{}, nil, false
	}
	pos := decodePosition(&position, now)
	if pos == nil {
		return domain.NodeObservation{}, nil, false
	}

	obs := domain.NodeObservation{
		NodeNum:   packet.GetFrom(),
		LastHeard: packetTimestamp(packet.GetRxTime(), now),
		ViaMQTT:   packet.GetViaMqtt(),
		Position:  pos,
	}
	ch := packet.GetChannel()
	obs.Channel = &ch

	nodeID := domain.NodeID(packet.GetFrom())
	packetID := packet.GetId()
	samples := []domain.TelemetrySample{
		positionSample(nodeID, domain.TelemetryLatitude, pos.Latitude, "deg", packetID, pos),
		positionSample(nodeID, domain.TelemetryLongitude, pos.Longitude, "deg", packetID, pos),
	}
	if pos.Altitude != nil {
		samples = append(samples, positionSample(nodeID, domain.TelemetryAltitude, *pos.Altitude, "m", packetID, pos))
	}
	if speed := position.GetGroundSpeed(); speed != 0 {
		samples = append(samples, positionSample(nodeID, domain.TelemetryGroundSpeed, float64(speed), "m/s", packetID, pos))
	}
	if track := position.GetGroundTrack(); track != 0 {
		samples = append(samples, positionSample(nodeID, domain.TelemetryGroundTrack, float64(track)*1e-5, "deg", packetID, pos))
	}

	return obs, samples, true
}

func positionSample(nodeID, sampleType string, value float64, unit string, packetID uint32, pos *domain.Position) domain.TelemetrySample {
	s := domain.TelemetrySample{
		NodeID:        nodeID,
		Type:          sampleType,
		Timestamp:     pos.Time,
		Value:         value,
		Unit:          unit,
		PrecisionBits: pos.PrecisionBits,
		GPSAccuracy:   pos.GPSAccuracy,
	}
	if packetID != 0 {
		v := packetID
		s.PacketID = &v
	}

	return s
}

func decodePosition(position *meshtasticpb.Position, now time.Time) *domain.Position {
	if position == nil || position.LatitudeI == nil || position.LongitudeI == nil {
		return nil
	}
	lat := float64(position.GetLatitudeI()) * positionScale
	lon := float64(position.GetLongitudeI()) * positionScale
	if err := domain.ValidateCoordinates(lat, lon); err != nil {
		return nil
	}

	pos := &domain.Position{
		Latitude:  lat,
		Longitude: lon,
		Time:      packetTimestamp(position.GetTime(), now),
	}
	if position.Altitude != nil {
		alt := float64(position.GetAltitude())
		pos.Altitude = &alt
	}
	prec := position.GetPrecisionBits()
	pos.PrecisionBits = &prec
	if acc := position.GetGpsAccuracy(); acc != 0 {
		pos.GPSAccuracy = &acc
	}
	if hdop := position.GetHDOP(); hdop != 0 {
		pos.HDOP = &hdop
	}

	return pos
}

func decodeTelemetryPayload(packet *meshtasticpb.MeshPacket, payload []byte, now time.Time) (domain.NodeObservation, []domain.TelemetrySample, bool) {
	if packet.GetFrom() == 0 {
		return domain.NodeObservation{}, nil, false
	}
	var telemetry meshtasticpb.Telemetry
	if err := proto.Unmarshal(payload, &telemetry); err != nil {
		return domain.NodeObservation{}, nil, false
	}

	at := packetTimestamp(telemetry.GetTime(), packetTimestamp(packet.GetRxTime(), now))
	nodeID := domain.NodeID(packet.GetFrom())
	packetID := packet.GetId()
	ch := packet.GetChannel()

	sample := func(sampleType string, value float64, unit string) domain.TelemetrySample {
		s := domain.TelemetrySample{
			NodeID:    nodeID,
			Type:      sampleType,
			Timestamp: at,
			Value:     value,
			Unit:      unit,
		}
		if packetID != 0 {
			v := packetID
			s.PacketID = &v
		}
		chCopy := ch
		s.Channel = &chCopy

		return s
	}

	var samples []domain.TelemetrySample
	if dm := telemetry.GetDeviceMetrics(); dm != nil {
		if dm.BatteryLevel != nil {
			samples = append(samples, sample(domain.TelemetryBattery, float64(dm.GetBatteryLevel()), "%"))
		}
		if dm.Voltage != nil {
			samples = append(samples, sample(domain.TelemetryVoltage, float64(dm.GetVoltage()), "V"))
		}
		if dm.ChannelUtilization != nil {
			samples = append(samples, sample(domain.TelemetryChannelUtilization, float64(dm.GetChannelUtilization()), "%"))
		}
		if dm.AirUtilTx != nil {
			samples = append(samples, sample(domain.TelemetryAirUtilTx, float64(dm.GetAirUtilTx()), "%"))
		}
	}
	if env := telemetry.GetEnvironmentMetrics(); env != nil {
		if env.Temperature != nil {
			samples = append(samples, sample(domain.TelemetryTemperature, float64(env.GetTemperature()), "C"))
		}
		if env.RelativeHumidity != nil {
			samples = append(samples, sample(domain.TelemetryHumidity, float64(env.GetRelativeHumidity()), "%"))
		}
		if env.BarometricPressure != nil {
			samples = append(samples, sample(domain.TelemetryPressure, float64(env.GetBarometricPressure()), "hPa"))
		}
	}
	if stats := telemetry.GetLocalStats(); stats != nil {
		samples = append(samples,
			sample(domain.TelemetryNumPacketsTx, float64(stats.GetNumPacketsTx()), ""),
			sample(domain.TelemetryNumPacketsRx, float64(stats.GetNumPacketsRx()), ""),
			sample(domain.TelemetryNumPacketsRxBad, float64(stats.GetNumPacketsRxBad()), ""),
			sample(domain.TelemetryNumRxDupe, float64(stats.GetNumRxDupe()), ""),
			sample(domain.TelemetryNumTxRelay, float64(stats.GetNumTxRelay()), ""),
			sample(domain.TelemetryNumTxRelayCanceled, float64(stats.GetNumTxRelayCanceled()), ""),
			sample(domain.TelemetryNumTxDropped, float64(stats.GetNumTxDropped()), ""),
		)
	}
	if len(samples) == 0 {
		return domain.NodeObservation{}, nil, false
	}

	obs := domain.NodeObservation{
		NodeNum:   packet.GetFrom(),
		LastHeard: packetTimestamp(packet.GetRxTime(), now),
		ViaMQTT:   packet.GetViaMqtt(),
	}
	if snr := packet.GetRxSnr(); snr != 0 {
		v := float64(snr)
		obs.SNR = &v
	}

	return obs, samples, true
}

func decodeNeighborInfo(payload []byte, now time.Time) []domain.NeighborRecord {
	var info meshtasticpb.NeighborInfo
	if err := proto.Unmarshal(payload, &info); err != nil {
		return nil
	}
	if info.GetNodeId() == 0 {
		return nil
	}

	records := make([]domain.NeighborRecord, 0, len(info.GetNeighbors()))
	for _, neighbor := range info.GetNeighbors() {
		if neighbor.GetNodeId() == 0 {
			continue
		}
		records = append(records, domain.NeighborRecord{
			NodeNum:         info.GetNodeId(),
			NeighborNodeNum: neighbor.GetNodeId(),
			SNR:             float64(neighbor.GetSnr()),
			LastHeard:       packetTimestamp(neighbor.GetLastRxTime(), now),
		})
	}

	return records
}

// decodeTracerouteEvent folds the destination and source endpoints into the
// stored route so hop counts reflect the full path.
func decodeTracerouteEvent(packet *meshtasticpb.MeshPacket, decoded *meshtasticpb.Data) (TracerouteEvent, bool) {
	if decoded == nil || decoded.GetWantResponse() {
		return TracerouteEvent{}, false
	}
	var routeDiscovery meshtasticpb.RouteDiscovery
	if err := proto.Unmarshal(decoded.GetPayload(), &routeDiscovery); err != nil {
		return TracerouteEvent{}, false
	}

	destinationID := decoded.GetDest()
	if destinationID == 0 {
		destinationID = packet.GetTo()
	}
	sourceID := decoded.GetSource()
	if sourceID == 0 {
		sourceID = packet.GetFrom()
	}

	fullRoute := make([]uint32, 0, len(routeDiscovery.GetRoute())+2)
	if destinationID != 0 {
		fullRoute = append(fullRoute, destinationID)
	}
	fullRoute = append(fullRoute, routeDiscovery.GetRoute()...)
	if sourceID != 0 {
		fullRoute = append(fullRoute, sourceID)
	}

	routeBack := routeDiscovery.GetRouteBack()
	fullRouteBack := make([]uint32, 0, len(routeBack)+2)
	if (packet.GetHopStart() > 0 || decoded.GetBitfield() != 0) && len(routeDiscovery.GetSnrBack()) > 0 {
		if sourceID != 0 {
			fullRouteBack = append(fullRouteBack, sourceID)
		}
		fullRouteBack = append(fullRouteBack, routeBack...)
		if destinationID != 0 {
			fullRouteBack = append(fullRouteBack, destinationID)
		}
	} else {
		fullRouteBack = append(fullRouteBack, routeBack...)
	}

	requestID := decoded.GetRequestId()
	if requestID == 0 {
		requestID = decoded.GetReplyId()
	}

	return TracerouteEvent{
		From:       packet.GetFrom(),
		To:         packet.GetTo(),
		PacketID:   packet.GetId(),
		RequestID:  requestID,
		Route:      fullRoute,
		SNRTowards: append([]int32(nil), routeDiscovery.GetSnrTowards()...),
		RouteBack:  fullRouteBack,
		SNRBack:    append([]int32(nil), routeDiscovery.GetSnrBack()...),
	}, true
}

func decodeChannelInfo(channelInfo *meshtasticpb.Channel) (domain.Channel, bool) {
	idx := int(channelInfo.GetIndex())
	if idx < 0 || idx > 7 {
		return domain.Channel{}, false
	}
	settings := channelInfo.GetSettings()

	return domain.Channel{
		Index:             idx,
		Name:              strings.TrimSpace(settings.GetName()),
		PSK:               settings.GetPsk(),
		Role:              domain.ChannelRole(channelInfo.GetRole()),
		UplinkEnabled:     settings.GetUplinkEnabled(),
		DownlinkEnabled:   settings.GetDownlinkEnabled(),
		PositionPrecision: settings.GetModuleSettings().GetPositionPrecision(),
	}, true
}

func decodeDeviceMetadata(md *meshtasticpb.DeviceMetadata) domain.DeviceMetadata {
	out := domain.DeviceMetadata{
		FirmwareVersion:    md.GetFirmwareVersion(),
		DeviceStateVersion: md.GetDeviceStateVersion(),
		HasWifi:            md.GetHasWifi(),
		HasBluetooth:       md.GetHasBluetooth(),
		HasEthernet:        md.GetHasEthernet(),
		CanShutdown:        md.GetCanShutdown(),
	}
	if role := md.GetRole().String(); role != "" {
		out.Role = role
	}
	if model := md.GetHwModel(); model != meshtasticpb.HardwareModel_UNSET {
		out.HwModel = model.String()
	}

	return out
}

func decodeQueueStatus(queueStatus *meshtasticpb.QueueStatus) (AckEvent, bool) {
	packetID := queueStatus.GetMeshPacketId()
	if packetID == 0 {
		return AckEvent{}, false
	}

	ack := AckEvent{RequestID: packetID, Implicit: true}
	if res := meshtasticpb.Routing_Error(queueStatus.GetRes()); res != meshtasticpb.Routing_NONE {
		ack.ErrorReason = res.String()
	}

	return ack, true
}

func decodePacketAck(packet *meshtasticpb.MeshPacket, decoded *meshtasticpb.Data) (AckEvent, bool) {
	requestID := decoded.GetRequestId()
	if requestID == 0 {
		return AckEvent{}, false
	}

	isRouting := decoded.GetPortnum() == meshtasticpb.PortNum_ROUTING_APP
	isAck := packet.GetPriority() == meshtasticpb.MeshPacket_ACK
	if !isRouting && !isAck {
		return AckEvent{}, false
	}

	ack := AckEvent{RequestID: requestID, From: packet.GetFrom()}
	if isRouting {
		var routing meshtasticpb.Routing
		if err := proto.Unmarshal(decoded.GetPayload(), &routing); err == nil {
			if reason := routing.GetErrorReason(); reason != meshtasticpb.Routing_NONE {
				ack.ErrorReason = reason.String()
			}
		}
	}

	return ack, true
}

var _ Codec = (*MeshtasticCodec)(nil)

func packetTimestamp(epochSec uint32, fallback time.Time) time.Time {
	if epochSec == 0 {
		return fallback
	}

	return time.Unix(int64(epochSec), 0)
}
