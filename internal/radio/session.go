package radio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/proto"

	"meshgate/internal/bus"
	"meshgate/internal/domain"
	"meshgate/internal/transport"
)

// State is the config-capture state machine position.
type State int32

const (
	StateDisconnected State = iota
	StateHandshake
	StateCapturing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateCapturing:
		return "capturing"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// ConnStatus is published on every connection state change.
type ConnStatus struct {
	State     State
	Transport string
	Err       string
	At        time.Time
}

const (
	// captureFallback promotes the session to Ready when the sentinel
	// never arrives.
	captureFallback = 30 * time.Second
	heartbeatEvery  = 25 * time.Second
	// readIdle bounds a single blocking read; quiet meshes are normal,
	// so this is generous.
	readIdle         = 5 * time.Minute
	writeTimeout     = 8 * time.Second
	maxReconnectWait = 30 * time.Second
)

type sentRecord struct {
	messageID string
	dest      uint32
	direct    bool
	delivered bool
}

// Session owns the request table and the send queue. All writes to the
// transport funnel through its outbox; at most one want-ack frame per
// destination is in flight at a time.
type Session struct {
	logger    *slog.Logger
	bus       bus.MessageBus
	transport transport.Transport
	codec     Codec
	store     *domain.MeshStore

	messages    domain.MessageRepository
	telemetry   domain.TelemetryRepository
	traceroutes domain.TracerouteRepository
	segments    domain.RouteSegmentRepository
	neighbors   domain.NeighborRepository
	ignored     domain.IgnoredNodeRepository
	writer      domain.AsyncWriter

	requests *requestTable
	passkeys *passkeyCache

	outbox chan EncodedPacket

	mu          sync.Mutex
	state       State
	configID    uint32
	lastUseful  time.Time
	inflight    map[uint32]uint32
	parked      map[uint32][]EncodedPacket
	sent        map[uint32]sentRecord
	configFrags [][]byte
	onReady     []func()

	userDisconnect atomic.Bool
}

// Deps carries the session's collaborators.
type Deps struct {
	Logger      *slog.Logger
	Bus         bus.MessageBus
	Transport   transport.Transport
	Codec       Codec
	Store       *domain.MeshStore
	Messages    domain.MessageRepository
	Telemetry   domain.TelemetryRepository
	Traceroutes domain.TracerouteRepository
	Segments    domain.RouteSegmentRepository
	Neighbors   domain.NeighborRepository
	Ignored     domain.IgnoredNodeRepository
	Writer      domain.AsyncWriter
}

func NewSession(d Deps) *Session {
	return &Session{
		logger:      d.Logger.With("component", "radio"),
		bus:         d.Bus,
		transport:   d.Transport,
		codec:       d.Codec,
		store:       d.Store,
		messages:    d.Messages,
		telemetry:   d.Telemetry,
		traceroutes: d.Traceroutes,
		segments:    d.Segments,
		neighbors:   d.Neighbors,
		ignored:     d.Ignored,
		writer:      d.Writer,
		requests:    newRequestTable(),
		passkeys:    newPasskeyCache(),
		outbox:      make(chan EncodedPacket, 128),
		state:       StateDisconnected,
		inflight:    make(map[uint32]uint32),
		parked:      make(map[uint32][]EncodedPacket),
		sent:        make(map[uint32]sentRecord),
	}
}

// OnCaptureComplete registers fn to run each time a capture finishes.
func (s *Session) OnCaptureComplete(fn func()) {
	s.mu.Lock()
	s.onReady = append(s.onReady, fn)
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) Ready() bool {
	return s.State() == StateReady
}

// Disconnect suppresses reconnect backoff and lets the I/O loops exit at
// their next suspension point.
func (s *Session) Disconnect() {
	s.userDisconnect.Store(true)
	_ = s.transport.Close()
}

// Run drives connect, capture, and reconnect until ctx ends or a user
// disconnect is requested.
func (s *Session) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil || s.userDisconnect.Load() {
			return
		}

		s.publishStatus(StateHandshake, nil)
		if err := s.transport.Connect(ctx); err != nil {
			s.logger.Error("transport connect failed", "error", err)
			s.publishStatus(StateDisconnected, err)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)

			continue
		}
		backoff = time.Second

		connCtx, cancel := context.WithCancel(ctx)
		s.beginCapture()
		go s.runWriter(connCtx)
		go s.runHeartbeat(connCtx)
		go s.runCaptureWatchdog(connCtx)

		err := s.runReader(connCtx)
		cancel()
		_ = s.transport.Close()

		// Drop parked frames before failing awaiters so the release
		// hooks do not promote them onto a dead link.
		s.mu.Lock()
		dropped := 0
		for _, queue := range s.parked {
			dropped += len(queue)
		}
		s.parked = make(map[uint32][]EncodedPacket)
		s.mu.Unlock()
		if dropped > 0 {
			s.logger.Warn("dropped queued want-ack frames on disconnect", "count", dropped)
		}

		s.requests.FailAll(ErrCancelled)
		s.setState(StateDisconnected)
		s.publishStatus(StateDisconnected, err)

		if s.userDisconnect.Load() {
			return
		}
		if !sleepWithContext(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxReconnectWait {
		next = maxReconnectWait
	}

	return next
}

func (s *Session) beginCapture() {
	payload, configID, err := s.codec.EncodeWantConfig()
	if err != nil {
		s.logger.Error("encode want-config failed", "error", err)

		return
	}

	s.mu.Lock()
	s.state = StateCapturing
	s.configID = configID
	s.lastUseful = time.Now()
	s.configFrags = nil
	s.mu.Unlock()

	s.outbox <- EncodedPacket{Payload: payload}
	s.publishStatus(StateCapturing, nil)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// finishCapture transitions to Ready and fires the capture callbacks. All
// capture-batch updates were applied by the reader before this runs.
func (s *Session) finishCapture(reason string) {
	s.mu.Lock()
	if s.state != StateCapturing {
		s.mu.Unlock()

		return
	}
	s.state = StateReady
	callbacks := append([]func(){}, s.onReady...)
	s.mu.Unlock()

	s.logger.Info("config capture complete", "reason", reason, "nodes", s.store.NodeCount())
	s.publishStatus(StateReady, nil)
	if s.bus != nil {
		s.bus.Publish(bus.TopicCaptureDone, s.store.LocalNodeNum())
	}
	for _, fn := range callbacks {
		fn()
	}
}

func (s *Session) runCaptureWatchdog(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			capturing := s.state == StateCapturing
			stale := time.Since(s.lastUseful) > captureFallback
			s.mu.Unlock()
			if capturing && stale {
				s.logger.Warn("config-complete sentinel missing, forcing ready")
				s.finishCapture("fallback")
			}
		}
	}
}

func (s *Session) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := s.codec.EncodeHeartbeat()
			if err != nil {
				s.logger.Debug("encode heartbeat failed", "error", err)

				continue
			}
			select {
			case s.outbox <- EncodedPacket{Payload: payload}:
			default:
				s.logger.Debug("outbox full, heartbeat skipped")
			}
		}
	}
}

func (s *Session) runWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-s.outbox:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.transport.WriteFrame(writeCtx, pkt.Payload)
			cancel()
			if err != nil {
				s.logger.Warn("frame write failed", "error", err, "packet_id", pkt.PacketID)
			}
		}
	}
}

func (s *Session) runReader(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		readCtx, cancel := context.WithTimeout(ctx, readIdle)
		payload, err := s.transport.ReadFrame(readCtx)
		cancel()
		if err != nil {
			return err
		}

		decoded, err := s.codec.DecodeFromRadio(payload)
		if err != nil {
			s.logger.Warn("decode fromradio failed", "error", err)

			continue
		}
		s.handleFrame(decoded)
	}
}

// handleFrame applies one inbound record to state, resolves awaiters, and
// republishes. Frames are processed strictly in arrival order.
func (s *Session) handleFrame(frame DecodedFrame) {
	if s.bus != nil {
		s.bus.Publish(bus.TopicRadioFromRaw, frame.Raw)
		s.bus.Publish(bus.TopicRadioFrom, frame)
	}

	now := time.Now()
	useful := false

	if frame.MyNodeNum != 0 {
		s.store.SetLocalNodeNum(frame.MyNodeNum)
		s.store.Ensure(frame.MyNodeNum, func(n *domain.Node) { n.IsLocal = true })
		useful = true
	}
	if frame.NodeUpdate != nil {
		obs := *frame.NodeUpdate
		if obs.NodeNum == s.store.LocalNodeNum() {
			obs.IsLocal = true
		}
		node, _ := s.store.ApplyObservation(obs, now)
		if obs.Position != nil && s.bus != nil {
			s.bus.Publish(bus.TopicPosition, node)
		}
		useful = true
	}
	if frame.Channel != nil {
		if err := s.store.ApplyChannel(*frame.Channel); err != nil {
			s.logger.Warn("channel rejected", "error", err)
		}
		useful = true
	}
	if frame.Metadata != nil {
		s.store.SetDeviceMetadata(*frame.Metadata)
		s.store.Mutate(s.store.LocalNodeNum(), func(n *domain.Node) {
			n.FirmwareVersion = frame.Metadata.FirmwareVersion
		})
		useful = true
	}
	if frame.ConfigRecord != ConfigRecordNone {
		s.mu.Lock()
		if s.state == StateCapturing {
			s.configFrags = append(s.configFrags, frame.Raw)
		}
		s.mu.Unlock()
		useful = true
	}
	if frame.Rebooted {
		s.logger.Info("device rebooted, restarting capture")
		s.beginCapture()
	}
	if frame.ConfigCompleteID != 0 {
		s.mu.Lock()
		match := frame.ConfigCompleteID == s.configID
		s.mu.Unlock()
		if match {
			s.finishCapture("sentinel")
		}
	}

	if useful {
		s.mu.Lock()
		s.lastUseful = now
		s.mu.Unlock()
	}

	if frame.Message != nil {
		s.applyMessage(*frame.Message)
	}
	for _, sample := range frame.Telemetry {
		s.applyTelemetry(sample)
	}
	for _, neighbor := range frame.Neighbors {
		s.applyNeighbor(neighbor)
	}
	if len(frame.Neighbors) > 0 {
		s.estimatePosition(frame.Neighbors, now)
	}
	if frame.Traceroute != nil {
		s.applyTraceroute(*frame.Traceroute, now)
	}
	if frame.Admin != nil {
		s.applyAdmin(*frame.Admin)
	}
	if frame.Ack != nil {
		s.applyAck(*frame.Ack)
	}
}

func (s *Session) applyMessage(msg domain.Message) {
	if msg.ID != "" && s.writer != nil && s.messages != nil {
		m := msg
		s.writer.Enqueue("message.insert", func(ctx context.Context) error {
			_, err := s.messages.Insert(ctx, m)

			return err
		})
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicMessage, msg)
	}
}

func (s *Session) applyTelemetry(sample domain.TelemetrySample) {
	if s.writer != nil && s.telemetry != nil {
		sm := sample
		s.writer.Enqueue("telemetry.insert", func(ctx context.Context) error {
			return s.telemetry.Insert(ctx, sm)
		})
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicTelemetry, sample)
	}
}

func (s *Session) applyNeighbor(record domain.NeighborRecord) {
	if s.writer == nil || s.neighbors == nil {
		return
	}
	r := record
	s.writer.Enqueue("neighbor.upsert", func(ctx context.Context) error {
		return s.neighbors.Upsert(ctx, r)
	})
}

// estimatePosition derives a rough location for a neighbor-info reporter
// that has no position of its own: the SNR-weighted centroid of its
// neighbors' known positions. Linear SNR weights, so a 10 dB stronger
// link pulls ten times harder.
func (s *Session) estimatePosition(records []domain.NeighborRecord, now time.Time) {
	reporter := records[0].NodeNum
	if node, ok := s.store.Node(reporter); ok {
		if _, _, _, known := node.EffectivePosition(); known {
			return
		}
	}

	var latSum, lonSum, weightSum float64
	for _, r := range records {
		neighbor, ok := s.store.Node(r.NeighborNodeNum)
		if !ok {
			continue
		}
		lat, lon, _, known := neighbor.EffectivePosition()
		if !known {
			continue
		}
		weight := math.Pow(10, r.SNR/10)
		latSum += lat * weight
		lonSum += lon * weight
		weightSum += weight
	}
	if weightSum == 0 {
		return
	}

	nodeID := domain.NodeID(reporter)
	s.applyTelemetry(domain.TelemetrySample{
		NodeID:    nodeID,
		Type:      domain.TelemetryEstimatedLatitude,
		Timestamp: now,
		Value:     latSum / weightSum,
		Unit:      "deg",
	})
	s.applyTelemetry(domain.TelemetrySample{
		NodeID:    nodeID,
		Type:      domain.TelemetryEstimatedLongitude,
		Timestamp: now,
		Value:     lonSum / weightSum,
		Unit:      "deg",
	})
}

func (s *Session) applyTraceroute(event TracerouteEvent, now time.Time) {
	tr := domain.Traceroute{
		FromNodeNum: event.From,
		ToNodeNum:   event.To,
		Timestamp:   now,
		Route:       event.Route,
		SNRTowards:  event.SNRTowards,
		RouteBack:   event.RouteBack,
		SNRBack:     event.SNRBack,
	}
	if s.writer != nil && s.traceroutes != nil {
		s.writer.Enqueue("traceroute.insert", func(ctx context.Context) error {
			if _, err := s.traceroutes.Insert(ctx, tr); err != nil {
				return err
			}
			if s.segments == nil {
				return nil
			}
			for i := 0; i+1 < len(tr.Route); i++ {
				seg := domain.RouteSegment{
					FromNodeNum:  tr.Route[i],
					ToNodeNum:    tr.Route[i+1],
					LastSeen:     now,
					HopsObserved: tr.HopCount(),
				}
				if err := s.segments.Upsert(ctx, seg); err != nil {
					return err
				}
			}

			return nil
		})
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicTraceroute, tr)
	}

	if event.RequestID != 0 && s.requests.Resolve(event.RequestID, event) {
		return
	}
	// Replies that lost their request id match the newest outstanding
	// traceroute to that node.
	s.requests.ResolveByKind(KindTraceroute, event.From, event)
}

func (s *Session) applyAdmin(event AdminEvent) {
	if event.RequestID != 0 && s.requests.Resolve(event.RequestID, event.Message) {
		return
	}
	if s.requests.ResolveByKind(KindAdmin, event.From, event.Message) {
		return
	}
	s.logger.Debug("unmatched admin response", "from", domain.NodeID(event.From), "request_id", event.RequestID)
}

// applyAck updates delivery accounting and releases the per-destination
// in-flight slot.
func (s *Session) applyAck(ack AckEvent) {
	s.mu.Lock()
	rec, tracked := s.sent[ack.RequestID]
	if tracked {
		if ack.Failed() || !ack.Implicit {
			delete(s.sent, ack.RequestID)
		} else {
			rec.delivered = true
			s.sent[ack.RequestID] = rec
		}
	}
	s.mu.Unlock()

	if tracked && rec.messageID != "" {
		s.accountDelivery(rec, ack)
	}

	// Awaiters take the ack only when they asked for one; a NAK fails any
	// kind of awaiter under that id. In-flight slot release rides on the
	// awaiter's onDone hook.
	s.requests.ResolveWhere(ack.RequestID, func(kind RequestKind) bool {
		return kind == KindAck || ack.Failed()
	}, ack)
}

func (s *Session) accountDelivery(rec sentRecord, ack AckEvent) {
	msgID := rec.messageID
	var update func(ctx context.Context) error

	switch {
	case ack.Failed():
		update = func(ctx context.Context) error {
			return s.messages.MarkRoutingError(ctx, msgID)
		}
		s.publishMessageState(msgID, domain.DeliveryFailed)
	case rec.direct:
		if ack.Implicit {
			return
		}
		from := ack.From
		update = func(ctx context.Context) error {
			return s.messages.SetDeliveryState(ctx, msgID, domain.DeliveryConfirmed, &from)
		}
		s.publishMessageState(msgID, domain.DeliveryConfirmed)
	case ack.Implicit:
		update = func(ctx context.Context) error {
			return s.messages.SetDeliveryState(ctx, msgID, domain.DeliveryDelivered, nil)
		}
		s.publishMessageState(msgID, domain.DeliveryDelivered)
	default:
		from := ack.From
		update = func(ctx context.Context) error {
			return s.messages.SetDeliveryState(ctx, msgID, domain.DeliveryConfirmed, &from)
		}
		s.publishMessageState(msgID, domain.DeliveryConfirmed)
	}

	if s.writer != nil && s.messages != nil {
		s.writer.Enqueue("message.state", update)
	}
}

func (s *Session) publishMessageState(msgID string, state domain.DeliveryState) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.TopicMessageState, MessageStateUpdate{MessageID: msgID, State: state})
}

// MessageStateUpdate is published when ACK accounting moves a message.
type MessageStateUpdate struct {
	MessageID string
	State     domain.DeliveryState
}

// enqueue respects the one-in-flight-want-ack-per-destination rule; other
// frames go straight to the outbox.
func (s *Session) enqueue(pkt EncodedPacket) {
	if !pkt.WantAck || pkt.Dest == domain.BroadcastNodeNum {
		s.outbox <- pkt

		return
	}

	s.mu.Lock()
	if _, busy := s.inflight[pkt.Dest]; busy {
		s.parked[pkt.Dest] = append(s.parked[pkt.Dest], pkt)
		s.mu.Unlock()

		return
	}
	s.inflight[pkt.Dest] = pkt.PacketID
	s.mu.Unlock()

	s.armAckWatch(pkt)
	s.outbox <- pkt
}

// releaseInflight frees dest's slot, but only if id still holds it, then
// promotes the next parked frame.
func (s *Session) releaseInflight(dest uint32, id uint32) {
	s.mu.Lock()
	if s.inflight[dest] != id {
		s.mu.Unlock()

		return
	}
	delete(s.inflight, dest)
	var next *EncodedPacket
	if queue := s.parked[dest]; len(queue) > 0 {
		pkt := queue[0]
		s.parked[dest] = queue[1:]
		if len(s.parked[dest]) == 0 {
			delete(s.parked, dest)
		}
		s.inflight[dest] = pkt.PacketID
		next = &pkt
	}
	s.mu.Unlock()

	if next != nil {
		s.armAckWatch(*next)
		s.outbox <- *next
	}
}

// armAckWatch ties the in-flight slot to whatever resolves the packet id.
// Request-bearing sends already hold an awaiter under the same id, so
// piggyback on it instead of registering a colliding ack watcher.
func (s *Session) armAckWatch(pkt EncodedPacket) {
	dest, id := pkt.Dest, pkt.PacketID
	if s.requests.OnDone(id, func() { s.releaseInflight(dest, id) }) {
		return
	}
	s.watchAck(pkt)
}

// watchAck frees the in-flight slot on ack or timeout and fails the
// message when the timeout wins.
func (s *Session) watchAck(pkt EncodedPacket) {
	pending := s.requests.Register(pkt.PacketID, KindAck, pkt.Dest)
	go func() {
		_, err := pending.Await(context.Background())
		s.releaseInflight(pkt.Dest, pkt.PacketID)
		if err == nil {
			return
		}

		s.mu.Lock()
		rec, tracked := s.sent[pkt.PacketID]
		delete(s.sent, pkt.PacketID)
		s.mu.Unlock()

		if tracked && rec.messageID != "" && s.writer != nil && s.messages != nil {
			msgID := rec.messageID
			s.writer.Enqueue("message.ack-failed", func(ctx context.Context) error {
				return s.messages.MarkAckFailed(ctx, msgID)
			})
			s.publishMessageState(msgID, domain.DeliveryFailed)
		}
	}()
}

// SendText queues an outbound text and records it as a pending message.
// The returned id is the packet id the ACK accounting will move.
func (s *Session) SendText(ctx context.Context, to uint32, channel uint32, text string) (string, error) {
	if s.State() == StateDisconnected {
		return "", ErrNotConnected
	}
	if text == "" {
		return "", fmt.Errorf("message body is empty")
	}
	if len([]byte(text)) > 200 {
		return "", fmt.Errorf("message body exceeds 200 bytes: %d", len([]byte(text)))
	}

	pkt, err := s.codec.EncodeText(to, channel, text)
	if err != nil {
		return "", fmt.Errorf("encode outgoing message: %w", err)
	}

	now := time.Now()
	msg := domain.Message{
		ID:            strconv.FormatUint(uint64(pkt.PacketID), 10),
		FromNodeNum:   s.store.LocalNodeNum(),
		ToNodeNum:     to,
		Text:          text,
		Portnum:       meshtasticpb.PortNum_TEXT_MESSAGE_APP.String(),
		Timestamp:     now,
		CreatedAt:     now,
		WantAck:       pkt.WantAck,
		DeliveryState: domain.DeliveryPending,
	}
	if to == domain.BroadcastNodeNum {
		msg.Channel = int(channel)
	} else {
		msg.Channel = domain.DirectChannel
	}

	s.mu.Lock()
	s.sent[pkt.PacketID] = sentRecord{
		messageID: msg.ID,
		dest:      to,
		direct:    msg.Channel == domain.DirectChannel,
	}
	s.mu.Unlock()

	if s.writer != nil && s.messages != nil {
		m := msg
		s.writer.Enqueue("message.insert", func(ctx context.Context) error {
			_, err := s.messages.Insert(ctx, m)

			return err
		})
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicMessage, msg)
	}

	s.enqueue(pkt)

	return msg.ID, nil
}

// SendTraceroute submits a route discovery and awaits the folded reply.
func (s *Session) SendTraceroute(ctx context.Context, to uint32, channel uint32) (TracerouteEvent, error) {
	if s.State() == StateDisconnected {
		return TracerouteEvent{}, ErrNotConnected
	}
	pkt, err := s.codec.EncodeTraceroute(to, channel)
	if err != nil {
		return TracerouteEvent{}, fmt.Errorf("encode traceroute: %w", err)
	}

	pending := s.requests.Register(pkt.PacketID, KindTraceroute, to)
	s.enqueue(pkt)

	value, err := pending.Await(ctx)
	if err != nil {
		return TracerouteEvent{}, err
	}
	event, ok := value.(TracerouteEvent)
	if !ok {
		return TracerouteEvent{}, fmt.Errorf("unexpected traceroute reply type %T", value)
	}

	return event, nil
}

// RequestNodeInfo asks a node for a fresh user record, forcing a key
// exchange on PKC-capable firmware.
func (s *Session) RequestNodeInfo(ctx context.Context, to uint32) error {
	if s.State() == StateDisconnected {
		return ErrNotConnected
	}
	packet := &meshtasticpb.MeshPacket{
		To:      to,
		WantAck: true,
		PayloadVariant: &meshtasticpb.MeshPacket_Decoded{Decoded: &meshtasticpb.Data{
			Portnum:      meshtasticpb.PortNum_NODEINFO_APP,
			WantResponse: true,
		}},
	}
	pkt, err := s.codec.EncodeToRadioPacket(packet)
	if err != nil {
		return fmt.Errorf("encode nodeinfo request: %w", err)
	}
	s.enqueue(pkt)

	return nil
}

// SendPosition broadcasts the gateway's position on a channel.
func (s *Session) SendPosition(ctx context.Context, channel uint32, lat, lon float64, altitude int32) error {
	if s.State() == StateDisconnected {
		return ErrNotConnected
	}
	latI := int32(lat * 1e7)
	lonI := int32(lon * 1e7)
	body, err := proto.Marshal(&meshtasticpb.Position{
		LatitudeI:  &latI,
		LongitudeI: &lonI,
		Altitude:   &altitude,
		Time:       uint32(time.Now().Unix()),
	})
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	packet := &meshtasticpb.MeshPacket{
		To:      domain.BroadcastNodeNum,
		Channel: channel,
		PayloadVariant: &meshtasticpb.MeshPacket_Decoded{Decoded: &meshtasticpb.Data{
			Portnum: meshtasticpb.PortNum_POSITION_APP,
			Payload: body,
		}},
	}
	pkt, err := s.codec.EncodeToRadioPacket(packet)
	if err != nil {
		return fmt.Errorf("encode position packet: %w", err)
	}
	s.enqueue(pkt)

	return nil
}

// SubmitRaw funnels a virtual client's to-radio record onto the send
// queue under a fresh id. Non-packet records are absorbed.
func (s *Session) SubmitRaw(payload []byte) (uint32, error) {
	wire, err := s.codec.DecodeToRadio(payload)
	if err != nil {
		return 0, err
	}
	packet := wire.GetPacket()
	if packet == nil {
		return 0, nil
	}
	pkt, err := s.codec.EncodeToRadioPacket(packet)
	if err != nil {
		return 0, err
	}
	s.enqueue(pkt)

	return pkt.PacketID, nil
}

// RawRecordIsAdmin reports whether a to-radio record carries an admin
// payload, for the virtual server's gating.
func (s *Session) RawRecordIsAdmin(payload []byte) (bool, uint32) {
	wire, err := s.codec.DecodeToRadio(payload)
	if err != nil {
		return false, 0
	}
	packet := wire.GetPacket()
	if packet == nil {
		return false, 0
	}
	decoded := packet.GetDecoded()
	if decoded == nil {
		return false, 0
	}

	return decoded.GetPortnum() == meshtasticpb.PortNum_ADMIN_APP, packet.GetId()
}

// ConfigFragments snapshots the raw capture records for virtual replay.
func (s *Session) ConfigFragments() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.configFrags))
	copy(out, s.configFrags)

	return out
}

func (s *Session) publishStatus(state State, err error) {
	if s.bus == nil {
		return
	}
	status := ConnStatus{
		State:     state,
		Transport: s.transport.Name(),
		At:        time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	s.bus.Publish(bus.TopicConnStatus, status)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
