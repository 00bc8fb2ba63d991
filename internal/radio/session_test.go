package radio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/proto"

	"meshgate/internal/domain"
)

type fakeTransport struct {
	incoming chan []byte
	written  chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan []byte, 64),
		written:  make(chan []byte, 64),
	}
}

func (f *fakeTransport) Name() string                    { return "fake" }
func (f *fakeTransport) Connect(_ context.Context) error { return nil }
func (f *fakeTransport) Close() error                    { return nil }

func (f *fakeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload := <-f.incoming:
		return payload, nil
	}
}

func (f *fakeTransport) WriteFrame(_ context.Context, payload []byte) error {
	f.written <- payload

	return nil
}

func (f *fakeTransport) feed(t *testing.T, fr *meshtasticpb.FromRadio) {
	t.Helper()
	payload, err := proto.Marshal(fr)
	if err != nil {
		t.Fatalf("marshal fromradio: %v", err)
	}
	f.incoming <- payload
}

func (f *fakeTransport) nextWritten(t *testing.T) *meshtasticpb.ToRadio {
	t.Helper()
	select {
	case payload := <-f.written:
		var wire meshtasticpb.ToRadio
		if err := proto.Unmarshal(payload, &wire); err != nil {
			t.Fatalf("unmarshal toradio: %v", err)
		}

		return &wire
	case <-time.After(5 * time.Second):
		t.Fatalf("no frame written in time")

		return nil
	}
}

// syncWriter runs persistence closures inline so tests observe effects
// without queue timing.
type syncWriter struct{}

func (syncWriter) Enqueue(_ string, fn func(context.Context) error) {
	_ = fn(context.Background())
}

type memMessages struct {
	mu      sync.Mutex
	rows    map[string]domain.Message
	inserts int
}

func newMemMessages() *memMessages {
	return &memMessages{rows: make(map[string]domain.Message)}
}

func (m *memMessages) Insert(_ context.Context, msg domain.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[msg.ID]; exists {
		return false, nil
	}
	m.rows[msg.ID] = msg
	m.inserts++

	return true, nil
}

func (m *memMessages) ByID(_ context.Context, id string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		return &row, nil
	}

	return nil, nil
}

func (m *memMessages) ByRequestID(context.Context, uint32) (*domain.Message, error) {
	return nil, nil
}

func (m *memMessages) ByChannel(context.Context, int, int, int) (domain.MessagePage, error) {
	return domain.MessagePage{}, nil
}

func (m *memMessages) Direct(context.Context, uint32, uint32, int, int) (domain.MessagePage, error) {
	return domain.MessagePage{}, nil
}

func (m *memMessages) SetDeliveryState(_ context.Context, id string, state domain.DeliveryState, ackFrom *uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil
	}
	row.DeliveryState = state
	if ackFrom != nil {
		from := *ackFrom
		row.AckFromNode = &from
	}
	m.rows[id] = row

	return nil
}

func (m *memMessages) MarkAckFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[id]
	row.AckFailed = true
	row.DeliveryState = domain.DeliveryFailed
	m.rows[id] = row

	return nil
}

func (m *memMessages) MarkRoutingError(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[id]
	row.RoutingErrorReceived = true
	row.DeliveryState = domain.DeliveryFailed
	m.rows[id] = row

	return nil
}

func (m *memMessages) state(t *testing.T, id string) domain.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		t.Fatalf("message %q not stored", id)
	}

	return row
}

func newTestCodec(t *testing.T) *MeshtasticCodec {
	t.Helper()
	codec, err := NewMeshtasticCodec()
	if err != nil {
		t.Fatalf("build codec: %v", err)
	}

	return codec
}

func newTestSession(t *testing.T, ft *fakeTransport) (*Session, *memMessages) {
	t.Helper()
	store := domain.NewMeshStore(nil, nil, nil, nil)
	messages := newMemMessages()
	s := NewSession(Deps{
		Logger:    slog.Default(),
		Transport: ft,
		Codec:     newTestCodec(t),
		Store:     store,
		Messages:  messages,
		Writer:    syncWriter{},
	})

	return s, messages
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionCaptureDrivesStoreAndReady(t *testing.T) {
	ft := newFakeTransport()
	s, _ := newTestSession(t, ft)

	var readyCount atomic.Int32
	s.OnCaptureComplete(func() { readyCount.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	wantConfig := ft.nextWritten(t)
	configID := wantConfig.GetWantConfigId()
	if configID == 0 {
		t.Fatalf("first written frame is not want_config: %v", wantConfig)
	}
	if s.State() != StateCapturing {
		t.Fatalf("state after want_config = %v, want capturing", s.State())
	}

	ft.feed(t, &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_MyInfo{
		MyInfo: &meshtasticpb.MyNodeInfo{MyNodeNum: 0x10},
	}})
	ft.feed(t, &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_NodeInfo{
		NodeInfo: &meshtasticpb.NodeInfo{
			Num: 0x20,
			User: &meshtasticpb.User{
				LongName:  "Hillside Relay",
				ShortName: "HILL",
			},
		},
	}})
	ft.feed(t, &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_Channel{
		Channel: &meshtasticpb.Channel{
			Index: 0,
			Role:  meshtasticpb.Channel_PRIMARY,
			Settings: &meshtasticpb.ChannelSettings{
				Name: "LongFast",
			},
		},
	}})

	// Sentinel with a wrong id must not finish the capture.
	ft.feed(t, &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_ConfigCompleteId{
		ConfigCompleteId: configID + 1,
	}})
	waitFor(t, "node applied", func() bool { return s.store.NodeCount() >= 2 })
	if s.State() == StateReady {
		t.Fatalf("mismatched config-complete id finished capture")
	}

	ft.feed(t, &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_ConfigCompleteId{
		ConfigCompleteId: configID,
	}})
	waitFor(t, "session ready", s.Ready)

	// Capture-batch state must be in place at the ready transition.
	if s.store.LocalNodeNum() != 0x10 {
		t.Fatalf("local node num = %#x, want 0x10", s.store.LocalNodeNum())
	}
	node, ok := s.store.Node(0x20)
	if !ok || node.LongName != "Hillside Relay" {
		t.Fatalf("node 0x20 = %+v, ok=%v", node, ok)
	}
	if _, ok := s.store.Channel(0); !ok {
		t.Fatalf("channel 0 missing after capture")
	}
	if got := readyCount.Load(); got != 1 {
		t.Fatalf("capture callbacks fired %d times, want 1", got)
	}
}

func TestAckAccountingMovesDeliveryStates(t *testing.T) {
	ft := newFakeTransport()
	s, messages := newTestSession(t, ft)
	s.store.SetLocalNodeNum(0x10)
	s.setState(StateReady)

	// Channel broadcast: implicit ack means delivered, explicit means
	// confirmed.
	chID, err := s.SendText(context.Background(), domain.BroadcastNodeNum, 0, "net check")
	if err != nil {
		t.Fatalf("send channel text: %v", err)
	}
	if got := messages.state(t, chID).DeliveryState; got != domain.DeliveryPending {
		t.Fatalf("initial state = %q, want pending", got)
	}

	chPacket := packetIDOf(t, chID)
	s.applyAck(AckEvent{RequestID: chPacket, Implicit: true})
	if got := messages.state(t, chID).DeliveryState; got != domain.DeliveryDelivered {
		t.Fatalf("after implicit ack state = %q, want delivered", got)
	}

	s.applyAck(AckEvent{RequestID: chPacket, From: 0x33})
	row := messages.state(t, chID)
	if row.DeliveryState != domain.DeliveryConfirmed {
		t.Fatalf("after explicit ack state = %q, want confirmed", row.DeliveryState)
	}
	if row.AckFromNode == nil || *row.AckFromNode != 0x33 {
		t.Fatalf("ack_from = %v, want 0x33", row.AckFromNode)
	}

	// Direct message: implicit ack is not a delivery signal.
	dmID, err := s.SendText(context.Background(), 0x44, 0, "hello")
	if err != nil {
		t.Fatalf("send direct text: %v", err)
	}
	dmPacket := packetIDOf(t, dmID)
	s.applyAck(AckEvent{RequestID: dmPacket, Implicit: true})
	if got := messages.state(t, dmID).DeliveryState; got != domain.DeliveryPending {
		t.Fatalf("direct after implicit ack = %q, want pending", got)
	}
	s.applyAck(AckEvent{RequestID: dmPacket, From: 0x44})
	if got := messages.state(t, dmID).DeliveryState; got != domain.DeliveryConfirmed {
		t.Fatalf("direct after explicit ack = %q, want confirmed", got)
	}

	// Routing error fails the message regardless of earlier acks.
	failID, err := s.SendText(context.Background(), 0x55, 0, "doomed")
	if err != nil {
		t.Fatalf("send failing text: %v", err)
	}
	s.applyAck(AckEvent{
		RequestID:   packetIDOf(t, failID),
		From:        0x55,
		ErrorReason: meshtasticpb.Routing_NO_ROUTE.String(),
	})
	failRow := messages.state(t, failID)
	if failRow.DeliveryState != domain.DeliveryFailed || !failRow.RoutingErrorReceived {
		t.Fatalf("after NAK: state=%q routingError=%v", failRow.DeliveryState, failRow.RoutingErrorReceived)
	}
}

func packetIDOf(t *testing.T, msgID string) uint32 {
	t.Helper()
	var id uint64
	for _, c := range msgID {
		if c < '0' || c > '9' {
			t.Fatalf("message id %q is not a packet id", msgID)
		}
		id = id*10 + uint64(c-'0')
	}

	return uint32(id)
}

func TestSendQueueOneWantAckInFlightPerDestination(t *testing.T) {
	ft := newFakeTransport()
	s, _ := newTestSession(t, ft)
	s.store.SetLocalNodeNum(0x10)
	s.setState(StateReady)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.runWriter(ctx)

	firstID, err := s.SendText(context.Background(), 0x66, 0, "first")
	if err != nil {
		t.Fatalf("send first: %v", err)
	}
	if _, err := s.SendText(context.Background(), 0x66, 0, "second"); err != nil {
		t.Fatalf("send second: %v", err)
	}
	// A different destination is not gated by 0x66's slot.
	if _, err := s.SendText(context.Background(), 0x77, 0, "other"); err != nil {
		t.Fatalf("send other: %v", err)
	}

	got := map[uint32]string{}
	for range 2 {
		wire := ft.nextWritten(t)
		packet := wire.GetPacket()
		if packet == nil {
			t.Fatalf("expected mesh packet, got %v", wire)
		}
		got[packet.GetTo()] = string(packet.GetDecoded().GetPayload())
	}
	if got[0x66] != "first" || got[0x77] != "other" {
		t.Fatalf("initial writes = %v", got)
	}
	select {
	case <-ft.written:
		t.Fatalf("second frame to same destination written before ack")
	case <-time.After(100 * time.Millisecond):
	}

	s.applyAck(AckEvent{RequestID: packetIDOf(t, firstID), From: 0x66})

	wire := ft.nextWritten(t)
	packet := wire.GetPacket()
	if packet.GetTo() != 0x66 || string(packet.GetDecoded().GetPayload()) != "second" {
		t.Fatalf("promoted frame = to %#x payload %q", packet.GetTo(), packet.GetDecoded().GetPayload())
	}
}

func TestPasskeyFetchCoalesced(t *testing.T) {
	cache := newPasskeyCache()

	var fetches atomic.Int32
	fetch := func(_ context.Context) ([]byte, error) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond)

		return []byte{1, 2, 3, 4}, nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := cache.Get(context.Background(), 0x99, fetch)
			if err != nil || len(key) != 4 {
				t.Errorf("get passkey: key=%v err=%v", key, err)
			}
		}()
	}
	wg.Wait()

	if got := fetches.Load(); got != 1 {
		t.Fatalf("fetch ran %d times for concurrent callers, want 1", got)
	}

	// Cached entry serves later callers without another exchange.
	if _, err := cache.Get(context.Background(), 0x99, fetch); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("fetch ran %d times with warm cache, want 1", got)
	}

	cache.Invalidate(0x99)
	if _, err := cache.Get(context.Background(), 0x99, fetch); err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Fatalf("fetch ran %d times after invalidate, want 2", got)
	}
}

func TestRemoteAdminRetriesOnStaleSessionKey(t *testing.T) {
	ft := newFakeTransport()
	s, _ := newTestSession(t, ft)
	s.store.SetLocalNodeNum(0x10)
	s.setState(StateReady)
	s.passkeys.put(0x42, []byte("stale-key"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.runWriter(ctx)

	done := make(chan error, 1)
	go func() {
		done <- s.SetOwner(context.Background(), 0x42, "North Gate", "NG")
	}()

	// First attempt carries the stale cached key.
	first := ft.nextWritten(t).GetPacket()
	firstAdmin := adminPayload(t, first)
	if string(firstAdmin.GetSessionPasskey()) != "stale-key" {
		t.Fatalf("first attempt passkey = %q", firstAdmin.GetSessionPasskey())
	}
	feedNak(t, s, first.GetId(), 0x42, meshtasticpb.Routing_ADMIN_BAD_SESSION_KEY)

	// Rejection triggers a sessionkey exchange.
	keyReq := ft.nextWritten(t).GetPacket()
	keyAdmin := adminPayload(t, keyReq)
	if keyAdmin.GetGetConfigRequest() != meshtasticpb.AdminMessage_SESSIONKEY_CONFIG {
		t.Fatalf("expected sessionkey request, got %v", keyAdmin)
	}
	if len(keyAdmin.GetSessionPasskey()) != 0 {
		t.Fatalf("sessionkey request must not carry a passkey")
	}
	feedAdminReply(t, s, keyReq.GetId(), 0x42, &meshtasticpb.AdminMessage{
		SessionPasskey: []byte("fresh-key"),
	})

	// Retry goes out with the fresh key and a clean ack completes it.
	retry := ft.nextWritten(t).GetPacket()
	retryAdmin := adminPayload(t, retry)
	if retryAdmin.GetSetOwner().GetLongName() != "North Gate" {
		t.Fatalf("retry is not the original operation: %v", retryAdmin)
	}
	if string(retryAdmin.GetSessionPasskey()) != "fresh-key" {
		t.Fatalf("retry passkey = %q, want fresh-key", retryAdmin.GetSessionPasskey())
	}
	feedNak(t, s, retry.GetId(), 0x42, meshtasticpb.Routing_NONE)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SetOwner after retry: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("SetOwner did not complete")
	}
}

func adminPayload(t *testing.T, packet *meshtasticpb.MeshPacket) *meshtasticpb.AdminMessage {
	t.Helper()
	if packet.GetDecoded().GetPortnum() != meshtasticpb.PortNum_ADMIN_APP {
		t.Fatalf("packet is not admin: %v", packet)
	}
	var msg meshtasticpb.AdminMessage
	if err := proto.Unmarshal(packet.GetDecoded().GetPayload(), &msg); err != nil {
		t.Fatalf("unmarshal admin payload: %v", err)
	}

	return &msg
}

func feedNak(t *testing.T, s *Session, requestID, from uint32, reason meshtasticpb.Routing_Error) {
	t.Helper()
	routing, err := proto.Marshal(&meshtasticpb.Routing{
		Variant: &meshtasticpb.Routing_ErrorReason{ErrorReason: reason},
	})
	if err != nil {
		t.Fatalf("marshal routing: %v", err)
	}
	frame := &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_Packet{
		Packet: &meshtasticpb.MeshPacket{
			From: from,
			To:   0x10,
			PayloadVariant: &meshtasticpb.MeshPacket_Decoded{Decoded: &meshtasticpb.Data{
				Portnum:   meshtasticpb.PortNum_ROUTING_APP,
				Payload:   routing,
				RequestId: requestID,
			}},
		},
	}}
	payload, err := proto.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	decoded, err := s.codec.DecodeFromRadio(payload)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	s.handleFrame(decoded)
}

func TestPositionDecodeCarriesAccuracyFields(t *testing.T) {
	codec := newTestCodec(t)
	body, err := proto.Marshal(&meshtasticpb.Position{
		LatitudeI:   proto.Int32(525200000),
		LongitudeI:  proto.Int32(134050000),
		HDOP:        130,
		GpsAccuracy: 12,
	})
	if err != nil {
		t.Fatalf("marshal position: %v", err)
	}
	frame := &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_Packet{
		Packet: &meshtasticpb.MeshPacket{
			From: 0x42,
			Id:   77,
			PayloadVariant: &meshtasticpb.MeshPacket_Decoded{Decoded: &meshtasticpb.Data{
				Portnum: meshtasticpb.PortNum_POSITION_APP,
				Payload: body,
			}},
		},
	}}
	payload, err := proto.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}

	decoded, err := codec.DecodeFromRadio(payload)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if decoded.NodeUpdate == nil || decoded.NodeUpdate.Position == nil {
		t.Fatalf("position packet produced no node update: %+v", decoded)
	}
	pos := decoded.NodeUpdate.Position
	if pos.HDOP == nil || *pos.HDOP != 130 {
		t.Fatalf("HDOP = %v, want 130", pos.HDOP)
	}
	if pos.GPSAccuracy == nil || *pos.GPSAccuracy != 12 {
		t.Fatalf("GPSAccuracy = %v, want 12", pos.GPSAccuracy)
	}
	for _, sample := range decoded.Telemetry {
		if sample.Type == domain.TelemetryLatitude {
			if sample.GPSAccuracy == nil || *sample.GPSAccuracy != 12 {
				t.Fatalf("latitude sample accuracy = %v, want 12", sample.GPSAccuracy)
			}

			return
		}
	}
	t.Fatalf("no latitude sample among %+v", decoded.Telemetry)
}

func TestLocalStatsTelemetryIncludesTxDropped(t *testing.T) {
	codec := newTestCodec(t)
	body, err := proto.Marshal(&meshtasticpb.Telemetry{
		Variant: &meshtasticpb.Telemetry_LocalStats{LocalStats: &meshtasticpb.LocalStats{
			NumPacketsTx: 40,
			NumTxDropped: 4,
		}},
	})
	if err != nil {
		t.Fatalf("marshal telemetry: %v", err)
	}
	frame := &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_Packet{
		Packet: &meshtasticpb.MeshPacket{
			From: 0x42,
			PayloadVariant: &meshtasticpb.MeshPacket_Decoded{Decoded: &meshtasticpb.Data{
				Portnum: meshtasticpb.PortNum_TELEMETRY_APP,
				Payload: body,
			}},
		},
	}}
	payload, err := proto.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}

	decoded, err := codec.DecodeFromRadio(payload)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	for _, sample := range decoded.Telemetry {
		if sample.Type == domain.TelemetryNumTxDropped {
			if sample.Value != 4 {
				t.Fatalf("numTxDropped = %v, want 4", sample.Value)
			}

			return
		}
	}
	t.Fatalf("no numTxDropped sample among %+v", decoded.Telemetry)
}

type memTelemetry struct {
	mu      sync.Mutex
	samples []domain.TelemetrySample
}

func (m *memTelemetry) Insert(_ context.Context, s domain.TelemetrySample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)

	return nil
}

func (m *memTelemetry) ListByNode(context.Context, string, string, time.Time) ([]domain.TelemetrySample, error) {
	return nil, nil
}

func (m *memTelemetry) byType(telemetryType string) (domain.TelemetrySample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.samples {
		if s.Type == telemetryType {
			return s, true
		}
	}

	return domain.TelemetrySample{}, false
}

func TestNeighborReportEstimatesReporterPosition(t *testing.T) {
	store := domain.NewMeshStore(nil, nil, nil, nil)
	telemetry := &memTelemetry{}
	s := NewSession(Deps{
		Logger:    slog.Default(),
		Transport: newFakeTransport(),
		Codec:     newTestCodec(t),
		Store:     store,
		Telemetry: telemetry,
		Writer:    syncWriter{},
	})

	store.Ensure(0x21, func(n *domain.Node) {
		n.Position = &domain.Position{Latitude: 50, Longitude: 10}
	})
	store.Ensure(0x22, func(n *domain.Node) {
		n.Position = &domain.Position{Latitude: 52, Longitude: 14}
	})

	// Equal link quality puts the reporter at the plain midpoint.
	s.handleFrame(DecodedFrame{Neighbors: []domain.NeighborRecord{
		{NodeNum: 0x30, NeighborNodeNum: 0x21, SNR: 5},
		{NodeNum: 0x30, NeighborNodeNum: 0x22, SNR: 5},
	}})

	lat, ok := telemetry.byType(domain.TelemetryEstimatedLatitude)
	if !ok {
		t.Fatalf("no estimated latitude sample")
	}
	if lat.NodeID != domain.NodeID(0x30) {
		t.Fatalf("estimate node = %q, want %q", lat.NodeID, domain.NodeID(0x30))
	}
	if diff := lat.Value - 51; diff < -1e-6 || diff > 1e-6 {
		t.Fatalf("estimated latitude = %v, want 51", lat.Value)
	}
	lon, ok := telemetry.byType(domain.TelemetryEstimatedLongitude)
	if !ok {
		t.Fatalf("no estimated longitude sample")
	}
	if diff := lon.Value - 12; diff < -1e-6 || diff > 1e-6 {
		t.Fatalf("estimated longitude = %v, want 12", lon.Value)
	}
}

func TestNeighborReportSkipsEstimateForPositionedReporter(t *testing.T) {
	store := domain.NewMeshStore(nil, nil, nil, nil)
	telemetry := &memTelemetry{}
	s := NewSession(Deps{
		Logger:    slog.Default(),
		Transport: newFakeTransport(),
		Codec:     newTestCodec(t),
		Store:     store,
		Telemetry: telemetry,
		Writer:    syncWriter{},
	})

	store.Ensure(0x21, func(n *domain.Node) {
		n.Position = &domain.Position{Latitude: 50, Longitude: 10}
	})
	store.Ensure(0x30, func(n *domain.Node) {
		n.Position = &domain.Position{Latitude: 48, Longitude: 8}
	})

	s.handleFrame(DecodedFrame{Neighbors: []domain.NeighborRecord{
		{NodeNum: 0x30, NeighborNodeNum: 0x21, SNR: 5},
	}})

	if _, ok := telemetry.byType(domain.TelemetryEstimatedLatitude); ok {
		t.Fatalf("reporter with a real position got an estimate")
	}
}

func TestAdminDeniedDetectedThroughWrapping(t *testing.T) {
	if !isAdminDenied(fmt.Errorf("set owner on !00000042: %w", ErrAdminDenied)) {
		t.Fatalf("wrapped admin denial not detected")
	}
	if isAdminDenied(ErrTimeout) {
		t.Fatalf("timeout misread as admin denial")
	}
}

func feedAdminReply(t *testing.T, s *Session, requestID, from uint32, msg *meshtasticpb.AdminMessage) {
	t.Helper()
	body, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal admin reply: %v", err)
	}
	frame := &meshtasticpb.FromRadio{PayloadVariant: &meshtasticpb.FromRadio_Packet{
		Packet: &meshtasticpb.MeshPacket{
			From: from,
			To:   0x10,
			PayloadVariant: &meshtasticpb.MeshPacket_Decoded{Decoded: &meshtasticpb.Data{
				Portnum:   meshtasticpb.PortNum_ADMIN_APP,
				Payload:   body,
				RequestId: requestID,
			}},
		},
	}}
	payload, err := proto.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	decoded, err := s.codec.DecodeFromRadio(payload)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	s.handleFrame(decoded)
}
