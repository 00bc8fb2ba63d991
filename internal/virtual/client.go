package virtual

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"

	"meshgate/internal/transport"
)

// clientQueueLen bounds the per-client outbound queue; a reader that
// falls this far behind is disconnected rather than back-pressuring the
// mesh.
const clientQueueLen = 256

type client struct {
	server *Server
	conn   net.Conn
	logger *slog.Logger

	out       chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	// lastWantConfigID echoes into refresh replays so a client's cache
	// invalidation matches its own request correlation.
	lastWantConfigID atomic.Uint32
}

func newClient(s *Server, conn net.Conn) *client {
	return &client{
		server: s,
		conn:   conn,
		logger: s.logger.With("remote", conn.RemoteAddr().String()),
		out:    make(chan []byte, clientQueueLen),
		closed: make(chan struct{}),
	}
}

func (c *client) remote() string {
	return c.conn.RemoteAddr().String()
}

func (c *client) run(ctx context.Context) {
	go c.writeLoop(ctx)
	go c.readLoop()
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
		c.server.deenrol(c)
	})
}

// send queues a from-radio payload; queue overflow disconnects the
// client.
func (c *client) send(payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	select {
	case c.out <- buf:
	case <-c.closed:
	default:
		c.logger.Warn("client queue overflow, disconnecting")
		c.close()
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.close()

			return
		case <-c.closed:
			return
		case payload := <-c.out:
			frame, err := transport.EncodeFrame(payload)
			if err != nil {
				c.logger.Warn("drop oversized record", "error", err)

				continue
			}
			if _, err := c.conn.Write(frame); err != nil {
				c.logger.Debug("client write failed", "error", err)
				c.close()

				return
			}
		}
	}
}

func (c *client) readLoop() {
	defer c.close()

	reader := transport.NewFrameReader(c.conn)
	for {
		payload, err := reader.Next()
		if err != nil {
			c.logger.Debug("client read ended", "error", err)

			return
		}
		c.handleToRadio(payload)
	}
}

func (c *client) handleToRadio(payload []byte) {
	wire, err := c.server.codec.DecodeToRadio(payload)
	if err != nil {
		c.logger.Warn("client sent undecodable record", "error", err)

		return
	}

	if id := wire.GetWantConfigId(); id != 0 {
		c.lastWantConfigID.Store(id)
		c.replay(id)

		return
	}
	if wire.GetPacket() == nil {
		// Heartbeats and other non-packet records end here.
		return
	}

	if isAdmin, packetID := c.server.gateway.RawRecordIsAdmin(payload); isAdmin && !c.server.allowAdmin {
		c.rejectAdmin(packetID)

		return
	}

	if _, err := c.server.gateway.SubmitRaw(payload); err != nil {
		c.logger.Warn("funnel to radio failed", "error", err)
	}
}

// rejectAdmin answers a forbidden admin record with a synthetic routing
// error addressed to this client only.
func (c *client) rejectAdmin(packetID uint32) {
	c.logger.Info("admin record rejected", "packet_id", packetID)

	record, err := c.server.codec.EncodeRoutingErrorRecord(
		c.server.store.LocalNodeNum(), packetID, meshtasticpb.Routing_NOT_AUTHORIZED)
	if err != nil {
		c.logger.Warn("encode admin rejection failed", "error", err)

		return
	}
	c.send(record)
}

func (c *client) refresh() {
	if id := c.lastWantConfigID.Load(); id != 0 {
		c.replay(id)
	}
}
