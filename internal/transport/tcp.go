package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const defaultTCPPort = 4403

// TCPTransport sends and receives framed traffic over a TCP socket.
type TCPTransport struct {
	host string
	port int

	mu      sync.Mutex
	conn    net.Conn
	reader  *FrameReader
	writeMu sync.Mutex
}

// NewTCPTransport accepts "host" or "host:port"; a bare host dials the
// default gateway port 4403.
func NewTCPTransport(target string, port int) *TCPTransport {
	host := target
	if h, p, err := net.SplitHostPort(target); err == nil {
		if parsed, perr := strconv.Atoi(p); perr == nil && parsed > 0 {
			host = h
			port = parsed
		}
	}
	if port == 0 {
		port = defaultTCPPort
	}

	return &TCPTransport{host: host, port: port}
}

func (t *TCPTransport) Name() string {
	return "tcp"
}

func (t *TCPTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.host == "" {
		return ""
	}

	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

func (t *TCPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	target := ""
	if t.host != "" {
		target = net.JoinHostPort(t.host, strconv.Itoa(t.port))
	}
	logger := linkLogger("tcp", "target", target)

	if t.conn != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}
	if t.host == "" {
		logger.Warn("connect failed: host is empty")

		return errors.New("tcp host is empty")
	}

	dialer := net.Dialer{Timeout: 6 * time.Second}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		logger.Warn("connect failed", "error", err)

		return fmt.Errorf("dial tcp: %w", err)
	}
	t.conn = conn
	t.reader = NewFrameReader(conn)
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := linkLogger("tcp")
	if t.conn == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.reader = nil
	if err != nil {
		logger.Warn("close failed", "error", err)

		return err
	}
	logger.Info("closed")

	return nil
}

func (t *TCPTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	logger := linkLogger("tcp")
	conn, reader, err := t.current()
	if err != nil {
		logger.Debug("read frame failed: not connected", "error", err)

		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	payload, err := reader.Next()
	if err != nil {
		logger.Debug("read frame failed", "error", err)

		return nil, err
	}
	logger.Debug("read frame", "len", len(payload))

	// The reader reuses its buffer; hand callers their own copy.
	out := make([]byte, len(payload))
	copy(out, payload)

	return out, nil
}

func (t *TCPTransport) WriteFrame(ctx context.Context, payload []byte) error {
	logger := linkLogger("tcp")
	conn, _, err := t.current()
	if err != nil {
		logger.Debug("write frame failed: not connected", "error", err)

		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	frame, err := encodeFrame(payload)
	if err != nil {
		logger.Warn("encode frame failed", "payload_len", len(payload), "error", err)

		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := conn.Write(frame); err != nil {
		logger.Warn("write frame failed", "payload_len", len(payload), "error", err)

		return fmt.Errorf("write frame: %w", err)
	}
	logger.Debug("write frame", "payload_len", len(payload), "frame_len", len(frame))

	return nil
}

func (t *TCPTransport) current() (net.Conn, *FrameReader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, nil, errors.New("transport is not connected")
	}

	return t.conn, t.reader, nil
}
