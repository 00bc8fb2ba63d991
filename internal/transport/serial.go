package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

const defaultSerialReadTimeout = 300 * time.Millisecond

// SerialTransport speaks the same framed protocol over a local serial port.
type SerialTransport struct {
	portName string
	baudRate int

	mu      sync.Mutex
	port    serial.Port
	reader  *FrameReader
	writeMu sync.Mutex
}

func NewSerialTransport(portName string, baudRate int) *SerialTransport {
	return &SerialTransport{
		portName: portName,
		baudRate: baudRate,
	}
}

func (t *SerialTransport) Name() string {
	return "serial"
}

func (t *SerialTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.portName
}

func (t *SerialTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.port != nil
}

func (t *SerialTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.portName == "" {
		return errors.New("serial port is empty")
	}
	if t.baudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate: %d", t.baudRate)
	}

	port, err := serial.Open(t.portName, &serial.Mode{BaudRate: t.baudRate})
	if err != nil {
		return fmt.Errorf("open serial port %q: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()

		return fmt.Errorf("set serial read timeout: %w", err)
	}
	t.port = port
	t.reader = nil

	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.reader = nil

	return err
}

func (t *SerialTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	port := t.port
	if port == nil {
		t.mu.Unlock()

		return nil, errors.New("transport is not connected")
	}
	if t.reader == nil {
		t.reader = newFrameReaderFunc(nil)
	}
	reader := t.reader
	t.mu.Unlock()

	// The frame reader keeps no partial state between frames, so the read
	// function can be rebound to the caller's context on every frame.
	reader.readFull = func(buf []byte) error {
		return readFull(ctx, port, buf)
	}

	payload, err := reader.Next()
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(payload))
	copy(out, payload)

	return out, nil
}

func (t *SerialTransport) WriteFrame(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return errors.New("transport is not connected")
	}

	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := writeFull(ctx, port, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

// readFull loops over the port's short timed reads so cancellation is
// observed between chunks.
func readFull(ctx context.Context, r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf[read:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		read += n
	}

	return nil
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		written += n
	}

	return nil
}
