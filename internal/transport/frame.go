package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
)

var frameHeader = [2]byte{0x94, 0xC3}

// MaxPayloadLen is the largest payload the gateway protocol carries in one
// frame. Anything above it while scanning means we are looking at noise.
const MaxPayloadLen = 512

type readFullFunc func(buf []byte) error

// EncodeFrame wraps payload in the 0x94C3 header with a big-endian
// length. The virtual device listener serves clients with the same
// framing the physical gateway speaks.
func EncodeFrame(payload []byte) ([]byte, error) {
	return encodeFrame(payload)
}

func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("payload too large: %d", len(payload))
	}

	frame := make([]byte, 4+len(payload))
	frame[0] = frameHeader[0]
	frame[1] = frameHeader[1]
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[4:], payload)

	return frame, nil
}

// FrameReader buffers a byte stream and yields complete frame payloads,
// resynchronising past noise bytes and implausible lengths. The payload
// buffer is reused across reads; callers must copy if they retain it.
type FrameReader struct {
	readFull readFullFunc
	payload  []byte
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{readFull: ioReadFullFunc(r), payload: make([]byte, MaxPayloadLen)}
}

func newFrameReaderFunc(readFull readFullFunc) *FrameReader {
	return &FrameReader{readFull: readFull, payload: make([]byte, MaxPayloadLen)}
}

// Next blocks until a complete, plausible frame arrives and returns its
// payload. Desync is never fatal: noise is dropped and scanning continues.
func (fr *FrameReader) Next() ([]byte, error) {
	for {
		if err := fr.resyncToHeader(); err != nil {
			return nil, err
		}

		var lenBuf [2]byte
		if err := fr.readFull(lenBuf[:]); err != nil {
			return nil, fmt.Errorf("read frame length: %w", err)
		}
		ln := int(binary.BigEndian.Uint16(lenBuf[:]))
		if ln == 0 || ln > MaxPayloadLen {
			// Start byte was noise that happened to look like a header.
			slog.Debug("frame length implausible, resyncing", "len", ln)

			continue
		}

		buf := fr.payload[:ln]
		if err := fr.readFull(buf); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}

		return buf, nil
	}
}

func (fr *FrameReader) resyncToHeader() error {
	var buf [1]byte
	dropped := 0
	sawStart := false
	for {
		if err := fr.readFull(buf[:]); err != nil {
			return fmt.Errorf("read frame header: %w", err)
		}
		switch {
		case sawStart && buf[0] == frameHeader[1]:
			if dropped > 0 {
				slog.Debug("dropped noise before frame header", "bytes", dropped)
			}

			return nil
		case buf[0] == frameHeader[0]:
			// A repeated start byte keeps the candidate alive.
			if sawStart {
				dropped++
			}
			sawStart = true
		default:
			if sawStart {
				dropped++
			}
			dropped++
			sawStart = false
		}
	}
}

func ioReadFullFunc(r io.Reader) readFullFunc {
	return func(buf []byte) error {
		_, err := io.ReadFull(r, buf)

		return err
	}
}
