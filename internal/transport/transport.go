package transport

import "context"

// Transport carries framed payloads to and from the physical gateway.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
}

// StatusTargetResolver exposes a human-readable dial target for status events.
type StatusTargetResolver interface {
	StatusTarget() string
}
