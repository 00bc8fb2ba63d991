package domain

import (
	"context"
	"time"
)

// Pagination clamps applied by message queries.
const (
	MessageLimitMin  = 1
	MessageLimitMax  = 500
	MessageOffsetMax = 50000
)

// MessagePage is one page of a message query; HasMore signals that the
// next offset would yield at least one more row.
type MessagePage struct {
	Messages []Message
	HasMore  bool
}

type NodeRepository interface {
	Upsert(ctx context.Context, n Node) error
	List(ctx context.Context) ([]Node, error)
	Delete(ctx context.Context, nodeNum uint32) error
}

type ChannelRepository interface {
	Upsert(ctx context.Context, c Channel) error
	List(ctx context.Context) ([]Channel, error)
}

type MessageRepository interface {
	// Insert is idempotent on the message id; it reports whether a row was
	// actually written.
	Insert(ctx context.Context, m Message) (bool, error)
	ByID(ctx context.Context, id string) (*Message, error)
	ByRequestID(ctx context.Context, requestID uint32) (*Message, error)
	ByChannel(ctx context.Context, channel int, limit, offset int) (MessagePage, error)
	// Direct returns TEXT_MESSAGE_APP messages with the DM sentinel channel
	// exchanged between the two nodes, either direction.
	Direct(ctx context.Context, a, b uint32, limit, offset int) (MessagePage, error)
	SetDeliveryState(ctx context.Context, id string, state DeliveryState, ackFrom *uint32) error
	MarkAckFailed(ctx context.Context, id string) error
	MarkRoutingError(ctx context.Context, id string) error
}

type TelemetryRepository interface {
	Insert(ctx context.Context, s TelemetrySample) error
	ListByNode(ctx context.Context, nodeID, telemetryType string, since time.Time) ([]TelemetrySample, error)
}

type TracerouteRepository interface {
	Insert(ctx context.Context, t Traceroute) (int64, error)
	ListByNode(ctx context.Context, nodeNum uint32, limit int) ([]Traceroute, error)
}

type RouteSegmentRepository interface {
	Upsert(ctx context.Context, s RouteSegment) error
	List(ctx context.Context) ([]RouteSegment, error)
}

type NeighborRepository interface {
	// Upsert keeps only the latest record per unordered node pair.
	Upsert(ctx context.Context, n NeighborRecord) error
	List(ctx context.Context) ([]NeighborRecord, error)
}

// IgnoredNodeRepository holds the gateway's own ignore list, kept apart
// from the device-announced flag so it survives a node purge.
type IgnoredNodeRepository interface {
	Add(ctx context.Context, nodeNum uint32, at time.Time) error
	Remove(ctx context.Context, nodeNum uint32) error
	List(ctx context.Context) ([]uint32, error)
}

type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type AuditRepository interface {
	Append(ctx context.Context, e AuditEntry) error
	ListRecent(ctx context.Context, task string, limit int) ([]AuditEntry, error)
}

// AsyncWriter decouples in-memory mutation from the durable mirror; the
// persistence writer queue satisfies it.
type AsyncWriter interface {
	Enqueue(name string, fn func(context.Context) error)
}
