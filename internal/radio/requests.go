package radio

import (
	"context"
	"sync"
	"time"
)

// RequestKind selects the per-kind reply timeout.
type RequestKind int

const (
	KindConfig RequestKind = iota
	KindModuleConfig
	KindChannel
	KindAdmin
	KindPasskey
	KindTraceroute
	KindNodeInfo
	KindPosition
	KindMetadata
	KindAck
)

func (k RequestKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindModuleConfig:
		return "module-config"
	case KindChannel:
		return "channel"
	case KindAdmin:
		return "admin"
	case KindPasskey:
		return "passkey"
	case KindTraceroute:
		return "traceroute"
	case KindNodeInfo:
		return "nodeinfo"
	case KindPosition:
		return "position"
	case KindMetadata:
		return "metadata"
	case KindAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Timeout is the reply deadline for this request kind.
func (k RequestKind) Timeout() time.Duration {
	switch k {
	case KindPasskey:
		return 45 * time.Second
	case KindTraceroute:
		return 120 * time.Second
	case KindAck:
		return 60 * time.Second
	default:
		return 15 * time.Second
	}
}

type requestOutcome struct {
	value any
	err   error
}

// Pending is one outstanding request awaiting its reply.
type Pending struct {
	ID     uint32
	Kind   RequestKind
	ToNode uint32

	createdAt time.Time
	done      chan requestOutcome
	// onDone hooks run after the outcome is delivered, whatever it was.
	// The send queue uses them to free per-destination in-flight slots.
	onDone []func()
}

func (p *Pending) finish(out requestOutcome) {
	p.done <- out
	for _, fn := range p.onDone {
		fn()
	}
}

// Await blocks until the reply lands, the deadline passes, or ctx ends.
func (p *Pending) Await(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case outcome := <-p.done:
		return outcome.value, outcome.err
	}
}

// requestTable correlates outbound request ids with awaiters. It is the
// one structure every inbound and outbound path touches, so all access is
// mutex-guarded.
type requestTable struct {
	mu      sync.Mutex
	pending map[uint32]*Pending
}

func newRequestTable() *requestTable {
	return &requestTable{pending: make(map[uint32]*Pending)}
}

// Register tracks id until a matching reply, a timeout, or FailAll. The
// timeout timer resolves the awaiter with ErrTimeout; a late reply is then
// dropped by the table but still applied to state by the reader.
func (t *requestTable) Register(id uint32, kind RequestKind, toNode uint32) *Pending {
	p := &Pending{
		ID:        id,
		Kind:      kind,
		ToNode:    toNode,
		createdAt: time.Now(),
		done:      make(chan requestOutcome, 1),
	}

	t.mu.Lock()
	t.pending[id] = p
	t.mu.Unlock()

	time.AfterFunc(kind.Timeout(), func() {
		t.fail(id, ErrTimeout)
	})

	return p
}

// OnDone attaches fn to the awaiter registered under id. Returns false
// when no such awaiter exists, including one already resolved.
func (t *requestTable) OnDone(id uint32, fn func()) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		p.onDone = append(p.onDone, fn)
	}
	t.mu.Unlock()

	return ok
}

// Resolve delivers value to the awaiter registered under id. Each awaiter
// observes at most one resolution.
func (t *requestTable) Resolve(id uint32, value any) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	p.finish(requestOutcome{value: value})

	return true
}

// ResolveWhere delivers value only when the awaiter's kind passes match.
// Plain transport acks must not consume awaiters that are still waiting
// for a payload reply under the same id.
func (t *requestTable) ResolveWhere(id uint32, match func(RequestKind) bool, value any) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok && !match(p.Kind) {
		ok = false
	}
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	p.finish(requestOutcome{value: value})

	return true
}

// ResolveByKind matches a reply that carries no request id to the newest
// outstanding request of the same kind addressed to fromNode.
func (t *requestTable) ResolveByKind(kind RequestKind, fromNode uint32, value any) bool {
	t.mu.Lock()
	var newest *Pending
	for _, p := range t.pending {
		if p.Kind != kind || p.ToNode != fromNode {
			continue
		}
		if newest == nil || p.createdAt.After(newest.createdAt) {
			newest = p
		}
	}
	if newest != nil {
		delete(t.pending, newest.ID)
	}
	t.mu.Unlock()
	if newest == nil {
		return false
	}
	newest.finish(requestOutcome{value: value})

	return true
}

func (t *requestTable) fail(id uint32, err error) {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if ok {
		p.finish(requestOutcome{err: err})
	}
}

// Fail resolves id with err, releasing its awaiter.
func (t *requestTable) Fail(id uint32, err error) {
	t.fail(id, err)
}

// FailAll releases every awaiter, used on disconnect.
func (t *requestTable) FailAll(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[uint32]*Pending)
	t.mu.Unlock()

	for _, p := range pending {
		p.finish(requestOutcome{err: err})
	}
}

func (t *requestTable) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pending)
}
