package domain

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"meshgate/internal/bus"
)

// mobilityThresholdMeters latches a node as mobile once two accepted
// positions disagree by more than this distance.
const mobilityThresholdMeters = 200

// NodeObservation is a sparse, packet- or capture-derived node update.
// Zero-valued fields leave the stored node untouched.
type NodeObservation struct {
	NodeNum         uint32
	LongName        string
	ShortName       string
	HwModel         string
	Role            string
	FirmwareVersion string
	LastHeard       time.Time
	HopsAway        *uint32
	SNR             *float64
	PublicKey       []byte
	RebootCount     *uint32
	Channel         *uint32
	ViaMQTT         bool
	IsLocal         bool
	// Favorite/Ignored are only set from device-announced node infos.
	IsFavorite *bool
	IsIgnored  *bool
	Position   *Position
}

// MeshStore is the authoritative in-memory mesh model with a durable
// mirror. It is safe for concurrent callers; writes to the mirror are
// funneled through the async writer.
type MeshStore struct {
	mu           sync.RWMutex
	nodes        map[uint32]Node
	channels     map[int]Channel
	localNodeNum uint32
	metadata     *DeviceMetadata

	nodeRepo NodeRepository
	chanRepo ChannelRepository
	writer   AsyncWriter
	bus      bus.MessageBus
}

func NewMeshStore(nodeRepo NodeRepository, chanRepo ChannelRepository, writer AsyncWriter, b bus.MessageBus) *MeshStore {
	return &MeshStore{
		nodes:    make(map[uint32]Node),
		channels: make(map[int]Channel),
		nodeRepo: nodeRepo,
		chanRepo: chanRepo,
		writer:   writer,
		bus:      b,
	}
}

// Load hydrates the in-memory model from the durable mirror.
func (s *MeshStore) Load(ctx context.Context) error {
	nodes, err := s.nodeRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	channels, err := s.chanRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		s.nodes[n.NodeNum] = n
		if n.IsLocal {
			s.localNodeNum = n.NodeNum
		}
	}
	for _, c := range channels {
		s.channels[c.Index] = c
	}

	return nil
}

func (s *MeshStore) SetLocalNodeNum(num uint32) {
	s.mu.Lock()
	s.localNodeNum = num
	s.mu.Unlock()
}

func (s *MeshStore) LocalNodeNum() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.localNodeNum
}

func (s *MeshStore) SetDeviceMetadata(md DeviceMetadata) {
	s.mu.Lock()
	s.metadata = &md
	s.mu.Unlock()
}

func (s *MeshStore) DeviceMetadata() (DeviceMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.metadata == nil {
		return DeviceMetadata{}, false
	}

	return *s.metadata, true
}

// ApplyObservation merges a sparse observation into the node record,
// creating it on first sight. Positions pass the precision arbitration;
// the returned flag reports whether the position was accepted.
func (s *MeshStore) ApplyObservation(obs NodeObservation, now time.Time) (Node, bool) {
	s.mu.Lock()

	node, exists := s.nodes[obs.NodeNum]
	if !exists {
		node = Node{NodeNum: obs.NodeNum}
	}

	if obs.LongName != "" {
		node.LongName = obs.LongName
	}
	if obs.ShortName != "" {
		node.ShortName = obs.ShortName
	}
	if obs.HwModel != "" {
		node.HwModel = obs.HwModel
	}
	if obs.Role != "" {
		node.Role = obs.Role
	}
	if obs.FirmwareVersion != "" {
		node.FirmwareVersion = obs.FirmwareVersion
	}
	if obs.HopsAway != nil {
		node.HopsAway = obs.HopsAway
	}
	if obs.SNR != nil {
		node.SNR = obs.SNR
	}
	if len(obs.PublicKey) > 0 {
		node.PublicKey = append([]byte(nil), obs.PublicKey...)
	}
	if obs.RebootCount != nil {
		node.RebootCount = obs.RebootCount
	}
	if obs.Channel != nil {
		node.ChannelLastHeard = obs.Channel
	}
	if obs.IsFavorite != nil {
		node.IsFavorite = *obs.IsFavorite
	}
	if obs.IsIgnored != nil {
		node.IsIgnored = *obs.IsIgnored
	}
	if obs.ViaMQTT {
		node.ViaMQTT = true
	}
	if obs.IsLocal {
		node.IsLocal = true
		s.localNodeNum = node.NodeNum
	}
	if obs.LastHeard.After(node.LastHeard) {
		node.LastHeard = obs.LastHeard
	}

	positionAccepted := false
	if obs.Position != nil && AcceptPosition(node.Position, *obs.Position, now) {
		if node.Position != nil {
			moved := HaversineMeters(node.Position.Latitude, node.Position.Longitude,
				obs.Position.Latitude, obs.Position.Longitude)
			if moved > mobilityThresholdMeters {
				node.IsMobile = true
			}
		}
		pos := *obs.Position
		node.Position = &pos
		positionAccepted = true
	}

	node.UpdatedAt = now
	s.nodes[node.NodeNum] = node
	s.mu.Unlock()

	s.persistNode(node)
	s.publishNode(node)

	return node, positionAccepted
}

// Mutate applies fn to the node under the store lock and persists the
// result. It reports false when the node does not exist.
func (s *MeshStore) Mutate(nodeNum uint32, fn func(*Node)) (Node, bool) {
	s.mu.Lock()
	node, ok := s.nodes[nodeNum]
	if !ok {
		s.mu.Unlock()

		return Node{}, false
	}
	fn(&node)
	node.UpdatedAt = time.Now()
	s.nodes[nodeNum] = node
	s.mu.Unlock()

	s.persistNode(node)
	s.publishNode(node)

	return node, true
}

// Ensure creates the node if missing, then applies fn like Mutate.
func (s *MeshStore) Ensure(nodeNum uint32, fn func(*Node)) Node {
	s.mu.Lock()
	node, ok := s.nodes[nodeNum]
	if !ok {
		node = Node{NodeNum: nodeNum}
	}
	if fn != nil {
		fn(&node)
	}
	node.UpdatedAt = time.Now()
	s.nodes[nodeNum] = node
	s.mu.Unlock()

	s.persistNode(node)
	s.publishNode(node)

	return node
}

func (s *MeshStore) Node(nodeNum uint32) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeNum]

	return n, ok
}

// Nodes returns a snapshot sorted by node number.
func (s *MeshStore) Nodes() []Node {
	s.mu.RLock()
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].NodeNum < out[j].NodeNum })

	return out
}

func (s *MeshStore) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.nodes)
}

// Purge removes the node from the model and the mirror.
func (s *MeshStore) Purge(nodeNum uint32) {
	s.mu.Lock()
	delete(s.nodes, nodeNum)
	s.mu.Unlock()

	if s.writer != nil {
		s.writer.Enqueue("node.delete", func(ctx context.Context) error {
			return s.nodeRepo.Delete(ctx, nodeNum)
		})
	}
}

// ApplyChannel records an announced channel. Index 0 is synthesized as an
// unnamed primary channel the moment any other index is observed, so the
// channel table never lacks its primary slot.
func (s *MeshStore) ApplyChannel(c Channel) error {
	if c.Index < 0 || c.Index > 7 {
		return fmt.Errorf("channel index out of range: %d", c.Index)
	}

	s.mu.Lock()
	if _, ok := s.channels[0]; !ok && c.Index != 0 {
		s.channels[0] = Channel{Index: 0, Role: ChannelRolePrimary}
	}
	s.channels[c.Index] = c
	primary := s.channels[0]
	s.mu.Unlock()

	if s.writer != nil {
		s.writer.Enqueue("channel.upsert", func(ctx context.Context) error {
			if err := s.chanRepo.Upsert(ctx, primary); err != nil {
				return err
			}

			return s.chanRepo.Upsert(ctx, c)
		})
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicChannelUpdate, c)
	}

	return nil
}

func (s *MeshStore) Channel(index int) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[index]

	return c, ok
}

// Channels returns a snapshot sorted by index.
func (s *MeshStore) Channels() []Channel {
	s.mu.RLock()
	out := make([]Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	return out
}

// RunKeySecurityScan recomputes key security flags for every node. Stale
// flags are cleared before re-marking, so repeated scans converge.
func (s *MeshStore) RunKeySecurityScan() []KeySecurityVerdict {
	verdicts := ScanKeySecurity(s.Nodes())

	changed := make([]Node, 0)
	s.mu.Lock()
	for _, v := range verdicts {
		node, ok := s.nodes[v.NodeNum]
		if !ok {
			continue
		}
		if node.KeyIsLowEntropy == v.KeyIsLowEntropy &&
			node.DuplicateKeyDetected == v.DuplicateKeyDetected &&
			node.KeySecurityIssueDetails == v.IssueDetails {
			continue
		}
		node.KeyIsLowEntropy = v.KeyIsLowEntropy
		node.DuplicateKeyDetected = v.DuplicateKeyDetected
		node.KeySecurityIssueDetails = v.IssueDetails
		s.nodes[v.NodeNum] = node
		changed = append(changed, node)
	}
	s.mu.Unlock()

	for _, node := range changed {
		s.persistNode(node)
		s.publishNode(node)
	}

	return verdicts
}

func (s *MeshStore) persistNode(node Node) {
	if s.writer == nil {
		return
	}
	s.writer.Enqueue("node.upsert", func(ctx context.Context) error {
		return s.nodeRepo.Upsert(ctx, node)
	})
}

func (s *MeshStore) publishNode(node Node) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.TopicNodeUpdate, node)
}
