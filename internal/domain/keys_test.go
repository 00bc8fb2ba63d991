package domain

import (
	"strings"
	"testing"
)

func nodeWithKey(num uint32, key string) Node {
	return Node{NodeNum: num, PublicKey: []byte(key)}
}

func TestScanKeySecurityMarksDuplicates(t *testing.T) {
	nodes := []Node{
		nodeWithKey(0xA, "shared-key-material-0123456789ab"),
		nodeWithKey(0xB, "shared-key-material-0123456789ab"),
		nodeWithKey(0xC, "shared-key-material-0123456789ab"),
		nodeWithKey(0xD, "unique-key-material-0123456789ab"),
	}

	verdicts := ScanKeySecurity(nodes)
	byNode := make(map[uint32]KeySecurityVerdict)
	for _, v := range verdicts {
		byNode[v.NodeNum] = v
	}

	for _, num := range []uint32{0xA, 0xB, 0xC} {
		v := byNode[num]
		if !v.DuplicateKeyDetected {
			t.Fatalf("node %#x: duplicate not detected", num)
		}
		for _, other := range []uint32{0xA, 0xB, 0xC} {
			if other == num {
				continue
			}
			if !strings.Contains(v.IssueDetails, NodeID(other)) {
				t.Fatalf("node %#x details missing co-offender %s: %q", num, NodeID(other), v.IssueDetails)
			}
		}
		if strings.Contains(v.IssueDetails, NodeID(num)) {
			t.Fatalf("node %#x details list the node itself: %q", num, v.IssueDetails)
		}
	}
	if byNode[0xD].DuplicateKeyDetected {
		t.Fatalf("unique key flagged as duplicate")
	}
}

func TestStoreKeySecurityScanIsIdempotent(t *testing.T) {
	store := NewMeshStore(nil, nil, nil, nil)
	for _, num := range []uint32{1, 2, 3} {
		store.Ensure(num, func(n *Node) {
			n.PublicKey = []byte("shared-key-material-0123456789ab")
		})
	}

	store.RunKeySecurityScan()
	first := store.Nodes()

	store.RunKeySecurityScan()
	second := store.Nodes()

	for i := range first {
		if first[i].DuplicateKeyDetected != second[i].DuplicateKeyDetected ||
			first[i].KeySecurityIssueDetails != second[i].KeySecurityIssueDetails {
			t.Fatalf("second scan changed node %#x", first[i].NodeNum)
		}
		if !first[i].DuplicateKeyDetected {
			t.Fatalf("node %#x not flagged", first[i].NodeNum)
		}
	}
}

func TestScanClearsStaleFlags(t *testing.T) {
	store := NewMeshStore(nil, nil, nil, nil)
	store.Ensure(1, func(n *Node) { n.PublicKey = []byte("dup-key-material-0123456789abcde") })
	store.Ensure(2, func(n *Node) { n.PublicKey = []byte("dup-key-material-0123456789abcde") })
	store.RunKeySecurityScan()

	// Node 2 rotates to a unique key; the rescan must clear both sides.
	store.Mutate(2, func(n *Node) { n.PublicKey = []byte("fresh-key-material-0123456789abc") })
	store.RunKeySecurityScan()

	for _, num := range []uint32{1, 2} {
		n, _ := store.Node(num)
		if n.DuplicateKeyDetected {
			t.Fatalf("node %d still flagged after key rotation", num)
		}
		if n.KeySecurityIssueDetails != "" {
			t.Fatalf("node %d details not cleared: %q", num, n.KeySecurityIssueDetails)
		}
	}
}

func TestIsLowEntropyKeyEmpty(t *testing.T) {
	if IsLowEntropyKey(nil) {
		t.Fatalf("empty key must not be low entropy")
	}
}
