package domain

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"strings"
)

// Public keys that ship in vendor example configurations and firmware
// images. Any node presenting one of these offers no real key security.
var lowEntropyKeys = map[string]struct{}{}

func init() {
	for _, b64 := range []string{
		// Default keypair baked into simulator and factory-test builds.
		"2afW7+4+eWjnmDDlDnejoZrrKu4Ohf1pXmHfTnLsdHE=",
		// Published demo key from vendor documentation.
		"xc7FfO1yIdEBh+cv2kBU7PYWsEfLva2Zfmwait1DPEg=",
	} {
		if key, err := base64.StdEncoding.DecodeString(b64); err == nil {
			lowEntropyKeys[string(key)] = struct{}{}
		}
	}
}

// IsLowEntropyKey reports whether the public key is on the known-bad list.
func IsLowEntropyKey(publicKey []byte) bool {
	if len(publicKey) == 0 {
		return false
	}
	_, bad := lowEntropyKeys[string(publicKey)]

	return bad
}

// KeyHash is the digest used to group nodes by public key.
func KeyHash(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)

	return hex.EncodeToString(sum[:])
}

// KeySecurityVerdict is the scan result for one node.
type KeySecurityVerdict struct {
	NodeNum              uint32
	KeyIsLowEntropy      bool
	DuplicateKeyDetected bool
	// IssueDetails lists the co-offending node ids sharing the key.
	IssueDetails string
}

// ScanKeySecurity inspects every node with a public key and produces a
// verdict per node. Duplicate detection groups by key hash; each offender's
// details list the other node ids sharing its key. The scan is a pure
// function of its input, so re-running it is idempotent.
func ScanKeySecurity(nodes []Node) []KeySecurityVerdict {
	byHash := make(map[string][]uint32)
	for _, n := range nodes {
		if len(n.PublicKey) == 0 {
			continue
		}
		h := KeyHash(n.PublicKey)
		byHash[h] = append(byHash[h], n.NodeNum)
	}

	verdicts := make([]KeySecurityVerdict, 0, len(nodes))
	for _, n := range nodes {
		v := KeySecurityVerdict{NodeNum: n.NodeNum}
		if len(n.PublicKey) > 0 {
			v.KeyIsLowEntropy = IsLowEntropyKey(n.PublicKey)
			sharers := byHash[KeyHash(n.PublicKey)]
			if len(distinct(sharers)) >= 2 {
				v.DuplicateKeyDetected = true
				v.IssueDetails = offenderDetails(n.NodeNum, sharers)
			}
		}
		verdicts = append(verdicts, v)
	}

	return verdicts
}

func distinct(nums []uint32) []uint32 {
	seen := make(map[uint32]struct{}, len(nums))
	out := make([]uint32, 0, len(nums))
	for _, n := range nums {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}

	return out
}

func offenderDetails(self uint32, sharers []uint32) string {
	others := make([]uint32, 0, len(sharers))
	for _, n := range distinct(sharers) {
		if n != self {
			others = append(others, n)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i] < others[j] })

	ids := make([]string, 0, len(others))
	for _, n := range others {
		ids = append(ids, NodeID(n))
	}

	return "key shared with " + strings.Join(ids, ", ")
}
