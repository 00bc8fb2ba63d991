package radio

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// PasskeyTTL is the device-side session key lifetime. The firmware does
// not report an expiry, so the cache assumes the protocol constant.
const PasskeyTTL = 300 * time.Second

// passkeyTTLMargin keeps a key from being handed out right before the
// device drops it.
const passkeyTTLMargin = 5 * time.Second

type passkeyEntry struct {
	key       []byte
	expiresAt time.Time
}

// passkeyCache caches admin session passkeys per remote node. Concurrent
// misses for the same node coalesce into a single fetch.
type passkeyCache struct {
	mu      sync.Mutex
	entries map[uint32]passkeyEntry
	group   singleflight.Group
}

func newPasskeyCache() *passkeyCache {
	return &passkeyCache{entries: make(map[uint32]passkeyEntry)}
}

// Get returns the cached key for nodeNum, or fetches one via fetch. Every
// concurrent caller for the same node awaits the one in-flight fetch.
func (c *passkeyCache) Get(ctx context.Context, nodeNum uint32, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	if key, ok := c.cached(nodeNum); ok {
		return key, nil
	}

	result, err, _ := c.group.Do(strconv.FormatUint(uint64(nodeNum), 10), func() (any, error) {
		if key, ok := c.cached(nodeNum); ok {
			return key, nil
		}
		key, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.put(nodeNum, key)

		return key, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

func (c *passkeyCache) cached(nodeNum uint32) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[nodeNum]
	if !ok || len(entry.key) == 0 || time.Now().After(entry.expiresAt.Add(-passkeyTTLMargin)) {
		return nil, false
	}

	return entry.key, true
}

func (c *passkeyCache) put(nodeNum uint32, key []byte) {
	c.mu.Lock()
	c.entries[nodeNum] = passkeyEntry{
		key:       append([]byte(nil), key...),
		expiresAt: time.Now().Add(PasskeyTTL),
	}
	c.mu.Unlock()
}

// Invalidate drops the cached key after a remote rejected it.
func (c *passkeyCache) Invalidate(nodeNum uint32) {
	c.mu.Lock()
	delete(c.entries, nodeNum)
	c.mu.Unlock()
}
