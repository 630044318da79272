package feed

import (
	"encoding/json"
	"sync"
)

// SessionCache holds the last snapshot per filter as JSON, so a remount can
// paint a provisional feed before the first fetch returns. It lives for the
// client session and is cleared on sign-out.
type SessionCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewSessionCache returns an empty cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{entries: make(map[string][]byte)}
}

// Save stores s under filter, replacing any previous entry.
func (c *SessionCache) Save(filter Filter, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[filter.Key()] = data
	c.mu.Unlock()
	return nil
}

// Load returns the snapshot saved under filter. A corrupt entry is dropped
// and reported as missing.
func (c *SessionCache) Load(filter Filter) (Snapshot, bool) {
	key := filter.Key()
	c.mu.Lock()
	data, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return s, true
}

// Clear drops every entry.
func (c *SessionCache) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Len returns the number of cached filters.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
