package mapping

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultWipeInterval bounds memory growth in the absence of durable
// storage: the whole cache is dropped wholesale on this cadence.
const DefaultWipeInterval = 5 * time.Hour

// Entry links one helpdesk message to its provider counterpart.
type Entry struct {
	ProviderMsgID  string
	ConversationID int
	InboxID        int
	Origin         string
	IntegrationID  string
}

// Cache is the bidirectional message-id index. The forward direction is
// keyed by helpdesk message id; reverse lookups scan values, which is
// acceptable at the scale the periodic wipe implies.
type Cache struct {
	mu      sync.RWMutex
	entries map[int]Entry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[int]Entry)}
}

// Store records or replaces the mapping for a helpdesk message id.
func (c *Cache) Store(chatwootID int, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[chatwootID] = e
}

// ByChatwootID returns the entry for a helpdesk message id.
func (c *Cache) ByChatwootID(chatwootID int) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[chatwootID]
	return e, ok
}

// ByProviderMsgID scans for the entry holding the given provider message
// id and returns it with its helpdesk id.
func (c *Cache) ByProviderMsgID(providerMsgID string) (int, Entry, bool) {
	if providerMsgID == "" {
		return 0, Entry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, e := range c.entries {
		if e.ProviderMsgID == providerMsgID {
			return id, e, true
		}
	}
	return 0, Entry{}, false
}

// Remove drops the mapping for a helpdesk message id.
func (c *Cache) Remove(chatwootID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, chatwootID)
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int]Entry)
}

// StartWipe launches the background eviction timer. Every interval the
// cache is reset and the extra hooks run (the credit ledger hands its
// Reset here so both structures decay together). The goroutine stops
// when ctx is done. A non-positive interval selects the default.
func (c *Cache) StartWipe(ctx context.Context, interval time.Duration, also ...func()) {
	if interval <= 0 {
		interval = DefaultWipeInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dropped := c.Len()
				c.Reset()
				for _, fn := range also {
					fn()
				}
				log.Info().
					Int("entries_dropped", dropped).
					Dur("interval", interval).
					Msg("message id cache wiped")
			}
		}
	}()
}
