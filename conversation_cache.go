package convosync

import (
	"context"
	"sync"
)

// ConversationCache holds the current user's conversation list, newest
// activity first. A load replaces the whole list; there is no incremental
// merge.
type ConversationCache struct {
	store ConversationStore

	mu     sync.RWMutex
	items  []Conversation
	index  map[string]int
	epoch  uint64
	loaded bool
}

// NewConversationCache creates an empty cache backed by store.
func NewConversationCache(store ConversationStore) *ConversationCache {
	return &ConversationCache{store: store, index: make(map[string]int)}
}

// Load fetches every conversation involving userID and replaces the cache.
// On failure the previous contents are kept and a *FetchError is returned.
// A result that arrives after Reset is discarded with ErrStaleResult.
func (c *ConversationCache) Load(ctx context.Context, userID string) error {
	return c.LoadAt(ctx, userID, c.Epoch())
}

// Epoch identifies the cache generation; Reset advances it.
func (c *ConversationCache) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// LoadAt is Load pinned to an epoch read earlier with Epoch. If the cache was
// Reset since, nothing is fetched and ErrStaleResult is returned.
func (c *ConversationCache) LoadAt(ctx context.Context, userID string, epoch uint64) error {
	c.mu.RLock()
	current := c.epoch
	c.mu.RUnlock()
	if current != epoch {
		return ErrStaleResult
	}

	convs, err := c.store.ListConversationsForUser(ctx, userID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return ErrStaleResult
	}
	if err != nil {
		return fetchError("load conversations", err)
	}

	items := make([]Conversation, 0, len(convs))
	for _, conv := range convs {
		if conv.Involves(userID) {
			items = append(items, conv)
		}
	}
	sortConversations(items)

	c.items = items
	c.index = make(map[string]int, len(items))
	for i, conv := range items {
		c.index[conv.ID] = i
	}
	c.loaded = true
	return nil
}

// List returns a copy of the cached conversations.
func (c *ConversationCache) List() []Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Conversation, len(c.items))
	copy(out, c.items)
	return out
}

// Get returns the cached conversation with the given ID.
func (c *ConversationCache) Get(id string) (Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return Conversation{}, false
	}
	return c.items[i], true
}

// Len returns the number of cached conversations.
func (c *ConversationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Loaded reports whether at least one load has succeeded since the last Reset.
func (c *ConversationCache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Reset empties the cache and invalidates loads still in flight.
func (c *ConversationCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.items = nil
	c.index = make(map[string]int)
	c.loaded = false
}
