package convosync

import (
	"context"
	"sync"
)

// MessageCache holds the messages of the selected conversation, oldest
// first. Only one conversation is active at a time; switching bumps an
// epoch so results for a previous selection are dropped on arrival.
type MessageCache struct {
	store MessageStore

	mu     sync.RWMutex
	active string
	items  []Message
	epoch  uint64
}

// NewMessageCache creates an empty cache backed by store.
func NewMessageCache(store MessageStore) *MessageCache {
	return &MessageCache{store: store}
}

// Open makes conversationID the active conversation. Cached messages are
// cleared when the conversation changes. Loads already in flight become stale.
func (c *MessageCache) Open(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != conversationID {
		c.items = nil
	}
	c.active = conversationID
	c.epoch++
}

// Close clears the active conversation and its messages.
func (c *MessageCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = ""
	c.items = nil
	c.epoch++
}

// ConversationID returns the active conversation, or "" when none is open.
func (c *MessageCache) ConversationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Load fetches the messages of conversationID and replaces the cache.
// conversationID must have been opened with Open: loading a conversation that
// is not active, including when none is, yields ErrStaleResult without
// fetching, and so does a result arriving after the selection changed. On
// fetch failure the previous contents stay in place and a *FetchError is
// returned.
func (c *MessageCache) Load(ctx context.Context, conversationID string) error {
	c.mu.RLock()
	active, epoch := c.active, c.epoch
	c.mu.RUnlock()
	if conversationID == "" || active != conversationID {
		return ErrStaleResult
	}

	msgs, err := c.store.ListMessagesForConversation(ctx, conversationID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.active != conversationID {
		return ErrStaleResult
	}
	if err != nil {
		return fetchError("load messages", err)
	}

	items := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ConversationID == "" || m.ConversationID == conversationID {
			m.ConversationID = conversationID
			items = append(items, m)
		}
	}
	sortMessages(items)
	c.items = items
	return nil
}

// List returns a copy of the cached messages.
func (c *MessageCache) List() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of cached messages.
func (c *MessageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
