package convosync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryGateway is a goroutine-safe in-process Gateway. It backs demo mode
// and tests, and mirrors the backend's rules: read-marking skips the
// reader's own messages, sends refresh the conversation preview, and new
// messages fan out to every subscriber except their author.
type MemoryGateway struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string]*Message
	names         map[string]string
	subs          *fanout
	now           func() time.Time
}

// ErrUnknownConversation is returned when sending to a conversation the
// gateway does not hold.
var ErrUnknownConversation = errors.New("unknown conversation")

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string]*Message),
		names:         make(map[string]string),
		subs:          newFanout(),
		now:           time.Now,
	}
}

// SetClock replaces the time source used for created and read timestamps.
func (g *MemoryGateway) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// SetDisplayName records the name joined onto messages authored by userID.
func (g *MemoryGateway) SetDisplayName(userID, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.names[userID] = name
}

// ── Seeding ──────────────────────────────────────────────

// PutConversations stores conversations, replacing any with the same ID.
func (g *MemoryGateway) PutConversations(convs ...Conversation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range convs {
		c := c
		g.conversations[c.ID] = &c
	}
}

// PutMessages stores messages without notifying subscribers.
func (g *MemoryGateway) PutMessages(msgs ...Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range msgs {
		m := m
		g.messages[m.ID] = &m
	}
}

// Message returns a copy of the stored message.
func (g *MemoryGateway) Message(id string) (Message, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.messages[id]
	if !ok {
		return Message{}, false
	}
	return g.copyMessage(m), true
}

// SubscriberCount returns the number of live subscriptions.
func (g *MemoryGateway) SubscriberCount() int {
	return g.subs.count()
}

// ── Gateway ──────────────────────────────────────────────

func (g *MemoryGateway) ListConversationsForUser(ctx context.Context, userID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fetchError("list conversations", err)
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []Conversation
	for _, c := range g.conversations {
		if c.Involves(userID) {
			result = append(result, *c)
		}
	}
	sortConversations(result)
	return result, nil
}

func (g *MemoryGateway) ListMessagesForConversation(ctx context.Context, conversationID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fetchError("list messages", err)
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []Message
	for _, m := range g.messages {
		if m.ConversationID == conversationID {
			result = append(result, g.copyMessage(m))
		}
	}
	sortMessages(result)
	return result, nil
}

func (g *MemoryGateway) MarkMessagesRead(ctx context.Context, conversationID, readerID string) error {
	if err := ctx.Err(); err != nil {
		return fetchError("mark read", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for _, m := range g.messages {
		if m.ConversationID != conversationID || m.ReadAt != nil || m.AuthorID == readerID {
			continue
		}
		readAt := now
		m.ReadAt = &readAt
	}
	return nil
}

func (g *MemoryGateway) SendMessage(ctx context.Context, req SendRequest) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, fetchError("send message", err)
	}
	kind := req.Kind
	if kind == "" {
		kind = KindText
	}
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		AuthorID:       req.AuthorID,
		Content:        req.Content,
		Kind:           kind,
		Metadata:       req.Metadata,
	}
	stored, err := g.Publish(msg)
	if err != nil {
		return Message{}, fetchError("send message", err)
	}
	return stored, nil
}

// Publish stores a message created outside the composer (for example a
// system-generated quote message) and notifies subscribers. A zero
// CreatedAt is stamped with the gateway clock.
func (g *MemoryGateway) Publish(msg Message) (Message, error) {
	g.mu.Lock()
	conv, ok := g.conversations[msg.ConversationID]
	if !ok {
		g.mu.Unlock()
		return Message{}, ErrUnknownConversation
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = g.now()
	}
	if msg.Kind == "" {
		msg.Kind = KindText
	}
	stored := msg
	g.messages[stored.ID] = &stored

	conv.LastMessage = stored.Content
	if stored.CreatedAt.After(conv.LastActivity) {
		conv.LastActivity = stored.CreatedAt
	}

	out := g.copyMessage(&stored)
	g.mu.Unlock()

	g.subs.publish(MessageEvent{Message: out})
	return out, nil
}

// SubscribeToNewMessages registers an in-process subscription. Events are
// delivered synchronously from the publishing goroutine.
func (g *MemoryGateway) SubscribeToNewMessages(ctx context.Context, excludeAuthorID string, onEvent func(MessageEvent)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fetchError("subscribe", err)
	}
	return g.subs.add(excludeAuthorID, onEvent), nil
}

// copyMessage must be called with g.mu held.
func (g *MemoryGateway) copyMessage(m *Message) Message {
	out := *m
	if m.ReadAt != nil {
		readAt := *m.ReadAt
		out.ReadAt = &readAt
	}
	if out.AuthorName == "" {
		out.AuthorName = g.names[out.AuthorID]
	}
	return out
}

// ── Ordering ─────────────────────────────────────────────

// sortMessages orders by creation time ascending, ties broken by ID.
func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// sortConversations orders by last activity descending, ties broken by ID.
func sortConversations(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].LastActivity.Equal(convs[j].LastActivity) {
			return convs[i].LastActivity.After(convs[j].LastActivity)
		}
		return convs[i].ID < convs[j].ID
	})
}
