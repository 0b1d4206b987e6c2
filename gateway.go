package convosync

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ConversationStore reads conversations.
type ConversationStore interface {
	ListConversationsForUser(ctx context.Context, userID string) ([]Conversation, error)
}

// MessageStore reads and writes messages.
type MessageStore interface {
	ListMessagesForConversation(ctx context.Context, conversationID string) ([]Message, error)
	MarkMessagesRead(ctx context.Context, conversationID, readerID string) error
	SendMessage(ctx context.Context, req SendRequest) (Message, error)
}

// Subscription is a live event channel. Unsubscribe must be called to release it.
type Subscription interface {
	Unsubscribe() error
}

// Subscriber opens push subscriptions for newly created messages. Events
// authored by excludeAuthorID are never delivered.
type Subscriber interface {
	SubscribeToNewMessages(ctx context.Context, excludeAuthorID string, onEvent func(MessageEvent)) (Subscription, error)
}

// Gateway is everything the engine needs from the backend.
type Gateway interface {
	ConversationStore
	MessageStore
	Subscriber
}

// Notifier shows local notifications. Both methods are best-effort.
type Notifier interface {
	RequestPermission(ctx context.Context) error
	Show(ctx context.Context, title, body string) error
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error { return f() }

// composedGateway joins separate stores and a subscriber into one Gateway.
type composedGateway struct {
	ConversationStore
	MessageStore
	Subscriber
}

// ComposeGateway builds a Gateway from parts, for example an HTTP client for
// reads and writes and a WebhookSource for live events.
func ComposeGateway(conversations ConversationStore, messages MessageStore, sub Subscriber) Gateway {
	return composedGateway{ConversationStore: conversations, MessageStore: messages, Subscriber: sub}
}

// fanout delivers message events to in-process subscribers, skipping each
// subscriber's excluded author. Delivery is synchronous.
type fanout struct {
	mu   sync.RWMutex
	subs map[string]*fanoutSubscriber
}

type fanoutSubscriber struct {
	exclude string
	onEvent func(MessageEvent)
}

func newFanout() *fanout {
	return &fanout{subs: make(map[string]*fanoutSubscriber)}
}

func (f *fanout) add(excludeAuthorID string, onEvent func(MessageEvent)) Subscription {
	id := uuid.NewString()
	f.mu.Lock()
	f.subs[id] = &fanoutSubscriber{exclude: excludeAuthorID, onEvent: onEvent}
	f.mu.Unlock()

	var once sync.Once
	return SubscriptionFunc(func() error {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
		return nil
	})
}

// publish returns the number of subscribers the event was delivered to.
func (f *fanout) publish(ev MessageEvent) int {
	f.mu.RLock()
	var targets []*fanoutSubscriber
	for _, s := range f.subs {
		if s.exclude != ev.AuthorID() {
			targets = append(targets, s)
		}
	}
	f.mu.RUnlock()

	for _, s := range targets {
		s.onEvent(ev)
	}
	return len(targets)
}

func (f *fanout) count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
