package convosync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

// ============================================================================
// Fixtures
// ============================================================================

const (
	shipperID = "shipper-1"
	carrierID = "carrier-1"
	otherID   = "carrier-2"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

// seededGateway holds two conversations for the shipper: conv-a with the
// carrier (three messages) and conv-b with another carrier (one message).
func seededGateway(t *testing.T) *MemoryGateway {
	t.Helper()
	gw := NewMemoryGateway()
	gw.SetClock(func() time.Time { return at(60) })
	gw.SetDisplayName(shipperID, "Garage Dupont")
	gw.SetDisplayName(carrierID, "Transports Martin")
	gw.SetDisplayName(otherID, "Convoi Express")

	gw.PutConversations(
		Conversation{ID: "conv-a", OwnerID: shipperID, CounterpartyID: carrierID, LastMessage: "Parfait", LastActivity: at(3), MissionID: "mission-1"},
		Conversation{ID: "conv-b", OwnerID: shipperID, CounterpartyID: otherID, LastMessage: "Disponible", LastActivity: at(1)},
		Conversation{ID: "conv-x", OwnerID: "someone", CounterpartyID: otherID, LastActivity: at(5)},
	)
	gw.PutMessages(
		Message{ID: "a3", ConversationID: "conv-a", AuthorID: carrierID, Content: "Parfait", Kind: KindText, CreatedAt: at(3)},
		Message{ID: "a1", ConversationID: "conv-a", AuthorID: shipperID, Content: "Bonjour", Kind: KindText, CreatedAt: at(1)},
		Message{ID: "a2", ConversationID: "conv-a", AuthorID: carrierID, Content: "Je propose", Kind: KindPriceQuote, Metadata: PriceQuoteMetadata{Price: 450}, CreatedAt: at(2)},
		Message{ID: "b1", ConversationID: "conv-b", AuthorID: otherID, Content: "Disponible", Kind: KindText, CreatedAt: at(1)},
	)
	return gw
}

func messageIDs(msgs []Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func conversationIDs(convs []Conversation) []string {
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	return ids
}

// ============================================================================
// Gateway doubles
// ============================================================================

// countingGateway counts list calls made through it.
type countingGateway struct {
	*MemoryGateway
	convLists atomic.Int32
	msgLists  atomic.Int32
	marks     atomic.Int32
}

func (g *countingGateway) ListConversationsForUser(ctx context.Context, userID string) ([]Conversation, error) {
	g.convLists.Add(1)
	return g.MemoryGateway.ListConversationsForUser(ctx, userID)
}

func (g *countingGateway) ListMessagesForConversation(ctx context.Context, conversationID string) ([]Message, error) {
	g.msgLists.Add(1)
	return g.MemoryGateway.ListMessagesForConversation(ctx, conversationID)
}

func (g *countingGateway) MarkMessagesRead(ctx context.Context, conversationID, readerID string) error {
	g.marks.Add(1)
	return g.MemoryGateway.MarkMessagesRead(ctx, conversationID, readerID)
}

// gatedGateway holds message loads for gated conversations until released.
type gatedGateway struct {
	*MemoryGateway
	mu      sync.Mutex
	gates   map[string]chan struct{}
	entered chan string
}

func newGatedGateway(gw *MemoryGateway) *gatedGateway {
	return &gatedGateway{MemoryGateway: gw, gates: make(map[string]chan struct{}), entered: make(chan string, 8)}
}

func (g *gatedGateway) gate(conversationID string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.gates[conversationID] = ch
	return ch
}

func (g *gatedGateway) ListMessagesForConversation(ctx context.Context, conversationID string) ([]Message, error) {
	g.mu.Lock()
	ch := g.gates[conversationID]
	g.mu.Unlock()
	if ch != nil {
		g.entered <- conversationID
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.MemoryGateway.ListMessagesForConversation(ctx, conversationID)
}

// mockStore is a testify mock of MessageStore.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListMessagesForConversation(ctx context.Context, conversationID string) ([]Message, error) {
	args := m.Called(ctx, conversationID)
	msgs, _ := args.Get(0).([]Message)
	return msgs, args.Error(1)
}

func (m *mockStore) MarkMessagesRead(ctx context.Context, conversationID, readerID string) error {
	args := m.Called(ctx, conversationID, readerID)
	return args.Error(0)
}

func (m *mockStore) SendMessage(ctx context.Context, req SendRequest) (Message, error) {
	args := m.Called(ctx, req)
	msg, _ := args.Get(0).(Message)
	return msg, args.Error(1)
}

// ============================================================================
// Notifier double
// ============================================================================

type shownNotification struct {
	Title string
	Body  string
}

type recordingNotifier struct {
	mu      sync.Mutex
	denied  bool
	granted int
	shown   []shownNotification
}

func (n *recordingNotifier) RequestPermission(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.denied {
		return ErrPermissionDenied
	}
	n.granted++
	return nil
}

func (n *recordingNotifier) Show(_ context.Context, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, shownNotification{Title: title, Body: body})
	return nil
}

func (n *recordingNotifier) list() []shownNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]shownNotification(nil), n.shown...)
}
