package convosync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// ConversationCache
// ============================================================================

func TestConversationCacheLoad(t *testing.T) {
	cache := NewConversationCache(seededGateway(t))
	assert.False(t, cache.Loaded())

	require.NoError(t, cache.Load(context.Background(), shipperID))
	assert.True(t, cache.Loaded())
	assert.Equal(t, []string{"conv-a", "conv-b"}, conversationIDs(cache.List()))

	conv, ok := cache.Get("conv-a")
	require.True(t, ok)
	assert.Equal(t, "mission-1", conv.MissionID)
	assert.Equal(t, carrierID, conv.Counterpart(shipperID))

	_, ok = cache.Get("conv-x")
	assert.False(t, ok, "conversations not involving the user are never cached")
}

type staticConversations []Conversation

func (s staticConversations) ListConversationsForUser(context.Context, string) ([]Conversation, error) {
	return append([]Conversation(nil), s...), nil
}

func TestConversationCacheSortsAndFilters(t *testing.T) {
	cache := NewConversationCache(staticConversations{
		{ID: "old", OwnerID: shipperID, CounterpartyID: carrierID, LastActivity: at(1)},
		{ID: "foreign", OwnerID: "x", CounterpartyID: "y", LastActivity: at(9)},
		{ID: "new", OwnerID: carrierID, CounterpartyID: shipperID, LastActivity: at(5)},
	})

	require.NoError(t, cache.Load(context.Background(), shipperID))
	assert.Equal(t, []string{"new", "old"}, conversationIDs(cache.List()))
}

type failingConversations struct{ err error }

func (f failingConversations) ListConversationsForUser(context.Context, string) ([]Conversation, error) {
	return nil, f.err
}

func TestConversationCacheFailureKeepsSnapshot(t *testing.T) {
	gw := seededGateway(t)
	cache := NewConversationCache(gw)
	require.NoError(t, cache.Load(context.Background(), shipperID))

	cache.store = failingConversations{err: errors.New("connection refused")}
	err := cache.Load(context.Background(), shipperID)
	require.Error(t, err)
	assert.True(t, IsFetchError(err))
	assert.Equal(t, []string{"conv-a", "conv-b"}, conversationIDs(cache.List()))
}

func TestConversationCacheResetDiscardsInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	store := blockingConversations{started: started, release: release, convs: []Conversation{
		{ID: "conv-a", OwnerID: shipperID, CounterpartyID: carrierID},
	}}
	cache := NewConversationCache(store)

	done := make(chan error, 1)
	go func() { done <- cache.Load(context.Background(), shipperID) }()
	<-started
	cache.Reset()
	close(release)

	assert.ErrorIs(t, <-done, ErrStaleResult)
	assert.Zero(t, cache.Len())
	assert.False(t, cache.Loaded())
}

type blockingConversations struct {
	started chan struct{}
	release chan struct{}
	convs   []Conversation
}

func (b blockingConversations) ListConversationsForUser(context.Context, string) ([]Conversation, error) {
	close(b.started)
	<-b.release
	return b.convs, nil
}

// ============================================================================
// MessageCache
// ============================================================================

func TestMessageCacheOrdersByCreation(t *testing.T) {
	// Arrival order T3, T1, T2 must display as T1, T2, T3.
	store := new(mockStore)
	store.On("ListMessagesForConversation", mock.Anything, "conv-a").Return([]Message{
		{ID: "m3", ConversationID: "conv-a", CreatedAt: at(3)},
		{ID: "m1", ConversationID: "conv-a", CreatedAt: at(1)},
		{ID: "m2", ConversationID: "conv-a", CreatedAt: at(2)},
	}, nil)

	cache := NewMessageCache(store)
	cache.Open("conv-a")
	require.NoError(t, cache.Load(context.Background(), "conv-a"))

	msgs := cache.List()
	assert.Equal(t, []string{"m1", "m2", "m3"}, messageIDs(msgs))
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
	store.AssertExpectations(t)
}

func TestMessageCacheOrderingTiesAreStable(t *testing.T) {
	store := new(mockStore)
	store.On("ListMessagesForConversation", mock.Anything, "conv-a").Return([]Message{
		{ID: "b", ConversationID: "conv-a", CreatedAt: at(1)},
		{ID: "c", ConversationID: "conv-a", CreatedAt: at(0)},
		{ID: "a", ConversationID: "conv-a", CreatedAt: at(1)},
	}, nil)

	cache := NewMessageCache(store)
	cache.Open("conv-a")
	require.NoError(t, cache.Load(context.Background(), "conv-a"))
	assert.Equal(t, []string{"c", "a", "b"}, messageIDs(cache.List()))
}

func TestMessageCacheFailureRetainsPreviousEntries(t *testing.T) {
	previous := []Message{
		{ID: "m1", ConversationID: "conv-a", CreatedAt: at(1)},
		{ID: "m2", ConversationID: "conv-a", CreatedAt: at(2)},
		{ID: "m3", ConversationID: "conv-a", CreatedAt: at(3)},
		{ID: "m4", ConversationID: "conv-a", CreatedAt: at(4)},
		{ID: "m5", ConversationID: "conv-a", CreatedAt: at(5)},
	}
	store := new(mockStore)
	store.On("ListMessagesForConversation", mock.Anything, "conv-a").Return(previous, nil).Once()
	store.On("ListMessagesForConversation", mock.Anything, "conv-a").Return(nil, errors.New("503 service unavailable")).Once()

	cache := NewMessageCache(store)
	cache.Open("conv-a")
	require.NoError(t, cache.Load(context.Background(), "conv-a"))
	before := cache.List()

	err := cache.Load(context.Background(), "conv-a")
	require.Error(t, err)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "load messages", fe.Op)

	assert.Equal(t, before, cache.List())
	assert.Equal(t, 5, cache.Len())
	store.AssertExpectations(t)
}

func TestMessageCacheStaleResultAfterSwitch(t *testing.T) {
	gw := newGatedGateway(seededGateway(t))
	releaseA := gw.gate("conv-a")
	cache := NewMessageCache(gw)

	cache.Open("conv-a")
	done := make(chan error, 1)
	go func() { done <- cache.Load(context.Background(), "conv-a") }()
	require.Equal(t, "conv-a", <-gw.entered)

	cache.Open("conv-b")
	require.NoError(t, cache.Load(context.Background(), "conv-b"))
	close(releaseA)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStaleResult)
	case <-time.After(2 * time.Second):
		t.Fatal("load for conv-a never returned")
	}
	assert.Equal(t, "conv-b", cache.ConversationID())
	assert.Equal(t, []string{"b1"}, messageIDs(cache.List()))
}

func TestMessageCacheLoadOfInactiveConversation(t *testing.T) {
	store := new(mockStore)
	cache := NewMessageCache(store)
	cache.Open("conv-a")

	assert.ErrorIs(t, cache.Load(context.Background(), "conv-b"), ErrStaleResult)
	store.AssertNotCalled(t, "ListMessagesForConversation", mock.Anything, mock.Anything)
}

func TestMessageCacheLoadAfterCloseIsStale(t *testing.T) {
	store := new(mockStore)
	cache := NewMessageCache(store)

	assert.ErrorIs(t, cache.Load(context.Background(), "conv-a"), ErrStaleResult, "nothing open")

	cache.Open("conv-a")
	cache.Close()
	assert.ErrorIs(t, cache.Load(context.Background(), "conv-a"), ErrStaleResult)
	assert.Empty(t, cache.ConversationID(), "a load never reopens a closed conversation")
	assert.Zero(t, cache.Len())
	store.AssertNotCalled(t, "ListMessagesForConversation", mock.Anything, mock.Anything)
}

func TestConversationCacheLoadAtAfterReset(t *testing.T) {
	gw := &countingGateway{MemoryGateway: seededGateway(t)}
	cache := NewConversationCache(gw)

	epoch := cache.Epoch()
	cache.Reset()
	assert.ErrorIs(t, cache.LoadAt(context.Background(), shipperID, epoch), ErrStaleResult)
	assert.Zero(t, cache.Len())
	assert.False(t, cache.Loaded())
	assert.Zero(t, gw.convLists.Load(), "nothing fetched for a reset epoch")

	require.NoError(t, cache.LoadAt(context.Background(), shipperID, cache.Epoch()))
	assert.Equal(t, 2, cache.Len())
}

func TestMessageCacheCloseClears(t *testing.T) {
	cache := NewMessageCache(seededGateway(t))
	cache.Open("conv-a")
	require.NoError(t, cache.Load(context.Background(), "conv-a"))
	require.Equal(t, 3, cache.Len())

	cache.Open("conv-a")
	assert.Equal(t, 3, cache.Len(), "reopening the same conversation keeps its messages")

	cache.Close()
	assert.Empty(t, cache.ConversationID())
	assert.Zero(t, cache.Len())
}
