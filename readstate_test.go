package convosync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func readTimestamps(t *testing.T, gw *MemoryGateway, conversationID string) map[string]*time.Time {
	t.Helper()
	msgs, err := gw.ListMessagesForConversation(context.Background(), conversationID)
	require.NoError(t, err)
	out := make(map[string]*time.Time, len(msgs))
	for _, m := range msgs {
		out[m.ID] = m.ReadAt
	}
	return out
}

func TestMarkReadOnlyCounterpartyMessages(t *testing.T) {
	// Two unread messages from the carrier and one from the shipper: only
	// the carrier's gain a read timestamp.
	gw := seededGateway(t)
	tracker := NewReadStateTracker(gw, nil)

	assert.True(t, tracker.MarkRead(context.Background(), "conv-a", shipperID))

	reads := readTimestamps(t, gw, "conv-a")
	assert.Nil(t, reads["a1"])
	require.NotNil(t, reads["a2"])
	require.NotNil(t, reads["a3"])
	assert.Equal(t, at(60), *reads["a2"])
	assert.Nil(t, readTimestamps(t, gw, "conv-b")["b1"], "other conversations are untouched")
}

func TestMarkReadIsIdempotent(t *testing.T) {
	gw := seededGateway(t)
	tracker := NewReadStateTracker(gw, nil)

	tracker.MarkRead(context.Background(), "conv-a", shipperID)
	once := readTimestamps(t, gw, "conv-a")

	gw.SetClock(func() time.Time { return at(120) })
	tracker.MarkRead(context.Background(), "conv-a", shipperID)
	twice := readTimestamps(t, gw, "conv-a")

	assert.Equal(t, once, twice)
}

func TestMarkReadFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := new(mockStore)
	store.On("MarkMessagesRead", mock.Anything, "conv-a", shipperID).Return(errors.New("timeout"))

	tracker := NewReadStateTracker(store, zap.New(core))
	assert.False(t, tracker.MarkRead(context.Background(), "conv-a", shipperID))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "mark read failed", entry.Message)
	assert.Equal(t, "conv-a", entry.ContextMap()["conversation_id"])
}

func TestMarkReadIgnoresEmptyIDs(t *testing.T) {
	store := new(mockStore)
	tracker := NewReadStateTracker(store, nil)

	assert.False(t, tracker.MarkRead(context.Background(), "", shipperID))
	assert.False(t, tracker.MarkRead(context.Background(), "conv-a", ""))
	store.AssertNotCalled(t, "MarkMessagesRead", mock.Anything, mock.Anything, mock.Anything)
}
