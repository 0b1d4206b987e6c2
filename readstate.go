package convosync

import (
	"context"

	"go.uber.org/zap"
)

// ReadStateTracker marks a conversation's incoming messages as read when the
// user opens it. Failures are logged and never surfaced; the next selection
// retries.
type ReadStateTracker struct {
	store  MessageStore
	logger *zap.Logger
}

// NewReadStateTracker creates a tracker. A nil logger discards failures.
func NewReadStateTracker(store MessageStore, logger *zap.Logger) *ReadStateTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadStateTracker{store: store, logger: logger}
}

// MarkRead sets read_at on every unread message in conversationID not
// authored by readerID. It reports whether the gateway accepted the update.
// Repeating it has no further effect.
func (t *ReadStateTracker) MarkRead(ctx context.Context, conversationID, readerID string) bool {
	if conversationID == "" || readerID == "" {
		return false
	}
	if err := t.store.MarkMessagesRead(ctx, conversationID, readerID); err != nil {
		t.logger.Warn("mark read failed",
			zap.String("conversation_id", conversationID),
			zap.String("reader_id", readerID),
			zap.Error(err),
		)
		return false
	}
	return true
}
