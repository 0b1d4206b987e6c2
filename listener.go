package convosync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Listener owns at most one live subscription for the current user. Start is
// idempotent while running and Stop is idempotent while stopped. Events
// authored by the user are dropped even if the transport lets them through.
// No delivery starts once Stop has returned; one already running when Stop is
// called may still finish, so onEvent must tolerate a late call.
type Listener struct {
	sub    Subscriber
	logger *zap.Logger

	mu      sync.Mutex
	active  Subscription
	cancel  context.CancelFunc
	stopped *atomic.Bool
	userID  string
}

// NewListener creates a stopped listener on top of sub.
func NewListener(sub Subscriber, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{sub: sub, logger: logger}
}

// Start subscribes to new messages for userID. The subscription is released
// by Stop or when ctx is cancelled.
func (l *Listener) Start(ctx context.Context, userID string, onEvent func(MessageEvent)) error {
	if userID == "" {
		return errors.New("listener: user id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	stopped := new(atomic.Bool)
	deliver := func(ev MessageEvent) {
		if stopped.Load() {
			return
		}
		if ev.AuthorID() == userID {
			l.logger.Debug("dropping own message event", zap.String("message_id", ev.Message.ID))
			return
		}
		onEvent(ev)
	}

	s, err := l.sub.SubscribeToNewMessages(subCtx, userID, deliver)
	if err != nil {
		cancel()
		return fetchError("subscribe", err)
	}

	l.active = s
	l.cancel = cancel
	l.stopped = stopped
	l.userID = userID

	go func() {
		<-subCtx.Done()
		if err := l.release(stopped); err != nil {
			l.logger.Warn("unsubscribe failed", zap.Error(err))
		}
	}()

	l.logger.Debug("listener started", zap.String("user_id", userID))
	return nil
}

// Stop releases the subscription. Calling it on a stopped listener is a no-op.
func (l *Listener) Stop() error {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped == nil {
		return nil
	}
	return l.release(stopped)
}

// release tears down the subscription identified by token, if it is still
// the active one.
func (l *Listener) release(token *atomic.Bool) error {
	l.mu.Lock()
	if l.active == nil || l.stopped != token {
		l.mu.Unlock()
		return nil
	}
	s, cancel, userID := l.active, l.cancel, l.userID
	token.Store(true)
	l.active = nil
	l.cancel = nil
	l.stopped = nil
	l.userID = ""
	l.mu.Unlock()

	cancel()
	l.logger.Debug("listener stopped", zap.String("user_id", userID))
	return s.Unsubscribe()
}

// Running reports whether a subscription is held.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active != nil
}
