package convosync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCallTimeout bounds each gateway call made by the engine.
const DefaultCallTimeout = 10 * time.Second

// EngineEvent names a change the engine reports to observers.
type EngineEvent string

const (
	EventConversationsUpdated EngineEvent = "conversations.updated"
	EventMessagesUpdated      EngineEvent = "messages.updated"
	EventMessageSent          EngineEvent = "message.sent"
	EventNotification         EngineEvent = "notification"
	EventNotice               EngineEvent = "notice"
)

// EngineHandler receives engine events. The payload type depends on the event:
// []Conversation, []Message, Message, Message and Notice respectively.
type EngineHandler func(event EngineEvent, payload any)

type emitter struct {
	mu        sync.RWMutex
	listeners map[EngineEvent][]EngineHandler
	logger    *zap.Logger
}

func (e *emitter) On(event EngineEvent, handler EngineHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], handler)
}

func (e *emitter) emit(event EngineEvent, payload any) {
	e.mu.RLock()
	handlers := e.listeners[event]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("engine handler panicked", zap.String("event", string(event)), zap.Any("panic", r))
				}
			}()
			h(event, payload)
		}()
	}
}

// Engine is the conversation view of one user: it owns both caches, the
// read-state tracker, the live listener and the composer, and routes live
// events between them.
type Engine struct {
	emitter

	gw          Gateway
	userID      string
	logger      *zap.Logger
	notifier    Notifier
	notices     *Notices
	metrics     *Metrics
	callTimeout time.Duration

	conversations *ConversationCache
	messages      *MessageCache
	reads         *ReadStateTracker
	listener      *Listener
	composer      *Composer

	mu        sync.Mutex
	mounted   bool
	gen       uint64
	convEpoch uint64
	mountCtx  context.Context
	unmount   context.CancelFunc
	selected  string
	notifying bool
}

type EngineOption func(*Engine)

func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNotifier sets the local notification capability. Without it
// notifications are disabled.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithNotices shares n with the engine. The caller owns n and closes it
// after Unmount.
func WithNotices(n *Notices) EngineOption {
	return func(e *Engine) {
		if n != nil {
			e.notices = n
		}
	}
}

func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithCallTimeout bounds every gateway call; d <= 0 keeps the default.
func WithCallTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// NewEngine creates an unmounted engine for userID on top of gw.
func NewEngine(gw Gateway, userID string, opts ...EngineOption) *Engine {
	e := &Engine{
		gw:          gw,
		userID:      userID,
		logger:      zap.NewNop(),
		notifier:    NopNotifier{},
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notices == nil {
		e.notices = NewNotices(DefaultNoticeTTL)
	}
	e.logger = e.logger.With(zap.String("user_id", userID))
	e.emitter = emitter{listeners: make(map[EngineEvent][]EngineHandler), logger: e.logger}

	e.conversations = NewConversationCache(gw)
	e.messages = NewMessageCache(gw)
	e.reads = NewReadStateTracker(gw, e.logger)
	e.listener = NewListener(gw, e.logger)
	e.composer = NewComposer(gw, userID)
	return e
}

// ── Lifecycle ────────────────────────────────────────────

// Mount requests notification permission, starts the live listener and then
// loads the conversation list, so nothing created in between is missed.
// Mounting a mounted engine is a no-op. A failed conversation load is
// returned and surfaced as a notice, but the engine stays mounted so later
// events and refreshes can recover. If the listener cannot start the engine
// is unmounted again.
func (e *Engine) Mount(ctx context.Context) error {
	e.mu.Lock()
	if e.mounted {
		e.mu.Unlock()
		return nil
	}
	mountCtx, cancel := context.WithCancel(ctx)
	e.mounted = true
	e.gen++
	gen := e.gen
	e.convEpoch = e.conversations.Epoch()
	e.mountCtx = mountCtx
	e.unmount = cancel
	e.mu.Unlock()

	permCtx, permCancel := e.call(mountCtx)
	err := e.notifier.RequestPermission(permCtx)
	permCancel()
	e.mu.Lock()
	e.notifying = err == nil
	e.mu.Unlock()
	if err != nil {
		e.logger.Debug("notifications disabled", zap.Error(err))
	}

	if err := e.listener.Start(mountCtx, e.userID, e.handleEvent); err != nil {
		e.logger.Error("live listener failed to start", zap.Error(err))
		e.Unmount()
		return err
	}

	loadErr := e.reloadConversations(mountCtx, gen, true)

	e.logger.Info("engine mounted", zap.Int("conversations", e.conversations.Len()))
	return loadErr
}

// Unmount stops the listener and empties both caches. Loads still in flight
// are discarded when they return. Safe to call more than once.
func (e *Engine) Unmount() {
	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return
	}
	e.mounted = false
	e.selected = ""
	cancel := e.unmount
	e.unmount = nil
	e.mu.Unlock()

	if err := e.listener.Stop(); err != nil {
		e.logger.Warn("listener stop failed", zap.Error(err))
	}
	cancel()
	e.conversations.Reset()
	e.messages.Close()
	e.composer.Clear()
	e.logger.Info("engine unmounted")
}

// Mounted reports whether the engine is mounted.
func (e *Engine) Mounted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mounted
}

// ── Selection ────────────────────────────────────────────

// Select makes conversationID the open conversation, loads its messages and
// marks incoming ones read. If another selection happens meanwhile the load
// is discarded and Select returns nil.
func (e *Engine) Select(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return &ValidationError{Field: "conversation", Reason: "empty conversation id"}
	}
	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return ErrNotMounted
	}
	e.selected = conversationID
	e.messages.Open(conversationID)
	gen := e.gen
	e.mu.Unlock()

	e.emit(EventMessagesUpdated, e.messages.List())

	if err := e.reloadMessages(ctx, gen, conversationID, true); err != nil {
		return err
	}
	if !e.isSelected(gen, conversationID) {
		return nil
	}

	readCtx, cancel := e.call(ctx)
	defer cancel()
	e.reads.MarkRead(readCtx, conversationID, e.userID)
	return nil
}

// Deselect closes the open conversation.
func (e *Engine) Deselect() {
	e.mu.Lock()
	e.selected = ""
	e.messages.Close()
	e.mu.Unlock()
	e.emit(EventMessagesUpdated, []Message{})
}

// Refresh reloads the conversation list and, if a conversation is open,
// reselects it.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return ErrNotMounted
	}
	gen := e.gen
	e.mu.Unlock()

	errConv := e.reloadConversations(ctx, gen, true)
	var errMsgs error
	if sel := e.Selected(); sel != "" {
		errMsgs = e.Select(ctx, sel)
	}
	return errors.Join(errConv, errMsgs)
}

// ── Sending ──────────────────────────────────────────────

// Send submits the composer's draft to the open conversation, then reloads
// the messages and the conversation list. The reloads are skipped if the
// conversation was closed or the engine unmounted while the send was in
// flight. Validation errors are returned as-is; gateway failures are also
// surfaced as a notice.
func (e *Engine) Send(ctx context.Context) (Message, error) {
	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return Message{}, ErrNotMounted
	}
	sel, gen := e.selected, e.gen
	e.mu.Unlock()

	sendCtx, cancel := e.call(ctx)
	msg, err := e.composer.Send(sendCtx, sel)
	cancel()
	if err != nil {
		if IsFetchError(err) {
			e.metrics.send(err)
			e.logger.Warn("send failed", zap.String("conversation_id", sel), zap.Error(err))
			e.surface(err)
		}
		return Message{}, err
	}
	e.metrics.send(nil)
	e.emit(EventMessageSent, msg)

	_ = e.reloadMessages(ctx, gen, sel, true)
	_ = e.reloadConversations(ctx, gen, true)
	return msg, nil
}

// ── Accessors ────────────────────────────────────────────

func (e *Engine) UserID() string { return e.userID }

func (e *Engine) Composer() *Composer { return e.composer }

func (e *Engine) Notices() *Notices { return e.notices }

// Conversations returns the cached conversation list, newest activity first.
func (e *Engine) Conversations() []Conversation { return e.conversations.List() }

// Messages returns the open conversation's messages, oldest first.
func (e *Engine) Messages() []Message { return e.messages.List() }

// Selected returns the open conversation ID, or "".
func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// ── Internals ────────────────────────────────────────────

func (e *Engine) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.callTimeout)
}

// handleEvent routes one live event: the open conversation gets its messages
// reloaded, any other conversation raises a notification. The conversation
// list is reloaded in both cases. A resync reloads both caches without
// notifying.
func (e *Engine) handleEvent(ev MessageEvent) {
	e.mu.Lock()
	if !e.mounted {
		e.mu.Unlock()
		return
	}
	ctx, gen, selected, notifying := e.mountCtx, e.gen, e.selected, e.notifying
	e.mu.Unlock()

	convID := ev.ConversationID()
	switch {
	case ev.Resync:
		e.metrics.liveEvent(scopeResync)
		e.logger.Info("live transport reconnected, resyncing")
		if selected != "" {
			_ = e.reloadMessages(ctx, gen, selected, false)
		}
	case convID != "" && convID == selected:
		e.metrics.liveEvent(scopeSelected)
		_ = e.reloadMessages(ctx, gen, convID, false)
	default:
		e.metrics.liveEvent(scopeOther)
		if notifying {
			e.notify(ctx, ev.Message)
		}
	}
	_ = e.reloadConversations(ctx, gen, false)
}

// isCurrent reports whether gen is the live mount, and returns the
// conversation cache epoch that mount owns.
func (e *Engine) isCurrent(gen uint64) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.convEpoch, e.mounted && e.gen == gen
}

// isSelected reports whether conversationID is still open in mount gen.
func (e *Engine) isSelected(gen uint64, conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mounted && e.gen == gen && e.selected == conversationID
}

func (e *Engine) notify(ctx context.Context, msg Message) {
	title := msg.AuthorName
	if title == "" {
		title = "Nouveau message"
	}
	showCtx, cancel := e.call(ctx)
	defer cancel()
	if err := e.notifier.Show(showCtx, title, Preview(msg)); err != nil {
		e.logger.Debug("notification not shown", zap.Error(err))
		return
	}
	e.emit(EventNotification, msg)
}

// reloadConversations reloads the list for mount gen. It does nothing once
// that mount has ended.
func (e *Engine) reloadConversations(ctx context.Context, gen uint64, surface bool) error {
	epoch, ok := e.isCurrent(gen)
	if !ok {
		e.logger.Debug("skipped reload for an ended mount", zap.String("cache", cacheConversations))
		return nil
	}
	callCtx, cancel := e.call(ctx)
	defer cancel()

	started := time.Now()
	err := e.conversations.LoadAt(callCtx, e.userID, epoch)
	e.metrics.observeLoad(cacheConversations, started, err)
	return e.afterLoad(gen, cacheConversations, err, surface, func() {
		e.emit(EventConversationsUpdated, e.conversations.List())
	})
}

// reloadMessages reloads conversationID if it is still open in mount gen.
func (e *Engine) reloadMessages(ctx context.Context, gen uint64, conversationID string, surface bool) error {
	if !e.isSelected(gen, conversationID) {
		e.logger.Debug("skipped reload for a closed conversation",
			zap.String("cache", cacheMessages), zap.String("conversation_id", conversationID))
		return nil
	}
	callCtx, cancel := e.call(ctx)
	defer cancel()

	started := time.Now()
	err := e.messages.Load(callCtx, conversationID)
	e.metrics.observeLoad(cacheMessages, started, err)
	return e.afterLoad(gen, cacheMessages, err, surface, func() {
		e.emit(EventMessagesUpdated, e.messages.List())
	})
}

// afterLoad turns a load result into events, logs and notices. Stale results,
// including any result that lands after mount gen ended, are not errors for
// the caller.
func (e *Engine) afterLoad(gen uint64, cache string, err error, surface bool, updated func()) error {
	if _, ok := e.isCurrent(gen); !ok && (err == nil || errors.Is(err, context.Canceled)) {
		err = ErrStaleResult
	}
	switch {
	case err == nil:
		updated()
		return nil
	case errors.Is(err, ErrStaleResult):
		e.logger.Debug("discarded stale result", zap.String("cache", cache))
		return nil
	default:
		e.logger.Warn("reload failed", zap.String("cache", cache), zap.Error(err))
		if surface {
			e.surface(err)
		}
		return err
	}
}

func (e *Engine) surface(err error) {
	notice := e.notices.Push(NoticeError, err.Error())
	e.emit(EventNotice, notice)
}
