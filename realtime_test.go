package convosync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var fastReconnect = RealtimeConfig{
	AutoReconnect:        true,
	ReconnectBaseDelay:   10 * time.Millisecond,
	ReconnectMaxDelay:    50 * time.Millisecond,
	MaxReconnectAttempts: 5,
}

func TestSubscribeWebSocket(t *testing.T) {
	b := newFakeBackend(t)
	c := b.client()

	var rec eventRecorder
	sub, err := c.SubscribeToNewMessages(context.Background(), shipperID, rec.record)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = b.gw.Publish(Message{ConversationID: "conv-a", AuthorID: shipperID, Content: "own"})
	require.NoError(t, err)
	theirs, err := b.gw.Publish(Message{ConversationID: "conv-a", AuthorID: carrierID, Content: "theirs", Kind: KindPriceQuote, Metadata: PriceQuoteMetadata{Price: 300}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.list()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := rec.list()[0].Message
	assert.Equal(t, theirs.ID, got.ID)
	assert.Equal(t, PriceQuoteMetadata{Price: 300}, got.Metadata)
	assert.Equal(t, "Transports Martin", got.AuthorName)
}

func TestSubscribeSSE(t *testing.T) {
	b := newFakeBackend(t)
	c := b.client(WithTransport(TransportSSE))

	var rec eventRecorder
	sub, err := c.SubscribeToNewMessages(context.Background(), shipperID, rec.record)
	require.NoError(t, err)

	_, err = b.gw.Publish(Message{ConversationID: "conv-b", AuthorID: otherID, Content: "Disponible demain"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.list()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "conv-b", rec.list()[0].ConversationID())

	require.NoError(t, sub.Unsubscribe())
	assert.Eventually(t, func() bool { return b.gw.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeRejectedToken(t *testing.T) {
	b := newFakeBackend(t)

	for _, transport := range []Transport{TransportWS, TransportSSE} {
		c := NewClient("wrong", WithBaseURL(b.srv.URL), WithTransport(transport))
		_, err := c.SubscribeToNewMessages(context.Background(), shipperID, func(MessageEvent) {})
		require.Error(t, err, transport)
		assert.True(t, IsFetchError(err), transport)
	}
}

func TestWebSocketPing(t *testing.T) {
	b := newFakeBackend(t)
	ws := b.client().ConnectWS(&RealtimeConfig{Token: testToken})
	require.NoError(t, ws.Connect(context.Background()))
	defer ws.Disconnect()
	assert.Equal(t, StateConnected, ws.State())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pong, err := ws.Ping(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, pong.RequestID)
}

func TestWebSocketReconnects(t *testing.T) {
	b := newFakeBackend(t)
	cfg := fastReconnect
	cfg.Token = testToken
	ws := b.client().ConnectWS(&cfg)

	reconnecting := make(chan int, 8)
	ws.OnReconnecting(func(attempt int, _ time.Duration) { reconnecting <- attempt })
	var rec eventRecorder
	ws.OnMessageNew(func(m Message) { rec.record(MessageEvent{Message: m}) })

	require.NoError(t, ws.Connect(context.Background()))
	defer ws.Disconnect()

	b.kickWS()

	select {
	case attempt := <-reconnecting:
		assert.Equal(t, 1, attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("client never tried to reconnect")
	}
	require.Eventually(t, func() bool {
		return b.wsConnects.Load() == 2 && ws.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	_, err := b.gw.Publish(Message{ConversationID: "conv-a", AuthorID: carrierID, Content: "après coupure"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.list()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeResyncsAfterReconnect(t *testing.T) {
	b := newFakeBackend(t)
	core, logs := observer.New(zap.DebugLevel)
	c := b.client(WithRealtimeConfig(fastReconnect), WithClientLogger(zap.New(core)))

	var rec eventRecorder
	sub, err := c.SubscribeToNewMessages(context.Background(), shipperID, rec.record)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return b.wsConnects.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, rec.list(), "the first connection is not a resync")

	b.kickWS()

	require.Eventually(t, func() bool {
		events := rec.list()
		return len(events) == 1 && events[0].Resync
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, rec.list()[0].Message.ID)
	assert.Equal(t, 1, logs.FilterMessage("realtime reconnected").Len())
	assert.GreaterOrEqual(t, logs.FilterMessage("realtime disconnected").Len(), 1)

	_, err = b.gw.Publish(Message{ConversationID: "conv-a", AuthorID: carrierID, Content: "de retour"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.list()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, rec.list()[1].Resync)
}

func TestReconnectorBackoff(t *testing.T) {
	r := newReconnector(&RealtimeConfig{ReconnectBaseDelay: 100 * time.Millisecond, ReconnectMaxDelay: time.Second, MaxReconnectAttempts: 3})

	var delays []time.Duration
	for r.shouldReconnect() {
		d, _ := r.nextDelay()
		delays = append(delays, d)
	}
	require.Len(t, delays, 3)
	assert.GreaterOrEqual(t, delays[0], 100*time.Millisecond)
	assert.Less(t, delays[0], 150*time.Millisecond)
	assert.GreaterOrEqual(t, delays[2], 400*time.Millisecond)
	assert.LessOrEqual(t, delays[2], time.Second)

	r.reset()
	assert.True(t, r.shouldReconnect())

	forever := newReconnector(&RealtimeConfig{ReconnectBaseDelay: time.Millisecond, ReconnectMaxDelay: time.Millisecond, MaxReconnectAttempts: -1})
	for i := 0; i < 100; i++ {
		forever.nextDelay()
	}
	assert.True(t, forever.shouldReconnect())
}

// ============================================================================
// Engine over the HTTP client
// ============================================================================

func TestEngineOverClient(t *testing.T) {
	for _, transport := range []Transport{TransportWS, TransportSSE} {
		t.Run(string(transport), func(t *testing.T) {
			b := newFakeBackend(t)
			notifier := &recordingNotifier{}
			e := newTestEngine(t, b.client(WithTransport(transport)), WithNotifier(notifier))

			require.NoError(t, e.Mount(context.Background()))
			require.NoError(t, e.Select(context.Background(), "conv-a"))
			require.Len(t, e.Messages(), 3)

			live, err := b.gw.Publish(Message{ConversationID: "conv-a", AuthorID: carrierID, Content: "Je suis devant", CreatedAt: at(30)})
			require.NoError(t, err)
			require.Eventually(t, func() bool {
				msgs := e.Messages()
				return len(msgs) == 4 && msgs[3].ID == live.ID
			}, 2*time.Second, 10*time.Millisecond)

			_, err = b.gw.Publish(Message{ConversationID: "conv-b", AuthorID: otherID, Content: "Autre mission ?", CreatedAt: at(40)})
			require.NoError(t, err)
			require.Eventually(t, func() bool { return len(notifier.list()) == 1 }, 2*time.Second, 10*time.Millisecond)
			require.Eventually(t, func() bool {
				convs := e.Conversations()
				return len(convs) == 2 && convs[0].ID == "conv-b"
			}, 2*time.Second, 10*time.Millisecond)

			e.Composer().SetText("Je descends")
			sent, err := e.Send(context.Background())
			require.NoError(t, err)
			msgs := e.Messages()
			assert.Equal(t, sent.ID, msgs[len(msgs)-1].ID)
			assert.Len(t, notifier.list(), 1, "own message never notifies")
		})
	}
}
