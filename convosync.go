// Package convosync keeps a client's view of marketplace conversations in sync
// with the hosted backend.
//
// It covers the HTTP gateway, live message subscriptions (WebSocket, SSE or
// signed webhooks), the conversation and message caches, read-state tracking,
// and the message composer, tied together by Engine.
//
// Example:
//
//	client := convosync.NewClient(token, convosync.WithBaseURL("https://api.example.com"))
//	engine := convosync.NewEngine(client, userID, convosync.WithLogger(logger))
//	if err := engine.Mount(ctx); err != nil { ... }
//	defer engine.Unmount()
//
//	engine.Select(ctx, engine.Conversations()[0].ID)
//	engine.Composer().SetText("Bonjour !")
//	engine.Send(ctx)
package convosync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
)

var environments = map[Environment]string{
	Production: "https://api.convoyage.app",
	Staging:    "https://staging-api.convoyage.app",
}

const (
	DefaultBaseURL = "https://api.convoyage.app"
	DefaultTimeout = 30 * time.Second
)

// Transport selects how live events are received.
type Transport string

const (
	TransportWS  Transport = "ws"
	TransportSSE Transport = "sse"
)

// ============================================================================
// Client
// ============================================================================

// Client talks to the hosted backend over HTTP and implements Gateway.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	transport  Transport
	realtime   RealtimeConfig
	logger     *zap.Logger
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithTransport picks WebSocket (default) or SSE for live events.
func WithTransport(t Transport) ClientOption {
	return func(c *Client) { c.transport = t }
}

// WithRealtimeConfig overrides reconnect and heartbeat settings. The token is
// always taken from the client.
func WithRealtimeConfig(cfg RealtimeConfig) ClientOption {
	return func(c *Client) { c.realtime = cfg }
}

func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a backend client authenticated with token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		transport: TransportWS,
		realtime:  RealtimeConfig{AutoReconnect: true},
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 && !json.Valid(data) {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// do performs a request and unwraps the envelope. A failed envelope comes
// back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[Result](data)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, &APIError{Code: "UNKNOWN", Message: "request failed without details"}
	}
	return result, nil
}

// ============================================================================
// Gateway methods
// ============================================================================

// ListConversationsForUser returns every conversation where userID is owner or counterparty.
func (c *Client) ListConversationsForUser(ctx context.Context, userID string) ([]Conversation, error) {
	result, err := c.do(ctx, "GET", "/api/conversations", nil, map[string]string{"user_id": userID})
	if err != nil {
		return nil, fetchError("list conversations", err)
	}
	var convs []Conversation
	if err := result.Decode(&convs); err != nil {
		return nil, fetchError("list conversations", fmt.Errorf("failed to decode conversations: %w", err))
	}
	return convs, nil
}

// ListMessagesForConversation returns the conversation's messages with author names.
func (c *Client) ListMessagesForConversation(ctx context.Context, conversationID string) ([]Message, error) {
	result, err := c.do(ctx, "GET", "/api/conversations/"+url.PathEscape(conversationID)+"/messages", nil, nil)
	if err != nil {
		return nil, fetchError("list messages", err)
	}
	var msgs []Message
	if err := result.Decode(&msgs); err != nil {
		return nil, fetchError("list messages", fmt.Errorf("failed to decode messages: %w", err))
	}
	return msgs, nil
}

// MarkMessagesRead sets read_at on unread messages not authored by readerID.
func (c *Client) MarkMessagesRead(ctx context.Context, conversationID, readerID string) error {
	_, err := c.do(ctx, "POST", "/api/conversations/"+url.PathEscape(conversationID)+"/read",
		map[string]string{"reader_id": readerID}, nil)
	if err != nil {
		return fetchError("mark read", err)
	}
	return nil
}

// SendMessage inserts a message and returns the stored copy.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (Message, error) {
	payload := map[string]interface{}{
		"author_id": req.AuthorID,
		"content":   req.Content,
		"kind":      req.Kind,
	}
	if req.Metadata != nil {
		payload["metadata"] = req.Metadata
	}
	result, err := c.do(ctx, "POST", "/api/conversations/"+url.PathEscape(req.ConversationID)+"/messages", payload, nil)
	if err != nil {
		return Message{}, fetchError("send message", err)
	}
	var msg Message
	if err := result.Decode(&msg); err != nil {
		return Message{}, fetchError("send message", fmt.Errorf("failed to decode message: %w", err))
	}
	return msg, nil
}

// Health checks backend availability.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, "GET", "/api/health", nil, nil)
	return err
}

// SubscribeToNewMessages opens a realtime connection using the configured
// transport and delivers message.new events not authored by excludeAuthorID.
// Every reconnect after the first connection delivers a Resync event. The
// returned subscription closes the connection.
func (c *Client) SubscribeToNewMessages(ctx context.Context, excludeAuthorID string, onEvent func(MessageEvent)) (Subscription, error) {
	cfg := c.realtime
	cfg.Token = c.token
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = c.httpClient
	}

	switch c.transport {
	case TransportSSE:
		sse := c.ConnectSSE(&cfg)
		c.wireRealtime(sse, TransportSSE, excludeAuthorID, onEvent)
		if err := sse.Connect(ctx); err != nil {
			return nil, fetchError("subscribe", err)
		}
		c.logger.Debug("realtime subscription opened", zap.String("transport", "sse"))
		return SubscriptionFunc(sse.Disconnect), nil
	default:
		ws := c.ConnectWS(&cfg)
		c.wireRealtime(ws, TransportWS, excludeAuthorID, onEvent)
		if err := ws.Connect(ctx); err != nil {
			return nil, fetchError("subscribe", err)
		}
		c.logger.Debug("realtime subscription opened", zap.String("transport", "ws"))
		return SubscriptionFunc(ws.Disconnect), nil
	}
}

// realtimeHooks is the handler registration shared by both realtime clients.
type realtimeHooks interface {
	OnMessageNew(h func(Message))
	OnError(h func(RealtimeErrorPayload))
	OnConnected(h func())
	OnDisconnected(h func(code int, reason string))
	OnReconnecting(h func(attempt int, delay time.Duration))
}

func (c *Client) wireRealtime(h realtimeHooks, transport Transport, excludeAuthorID string, onEvent func(MessageEvent)) {
	logger := c.logger.With(zap.String("transport", string(transport)))
	var connects atomic.Int32

	h.OnMessageNew(func(msg Message) {
		if msg.AuthorID == excludeAuthorID {
			return
		}
		onEvent(MessageEvent{Message: msg})
	})
	h.OnConnected(func() {
		if connects.Add(1) == 1 {
			return
		}
		logger.Info("realtime reconnected")
		onEvent(MessageEvent{Resync: true})
	})
	h.OnError(func(p RealtimeErrorPayload) {
		logger.Warn("realtime server error", zap.String("message", p.Message))
	})
	h.OnDisconnected(func(code int, reason string) {
		logger.Info("realtime disconnected", zap.Int("code", code), zap.String("reason", reason))
	})
	h.OnReconnecting(func(attempt int, delay time.Duration) {
		logger.Debug("realtime reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	})
}

// WSUrl returns the WebSocket URL.
func (c *Client) WSUrl(token string) string {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	if token != "" {
		return base + "/ws?token=" + url.QueryEscape(token)
	}
	return base + "/ws"
}

// SSEUrl returns the SSE URL.
func (c *Client) SSEUrl(token string) string {
	if token != "" {
		return c.baseURL + "/sse?token=" + url.QueryEscape(token)
	}
	return c.baseURL + "/sse"
}

// ConnectWS creates a WebSocket real-time client. Call Connect() to establish connection.
func (c *Client) ConnectWS(config *RealtimeConfig) *RealtimeWSClient {
	cfg := *config
	cfg.defaults()
	return &RealtimeWSClient{
		url:          c.WSUrl(cfg.Token),
		config:       &cfg,
		state:        StateDisconnected,
		dispatcher:   newEventDispatcher(),
		recon:        newReconnector(&cfg),
		pendingPings: make(map[string]chan PongPayload),
		logger:       c.logger,
	}
}

// ConnectSSE creates an SSE real-time client. Call Connect() to establish connection.
func (c *Client) ConnectSSE(config *RealtimeConfig) *RealtimeSSEClient {
	cfg := *config
	cfg.defaults()
	return &RealtimeSSEClient{
		url:        c.SSEUrl(cfg.Token),
		config:     &cfg,
		state:      StateDisconnected,
		dispatcher: newEventDispatcher(),
		recon:      newReconnector(&cfg),
		logger:     c.logger,
	}
}
