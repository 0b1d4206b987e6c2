package convosync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 of a webhook body.
const SignatureHeader = "X-Convosync-Signature"

// maxWebhookBody caps the size of an accepted webhook request.
const maxWebhookBody = 1 << 20

// WebhookPayload is the body the backend POSTs for each event.
type WebhookPayload struct {
	Event     string  `json:"event"`
	Timestamp int64   `json:"timestamp,omitempty"`
	Message   Message `json:"message"`
}

// SignWebhookBody returns the signature header value for body.
func SignWebhookBody(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks an HMAC-SHA256 signature in constant time.
// The "sha256=" prefix is optional.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}
	expected := strings.TrimPrefix(SignWebhookBody(body, secret), "sha256=")
	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookPayload decodes and checks a webhook body.
func ParseWebhookPayload(body string) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}
	if payload.Event == "" {
		return nil, errors.New("missing event field in webhook payload")
	}
	m := payload.Message
	if m.ID == "" || m.ConversationID == "" || m.AuthorID == "" {
		return nil, errors.New("missing required message fields in webhook payload (id, conversation_id, author_id)")
	}
	return &payload, nil
}

// ============================================================================
// WebhookSource
// ============================================================================

// WebhookSource receives signed message events pushed by the backend and
// delivers them to its subscribers. It implements Subscriber, so it can stand
// in for the realtime transports via ComposeGateway.
type WebhookSource struct {
	secret string
	subs   *fanout
	logger *zap.Logger
}

// NewWebhookSource creates a source that accepts bodies signed with secret.
func NewWebhookSource(secret string, logger *zap.Logger) (*WebhookSource, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSource{secret: secret, subs: newFanout(), logger: logger}, nil
}

// SubscribeToNewMessages registers onEvent for message.new events not
// authored by excludeAuthorID. The subscription also ends when ctx is done.
func (w *WebhookSource) SubscribeToNewMessages(ctx context.Context, excludeAuthorID string, onEvent func(MessageEvent)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := w.subs.add(excludeAuthorID, onEvent)
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

// SubscriberCount returns the number of live subscriptions.
func (w *WebhookSource) SubscriberCount() int {
	return w.subs.count()
}

func (w *WebhookSource) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Handle verifies and dispatches one webhook body. It returns the status code
// and the response body for the caller to write.
func (w *WebhookSource) Handle(body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		w.logger.Warn("webhook rejected: invalid signature")
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	payload, err := ParseWebhookPayload(body)
	if err != nil {
		w.logger.Warn("webhook rejected: bad payload", zap.Error(err))
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	if payload.Event != EventMessageNew {
		w.logger.Debug("webhook event ignored", zap.String("event", payload.Event))
		return http.StatusOK, map[string]any{"ok": true, "ignored": true}
	}

	delivered := w.subs.publish(MessageEvent{Message: payload.Message})
	w.logger.Debug("webhook delivered",
		zap.String("message_id", payload.Message.ID),
		zap.Int("subscribers", delivered),
	)
	return http.StatusOK, map[string]any{"ok": true, "delivered": delivered}
}

// HTTPHandler returns an http.Handler for the webhook endpoint.
//
// Example:
//
//	src, _ := convosync.NewWebhookSource(secret, logger)
//	http.Handle("/webhook", src.HTTPHandler())
func (w *WebhookSource) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(rw, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
			return
		}

		defer r.Body.Close()
		bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
			return
		}

		statusCode, data := w.Handle(string(bodyBytes), r.Header.Get(SignatureHeader))
		writeJSON(rw, statusCode, data)
	})
}

func writeJSON(rw http.ResponseWriter, status int, data any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(data)
}
