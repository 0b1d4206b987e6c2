package convosync

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// AttachmentPlaceholder is the content of a message sent with an attachment
// and no text.
const AttachmentPlaceholder = "📎 Pièce jointe"

var validate = validator.New()

// ComposerState is the send lifecycle of a Composer.
type ComposerState int

const (
	ComposerIdle ComposerState = iota
	ComposerSending
)

func (s ComposerState) String() string {
	switch s {
	case ComposerIdle:
		return "idle"
	case ComposerSending:
		return "sending"
	}
	return "unknown"
}

// Composer holds the unsent draft and performs sends for one author.
type Composer struct {
	store    MessageStore
	authorID string

	mu      sync.Mutex
	draft   Draft
	state   ComposerState
	lastErr error
}

// NewComposer creates an idle composer sending as authorID.
func NewComposer(store MessageStore, authorID string) *Composer {
	return &Composer{store: store, authorID: authorID}
}

func (c *Composer) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.Text = text
}

// SetAttachment sets the draft's single attachment, replacing any previous one.
func (c *Composer) SetAttachment(a Attachment) error {
	if err := validate.Struct(a); err != nil {
		return attachmentError(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.Attachment = &a
	return nil
}

func (c *Composer) ClearAttachment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.Attachment = nil
}

// Clear discards the draft and the last error.
func (c *Composer) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = Draft{}
	c.lastErr = nil
}

// Draft returns a copy of the current draft.
func (c *Composer) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyDraft(c.draft)
}

func (c *Composer) State() ComposerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error of the most recent failed send, or nil.
func (c *Composer) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// CanSend reports whether Send would reach the gateway.
func (c *Composer) CanSend(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == ComposerIdle && conversationID != "" && !c.draft.Empty()
}

// Send submits the draft to conversationID. Invalid drafts return a
// *ValidationError without touching the gateway. On success the draft is
// cleared, unless it was edited while the send was in flight. On failure the
// draft is kept and a *FetchError is returned.
func (c *Composer) Send(ctx context.Context, conversationID string) (Message, error) {
	c.mu.Lock()
	if c.state == ComposerSending {
		c.mu.Unlock()
		return Message{}, ErrSendInProgress
	}
	if conversationID == "" {
		c.mu.Unlock()
		return Message{}, &ValidationError{Field: "conversation", Reason: "no conversation selected"}
	}
	if c.draft.Empty() {
		c.mu.Unlock()
		return Message{}, &ValidationError{Field: "draft", Reason: "text or attachment required"}
	}
	snapshot := copyDraft(c.draft)
	c.state = ComposerSending
	c.mu.Unlock()

	msg, err := c.store.SendMessage(ctx, buildSendRequest(conversationID, c.authorID, snapshot))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ComposerIdle
	if err != nil {
		c.lastErr = fetchError("send message", err)
		return Message{}, c.lastErr
	}
	c.lastErr = nil
	if sameDraft(c.draft, snapshot) {
		c.draft = Draft{}
	}
	return msg, nil
}

func buildSendRequest(conversationID, authorID string, d Draft) SendRequest {
	req := SendRequest{
		ConversationID: conversationID,
		AuthorID:       authorID,
		Content:        strings.TrimSpace(d.Text),
		Kind:           KindText,
		Metadata:       TextMetadata{},
	}
	if d.Attachment != nil {
		req.Kind = KindAttachment
		req.Metadata = AttachmentMetadata{URL: d.Attachment.URL, Name: d.Attachment.Name}
		if req.Content == "" {
			req.Content = AttachmentPlaceholder
		}
	}
	return req
}

func attachmentError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return &ValidationError{
			Field:  "attachment." + strings.ToLower(f.Field()),
			Reason: "failed " + f.Tag() + " check",
		}
	}
	return &ValidationError{Field: "attachment", Reason: err.Error()}
}

func copyDraft(d Draft) Draft {
	if d.Attachment != nil {
		a := *d.Attachment
		d.Attachment = &a
	}
	return d
}

func sameDraft(a, b Draft) bool {
	if a.Text != b.Text {
		return false
	}
	if a.Attachment == nil || b.Attachment == nil {
		return a.Attachment == nil && b.Attachment == nil
	}
	return *a.Attachment == *b.Attachment
}
