package convosync

import (
	"encoding/json"
	"strings"
	"time"
)

// APIError is the error object carried in a failed response envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the response envelope returned by every backend endpoint.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into v.
func (r *Result) Decode(v interface{}) error {
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Conversation
// ============================================================================

// Conversation is a two-party thread, optionally attached to a mission.
type Conversation struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	CounterpartyID string    `json:"counterparty_id"`
	LastMessage    string    `json:"last_message,omitempty"`
	LastActivity   time.Time `json:"last_activity"`
	MissionID      string    `json:"mission_id,omitempty"`
}

// Involves reports whether userID is one of the two participants.
func (c Conversation) Involves(userID string) bool {
	return userID != "" && (c.OwnerID == userID || c.CounterpartyID == userID)
}

// Counterpart returns the other participant from userID's point of view.
func (c Conversation) Counterpart(userID string) string {
	if c.OwnerID == userID {
		return c.CounterpartyID
	}
	return c.OwnerID
}

// ============================================================================
// Message
// ============================================================================

// MessageKind selects the metadata shape and rendering of a message.
type MessageKind string

const (
	KindText         MessageKind = "text"
	KindAttachment   MessageKind = "attachment"
	KindPriceQuote   MessageKind = "price-quote"
	KindPriceDispute MessageKind = "price-dispute"
	KindSystem       MessageKind = "system"
)

// Valid reports whether k is one of the known kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindAttachment, KindPriceQuote, KindPriceDispute, KindSystem:
		return true
	}
	return false
}

// Message belongs to exactly one conversation. Only ReadAt ever changes after creation.
type Message struct {
	ID             string
	ConversationID string
	AuthorID       string
	AuthorName     string
	Content        string
	Kind           MessageKind
	Metadata       Metadata
	CreatedAt      time.Time
	ReadAt         *time.Time
}

// IsRead reports whether the message carries a read timestamp.
func (m Message) IsRead() bool {
	return m.ReadAt != nil
}

type wireMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	AuthorID       string          `json:"author_id"`
	AuthorName     string          `json:"author_name,omitempty"`
	Content        string          `json:"content"`
	Kind           MessageKind     `json:"kind"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ReadAt         *time.Time      `json:"read_at"`
}

// MarshalJSON encodes the metadata variant under the "metadata" key.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		AuthorID:       m.AuthorID,
		AuthorName:     m.AuthorName,
		Content:        m.Content,
		Kind:           m.Kind,
		CreatedAt:      m.CreatedAt,
		ReadAt:         m.ReadAt,
	}
	if m.Metadata != nil {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return nil, err
		}
		w.Metadata = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the metadata into the variant selected by kind.
// Metadata missing the fields its kind requires decodes to nil.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind := w.Kind
	if kind == "" {
		kind = KindText
	}
	*m = Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		AuthorID:       w.AuthorID,
		AuthorName:     w.AuthorName,
		Content:        w.Content,
		Kind:           kind,
		Metadata:       decodeMetadata(kind, w.Metadata),
		CreatedAt:      w.CreatedAt,
		ReadAt:         w.ReadAt,
	}
	return nil
}

// ============================================================================
// Draft
// ============================================================================

// Attachment is a reference to an already-uploaded file.
type Attachment struct {
	URL  string `json:"url" validate:"required,url"`
	Name string `json:"name" validate:"required"`
}

// Draft is the composer's unsent message. It is never persisted.
type Draft struct {
	Text       string
	Attachment *Attachment
}

// Empty reports whether the draft has neither text nor attachment.
func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Text) == "" && d.Attachment == nil
}

// SendRequest is the payload for Gateway.SendMessage.
type SendRequest struct {
	ConversationID string
	AuthorID       string
	Content        string
	Kind           MessageKind
	Metadata       Metadata
}

// MessageEvent is delivered by a subscription when a message is created.
// Resync events carry no message: the transport reconnected and events may
// have been missed while it was down.
type MessageEvent struct {
	Message Message
	Resync  bool
}

// ConversationID is a shorthand for the event's conversation.
func (e MessageEvent) ConversationID() string {
	return e.Message.ConversationID
}

// AuthorID is a shorthand for the event's author.
func (e MessageEvent) AuthorID() string {
	return e.Message.AuthorID
}
